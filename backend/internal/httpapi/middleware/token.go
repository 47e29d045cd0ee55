package middleware

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const TokenTypeAccess = "access"

var ErrNotAccessToken = errors.New("access token required")

type Claims struct {
	UserID   string `json:"sub"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
	Type     string `json:"typ"`
	jwt.RegisteredClaims
}

// SignAccessToken issues an HS256 access token. Used by tests and the dev CLI;
// production tokens come from the account service sharing the same secret.
func SignAccessToken(secret []byte, userID, username string, ttl time.Duration) (string, time.Time, error) {
	expiresAt := time.Now().Add(ttl)
	claims := &Claims{
		UserID:   userID,
		Username: username,
		Type:     TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// ParseToken verifies signature and expiry and returns the claims of an access token.
func ParseToken(secret []byte, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.Type != "" && claims.Type != TokenTypeAccess {
		return nil, ErrNotAccessToken
	}
	return claims, nil
}
