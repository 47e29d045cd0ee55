package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("test-secret")

func newAuthRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", AuthMiddleware(testSecret), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"userId": c.GetString("userId"), "username": c.GetString("username")})
	})
	return r
}

func TestAuthMiddleware(t *testing.T) {
	valid, _, err := SignAccessToken(testSecret, "u-1", "alice", time.Minute)
	if err != nil {
		t.Fatalf("SignAccessToken error: %v", err)
	}
	expired, _, _ := SignAccessToken(testSecret, "u-1", "alice", -time.Minute)
	forged, _, _ := SignAccessToken([]byte("other"), "u-1", "alice", time.Minute)

	cases := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{name: "bearer header", header: "Bearer " + valid, want: http.StatusOK},
		{name: "lowercase bearer", header: "bearer " + valid, want: http.StatusOK},
		{name: "query token", query: "?token=" + valid, want: http.StatusOK},
		{name: "missing", want: http.StatusUnauthorized},
		{name: "expired", header: "Bearer " + expired, want: http.StatusUnauthorized},
		{name: "wrong secret", header: "Bearer " + forged, want: http.StatusUnauthorized},
		{name: "garbage", header: "Bearer abc.def", want: http.StatusUnauthorized},
	}
	r := newAuthRouter()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me"+tc.query, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tc.want {
				t.Fatalf("status = %d, want %d (body=%s)", w.Code, tc.want, w.Body.String())
			}
		})
	}
}

func TestParseToken(t *testing.T) {
	token, _, _ := SignAccessToken(testSecret, "u-1", "alice", time.Minute)
	claims, err := ParseToken(testSecret, token)
	if err != nil {
		t.Fatalf("ParseToken error: %v", err)
	}
	if claims.UserID != "u-1" || claims.Username != "alice" {
		t.Fatalf("claims = %+v", claims)
	}

	refresh, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		UserID: "u-1",
		Type:   "refresh",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}).SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign refresh token: %v", err)
	}
	if _, err := ParseToken(testSecret, refresh); !errors.Is(err, ErrNotAccessToken) {
		t.Fatalf("refresh token err = %v, want ErrNotAccessToken", err)
	}
}
