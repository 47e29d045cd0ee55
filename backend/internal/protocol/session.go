package protocol

import "time"

type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusOffline Status = "offline"
)

func (s Status) Valid() bool {
	switch s {
	case StatusOnline, StatusAway, StatusOffline:
		return true
	}
	return false
}

// Session is one connected client identity within a workspace.
type Session struct {
	SessionID   string    `json:"sessionId"`
	UserID      string    `json:"userId"`
	WorkspaceID string    `json:"workspaceId"`
	DisplayName string    `json:"displayName,omitempty"`
	AvatarRef   string    `json:"avatarRef,omitempty"`
	Status      Status    `json:"status"`
	LastSeen    time.Time `json:"lastSeen"`
}

// DisplayNameOr falls back to the username, then to the user id.
func DisplayNameOr(name, username, userID string) string {
	if name != "" {
		return name
	}
	if username != "" {
		return username
	}
	return userID
}
