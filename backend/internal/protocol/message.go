package protocol

import (
	"encoding/json"
	"time"
)

// 客户端 -> hub
const (
	TypeJoinWorkspace  = "join_workspace"
	TypeLeaveWorkspace = "leave_workspace"
	TypePresenceUpdate = "presence_update"
	TypeDocumentChange = "document_change"
	TypeHeartbeat      = "heartbeat"
)

// hub -> 客户端
const (
	TypeWelcome          = "welcome"
	TypeWorkspaceJoined  = "workspace_joined"
	TypeUserJoined       = "user_joined"
	TypeUserLeft         = "user_left"
	TypeUserDisconnected = "user_disconnected"
	TypeHeartbeatAck     = "heartbeat_ack"
	TypeError            = "error"
	TypeIgnored          = "ignored"
)

type ClientMessage struct {
	Type        string          `json:"type"`
	WorkspaceID string          `json:"workspaceId,omitempty"`
	DocumentID  string          `json:"documentId,omitempty"`
	Changes     json.RawMessage `json:"changes,omitempty"`
	Version     int64           `json:"version,omitempty"`
	Status      Status          `json:"status,omitempty"`
}

// Outbound is anything the hub can queue on a connection.
type Outbound interface {
	MessageType() string
}

func (m ServerMessage) MessageType() string          { return m.Type }
func (m WelcomeMessage) MessageType() string         { return m.Type }
func (m WorkspaceJoinedMessage) MessageType() string { return m.Type }
func (m UserJoinedMessage) MessageType() string      { return m.Type }
func (m UserLeftMessage) MessageType() string        { return m.Type }
func (m PresenceUpdateMessage) MessageType() string  { return m.Type }
func (m DocumentChangeMessage) MessageType() string  { return m.Type }

type ServerMessage struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

type WelcomeMessage struct {
	Type      string `json:"type"` // 固定 "welcome"
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
}

// activeUsers is empty when the joiner is the only member.
type WorkspaceJoinedMessage struct {
	Type        string    `json:"type"`
	WorkspaceID string    `json:"workspaceId"`
	ActiveUsers []Session `json:"activeUsers"`
}

type UserJoinedMessage struct {
	Type        string  `json:"type"`
	WorkspaceID string  `json:"workspaceId"`
	User        Session `json:"user"`
}

// Used for both user_left and user_disconnected.
type UserLeftMessage struct {
	Type        string `json:"type"`
	WorkspaceID string `json:"workspaceId"`
	UserID      string `json:"userId"`
	SessionID   string `json:"sessionId"`
}

type PresenceUpdateMessage struct {
	Type        string    `json:"type"`
	WorkspaceID string    `json:"workspaceId"`
	UserID      string    `json:"userId"`
	SessionID   string    `json:"sessionId"`
	Status      Status    `json:"status"`
	LastSeen    time.Time `json:"lastSeen"`
}

// DocumentChangeMessage is relayed verbatim; Changes is never inspected by the hub.
type DocumentChangeMessage struct {
	Type        string          `json:"type"`
	WorkspaceID string          `json:"workspaceId"`
	DocumentID  string          `json:"documentId"`
	UserID      string          `json:"userId"`
	SessionID   string          `json:"sessionId,omitempty"`
	Version     int64           `json:"version"`
	Changes     json.RawMessage `json:"changes"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Envelope is the client-side decoding target for every hub message.
type Envelope struct {
	Type        string          `json:"type"`
	WorkspaceID string          `json:"workspaceId,omitempty"`
	SessionID   string          `json:"sessionId,omitempty"`
	UserID      string          `json:"userId,omitempty"`
	ActiveUsers []Session       `json:"activeUsers,omitempty"`
	User        *Session        `json:"user,omitempty"`
	Status      Status          `json:"status,omitempty"`
	LastSeen    time.Time       `json:"lastSeen,omitempty"`
	DocumentID  string          `json:"documentId,omitempty"`
	Version     int64           `json:"version,omitempty"`
	Changes     json.RawMessage `json:"changes,omitempty"`
	Timestamp   time.Time       `json:"timestamp,omitempty"`
	Content     string          `json:"content,omitempty"`
}

func (e Envelope) DocumentChange() DocumentChangeMessage {
	return DocumentChangeMessage{
		Type:        e.Type,
		WorkspaceID: e.WorkspaceID,
		DocumentID:  e.DocumentID,
		UserID:      e.UserID,
		SessionID:   e.SessionID,
		Version:     e.Version,
		Changes:     e.Changes,
		Timestamp:   e.Timestamp,
	}
}
