package collab

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"workspaceCollab/backend/internal/protocol"
)

const EventDocumentChanged = "DOCUMENT_CHANGED"

// ChangeEvent 是 hub 成功转发一次 document_change 之后写入 Kafka 的事件。
type ChangeEvent struct {
	EventType   string          `json:"eventType"` // 固定 "DOCUMENT_CHANGED"
	EventID     string          `json:"eventId"`
	WorkspaceID string          `json:"workspaceId"`
	DocumentID  string          `json:"documentId"`
	UserID      string          `json:"userId"`
	SessionID   string          `json:"sessionId"`
	Version     int64           `json:"version"`
	Changes     json.RawMessage `json:"changes"`
	RelayedAt   time.Time       `json:"relayedAt"`
}

func NewChangeEvent(msg protocol.DocumentChangeMessage) ChangeEvent {
	relayedAt := msg.Timestamp
	if relayedAt.IsZero() {
		relayedAt = time.Now()
	}
	return ChangeEvent{
		EventType:   EventDocumentChanged,
		EventID:     uuid.NewString(),
		WorkspaceID: msg.WorkspaceID,
		DocumentID:  msg.DocumentID,
		UserID:      msg.UserID,
		SessionID:   msg.SessionID,
		Version:     msg.Version,
		Changes:     msg.Changes,
		RelayedAt:   relayedAt,
	}
}
