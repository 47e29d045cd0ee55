package collab

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/IBM/sarama"

	"workspaceCollab/backend/internal/store"
)

type ChangeRecorder interface {
	RecordChange(ctx context.Context, change store.DocumentChange) (int64, error)
}

type VersionRaiser interface {
	Raise(ctx context.Context, documentID string, version int64) error
}

// Archiver persists change events from Kafka. It implements
// sarama.ConsumerGroupHandler; offsets are marked only after the change is stored.
type Archiver struct {
	recorder ChangeRecorder
	versions VersionRaiser
	timeout  time.Duration
}

func NewArchiver(recorder ChangeRecorder, versions VersionRaiser) *Archiver {
	return &Archiver{recorder: recorder, versions: versions, timeout: 3 * time.Second}
}

func (a *Archiver) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (a *Archiver) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (a *Archiver) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := a.Handle(sess.Context(), msg.Value); err != nil {
				// 存储失败：不提交 offset，rebalance 后会重新投递
				log.Printf("archive change failed (partition=%d offset=%d): %v", msg.Partition, msg.Offset, err)
				return err
			}
			sess.MarkMessage(msg, "")
		case <-sess.Context().Done():
			return nil
		}
	}
}

// Handle stores one encoded ChangeEvent. Malformed payloads are logged and
// skipped so one bad record cannot stall the partition.
func (a *Archiver) Handle(ctx context.Context, value []byte) error {
	var evt ChangeEvent
	if err := json.Unmarshal(value, &evt); err != nil {
		log.Printf("skip malformed change event: %v", err)
		return nil
	}
	if evt.EventType != EventDocumentChanged || evt.DocumentID == "" {
		log.Printf("skip change event type=%q doc=%q", evt.EventType, evt.DocumentID)
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	version, err := a.recorder.RecordChange(ctx, store.DocumentChange{
		EventID:     evt.EventID,
		DocumentID:  evt.DocumentID,
		UserID:      evt.UserID,
		Version:     evt.Version,
		WorkspaceID: evt.WorkspaceID,
		SessionID:   evt.SessionID,
		Changes:     []byte(evt.Changes),
		RelayedAt:   evt.RelayedAt,
	})
	if err != nil {
		return err
	}
	if a.versions != nil {
		if err := a.versions.Raise(ctx, evt.DocumentID, version); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("version cache raise error (doc=%s version=%d): %v", evt.DocumentID, version, err)
		}
	}
	return nil
}

// Run consumes topics until ctx is cancelled, rejoining after every rebalance.
func (a *Archiver) Run(ctx context.Context, group sarama.ConsumerGroup, topics []string) error {
	go func() {
		for err := range group.Errors() {
			log.Printf("consumer group error: %v", err)
		}
	}()
	for {
		if err := group.Consume(ctx, topics, a); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			log.Printf("consume error: %v", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}
