package collab

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"workspaceCollab/backend/internal/store"
)

type fakeRecorder struct {
	got     []store.DocumentChange
	version int64
	err     error
}

func (f *fakeRecorder) RecordChange(ctx context.Context, change store.DocumentChange) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.got = append(f.got, change)
	if change.Version > f.version {
		f.version = change.Version
	}
	return f.version, nil
}

type fakeRaiser struct {
	raised map[string]int64
}

func (f *fakeRaiser) Raise(ctx context.Context, documentID string, version int64) error {
	if f.raised == nil {
		f.raised = map[string]int64{}
	}
	f.raised[documentID] = version
	return nil
}

func encodeEvent(t *testing.T, evt ChangeEvent) []byte {
	t.Helper()
	b, err := json.Marshal(evt)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return b
}

func TestArchiverRecordsAndRaises(t *testing.T) {
	rec := &fakeRecorder{}
	raiser := &fakeRaiser{}
	a := NewArchiver(rec, raiser)

	evt := ChangeEvent{
		EventType:   EventDocumentChanged,
		EventID:     "e-1",
		WorkspaceID: "w1",
		DocumentID:  "d1",
		UserID:      "u-alice",
		SessionID:   "s-1",
		Version:     4,
		Changes:     json.RawMessage(`{"url":"https://example.com"}`),
		RelayedAt:   time.Unix(1_700_000_000, 0),
	}
	if err := a.Handle(context.Background(), encodeEvent(t, evt)); err != nil {
		t.Fatalf("Handle error: %v", err)
	}
	if len(rec.got) != 1 {
		t.Fatalf("recorded %d changes, want 1", len(rec.got))
	}
	got := rec.got[0]
	if got.DocumentID != "d1" || got.UserID != "u-alice" || got.Version != 4 || string(got.Changes) != `{"url":"https://example.com"}` {
		t.Fatalf("recorded change = %+v", got)
	}
	if raiser.raised["d1"] != 4 {
		t.Fatalf("raised = %v, want d1=4", raiser.raised)
	}
}

func TestArchiverSkipsMalformed(t *testing.T) {
	rec := &fakeRecorder{}
	a := NewArchiver(rec, nil)
	if err := a.Handle(context.Background(), []byte("not json")); err != nil {
		t.Fatalf("Handle error: %v", err)
	}
	if err := a.Handle(context.Background(), encodeEvent(t, ChangeEvent{EventType: "OTHER", DocumentID: "d1"})); err != nil {
		t.Fatalf("Handle error: %v", err)
	}
	if len(rec.got) != 0 {
		t.Fatalf("recorded %d changes, want 0", len(rec.got))
	}
}

func TestArchiverPropagatesStoreError(t *testing.T) {
	boom := errors.New("mysql gone")
	a := NewArchiver(&fakeRecorder{err: boom}, nil)
	err := a.Handle(context.Background(), encodeEvent(t, ChangeEvent{EventType: EventDocumentChanged, DocumentID: "d1", Version: 2}))
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}
