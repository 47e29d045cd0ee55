package docsync

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

type recordingEmitter struct {
	mu      sync.Mutex
	changes []Change
	ch      chan Change
}

func newRecordingEmitter() *recordingEmitter {
	return &recordingEmitter{ch: make(chan Change, 16)}
}

func (r *recordingEmitter) EmitChange(c Change) bool {
	r.mu.Lock()
	r.changes = append(r.changes, c)
	r.mu.Unlock()
	select {
	case r.ch <- c:
	default:
	}
	return true
}

func (r *recordingEmitter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.changes)
}

func (r *recordingEmitter) wait(t *testing.T) Change {
	t.Helper()
	select {
	case c := <-r.ch:
		return c
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for emitted change")
	}
	return Change{}
}

func contentPatch(s string) Patch {
	return Patch{"content": []byte(fmt.Sprintf("%q", s))}
}

func TestCoordinatorCoalescesEdits(t *testing.T) {
	em := newRecordingEmitter()
	c := NewCoordinator(Config{DocumentID: "d1", SelfID: "alice", Debounce: 50 * time.Millisecond, Emitter: em})
	defer c.Close()

	for i := 1; i <= 10; i++ {
		if err := c.SubmitLocalEdit(contentPatch(fmt.Sprintf("v%d", i))); err != nil {
			t.Fatalf("SubmitLocalEdit error: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if c.State() != StateDirty {
		t.Fatalf("state = %v, want dirty", c.State())
	}

	got := em.wait(t)
	if got.Version != 2 {
		t.Fatalf("version = %d, want 2", got.Version)
	}
	if string(got.Changes["content"]) != `"v10"` {
		t.Fatalf("content = %s, want \"v10\"", got.Changes["content"])
	}
	if got.UserID != "alice" || got.DocumentID != "d1" {
		t.Fatalf("unexpected change header: %+v", got)
	}

	time.Sleep(120 * time.Millisecond)
	if n := em.count(); n != 1 {
		t.Fatalf("emitted %d changes, want 1", n)
	}
	if c.LocalVersion() != 2 {
		t.Fatalf("LocalVersion = %d, want 2", c.LocalVersion())
	}
}

func TestCoordinatorDiscardsSelfEcho(t *testing.T) {
	var applied int
	c := NewCoordinator(Config{
		DocumentID: "d1", SelfID: "alice", Debounce: time.Hour,
		OnApply: func(string, Patch, int64) { applied++ },
	})
	defer c.Close()

	out := c.OnRemoteMessage(Change{DocumentID: "d1", UserID: "alice", Version: 50, Changes: contentPatch("echo")})
	if out != OutcomeSelfEcho {
		t.Fatalf("outcome = %v, want self_echo", out)
	}
	if applied != 0 || c.LocalVersion() != 1 {
		t.Fatalf("self echo applied: applied=%d version=%d", applied, c.LocalVersion())
	}
}

func TestCoordinatorTieBreak(t *testing.T) {
	var applied []int64
	c := NewCoordinator(Config{
		DocumentID: "d1", SelfID: "carol", InitialVersion: 5, Debounce: time.Hour,
		Initial: contentPatch("A"),
		OnApply: func(_ string, _ Patch, v int64) { applied = append(applied, v) },
	})
	defer c.Close()

	if out := c.OnRemoteMessage(Change{UserID: "alice", Version: 6, Changes: contentPatch("B")}); out != OutcomeApplied {
		t.Fatalf("v6 from alice: %v", out)
	}
	if out := c.OnRemoteMessage(Change{UserID: "bob", Version: 6, Changes: contentPatch("C")}); out != OutcomeApplied {
		t.Fatalf("v6 from bob with different content: %v", out)
	}
	if out := c.OnRemoteMessage(Change{UserID: "bob", Version: 6, Changes: contentPatch("C")}); out != OutcomeStale {
		t.Fatalf("duplicate v6: %v", out)
	}
	if out := c.OnRemoteMessage(Change{UserID: "dave", Version: 5, Changes: contentPatch("Z")}); out != OutcomeStale {
		t.Fatalf("v5 after v6: %v", out)
	}
	if string(c.WorkingCopy()["content"]) != `"C"` {
		t.Fatalf("content = %s, want \"C\"", c.WorkingCopy()["content"])
	}
	if len(applied) != 2 || applied[0] != 6 || applied[1] != 6 {
		t.Fatalf("applied = %v, want [6 6]", applied)
	}
}

func TestCoordinatorEmitThenStaleRemote(t *testing.T) {
	em := newRecordingEmitter()
	c := NewCoordinator(Config{DocumentID: "d1", SelfID: "alice", Emitter: em, Debounce: time.Hour})
	defer c.Close()

	_ = c.SubmitLocalEdit(contentPatch("mine"))
	if !c.Flush() {
		t.Fatalf("Flush reported nothing to emit")
	}
	if got := em.wait(t); got.Version != 2 {
		t.Fatalf("emitted version = %d, want 2", got.Version)
	}
	if out := c.OnRemoteMessage(Change{UserID: "bob", Version: 1, Changes: contentPatch("old")}); out != OutcomeStale {
		t.Fatalf("outcome = %v, want stale", out)
	}
	if string(c.WorkingCopy()["content"]) != `"mine"` {
		t.Fatalf("working copy overwritten: %s", c.WorkingCopy()["content"])
	}
	if c.Flush() {
		t.Fatalf("second Flush emitted with nothing pending")
	}
}

func TestCoordinatorKeepsPendingOverRemote(t *testing.T) {
	c := NewCoordinator(Config{DocumentID: "d1", SelfID: "alice", Debounce: time.Hour})
	defer c.Close()

	_ = c.SubmitLocalEdit(Patch{"content": []byte(`"local"`)})
	if out := c.OnRemoteMessage(Change{UserID: "bob", Version: 3, Changes: Patch{"content": []byte(`"remote"`), "url": []byte(`"u"`)}}); out != OutcomeApplied {
		t.Fatalf("outcome = %v, want applied", out)
	}
	w := c.WorkingCopy()
	if string(w["content"]) != `"local"` || string(w["url"]) != `"u"` {
		t.Fatalf("working copy = %s", w.Encode())
	}
	if c.State() != StateDirty {
		t.Fatalf("state = %v, want dirty", c.State())
	}
}

func TestCoordinatorApplyMatchesWorkingCopy(t *testing.T) {
	em := newRecordingEmitter()
	var mu sync.Mutex
	view := contentPatch("A")
	c := NewCoordinator(Config{
		DocumentID: "d1",
		SelfID:     "alice",
		Initial:    contentPatch("A"),
		Debounce:   time.Hour,
		Emitter:    em,
		OnApply: func(_ string, p Patch, _ int64) {
			mu.Lock()
			view = Merge(view, p)
			mu.Unlock()
		},
	})
	defer c.Close()

	_ = c.SubmitLocalEdit(contentPatch("local"))
	c.OnRemoteMessage(Change{UserID: "bob", Version: 3, Changes: Patch{"content": []byte(`"remote"`), "url": []byte(`"u"`)}})
	if !c.Flush() {
		t.Fatalf("Flush emitted nothing")
	}

	mu.Lock()
	defer mu.Unlock()
	if string(view["content"]) != `"local"` || string(view["url"]) != `"u"` {
		t.Fatalf("editor view = %s", view.Encode())
	}
	if !Equal(view, c.WorkingCopy()) {
		t.Fatalf("editor view %s != working copy %s", view.Encode(), c.WorkingCopy().Encode())
	}
	if got := em.wait(t); string(got.Changes["content"]) != `"local"` || got.Version != 4 {
		t.Fatalf("emitted %+v", got)
	}
}

func TestCoordinatorCloseCancelsDebounce(t *testing.T) {
	em := newRecordingEmitter()
	c := NewCoordinator(Config{DocumentID: "d1", SelfID: "alice", Emitter: em, Debounce: 30 * time.Millisecond})

	_ = c.SubmitLocalEdit(contentPatch("unsent"))
	c.Close()
	time.Sleep(100 * time.Millisecond)
	if n := em.count(); n != 0 {
		t.Fatalf("emitted %d changes after Close", n)
	}
	if err := c.SubmitLocalEdit(contentPatch("late")); err != ErrClosed {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}
