package docsync

import (
	"errors"
	"log"
	"sync"
	"time"
)

const DefaultDebounce = 800 * time.Millisecond

var ErrClosed = errors.New("coordinator closed")

type State int

const (
	StateIdle        State = iota
	StateDirty             // 本地编辑等待 debounce
	StateEmitting          // 正在发出 document_change
	StateReconciling       // 正在合并远端消息
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDirty:
		return "dirty"
	case StateEmitting:
		return "emitting"
	case StateReconciling:
		return "reconciling"
	}
	return "unknown"
}

// Emitter hands an outgoing change to the transport. It must not block and
// must not call back into the coordinator.
type Emitter interface {
	EmitChange(c Change) bool
}

type EmitterFunc func(c Change) bool

func (f EmitterFunc) EmitChange(c Change) bool { return f(c) }

// ApplyFunc is how a document consumer learns about a reconciled remote change.
type ApplyFunc func(documentID string, changes Patch, version int64)

type Config struct {
	DocumentID string
	SelfID     string
	// persisted currentVersion; values < 1 are treated as 1
	InitialVersion int64
	Initial        Patch
	Debounce       time.Duration
	Emitter        Emitter
	OnApply        ApplyFunc
}

// Coordinator owns one open document on one client: the working copy, the
// local version and the debounce timer for outgoing edits.
type Coordinator struct {
	documentID string
	selfID     string
	debounce   time.Duration
	emitter    Emitter
	onApply    ApplyFunc

	// emitMu 保证发出的顺序与版本号顺序一致
	emitMu sync.Mutex

	mu           sync.Mutex
	localVersion int64
	working      Patch
	pending      Patch
	timer        *time.Timer
	gen          uint64
	state        State
	closed       bool

	now func() time.Time
}

func NewCoordinator(cfg Config) *Coordinator {
	version := cfg.InitialVersion
	if version < 1 {
		version = 1
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	working := cfg.Initial.Clone()
	return &Coordinator{
		documentID:   cfg.DocumentID,
		selfID:       cfg.SelfID,
		debounce:     debounce,
		emitter:      cfg.Emitter,
		onApply:      cfg.OnApply,
		localVersion: version,
		working:      working,
		state:        StateIdle,
		now:          time.Now,
	}
}

// SubmitLocalEdit applies patch to the working copy at once and (re)starts the
// debounce timer. Edits arriving within one debounce window coalesce into a
// single outgoing change.
func (c *Coordinator) SubmitLocalEdit(patch Patch) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.working = Merge(c.working, patch)
	c.pending = Merge(c.pending, patch)
	c.state = StateDirty

	c.gen++
	gen := c.gen
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.debounce, func() { c.fire(gen) })
	return nil
}

func (c *Coordinator) fire(gen uint64) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	// 过期的 timer（已被重置或取消）
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		return
	}
	change, ok := c.takePendingLocked()
	c.mu.Unlock()
	if ok {
		c.emit(change)
	}
}

// Flush emits a pending edit immediately instead of waiting for the timer.
func (c *Coordinator) Flush() bool {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	change, ok := c.takePendingLocked()
	c.mu.Unlock()
	if ok {
		c.emit(change)
	}
	return ok
}

func (c *Coordinator) takePendingLocked() (Change, bool) {
	if c.pending == nil {
		return Change{}, false
	}
	c.localVersion++
	change := Change{
		DocumentID: c.documentID,
		UserID:     c.selfID,
		Version:    c.localVersion,
		Changes:    c.pending,
		Timestamp:  c.now(),
	}
	c.pending = nil
	c.timer = nil
	c.state = StateEmitting
	return change, true
}

func (c *Coordinator) emit(change Change) {
	if c.emitter == nil || !c.emitter.EmitChange(change) {
		log.Printf("document_change not sent (doc=%s version=%d)", change.DocumentID, change.Version)
	}
	c.mu.Lock()
	if c.state == StateEmitting {
		c.state = StateIdle
	}
	c.mu.Unlock()
}

// OnRemoteMessage reconciles an incoming change against local state. Unsent
// local edits stay on top of the working copy after a remote change is applied,
// and OnApply sees the merged values for the incoming keys.
func (c *Coordinator) OnRemoteMessage(in Change) Outcome {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return OutcomeStale
	}
	prev := c.state
	c.state = StateReconciling

	var applied Patch
	next, outcome := Reconcile(Snapshot{Version: c.localVersion, Working: c.working}, in, c.selfID)
	if outcome == OutcomeApplied {
		c.localVersion = next.Version
		c.working = next.Working
		if c.pending != nil {
			c.working = Merge(c.working, c.pending)
		}
		// 未发出的本地修改盖在远端值之上，回调拿到的是合并后的值
		applied = make(Patch, len(in.Changes))
		for k := range in.Changes {
			applied[k] = c.working[k]
		}
	}

	switch {
	case c.pending != nil:
		c.state = StateDirty
	case prev == StateEmitting:
		c.state = StateEmitting
	default:
		c.state = StateIdle
	}
	onApply := c.onApply
	c.mu.Unlock()

	if outcome == OutcomeApplied && onApply != nil {
		onApply(c.documentID, applied, in.Version)
	}
	return outcome
}

// Close cancels a pending debounce without emitting; unflushed edits are dropped.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.pending = nil
	c.state = StateIdle
}

func (c *Coordinator) LocalVersion() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localVersion
}

func (c *Coordinator) WorkingCopy() Patch {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.working.Clone()
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}
