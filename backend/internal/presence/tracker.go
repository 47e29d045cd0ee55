package presence

import (
	"sync"

	"workspaceCollab/backend/internal/protocol"
)

// Tracker keeps one client's view of who is active in a workspace, built
// only from hub events.
type Tracker struct {
	workspaceID   string
	selfSessionID string

	mu    sync.RWMutex
	order []string
	byID  map[string]protocol.Session
}

func NewTracker(workspaceID, selfSessionID string) *Tracker {
	return &Tracker{
		workspaceID:   workspaceID,
		selfSessionID: selfSessionID,
		byID:          make(map[string]protocol.Session),
	}
}

// SetSelf is used after a reconnect, when the hub has assigned a new session id.
func (t *Tracker) SetSelf(sessionID string) {
	t.mu.Lock()
	t.selfSessionID = sessionID
	t.mu.Unlock()
}

// Apply folds one hub event into the roster and reports whether it changed.
func (t *Tracker) Apply(e protocol.Envelope) bool {
	if e.WorkspaceID != t.workspaceID {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	switch e.Type {
	case protocol.TypeWorkspaceJoined:
		t.replace(e.ActiveUsers)
		return true
	case protocol.TypeUserJoined:
		if e.User == nil {
			return false
		}
		return t.insert(*e.User)
	case protocol.TypeUserLeft, protocol.TypeUserDisconnected:
		return t.remove(e.SessionID, e.UserID)
	case protocol.TypePresenceUpdate:
		return t.update(e)
	}
	return false
}

func (t *Tracker) replace(users []protocol.Session) {
	t.order = t.order[:0]
	t.byID = make(map[string]protocol.Session, len(users))
	for _, u := range users {
		if _, dup := t.byID[u.SessionID]; dup {
			continue
		}
		if u.Status == "" {
			u.Status = protocol.StatusOnline
		}
		t.byID[u.SessionID] = u
		t.order = append(t.order, u.SessionID)
	}
}

func (t *Tracker) insert(u protocol.Session) bool {
	// 自己的加入事件不计入（hub 不会发给自己，但重连时可能乱序到达）
	if u.SessionID == t.selfSessionID {
		return false
	}
	if _, ok := t.byID[u.SessionID]; ok {
		return false
	}
	if u.Status == "" {
		u.Status = protocol.StatusOnline
	}
	t.byID[u.SessionID] = u
	t.order = append(t.order, u.SessionID)
	return true
}

func (t *Tracker) remove(sessionID, userID string) bool {
	if sessionID != "" {
		if _, ok := t.byID[sessionID]; !ok {
			return false
		}
		t.drop(sessionID)
		return true
	}
	if userID == "" {
		return false
	}
	changed := false
	for _, id := range append([]string(nil), t.order...) {
		if t.byID[id].UserID == userID {
			t.drop(id)
			changed = true
		}
	}
	return changed
}

func (t *Tracker) drop(sessionID string) {
	delete(t.byID, sessionID)
	for i, id := range t.order {
		if id == sessionID {
			t.order = append(t.order[:i], t.order[i+1:]...)
			return
		}
	}
}

func (t *Tracker) update(e protocol.Envelope) bool {
	u, ok := t.byID[e.SessionID]
	if !ok {
		return false
	}
	if e.Status != "" {
		u.Status = e.Status
	}
	if !e.LastSeen.IsZero() {
		u.LastSeen = e.LastSeen
	}
	t.byID[e.SessionID] = u
	return true
}

// Active returns the roster in join order.
func (t *Tracker) Active() []protocol.Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]protocol.Session, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.byID[id])
	}
	return out
}

func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.order)
}
