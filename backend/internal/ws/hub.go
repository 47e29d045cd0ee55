package ws

import (
	"context"
	"log"
	"sync"
	"time"

	"workspaceCollab/backend/internal/cache"
	"workspaceCollab/backend/internal/protocol"
)

// Peer 是 hub 能投递消息的一端（一般就是一个 websocket 连接）。
type Peer interface {
	SessionID() string
	// Enqueue 不能阻塞；队列满时返回 false（消息被丢弃）
	Enqueue(msg protocol.Outbound) bool
}

type member struct {
	peer    Peer
	session protocol.Session
}

// workspaceChannel 的成员集合是唯一需要加锁的共享状态，每个工作区一把锁。
type workspaceChannel struct {
	workspaceID string
	mu          sync.Mutex
	// 按加入顺序保存
	order   []string
	members map[string]*member
	// 成员清空后置为 true，之后的 Join 必须重新创建 channel
	closed bool
}

func (ch *workspaceChannel) roster() []protocol.Session {
	out := make([]protocol.Session, 0, len(ch.order))
	for _, id := range ch.order {
		out = append(out, ch.members[id].session)
	}
	return out
}

func (ch *workspaceChannel) remove(sessionID string) (*member, bool) {
	m, ok := ch.members[sessionID]
	if !ok {
		return nil, false
	}
	delete(ch.members, sessionID)
	for i, id := range ch.order {
		if id == sessionID {
			ch.order = append(ch.order[:i], ch.order[i+1:]...)
			break
		}
	}
	if len(ch.members) == 0 {
		ch.closed = true
	}
	return m, true
}

// broadcast 调用方必须持有 ch.mu
func (ch *workspaceChannel) broadcast(msg protocol.Outbound, except string) {
	for _, id := range ch.order {
		if id == except {
			continue
		}
		m := ch.members[id]
		if !m.peer.Enqueue(msg) {
			log.Printf("send queue full, drop %s (ws=%s session=%s)", msg.MessageType(), ch.workspaceID, id)
		}
	}
}

type Hub struct {
	// 可选：Redis 在线状态镜像，为 nil 时只维护本进程内存
	presence    cache.PresenceCache
	presenceTTL time.Duration

	mu       sync.RWMutex
	channels map[string]*workspaceChannel

	now func() time.Time
}

func NewHub(p cache.PresenceCache, presenceTTL time.Duration) *Hub {
	if presenceTTL <= 0 {
		presenceTTL = 60 * time.Second
	}
	return &Hub{
		presence:    p,
		presenceTTL: presenceTTL,
		channels:    make(map[string]*workspaceChannel),
		now:         time.Now,
	}
}

func (h *Hub) getOrCreate(workspaceID string) *workspaceChannel {
	h.mu.RLock()
	ch := h.channels[workspaceID]
	h.mu.RUnlock()
	if ch != nil {
		return ch
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch = h.channels[workspaceID]; ch == nil {
		ch = &workspaceChannel{workspaceID: workspaceID, members: make(map[string]*member)}
		h.channels[workspaceID] = ch
	}
	return ch
}

func (h *Hub) lookup(workspaceID string) *workspaceChannel {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.channels[workspaceID]
}

// gc 在成员清空后把 channel 从表中摘掉（只摘同一个实例）。
func (h *Hub) gc(ch *workspaceChannel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.channels[ch.workspaceID] == ch {
		delete(h.channels, ch.workspaceID)
	}
}

// Join adds the peer to the workspace channel. The joiner always receives a
// workspace_joined roster; the other members receive user_joined only when
// the session is new.
func (h *Hub) Join(workspaceID string, p Peer, profile protocol.Session) protocol.Session {
	sessionID := p.SessionID()
	for {
		ch := h.getOrCreate(workspaceID)
		ch.mu.Lock()
		if ch.closed {
			ch.mu.Unlock()
			continue
		}

		m, exists := ch.members[sessionID]
		if !exists {
			s := profile
			s.SessionID = sessionID
			s.WorkspaceID = workspaceID
			if !s.Status.Valid() {
				s.Status = protocol.StatusOnline
			}
			s.LastSeen = h.now()
			m = &member{peer: p, session: s}
			ch.members[sessionID] = m
			ch.order = append(ch.order, sessionID)
		} else {
			m.peer = p
		}

		roster := []protocol.Session{}
		if len(ch.order) > 1 {
			roster = ch.roster()
		}
		if !p.Enqueue(protocol.WorkspaceJoinedMessage{Type: protocol.TypeWorkspaceJoined, WorkspaceID: workspaceID, ActiveUsers: roster}) {
			log.Printf("send queue full, drop workspace_joined (ws=%s session=%s)", workspaceID, sessionID)
		}
		if !exists {
			ch.broadcast(protocol.UserJoinedMessage{Type: protocol.TypeUserJoined, WorkspaceID: workspaceID, User: m.session}, sessionID)
		}
		s := m.session
		ch.mu.Unlock()

		h.mirrorAdd(workspaceID, s)
		return s
	}
}

// Leave is an intentional departure: remaining members receive user_left.
func (h *Hub) Leave(workspaceID, sessionID string) bool {
	return h.remove(workspaceID, sessionID, protocol.TypeUserLeft)
}

// Disconnect is a transport-level drop: remaining members receive user_disconnected.
func (h *Hub) Disconnect(workspaceID, sessionID string) bool {
	return h.remove(workspaceID, sessionID, protocol.TypeUserDisconnected)
}

func (h *Hub) remove(workspaceID, sessionID, eventType string) bool {
	ch := h.lookup(workspaceID)
	if ch == nil {
		return false
	}
	ch.mu.Lock()
	m, ok := ch.remove(sessionID)
	if !ok {
		ch.mu.Unlock()
		return false
	}
	ch.broadcast(protocol.UserLeftMessage{
		Type:        eventType,
		WorkspaceID: workspaceID,
		UserID:      m.session.UserID,
		SessionID:   sessionID,
	}, sessionID)
	empty := ch.closed
	ch.mu.Unlock()

	if empty {
		h.gc(ch)
	}
	h.mirrorRemove(workspaceID, sessionID)
	return true
}

// UpdatePresence broadcasts to every member, the origin included.
func (h *Hub) UpdatePresence(workspaceID, sessionID string, status protocol.Status) bool {
	ch := h.lookup(workspaceID)
	if ch == nil {
		return false
	}
	ch.mu.Lock()
	m, ok := ch.members[sessionID]
	if !ok {
		ch.mu.Unlock()
		return false
	}
	m.session.Status = status
	m.session.LastSeen = h.now()
	ch.broadcast(protocol.PresenceUpdateMessage{
		Type:        protocol.TypePresenceUpdate,
		WorkspaceID: workspaceID,
		UserID:      m.session.UserID,
		SessionID:   sessionID,
		Status:      status,
		LastSeen:    m.session.LastSeen,
	}, "")
	s := m.session
	ch.mu.Unlock()

	h.mirrorAdd(workspaceID, s)
	return true
}

// Relay fans a document_change out to every member except the origin.
// Changes from a session that is not a member are dropped.
func (h *Hub) Relay(workspaceID, originSessionID string, msg protocol.DocumentChangeMessage) (protocol.DocumentChangeMessage, bool) {
	ch := h.lookup(workspaceID)
	if ch == nil {
		return msg, false
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	origin, ok := ch.members[originSessionID]
	if !ok {
		return msg, false
	}
	msg.Type = protocol.TypeDocumentChange
	msg.WorkspaceID = workspaceID
	msg.UserID = origin.session.UserID
	msg.SessionID = originSessionID
	if msg.Timestamp.IsZero() {
		msg.Timestamp = h.now()
	}
	ch.broadcast(msg, originSessionID)
	return msg, true
}

// Touch refreshes lastSeen and the presence mirror TTL without broadcasting.
func (h *Hub) Touch(workspaceID, sessionID string) bool {
	ch := h.lookup(workspaceID)
	if ch == nil {
		return false
	}
	ch.mu.Lock()
	m, ok := ch.members[sessionID]
	if ok {
		m.session.LastSeen = h.now()
	}
	var s protocol.Session
	if ok {
		s = m.session
	}
	ch.mu.Unlock()
	if ok {
		h.mirrorAdd(workspaceID, s)
	}
	return ok
}

func (h *Hub) Roster(workspaceID string) []protocol.Session {
	ch := h.lookup(workspaceID)
	if ch == nil {
		return []protocol.Session{}
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.roster()
}

func (h *Hub) IsMember(workspaceID, sessionID string) bool {
	ch := h.lookup(workspaceID)
	if ch == nil {
		return false
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	_, ok := ch.members[sessionID]
	return ok
}

func (h *Hub) WorkspaceCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels)
}

func (h *Hub) mirrorAdd(workspaceID string, s protocol.Session) {
	if h.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := h.presence.AddMember(ctx, workspaceID, s, h.presenceTTL); err != nil {
		log.Printf("presence mirror add error (ws=%s session=%s): %v", workspaceID, s.SessionID, err)
	}
}

func (h *Hub) mirrorRemove(workspaceID, sessionID string) {
	if h.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := h.presence.RemoveMember(ctx, workspaceID, sessionID); err != nil {
		log.Printf("presence mirror remove error (ws=%s session=%s): %v", workspaceID, sessionID, err)
	}
}
