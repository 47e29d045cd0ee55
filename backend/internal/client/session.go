package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"workspaceCollab/backend/internal/docsync"
	"workspaceCollab/backend/internal/presence"
	"workspaceCollab/backend/internal/protocol"
)

var (
	ErrNotJoined = errors.New("workspace not joined")
	ErrClosed    = errors.New("session closed")
)

type Config struct {
	// ws://host:port/collab/ws
	URL   string
	Token string
	// 默认 800ms
	Debounce time.Duration

	Reconnect  bool
	MinBackoff time.Duration
	MaxBackoff time.Duration

	Dialer *websocket.Dialer

	// 回调都在事件循环里调用，不能阻塞
	OnRoster func(workspaceID string, active []protocol.Session)
	OnError  func(content string)
}

func (c *Config) withDefaults() {
	if c.Debounce <= 0 {
		c.Debounce = docsync.DefaultDebounce
	}
	if c.MinBackoff <= 0 {
		c.MinBackoff = 200 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 10 * time.Second
	}
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
}

type openDoc struct {
	workspaceID string
	coord       *docsync.Coordinator
}

// Session is one client connection to the hub. Inbound messages are handled
// by a single event loop in arrival order.
type Session struct {
	cfg Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	inbound chan protocol.Envelope
	out     chan protocol.ClientMessage

	mu        sync.Mutex
	conn      *websocket.Conn
	sessionID string
	userID    string
	closed    bool
	// wanted 是调用方希望加入的工作区，断线重连后据此重新加入
	wanted   map[string]bool
	joined   map[string]bool
	trackers map[string]*presence.Tracker
	docs     map[string]*openDoc
	// workspace_joined 之前发出的编辑先攒着
	held map[string][]protocol.ClientMessage
}

// Dial connects to the hub and waits for the welcome message.
func Dial(ctx context.Context, cfg Config) (*Session, error) {
	cfg.withDefaults()
	conn, welcome, err := connect(ctx, cfg)
	if err != nil {
		return nil, err
	}

	sctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:       cfg,
		ctx:       sctx,
		cancel:    cancel,
		inbound:   make(chan protocol.Envelope, 256),
		out:       make(chan protocol.ClientMessage, 256),
		conn:      conn,
		sessionID: welcome.SessionID,
		userID:    welcome.UserID,
		wanted:    make(map[string]bool),
		joined:    make(map[string]bool),
		trackers:  make(map[string]*presence.Tracker),
		docs:      make(map[string]*openDoc),
		held:      make(map[string][]protocol.ClientMessage),
	}

	s.wg.Add(3)
	go s.readLoop(conn)
	go s.writeLoop()
	go s.eventLoop()
	return s, nil
}

func connect(ctx context.Context, cfg Config) (*websocket.Conn, protocol.Envelope, error) {
	header := http.Header{}
	if cfg.Token != "" {
		header.Set("Authorization", "Bearer "+cfg.Token)
	}
	conn, _, err := cfg.Dialer.DialContext(ctx, cfg.URL, header)
	if err != nil {
		return nil, protocol.Envelope{}, fmt.Errorf("dial %s: %w", cfg.URL, err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	var welcome protocol.Envelope
	if err := conn.ReadJSON(&welcome); err != nil {
		_ = conn.Close()
		return nil, protocol.Envelope{}, fmt.Errorf("read welcome: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})
	if welcome.Type != protocol.TypeWelcome || welcome.SessionID == "" {
		_ = conn.Close()
		return nil, protocol.Envelope{}, fmt.Errorf("unexpected first message %q", welcome.Type)
	}
	return conn, welcome, nil
}

func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// enqueue 非阻塞，队列满时丢弃
func (s *Session) enqueue(msg protocol.ClientMessage) bool {
	select {
	case s.out <- msg:
		return true
	default:
		log.Printf("client send queue full, drop %s (session=%s)", msg.Type, s.sessionID)
		return false
	}
}

// Join asks the hub to add this session to a workspace. The roster arrives
// asynchronously through OnRoster and Roster.
func (s *Session) Join(workspaceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.wanted[workspaceID] = true
	if _, ok := s.trackers[workspaceID]; !ok {
		s.trackers[workspaceID] = presence.NewTracker(workspaceID, s.sessionID)
	}
	s.enqueue(protocol.ClientMessage{Type: protocol.TypeJoinWorkspace, WorkspaceID: workspaceID})
	return nil
}

// Leave sends leave_workspace and closes every document opened in that workspace.
func (s *Session) Leave(workspaceID string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if !s.wanted[workspaceID] {
		s.mu.Unlock()
		return ErrNotJoined
	}
	delete(s.wanted, workspaceID)
	delete(s.joined, workspaceID)
	delete(s.trackers, workspaceID)
	delete(s.held, workspaceID)
	var closing []*docsync.Coordinator
	for id, d := range s.docs {
		if d.workspaceID == workspaceID {
			closing = append(closing, d.coord)
			delete(s.docs, id)
		}
	}
	s.enqueue(protocol.ClientMessage{Type: protocol.TypeLeaveWorkspace, WorkspaceID: workspaceID})
	s.mu.Unlock()

	for _, c := range closing {
		c.Close()
	}
	return nil
}

func (s *Session) SetStatus(workspaceID string, status protocol.Status) error {
	if !status.Valid() {
		return fmt.Errorf("invalid status %q", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if !s.wanted[workspaceID] {
		return ErrNotJoined
	}
	s.enqueue(protocol.ClientMessage{Type: protocol.TypePresenceUpdate, WorkspaceID: workspaceID, Status: status})
	return nil
}

// DocumentOptions seeds a coordinator with the persisted state of a document.
type DocumentOptions struct {
	Version int64
	Initial docsync.Patch
	OnApply docsync.ApplyFunc
}

// OpenDocument starts synchronizing a document of a joined workspace. Opening
// an already open document returns the existing coordinator.
func (s *Session) OpenDocument(workspaceID, documentID string, opt DocumentOptions) (*docsync.Coordinator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if !s.wanted[workspaceID] {
		return nil, ErrNotJoined
	}
	if d, ok := s.docs[documentID]; ok {
		return d.coord, nil
	}
	coord := docsync.NewCoordinator(docsync.Config{
		DocumentID:     documentID,
		SelfID:         s.userID,
		InitialVersion: opt.Version,
		Initial:        opt.Initial,
		Debounce:       s.cfg.Debounce,
		OnApply:        opt.OnApply,
		Emitter: docsync.EmitterFunc(func(c docsync.Change) bool {
			return s.emitChange(workspaceID, c)
		}),
	})
	s.docs[documentID] = &openDoc{workspaceID: workspaceID, coord: coord}
	return coord, nil
}

// CloseDocument cancels the document's pending debounce without emitting.
func (s *Session) CloseDocument(documentID string) {
	s.mu.Lock()
	d, ok := s.docs[documentID]
	delete(s.docs, documentID)
	s.mu.Unlock()
	if ok {
		d.coord.Close()
	}
}

func (s *Session) emitChange(workspaceID string, c docsync.Change) bool {
	msg := protocol.ClientMessage{
		Type:        protocol.TypeDocumentChange,
		WorkspaceID: workspaceID,
		DocumentID:  c.DocumentID,
		Changes:     c.Changes.Encode(),
		Version:     c.Version,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.wanted[workspaceID] {
		return false
	}
	// hub 还没确认加入：此时发出去会被当成非成员丢弃
	if !s.joined[workspaceID] {
		s.held[workspaceID] = append(s.held[workspaceID], msg)
		return true
	}
	return s.enqueue(msg)
}

func (s *Session) Roster(workspaceID string) []protocol.Session {
	s.mu.Lock()
	t := s.trackers[workspaceID]
	s.mu.Unlock()
	if t == nil {
		return []protocol.Session{}
	}
	return t.Active()
}

func (s *Session) Joined(workspaceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joined[workspaceID]
}

func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	docs := s.docs
	s.docs = make(map[string]*openDoc)
	s.mu.Unlock()

	for _, d := range docs {
		d.coord.Close()
	}
	s.cancel()
	var err error
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		err = conn.Close()
	}
	s.wg.Wait()
	return err
}

func (s *Session) readLoop(conn *websocket.Conn) {
	defer s.wg.Done()
	for {
		var env protocol.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if s.ctx.Err() != nil {
				return
			}
			log.Printf("client read error (session=%s): %v", s.SessionID(), err)
			next := s.reconnect()
			if next == nil {
				return
			}
			conn = next
			continue
		}
		select {
		case s.inbound <- env:
		case <-s.ctx.Done():
			return
		}
	}
}

// reconnect dials again with exponential backoff and rejoins every wanted
// workspace. It returns nil when the session should stop.
func (s *Session) reconnect() *websocket.Conn {
	s.mu.Lock()
	s.joined = make(map[string]bool)
	s.holdQueuedLocked()
	s.mu.Unlock()
	if !s.cfg.Reconnect {
		s.cancel()
		return nil
	}

	backoff := s.cfg.MinBackoff
	for {
		select {
		case <-s.ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		conn, welcome, err := connect(s.ctx, s.cfg)
		if err != nil {
			log.Printf("client reconnect failed, retry in %s: %v", backoff, err)
			backoff *= 2
			if backoff > s.cfg.MaxBackoff {
				backoff = s.cfg.MaxBackoff
			}
			continue
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()
			return nil
		}
		old := s.conn
		s.conn = conn
		s.sessionID = welcome.SessionID
		for id, t := range s.trackers {
			t.SetSelf(welcome.SessionID)
			if s.wanted[id] {
				s.enqueue(protocol.ClientMessage{Type: protocol.TypeJoinWorkspace, WorkspaceID: id})
			}
		}
		s.mu.Unlock()
		if old != nil {
			_ = old.Close()
		}
		log.Printf("client reconnected (session=%s)", welcome.SessionID)
		return conn
	}
}

// holdQueuedLocked 在断线后清空发送队列：编辑和状态更新转入 held，
// 等新连接收到 workspace_joined 再发；旧的 join/leave 不再有意义。
func (s *Session) holdQueuedLocked() {
	for {
		select {
		case msg := <-s.out:
			if !s.holdLocked(msg) {
				log.Printf("client drop queued %s after disconnect", msg.Type)
			}
		default:
			return
		}
	}
}

// holdLocked parks a workspace-scoped message until the hub confirms the
// join. It reports false for messages that were not held.
func (s *Session) holdLocked(msg protocol.ClientMessage) bool {
	switch msg.Type {
	case protocol.TypeDocumentChange, protocol.TypePresenceUpdate:
	default:
		return false
	}
	if !s.wanted[msg.WorkspaceID] {
		return false
	}
	s.held[msg.WorkspaceID] = append(s.held[msg.WorkspaceID], msg)
	return true
}

func (s *Session) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.out:
			s.mu.Lock()
			conn := s.conn
			// 取出消息时连接可能已经换了，未确认加入的工作区不能先发
			if msg.Type == protocol.TypeDocumentChange && !s.joined[msg.WorkspaceID] {
				held := s.holdLocked(msg)
				s.mu.Unlock()
				if !held {
					log.Printf("client drop %s for workspace %s", msg.Type, msg.WorkspaceID)
				}
				continue
			}
			s.mu.Unlock()
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("client write error, drop %s: %v", msg.Type, err)
			}
		}
	}
}

func (s *Session) eventLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case env := <-s.inbound:
			s.dispatch(env)
		}
	}
}

func (s *Session) dispatch(env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeWorkspaceJoined:
		s.onJoined(env)
		s.applyPresence(env)
	case protocol.TypeUserJoined, protocol.TypeUserLeft, protocol.TypeUserDisconnected, protocol.TypePresenceUpdate:
		s.applyPresence(env)
	case protocol.TypeDocumentChange:
		s.applyChange(env)
	case protocol.TypeError:
		if s.cfg.OnError != nil {
			s.cfg.OnError(env.Content)
		} else {
			log.Printf("hub error: %s", env.Content)
		}
	}
}

func (s *Session) onJoined(env protocol.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.wanted[env.WorkspaceID] {
		return
	}
	s.joined[env.WorkspaceID] = true
	held := s.held[env.WorkspaceID]
	delete(s.held, env.WorkspaceID)
	for _, msg := range held {
		s.enqueue(msg)
	}
}

func (s *Session) applyPresence(env protocol.Envelope) {
	s.mu.Lock()
	t := s.trackers[env.WorkspaceID]
	s.mu.Unlock()
	if t == nil {
		return
	}
	if t.Apply(env) && s.cfg.OnRoster != nil {
		s.cfg.OnRoster(env.WorkspaceID, t.Active())
	}
}

func (s *Session) applyChange(env protocol.Envelope) {
	s.mu.Lock()
	d := s.docs[env.DocumentID]
	s.mu.Unlock()
	if d == nil || d.workspaceID != env.WorkspaceID {
		return
	}
	patch, err := docsync.DecodePatch(env.Changes)
	if err != nil {
		log.Printf("drop document_change (doc=%s): %v", env.DocumentID, err)
		return
	}
	d.coord.OnRemoteMessage(docsync.Change{
		DocumentID: env.DocumentID,
		UserID:     env.UserID,
		Version:    env.Version,
		Changes:    patch,
		Timestamp:  env.Timestamp,
	})
}
