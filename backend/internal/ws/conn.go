package ws

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"workspaceCollab/backend/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	publishTimeout = 200 * time.Millisecond
)

// ChangePublisher receives every document_change the hub relayed.
type ChangePublisher interface {
	PublishChange(ctx context.Context, msg protocol.DocumentChangeMessage) error
}

type Conn struct {
	ws        *websocket.Conn
	hub       *Hub
	sessionID string
	userID    string
	profile   protocol.Session
	// 出站队列：hub 广播和本连接的回复都走这里，由 writeLoop 串行写出
	send chan protocol.Outbound

	mu     sync.RWMutex
	closed bool

	// 只在 readLoop goroutine 里读写
	joined map[string]struct{}

	publisher ChangePublisher
}

func NewConn(ws *websocket.Conn, hub *Hub, sessionID string, profile protocol.Session, sendBuffer int, publisher ChangePublisher) *Conn {
	if sendBuffer <= 0 {
		sendBuffer = 64
	}
	return &Conn{
		ws:        ws,
		hub:       hub,
		sessionID: sessionID,
		userID:    profile.UserID,
		profile:   profile,
		send:      make(chan protocol.Outbound, sendBuffer),
		joined:    make(map[string]struct{}),
		publisher: publisher,
	}
}

func (c *Conn) SessionID() string { return c.sessionID }

// Enqueue 非阻塞：队列满了直接丢弃，连接已关闭时也丢弃
func (c *Conn) Enqueue(msg protocol.Outbound) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Conn) reply(msg protocol.Outbound) {
	if !c.Enqueue(msg) {
		log.Printf("send queue full, drop %s (user=%s session=%s)", msg.MessageType(), c.userID, c.sessionID)
	}
}

func (c *Conn) replyError(content string) {
	c.reply(protocol.ServerMessage{Type: protocol.TypeError, Content: content})
}

// teardown 先从所有工作区断开（其余成员收到 user_disconnected），再关闭发送队列。
func (c *Conn) teardown() {
	for wsID := range c.joined {
		c.hub.Disconnect(wsID, c.sessionID)
		delete(c.joined, wsID)
	}
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.mu.Unlock()
}

func (c *Conn) readLoop(ctx context.Context) {
	defer c.teardown()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg protocol.ClientMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("read json error (user=%s session=%s): %v", c.userID, c.sessionID, err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		c.handle(ctx, msg)
	}
}

func (c *Conn) handle(ctx context.Context, msg protocol.ClientMessage) {
	switch msg.Type {
	case protocol.TypeJoinWorkspace:
		if msg.WorkspaceID == "" {
			c.replyError("MISSING_WORKSPACE_ID")
			return
		}
		c.hub.Join(msg.WorkspaceID, c, c.profile)
		c.joined[msg.WorkspaceID] = struct{}{}

	case protocol.TypeLeaveWorkspace:
		if _, ok := c.joined[msg.WorkspaceID]; !ok {
			return
		}
		c.hub.Leave(msg.WorkspaceID, c.sessionID)
		delete(c.joined, msg.WorkspaceID)

	case protocol.TypePresenceUpdate:
		if !msg.Status.Valid() {
			c.replyError("INVALID_STATUS")
			return
		}
		// 不在该工作区时静默忽略
		c.hub.UpdatePresence(msg.WorkspaceID, c.sessionID, msg.Status)

	case protocol.TypeDocumentChange:
		if msg.WorkspaceID == "" || msg.DocumentID == "" {
			c.replyError("MISSING_DOCUMENT_ID")
			return
		}
		relayed, ok := c.hub.Relay(msg.WorkspaceID, c.sessionID, protocol.DocumentChangeMessage{
			DocumentID: msg.DocumentID,
			Version:    msg.Version,
			Changes:    msg.Changes,
		})
		if !ok {
			return
		}
		c.publish(ctx, relayed)

	case protocol.TypeHeartbeat:
		for wsID := range c.joined {
			c.hub.Touch(wsID, c.sessionID)
		}
		c.reply(protocol.ServerMessage{Type: protocol.TypeHeartbeatAck})

	default:
		// 未知类型，回一条提示
		c.reply(protocol.ServerMessage{Type: protocol.TypeIgnored, Content: "Unknown message type"})
	}
}

func (c *Conn) publish(ctx context.Context, msg protocol.DocumentChangeMessage) {
	if c.publisher == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := c.publisher.PublishChange(pubCtx, msg); err != nil {
		log.Printf("publish change error (doc=%s version=%d): %v", msg.DocumentID, msg.Version, err)
	}
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteJSON(msg); err != nil {
				log.Printf("write json error (user=%s session=%s): %v", c.userID, c.sessionID, err)
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
