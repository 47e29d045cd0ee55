package ws

import (
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"workspaceCollab/backend/internal/protocol"
)

// 本地开发环境默认允许的来源
var DefaultAllowedOrigins = []string{
	"http://localhost",
	"http://127.0.0.1",
	"https://localhost",
	"https://127.0.0.1",
}

type ManagerOptions struct {
	SendBuffer     int
	AllowedOrigins []string
}

type Manager struct {
	h         *Hub
	publisher ChangePublisher
	upgrader  websocket.Upgrader
	opt       ManagerOptions
}

func NewManager(h *Hub, publisher ChangePublisher, opt ManagerOptions) *Manager {
	if len(opt.AllowedOrigins) == 0 {
		opt.AllowedOrigins = DefaultAllowedOrigins
	}
	m := &Manager{h: h, publisher: publisher, opt: opt}
	m.upgrader = websocket.Upgrader{CheckOrigin: m.checkOrigin}
	return m
}

func (m *Manager) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || origin == "null" { // 一些环境不发送 Origin，或为 "null"
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	for _, p := range m.opt.AllowedOrigins {
		if p == "*" {
			return true
		}
		allowed, err := url.Parse(p)
		if err != nil {
			continue
		}
		// scheme 与 host 必须完全一致；允许项不带端口时接受任意端口
		if !strings.EqualFold(u.Scheme, allowed.Scheme) || !strings.EqualFold(u.Hostname(), allowed.Hostname()) {
			continue
		}
		if allowed.Port() == "" || allowed.Port() == u.Port() {
			return true
		}
	}
	return false
}

// WebSocketConnect upgrades an authenticated request into a hub connection
// and blocks until it closes.
func (m *Manager) WebSocketConnect(c *gin.Context) {
	userID := c.GetString("userId")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	username := c.GetString("username")
	profile := protocol.Session{
		UserID:      userID,
		DisplayName: protocol.DisplayNameOr(c.Query("displayName"), username, userID),
		AvatarRef:   c.GetString("avatar"),
		Status:      protocol.StatusOnline,
	}

	conn, err := m.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v (origin=%s)", err, c.Request.Header.Get("Origin"))
		return
	}

	sessionID := uuid.NewString()
	wsConn := NewConn(conn, m.h, sessionID, profile, m.opt.SendBuffer, m.publisher)

	// 先启动写循环，保证 welcome 能及时发出
	go wsConn.writeLoop()
	wsConn.reply(protocol.WelcomeMessage{Type: protocol.TypeWelcome, SessionID: sessionID, UserID: userID})

	log.Printf("websocket connected (user=%s session=%s)", userID, sessionID)
	// 读循环阻塞到连接关闭
	wsConn.readLoop(c.Request.Context())
	log.Printf("websocket closed (user=%s session=%s)", userID, sessionID)
}
