package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sourcegraph/conc"

	"chatflow/backend/internal/conversation"
	"chatflow/backend/pkg/models"
)

const (
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 64 << 10
	defaultTimeout = 10 * time.Second
)

// ChatService is the conversation surface the gateway drives.
type ChatService interface {
	StartChat(ctx context.Context, req conversation.StartChatRequest) (*models.Chat, error)
	VisitorChat(ctx context.Context, tenantCode, chatID string) (*models.Chat, error)
	HandleVisitorMessage(ctx context.Context, in conversation.VisitorMessage) (*conversation.TurnReport, error)
	GetChat(ctx context.Context, actor models.Actor, chatID string) (*models.Chat, error)
	DashboardReply(ctx context.Context, actor models.Actor, chatID, text, fileURL, origin string) (*models.Chat, error)
	Assign(ctx context.Context, actor models.Actor, chatID, assigneeID, origin string) (*models.Chat, error)
	Unassign(ctx context.Context, actor models.Actor, chatID, origin string) (*models.Chat, error)
	SetAIEnabled(ctx context.Context, actor models.Actor, chatID string, enabled bool, origin string) (*models.Chat, error)
	Close(ctx context.Context, actor models.Actor, chatID, origin string) (*models.Chat, error)
	Reopen(ctx context.Context, actor models.Actor, chatID, origin string) (*models.Chat, error)
}

// Authenticator resolves the dashboard user behind a handshake request.
type Authenticator interface {
	Authenticate(r *http.Request) (*models.Actor, error)
}

// OriginPolicy decides which browser origins may open widget connections.
type OriginPolicy interface {
	AllowsOrigin(origin string) bool
}

// GatewayConfig tunes connection handling.
type GatewayConfig struct {
	SendBuffer   int
	WriteTimeout time.Duration
}

// Gateway upgrades handshake requests to websocket connections and
// dispatches their frames.
type Gateway struct {
	hub     *Hub
	svc     ChatService
	auth    Authenticator
	origins OriginPolicy
	logger  Logger
	cfg     GatewayConfig

	upgrader websocket.Upgrader
	pumps    conc.WaitGroup
}

// NewGateway creates a Gateway.
func NewGateway(hub *Hub, svc ChatService, auth Authenticator, origins OriginPolicy, logger Logger, cfg GatewayConfig) *Gateway {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultTimeout
	}
	g := &Gateway{hub: hub, svc: svc, auth: auth, origins: origins, logger: logger, cfg: cfg}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

// checkOrigin lets widget connections in from registered tenant sites and
// dashboard connections from the server's own host as well.
func (g *Gateway) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if g.origins.AllowsOrigin(origin) {
		return true
	}
	if r.URL.Query().Get("role") == string(models.RoleVisitor) {
		return false
	}
	u, err := url.Parse(origin)
	return err == nil && u.Host == r.Host
}

// ServeHTTP performs the handshake:
//
//	?role=visitor&tenant=<code>[&chat=<id>]
//	?role=owner|staff   (bearer token or session cookie)
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	role := models.Role(q.Get("role"))

	client := NewClient(uuid.NewString(), role, g.cfg.SendBuffer)
	switch role {
	case models.RoleVisitor:
		client.TenantCode = q.Get("tenant")
		if client.TenantCode == "" {
			http.Error(w, "tenant is required", http.StatusBadRequest)
			return
		}
	case models.RoleOwner, models.RoleStaff:
		actor, err := g.auth.Authenticate(r)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if actor.Role != role {
			http.Error(w, "role does not match identity", http.StatusForbidden)
			return
		}
		client.Actor = actor
	default:
		http.Error(w, "unknown role", http.StatusBadRequest)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	g.hub.Register(client)
	switch role {
	case models.RoleOwner:
		g.hub.Join(client, OwnerRoom(client.Actor.ID))
	case models.RoleStaff:
		g.hub.Join(client, StaffRoom(client.Actor.TenantID))
	case models.RoleVisitor:
		if chatID := q.Get("chat"); chatID != "" {
			g.resume(r.Context(), client, chatID)
		}
	}

	g.pumps.Go(func() { g.writePump(conn, client) })
	g.readPump(conn, client)
}

// Wait blocks until every write pump has finished.
func (g *Gateway) Wait() {
	g.pumps.Wait()
}

func (g *Gateway) readPump(conn *websocket.Conn, c *Client) {
	defer func() {
		g.hub.Unregister(c)
		conn.Close()
	}()

	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.logger.Debug("connection closed", "conn_id", c.ID, "error", err)
			}
			return
		}
		g.dispatch(context.Background(), c, env)
	}
}

// writePump is the only writer on conn, so frames leave in queue order.
func (g *Gateway) writePump(conn *websocket.Conn, c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.Send():
			_ = conn.SetWriteDeadline(time.Now().Add(g.cfg.WriteTimeout))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(g.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

type visitorFrame struct {
	ChatID  string `json:"chatId"`
	Email   string `json:"email"`
	Text    string `json:"text"`
	PageURL string `json:"pageUrl"`
	FileURL string `json:"fileUrl"`
}

type dashboardFrame struct {
	ChatID     string `json:"chatId"`
	Text       string `json:"text"`
	FileURL    string `json:"fileUrl"`
	AssigneeID string `json:"assigneeId"`
	Enabled    bool   `json:"enabled"`
}

// dispatch handles one inbound frame. Frames from a connection are handled
// one after another.
func (g *Gateway) dispatch(ctx context.Context, c *Client, env Envelope) {
	if c.Role == models.RoleVisitor {
		var f visitorFrame
		if err := json.Unmarshal(env.Data, &f); err != nil && len(env.Data) > 0 {
			g.logger.Debug("malformed visitor frame", "conn_id", c.ID, "error", err)
			return
		}
		g.dispatchVisitor(ctx, c, env.Type, f)
		return
	}

	var f dashboardFrame
	if err := json.Unmarshal(env.Data, &f); err != nil {
		g.logger.Debug("malformed dashboard frame", "conn_id", c.ID, "error", err)
		return
	}
	g.dispatchDashboard(ctx, c, env.Type, f)
}

func (g *Gateway) dispatchVisitor(ctx context.Context, c *Client, t EventType, f visitorFrame) {
	switch t {
	case "start_chat":
		chatID := uuid.NewString()
		g.hub.JoinChat(c, chatID)
		g.send(c, EventChatStarted, ChatPayload{ChatID: chatID})
		if _, err := g.svc.StartChat(ctx, conversation.StartChatRequest{
			ChatID: chatID, TenantCode: c.TenantCode, Email: f.Email, PageURL: f.PageURL,
		}); err != nil {
			g.hub.Leave(c, ChatRoom(chatID))
			g.send(c, EventError, ErrorPayload{Text: "Unable to start chat"})
		}

	case "join_chat":
		g.resume(ctx, c, f.ChatID)

	case "message":
		current, ok := g.hub.CurrentChat(c)
		if f.ChatID != "" && (!ok || f.ChatID != current) {
			if !g.resume(ctx, c, f.ChatID) {
				return
			}
			current, ok = f.ChatID, true
		}
		if !ok {
			g.send(c, EventError, ErrorPayload{Text: "No active chat"})
			return
		}
		_, err := g.svc.HandleVisitorMessage(ctx, conversation.VisitorMessage{
			ChatID: current, Email: f.Email, Text: f.Text, PageURL: f.PageURL, FileURL: f.FileURL, Origin: c.ID,
		})
		if errors.Is(err, conversation.ErrChatClosed) {
			g.send(c, EventError, ErrorPayload{ChatID: current, Text: "This chat has been closed"})
		}

	default:
		g.logger.Debug("unknown visitor frame", "conn_id", c.ID, "type", string(t))
	}
}

// resume moves a visitor into an existing chat and replays its history.
func (g *Gateway) resume(ctx context.Context, c *Client, chatID string) bool {
	chat, err := g.svc.VisitorChat(ctx, c.TenantCode, chatID)
	if err != nil {
		g.logger.Debug("visitor chat lookup failed", "conn_id", c.ID, "chat_id", chatID, "error", err)
		g.send(c, EventError, ErrorPayload{ChatID: chatID, Text: "Chat not found"})
		return false
	}
	g.hub.JoinChat(c, chat.ID)
	g.send(c, EventHistory, chatPayload(chat, true))
	return true
}

func (g *Gateway) dispatchDashboard(ctx context.Context, c *Client, t EventType, f dashboardFrame) {
	actor := *c.Actor
	var err error
	switch t {
	case "reply":
		_, err = g.svc.DashboardReply(ctx, actor, f.ChatID, f.Text, f.FileURL, c.ID)
	case "assign":
		_, err = g.svc.Assign(ctx, actor, f.ChatID, f.AssigneeID, c.ID)
	case "unassign":
		_, err = g.svc.Unassign(ctx, actor, f.ChatID, c.ID)
	case "set_ai":
		_, err = g.svc.SetAIEnabled(ctx, actor, f.ChatID, f.Enabled, c.ID)
	case "close":
		_, err = g.svc.Close(ctx, actor, f.ChatID, c.ID)
	case "reopen":
		_, err = g.svc.Reopen(ctx, actor, f.ChatID, c.ID)
	case "watch_chat":
		var chat *models.Chat
		if chat, err = g.svc.GetChat(ctx, actor, f.ChatID); err == nil {
			g.send(c, EventHistory, chatPayload(chat, true))
		}
	default:
		g.logger.Debug("unknown dashboard frame", "conn_id", c.ID, "type", string(t))
		return
	}
	// dashboards get no error events; the service already logged the refusal
	if err != nil {
		g.logger.Debug("dashboard frame failed", "conn_id", c.ID, "type", string(t), "chat_id", f.ChatID, "error", err)
	}
}

func (g *Gateway) send(c *Client, t EventType, payload any) {
	env, err := newEnvelope(t, payload)
	if err != nil {
		g.logger.Error("failed to encode event", "type", string(t), "error", err)
		return
	}
	g.hub.SendTo(c, env)
}
