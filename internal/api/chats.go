// Package api contains the REST handlers used by the owner and staff dashboards.
package api

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"chatflow/backend/internal/auth"
	"chatflow/backend/pkg/models"
)

// ChatService is the conversation surface behind the dashboard endpoints.
type ChatService interface {
	ListChats(ctx context.Context, actor models.Actor, status models.ChatStatus) ([]*models.Chat, error)
	GetChat(ctx context.Context, actor models.Actor, chatID string) (*models.Chat, error)
	DashboardReply(ctx context.Context, actor models.Actor, chatID, text, fileURL, origin string) (*models.Chat, error)
	Assign(ctx context.Context, actor models.Actor, chatID, assigneeID, origin string) (*models.Chat, error)
	Unassign(ctx context.Context, actor models.Actor, chatID, origin string) (*models.Chat, error)
	SetAIEnabled(ctx context.Context, actor models.Actor, chatID string, enabled bool, origin string) (*models.Chat, error)
	Close(ctx context.Context, actor models.Actor, chatID, origin string) (*models.Chat, error)
	Reopen(ctx context.Context, actor models.Actor, chatID, origin string) (*models.Chat, error)
}

// Server holds the dependencies for the API server.
type Server struct {
	Chats     ChatService
	Workflows WorkflowStore
}

// NewServer creates a new Server.
func NewServer(chats ChatService, workflows WorkflowStore) *Server {
	return &Server{Chats: chats, Workflows: workflows}
}

// RegisterHandlers mounts the dashboard routes on g. g must already be
// behind auth.RequireAuth.
func RegisterHandlers(g *echo.Group, s *Server) {
	g.GET("/me", s.Me)
	g.GET("/chats", s.ListChats)
	g.GET("/chats/:id", s.GetChat)
	g.POST("/chats/:id/messages", s.Reply)
	g.POST("/chats/:id/assign", s.Assign)
	g.POST("/chats/:id/unassign", s.Unassign)
	g.PUT("/chats/:id/ai", s.SetAI)
	g.POST("/chats/:id/close", s.Close)
	g.POST("/chats/:id/reopen", s.Reopen)

	g.GET("/workflow", s.GetWorkflow)
	g.PUT("/workflow", s.PutWorkflow)
	g.DELETE("/workflow", s.DeleteWorkflow)
	g.POST("/workflow/validate", s.ValidateWorkflow)
}

// originHeader lets a dashboard that also holds a websocket name that
// connection so its own actions are not echoed back to it.
const originHeader = "X-Connection-ID"

func actorFrom(c echo.Context) (models.Actor, error) {
	actor, ok := auth.ActorFromContext(c.Request().Context())
	if !ok {
		return models.Actor{}, echo.NewHTTPError(http.StatusUnauthorized, "Actor not found in context")
	}
	return actor, nil
}

// Me returns the authenticated dashboard user.
// (GET /api/v1/me)
func (s *Server) Me(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, actor)
}

// ListChats returns the tenant's chats, optionally filtered by status.
// (GET /api/v1/chats?status=open)
func (s *Server) ListChats(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}

	status := models.ChatStatus(c.QueryParam("status"))
	if status != "" && status != models.ChatOpen && status != models.ChatClosed {
		return echo.NewHTTPError(http.StatusBadRequest, "status must be open or closed")
	}

	chats, err := s.Chats.ListChats(c.Request().Context(), actor, status)
	if err != nil {
		return err
	}
	if chats == nil {
		chats = []*models.Chat{}
	}
	return c.JSON(http.StatusOK, chats)
}

// GetChat returns one chat with its full history.
// (GET /api/v1/chats/:id)
func (s *Server) GetChat(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	chat, err := s.Chats.GetChat(c.Request().Context(), actor, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, chat)
}

type replyRequest struct {
	Text    string `json:"text"`
	FileURL string `json:"fileUrl"`
}

// Reply posts a staff or owner message into the chat.
// (POST /api/v1/chats/:id/messages)
func (s *Server) Reply(c echo.Context) error {
	var req replyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	if req.Text == "" && req.FileURL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text or fileUrl is required")
	}
	return s.act(c, func(ctx context.Context, actor models.Actor, id, origin string) (*models.Chat, error) {
		return s.Chats.DashboardReply(ctx, actor, id, req.Text, req.FileURL, origin)
	})
}

type assignRequest struct {
	AssigneeID string `json:"assigneeId"`
}

// Assign makes a staff member or the owner lead the chat. An empty
// assigneeId takes the chat for the caller.
// (POST /api/v1/chats/:id/assign)
func (s *Server) Assign(c echo.Context) error {
	var req assignRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	return s.act(c, func(ctx context.Context, actor models.Actor, id, origin string) (*models.Chat, error) {
		return s.Chats.Assign(ctx, actor, id, req.AssigneeID, origin)
	})
}

// Unassign releases the chat's leading staff.
// (POST /api/v1/chats/:id/unassign)
func (s *Server) Unassign(c echo.Context) error {
	return s.act(c, s.Chats.Unassign)
}

type aiRequest struct {
	Enabled *bool `json:"enabled"`
}

// SetAI switches automatic AI replies for the chat.
// (PUT /api/v1/chats/:id/ai)
func (s *Server) SetAI(c echo.Context) error {
	var req aiRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	if req.Enabled == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "enabled is required")
	}
	return s.act(c, func(ctx context.Context, actor models.Actor, id, origin string) (*models.Chat, error) {
		return s.Chats.SetAIEnabled(ctx, actor, id, *req.Enabled, origin)
	})
}

// Close ends the chat.
// (POST /api/v1/chats/:id/close)
func (s *Server) Close(c echo.Context) error {
	return s.act(c, s.Chats.Close)
}

// Reopen puts a closed chat back in play.
// (POST /api/v1/chats/:id/reopen)
func (s *Server) Reopen(c echo.Context) error {
	return s.act(c, s.Chats.Reopen)
}

type chatAction func(ctx context.Context, actor models.Actor, chatID, origin string) (*models.Chat, error)

func (s *Server) act(c echo.Context, fn chatAction) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	chat, err := fn(c.Request().Context(), actor, c.Param("id"), c.Request().Header.Get(originHeader))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, chat)
}
