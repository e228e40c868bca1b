// Package mcp exposes dashboard chat actions as Model Context Protocol tools
// so an operator's agent can work the inbox on their behalf.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"chatflow/backend/internal/auth"
	"chatflow/backend/internal/workflow"
	"chatflow/backend/pkg/models"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// ChatService is the conversation surface the tools drive.
type ChatService interface {
	ListChats(ctx context.Context, actor models.Actor, status models.ChatStatus) ([]*models.Chat, error)
	GetChat(ctx context.Context, actor models.Actor, chatID string) (*models.Chat, error)
	DashboardReply(ctx context.Context, actor models.Actor, chatID, text, fileURL, origin string) (*models.Chat, error)
	Assign(ctx context.Context, actor models.Actor, chatID, assigneeID, origin string) (*models.Chat, error)
	SetAIEnabled(ctx context.Context, actor models.Actor, chatID string, enabled bool, origin string) (*models.Chat, error)
	Close(ctx context.Context, actor models.Actor, chatID, origin string) (*models.Chat, error)
}

type Server struct {
	mcpServer *server.MCPServer
	chats     ChatService
}

func NewServer(chats ChatService, version string) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Chatflow Inbox",
			version,
			server.WithToolCapabilities(true),
		),
		chats: chats,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_open_chats",
			mcp.WithDescription("List the open chats of your tenant, newest first"),
		),
		s.handleListOpenChats,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_chat",
			mcp.WithDescription("Read a chat with its full message history"),
			mcp.WithString("chat_id", mcp.Required(), mcp.Description("The ID of the chat")),
		),
		s.handleGetChat,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"reply_to_chat",
			mcp.WithDescription("Send a message to the visitor as yourself"),
			mcp.WithString("chat_id", mcp.Required(), mcp.Description("The ID of the chat")),
			mcp.WithString("text", mcp.Required(), mcp.Description("The message text")),
		),
		s.handleReply,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"assign_chat",
			mcp.WithDescription("Take over a chat, or assign it to a staff member if you are the owner. Assigning switches AI replies off."),
			mcp.WithString("chat_id", mcp.Required(), mcp.Description("The ID of the chat")),
			mcp.WithString("assignee_id", mcp.Description("Staff member to assign; defaults to yourself")),
		),
		s.handleAssign,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"set_chat_ai",
			mcp.WithDescription("Turn automatic AI replies on or off for a chat"),
			mcp.WithString("chat_id", mcp.Required(), mcp.Description("The ID of the chat")),
			mcp.WithBoolean("enabled", mcp.Required(), mcp.Description("Whether the AI may reply")),
		),
		s.handleSetAI,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"close_chat",
			mcp.WithDescription("Close a chat; the visitor can no longer send messages"),
			mcp.WithString("chat_id", mcp.Required(), mcp.Description("The ID of the chat")),
		),
		s.handleClose,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"validate_workflow",
			mcp.WithDescription("Check a workflow document for authoring errors without saving it"),
			mcp.WithString("document", mcp.Required(), mcp.Description("The workflow JSON document")),
		),
		s.handleValidateWorkflow,
	)
}

// chatSummary is the compact listing returned by list_open_chats.
type chatSummary struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	Email        string           `json:"email,omitempty"`
	AIEnabled    bool             `json:"ai_enabled"`
	LeadingStaff *models.Assignee `json:"leading_staff,omitempty"`
	LastMessage  string           `json:"last_message,omitempty"`
}

func (s *Server) handleListOpenChats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	actor, ok := auth.ActorFromContext(ctx)
	if !ok {
		return mcp.NewToolResultError("Not authenticated"), nil
	}

	chats, err := s.chats.ListChats(ctx, actor, models.ChatOpen)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list chats: %v", err)), nil
	}

	out := make([]chatSummary, 0, len(chats))
	for _, c := range chats {
		sum := chatSummary{ID: c.ID, Name: c.Name, Email: c.VisitorEmail, AIEnabled: c.AIEnabled, LeadingStaff: c.LeadingStaff}
		if n := len(c.Messages); n > 0 {
			sum.LastMessage = c.Messages[n-1].Text
		}
		out = append(out, sum)
	}
	return jsonResult(out)
}

func (s *Server) handleGetChat(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.chatTool(ctx, request, "Failed to get chat", func(actor models.Actor, id string, args map[string]interface{}) (*models.Chat, error) {
		return s.chats.GetChat(ctx, actor, id)
	})
}

func (s *Server) handleReply(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.chatTool(ctx, request, "Failed to reply", func(actor models.Actor, id string, args map[string]interface{}) (*models.Chat, error) {
		text, _ := args["text"].(string)
		if text == "" {
			return nil, errMissing("text")
		}
		return s.chats.DashboardReply(ctx, actor, id, text, "", "")
	})
}

func (s *Server) handleAssign(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.chatTool(ctx, request, "Failed to assign chat", func(actor models.Actor, id string, args map[string]interface{}) (*models.Chat, error) {
		assignee, _ := args["assignee_id"].(string)
		return s.chats.Assign(ctx, actor, id, assignee, "")
	})
}

func (s *Server) handleSetAI(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.chatTool(ctx, request, "Failed to set AI", func(actor models.Actor, id string, args map[string]interface{}) (*models.Chat, error) {
		enabled, ok := args["enabled"].(bool)
		if !ok {
			return nil, errMissing("enabled")
		}
		return s.chats.SetAIEnabled(ctx, actor, id, enabled, "")
	})
}

func (s *Server) handleClose(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.chatTool(ctx, request, "Failed to close chat", func(actor models.Actor, id string, args map[string]interface{}) (*models.Chat, error) {
		return s.chats.Close(ctx, actor, id, "")
	})
}

func (s *Server) handleValidateWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	doc, ok := args["document"].(string)
	if !ok || doc == "" {
		return mcp.NewToolResultError("Missing required parameter: document"), nil
	}

	g, err := workflow.Parse([]byte(doc))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	issues := workflow.Validate(g)
	if len(issues) == 0 {
		return mcp.NewToolResultText("Workflow is valid"), nil
	}
	return jsonResult(issues)
}

// chatTool unpacks the actor and chat_id shared by the per-chat tools.
func (s *Server) chatTool(ctx context.Context, request mcp.CallToolRequest, failure string,
	fn func(actor models.Actor, chatID string, args map[string]interface{}) (*models.Chat, error)) (*mcp.CallToolResult, error) {
	actor, ok := auth.ActorFromContext(ctx)
	if !ok {
		return mcp.NewToolResultError("Not authenticated"), nil
	}

	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	id, ok := args["chat_id"].(string)
	if !ok || id == "" {
		return mcp.NewToolResultError("Missing required parameter: chat_id"), nil
	}

	chat, err := fn(actor, id, args)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("%s: %v", failure, err)), nil
	}
	return jsonResult(chat)
}

type errMissing string

func (e errMissing) Error() string { return "missing required parameter: " + string(e) }

func jsonResult(v any) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

// MountHTTPHandlers serves the SSE transport under /mcp. The handlers must
// sit behind auth.RequireAuth; the authenticated actor is carried into each
// tool call.
func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	sseServer := server.NewSSEServer(mcpServer,
		server.WithStaticBasePath("/mcp"),
		server.WithSSEContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			if actor, ok := auth.ActorFromContext(r.Context()); ok {
				return auth.WithActor(ctx, actor)
			}
			return ctx
		}),
	)

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		// Direct POST for tool calls
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	// SSE endpoints
	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
