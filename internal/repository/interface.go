package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"chatflow/backend/pkg/models"
)

var (
	// ErrNotFound is returned when a chat, tenant or actor does not exist.
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict is returned when a chat was saved by someone else
	// since it was loaded.
	ErrVersionConflict = errors.New("chat version conflict")
)

// ChatStore persists conversation state.
type ChatStore interface {
	// CreateChat stores a new chat with Version 1.
	CreateChat(ctx context.Context, chat *models.Chat) error
	// GetChat loads a chat by id.
	GetChat(ctx context.Context, id string) (*models.Chat, error)
	// UpdateChat saves all mutable fields of chat if its Version still matches
	// the stored one, then increments chat.Version.
	UpdateChat(ctx context.Context, chat *models.Chat) error
	// ListChats returns a tenant's chats with the given status, newest first.
	// An empty status lists every chat.
	ListChats(ctx context.Context, tenantID string, status models.ChatStatus) ([]*models.Chat, error)
}

// TenantStore reads tenant, plan and roster data.
type TenantStore interface {
	GetTenantByID(ctx context.Context, id string) (*models.Tenant, error)
	GetTenantByCode(ctx context.Context, code string) (*models.Tenant, error)
	CreateTenant(ctx context.Context, tenant *models.Tenant) error
	AddStaff(ctx context.Context, staff *models.StaffMember) error
	// DecrementCredit removes one usage credit and returns what is left.
	DecrementCredit(ctx context.Context, tenantID string) (int64, error)
	UpdateWorkflow(ctx context.Context, tenantID string, doc json.RawMessage) error
	// FindActorByEmail resolves a dashboard login to an owner or staff actor.
	FindActorByEmail(ctx context.Context, email string) (*models.Actor, error)
	// ListAllowedOrigins returns every tenant website origin.
	ListAllowedOrigins(ctx context.Context) ([]string, error)
}

// UsageCounter tracks AI replies per tenant per day.
type UsageCounter interface {
	// RecordDailyUsage adds one unit for the day and returns the new count.
	RecordDailyUsage(ctx context.Context, tenantID string, day time.Time) (int64, error)
	DailyUsage(ctx context.Context, tenantID string, day time.Time) (int64, error)
}

// Repository is the full persistence surface used by the server.
type Repository interface {
	ChatStore
	TenantStore
	UsageCounter
	Ping(ctx context.Context) error
}

// dayKey normalises a timestamp to the UTC calendar day.
func dayKey(day time.Time) string {
	return day.UTC().Format(time.DateOnly)
}
