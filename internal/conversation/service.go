// Package conversation runs chat sessions: it feeds visitor turns through the
// tenant's workflow, decides when to fall back to AI or alert humans, applies
// dashboard actions, and hands the results to the realtime layer.
//
// Every operation on a chat runs under that chat's lock, loads the chat,
// mutates a copy, saves it and only then publishes events, so no two
// operations interleave on the same chat and nothing is delivered that was
// not persisted.
package conversation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"chatflow/backend/internal/config"
	"chatflow/backend/internal/metrics"
	"chatflow/backend/internal/repository"
	"chatflow/backend/internal/services"
	"chatflow/backend/pkg/models"
)

var (
	// ErrUnauthorized is returned when an actor may not act on a chat.
	ErrUnauthorized = errors.New("actor is not allowed to act on this chat")
	// ErrChatClosed is returned for visitor messages and replies sent to a
	// closed chat.
	ErrChatClosed = errors.New("chat is closed")
)

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Audience addresses the realtime channels of one chat.
type Audience struct {
	ChatID   string
	TenantID string
	OwnerID  string
}

// Publisher delivers chat events to live connections. origin is the
// connection that triggered the event, or "" when it came from elsewhere.
type Publisher interface {
	PublishMessage(ctx context.Context, to Audience, msg models.Message, origin string)
	PublishStatus(ctx context.Context, to Audience, chat *models.Chat)
	PublishNewChat(ctx context.Context, to Audience, chat *models.Chat)
	PublishError(ctx context.Context, chatID, text string)
}

// Settings supplies the current chat texts and limits.
type Settings interface {
	Chat() config.ChatConfig
}

// Service orchestrates conversations.
type Service struct {
	repo      repository.Repository
	ai        services.AIResponder
	notifier  services.Notifier
	publisher Publisher
	settings  Settings
	logger    Logger

	locks   *lockTable
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time
	newID   func() string
}

// Option configures a Service.
type Option func(*Service)

// WithMetrics records turn and action outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator replaces the uuid generator for chat and message ids.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) { s.newID = gen }
}

// NewService creates a new Service. ai may be nil when no AI responder is
// configured; notifier may be nil to disable notifications.
func NewService(repo repository.Repository, ai services.AIResponder, notifier services.Notifier,
	publisher Publisher, settings Settings, logger Logger, opts ...Option) *Service {
	if notifier == nil {
		notifier = services.NopNotifier{}
	}
	s := &Service{
		repo:      repo,
		ai:        ai,
		notifier:  notifier,
		publisher: publisher,
		settings:  settings,
		logger:    logger,
		locks:     newLockTable(),
		tracer:    otel.Tracer("chatflow/conversation"),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) message(sender models.Sender, text string) models.Message {
	return models.Message{
		ID:        s.newID(),
		Sender:    sender,
		Text:      text,
		Timestamp: s.now().UTC(),
	}
}

func audience(chat *models.Chat, tenant *models.Tenant) Audience {
	return Audience{ChatID: chat.ID, TenantID: tenant.ID, OwnerID: tenant.OwnerID}
}

// loadChat fetches the chat and its tenant.
func (s *Service) loadChat(ctx context.Context, chatID string) (*models.Chat, *models.Tenant, error) {
	chat, err := s.repo.GetChat(ctx, chatID)
	if err != nil {
		return nil, nil, err
	}
	tenant, err := s.repo.GetTenantByID(ctx, chat.TenantID)
	if err != nil {
		return nil, nil, err
	}
	return chat, tenant, nil
}
