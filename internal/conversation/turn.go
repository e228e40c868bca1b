package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"chatflow/backend/internal/config"
	"chatflow/backend/internal/metrics"
	"chatflow/backend/internal/repository"
	"chatflow/backend/internal/services"
	"chatflow/backend/internal/workflow"
	"chatflow/backend/pkg/models"
)

const maxChatNameLength = 80

// StartChatRequest opens a chat for a visitor.
type StartChatRequest struct {
	// ChatID lets the caller pick the id so it can join the chat's channel
	// before the greeting is published. Generated when empty.
	ChatID     string
	TenantCode string
	Email      string
	PageURL    string
}

// VisitorMessage is one inbound visitor frame.
type VisitorMessage struct {
	ChatID  string
	Email   string
	Text    string
	PageURL string
	FileURL string
	// Origin is the sending connection.
	Origin string
}

// TurnReport describes what a visitor turn produced.
type TurnReport struct {
	Replies  []models.Message
	Outcome  string
	Notified bool
}

// StartChat creates a chat, records the greeting and announces the chat to
// the tenant's dashboards.
func (s *Service) StartChat(ctx context.Context, req StartChatRequest) (*models.Chat, error) {
	ctx, span := s.tracer.Start(ctx, "conversation.StartChat",
		trace.WithAttributes(attribute.String("tenant.code", req.TenantCode)))
	defer span.End()

	tenant, err := s.repo.GetTenantByCode(ctx, req.TenantCode)
	if err != nil {
		s.logger.Warn("start chat refused", "tenant_code", req.TenantCode, "error", err)
		return nil, fmt.Errorf("failed to load tenant: %w", err)
	}

	settings := s.settings.Chat()
	id := req.ChatID
	if id == "" {
		id = s.newID()
	}

	greeting, position := s.greeting(tenant, settings)
	msg := s.message(models.BotSender(), greeting.Text)
	msg.Options = greeting.Options

	chat := &models.Chat{
		ID:           id,
		TenantID:     tenant.ID,
		Name:         settings.DefaultName,
		VisitorEmail: req.Email,
		PageURL:      req.PageURL,
		Position:     position,
		Messages:     []models.Message{msg},
		AIEnabled:    true,
		Status:       models.ChatOpen,
	}
	if err := s.repo.CreateChat(ctx, chat); err != nil {
		span.RecordError(err)
		s.logger.Error("failed to create chat", "tenant_id", tenant.ID, "error", err)
		return nil, fmt.Errorf("failed to create chat: %w", err)
	}

	to := audience(chat, tenant)
	s.publisher.PublishNewChat(ctx, to, chat)
	s.publisher.PublishMessage(ctx, to, msg, "")
	s.logger.Info("chat started", "chat_id", chat.ID, "tenant_id", tenant.ID)
	return chat, nil
}

// HandleVisitorMessage processes one visitor turn. Turns for the same chat
// run one at a time. A failed turn leaves the stored chat untouched.
func (s *Service) HandleVisitorMessage(ctx context.Context, in VisitorMessage) (*TurnReport, error) {
	settings := s.settings.Chat()
	if settings.TurnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, settings.TurnTimeout)
		defer cancel()
	}

	ctx, span := s.tracer.Start(ctx, "conversation.HandleVisitorMessage",
		trace.WithAttributes(attribute.String("chat.id", in.ChatID)))
	defer span.End()

	release, err := s.locks.acquire(ctx, in.ChatID)
	if err != nil {
		return nil, err
	}
	report, note, err := s.runTurn(ctx, in, settings)
	release()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.Turn(metrics.OutcomeFailed)
		return nil, err
	}
	span.SetAttributes(attribute.String("turn.outcome", report.Outcome))
	s.metrics.Turn(report.Outcome)

	if note != nil {
		report.Notified = s.notify(ctx, *note)
	}
	return report, nil
}

func (s *Service) runTurn(ctx context.Context, in VisitorMessage, settings config.ChatConfig) (*TurnReport, *services.Notification, error) {
	chat, tenant, err := s.loadChat(ctx, in.ChatID)
	if err != nil {
		s.logger.Warn("visitor turn aborted", "chat_id", in.ChatID, "error", err)
		if !errors.Is(err, repository.ErrNotFound) {
			s.publisher.PublishError(ctx, in.ChatID, settings.ErrorReply)
		}
		return nil, nil, err
	}
	if chat.Status == models.ChatClosed {
		return nil, nil, ErrChatClosed
	}

	visitor := s.message(models.VisitorSender(), in.Text)
	visitor.FileURL = in.FileURL
	chat.Messages = append(chat.Messages, visitor)
	if in.Email != "" {
		chat.VisitorEmail = in.Email
	}
	if in.PageURL != "" {
		chat.PageURL = in.PageURL
	}
	secondMessage := len(chat.Messages) == 2 && chat.Name == settings.DefaultName

	res, handled := s.advance(tenant, chat, in.Text)

	report := &TurnReport{Outcome: metrics.OutcomeSilent}
	for _, u := range res.Utterances {
		if u.Text == "" && len(u.Options) == 0 {
			continue
		}
		m := s.message(models.BotSender(), u.Text)
		m.Options = u.Options
		report.Replies = append(report.Replies, m)
	}
	if len(report.Replies) > 0 {
		report.Outcome = metrics.OutcomeWorkflow
	}

	notify := !handled || res.RequestsHumanNotification()

	var notes []models.Message
	handoff := false
	if !handled || !res.HasVisibleText() || res.EndsWorkflowPath() {
		engaged, failed := false, false
		if s.aiEligible(ctx, tenant, chat) {
			reply, err := s.ai.GenerateReply(ctx, services.AIRequest{TenantID: tenant.ID, ChatID: chat.ID, Prompt: in.Text})
			s.metrics.AICall(err == nil)
			if err != nil {
				s.logger.Warn("ai reply failed", "chat_id", chat.ID, "tenant_id", tenant.ID, "error", err)
				failed = true
			} else {
				engaged = true
				s.chargeUsage(ctx, tenant.ID)
				if containsFold(reply, settings.HandoffSentinel) {
					chat.AIEnabled = false
					handoff = true
					notify = true
					// kept for staff, never shown to the visitor
					note := s.message(models.AISender(), reply)
					note.Silent = true
					notes = append(notes, note)
					report.Replies = append(report.Replies, s.message(models.SystemSender(), settings.HandoffMessage))
					report.Outcome = metrics.OutcomeHandoff
				} else {
					report.Replies = append(report.Replies, s.message(models.AISender(), reply))
					report.Outcome = metrics.OutcomeAI
				}
			}
		}

		if !engaged {
			name := strings.TrimSpace(in.Text)
			switch {
			case secondMessage && name != "":
				chat.Name = truncate(name, maxChatNameLength)
				report.Replies = append(report.Replies, s.message(models.BotSender(), settings.NameCaptureReply))
				report.Outcome = metrics.OutcomeName
			case failed && !hasText(report.Replies):
				report.Replies = append(report.Replies, s.message(models.BotSender(), settings.AIFailureReply))
			}
		}
	}

	chat.Messages = append(chat.Messages, notes...)
	chat.Messages = append(chat.Messages, report.Replies...)
	if err := s.repo.UpdateChat(ctx, chat); err != nil {
		s.logger.Error("failed to save chat", "chat_id", chat.ID, "tenant_id", tenant.ID, "error", err)
		s.publisher.PublishError(ctx, chat.ID, settings.ErrorReply)
		return nil, nil, fmt.Errorf("failed to save chat: %w", err)
	}

	to := audience(chat, tenant)
	s.publisher.PublishMessage(ctx, to, visitor, in.Origin)
	for _, m := range report.Replies {
		s.publisher.PublishMessage(ctx, to, m, "")
	}
	if handoff {
		s.publisher.PublishStatus(ctx, to, chat)
	}

	if !notify {
		return report, nil, nil
	}
	note := notification(chat, tenant, in.Text, settings)
	return report, &note, nil
}

// advance runs the interpreter for the chat and applies the new position.
// It reports whether the workflow emitted anything this turn.
func (s *Service) advance(tenant *models.Tenant, chat *models.Chat, input string) (workflow.TurnResult, bool) {
	if chat.Position == "" {
		return workflow.TurnResult{}, false
	}
	g := s.graph(tenant)
	if g == nil {
		return workflow.TurnResult{}, false
	}

	res, err := workflow.Advance(g, chat.Position, input, chat.LastChoice)
	if err != nil {
		s.logger.Warn("workflow advance failed", "chat_id", chat.ID, "tenant_id", tenant.ID, "error", err)
		return workflow.TurnResult{}, false
	}
	chat.Position = res.NextPosition
	chat.LastChoice = res.Choice
	return res, len(res.Utterances) > 0
}

// graph parses the tenant's workflow. nil means the tenant has none or it is
// unusable; the latter is logged.
func (s *Service) graph(tenant *models.Tenant) *workflow.Graph {
	g, err := workflow.Parse(tenant.Workflow)
	if err != nil {
		if !errors.Is(err, workflow.ErrNoWorkflow) {
			s.logger.Warn("tenant workflow unusable", "tenant_id", tenant.ID, "error", err)
		}
		return nil
	}
	return g
}

func (s *Service) greeting(tenant *models.Tenant, settings config.ChatConfig) (workflow.Utterance, string) {
	fallback := tenant.WelcomeMessage
	if fallback == "" {
		fallback = settings.DefaultGreeting
	}

	g := s.graph(tenant)
	if g == nil {
		return workflow.Utterance{Text: fallback}, ""
	}
	u, position, err := workflow.Greeting(g)
	if err != nil {
		s.logger.Warn("workflow greeting failed", "tenant_id", tenant.ID, "error", err)
		return workflow.Utterance{Text: fallback}, ""
	}
	if u.Text == "" {
		u.Text = fallback
	}
	return u, position
}

// aiEligible reports whether the AI responder may answer in this chat now.
func (s *Service) aiEligible(ctx context.Context, tenant *models.Tenant, chat *models.Chat) bool {
	if s.ai == nil || !chat.AIEnabled {
		return false
	}
	if !tenant.PlanAllowsAI || !tenant.PrefersAI || tenant.Credits <= 0 {
		return false
	}
	if tenant.DailyLimit > 0 {
		used, err := s.repo.DailyUsage(ctx, tenant.ID, s.now())
		if err != nil {
			s.logger.Warn("failed to read daily usage", "tenant_id", tenant.ID, "error", err)
			return false
		}
		if used >= tenant.DailyLimit {
			return false
		}
	}
	return true
}

// chargeUsage books one AI reply against the tenant. The two counters are
// updated independently; failures are logged only.
func (s *Service) chargeUsage(ctx context.Context, tenantID string) {
	if _, err := s.repo.DecrementCredit(ctx, tenantID); err != nil {
		s.logger.Error("failed to decrement credit", "tenant_id", tenantID, "error", err)
	}
	if _, err := s.repo.RecordDailyUsage(ctx, tenantID, s.now()); err != nil {
		s.logger.Error("failed to record daily usage", "tenant_id", tenantID, "error", err)
	}
}

func (s *Service) notify(ctx context.Context, n services.Notification) bool {
	err := s.notifier.NotifyHumans(ctx, n)
	s.metrics.Notification(err == nil)
	if err != nil {
		s.logger.Warn("failed to notify humans", "chat_id", n.ChatID, "tenant_id", n.TenantID, "error", err)
		return false
	}
	return true
}

// notification addresses the assignee when there is one, otherwise the
// owner and every staff member.
func notification(chat *models.Chat, tenant *models.Tenant, text string, settings config.ChatConfig) services.Notification {
	n := services.Notification{
		Text:     fmt.Sprintf(settings.NotificationText, chat.Name, text),
		TenantID: tenant.ID,
		ChatID:   chat.ID,
	}
	switch {
	case chat.LeadingStaff == nil:
		n.NotifyOwner = true
		n.OwnerID = tenant.OwnerID
		n.NotifyAllStaff = true
	case chat.LeadingStaff.Role == models.RoleOwner:
		n.NotifyOwner = true
		n.OwnerID = tenant.OwnerID
	default:
		n.AssigneeID = chat.LeadingStaff.ID
	}
	return n
}

func containsFold(s, substr string) bool {
	if substr == "" {
		return false
	}
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

func hasText(msgs []models.Message) bool {
	for _, m := range msgs {
		if m.Text != "" {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
