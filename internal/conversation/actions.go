package conversation

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"chatflow/backend/internal/repository"
	"chatflow/backend/pkg/models"
)

// mutation changes chat in place. It returns the events to publish once the
// chat is saved, or nil when nothing changed.
type mutation func(chat *models.Chat, tenant *models.Tenant) (publish func(to Audience), err error)

// DashboardReply appends a staff or owner message and delivers it to the
// visitor and to every other dashboard.
func (s *Service) DashboardReply(ctx context.Context, actor models.Actor, chatID, text, fileURL, origin string) (*models.Chat, error) {
	text = strings.TrimSpace(text)
	if text == "" && fileURL == "" {
		return nil, fmt.Errorf("reply is empty")
	}
	return s.mutate(ctx, "reply", actor, chatID, func(chat *models.Chat, tenant *models.Tenant) (func(Audience), error) {
		if chat.Status == models.ChatClosed {
			return nil, ErrChatClosed
		}
		msg := s.message(actor.Sender(), text)
		msg.FileURL = fileURL
		chat.Messages = append(chat.Messages, msg)
		return func(to Audience) {
			s.publisher.PublishMessage(ctx, to, msg, origin)
		}, nil
	})
}

// Assign makes assigneeID the chat's leading staff and switches AI off. An
// empty assigneeID assigns the actor. Only the owner may assign someone
// else or take over a chat another staff member leads.
func (s *Service) Assign(ctx context.Context, actor models.Actor, chatID, assigneeID, origin string) (*models.Chat, error) {
	if assigneeID == "" {
		assigneeID = actor.ID
	}
	return s.mutate(ctx, "assign", actor, chatID, func(chat *models.Chat, tenant *models.Tenant) (func(Audience), error) {
		if chat.Status == models.ChatClosed {
			return nil, ErrChatClosed
		}
		if chat.LeadingStaff != nil && chat.LeadingStaff.ID == assigneeID {
			return nil, nil
		}
		if actor.Role != models.RoleOwner && (assigneeID != actor.ID || chat.LeadingStaff != nil) {
			return nil, ErrUnauthorized
		}
		assignee, ok := rosterEntry(tenant, assigneeID)
		if !ok {
			return nil, ErrUnauthorized
		}

		chat.LeadingStaff = &assignee
		chat.AIEnabled = false
		msg := s.message(models.SystemSender(), assignee.Name+" has joined the conversation")
		chat.Messages = append(chat.Messages, msg)
		return func(to Audience) {
			s.publisher.PublishMessage(ctx, to, msg, origin)
			s.publisher.PublishStatus(ctx, to, chat)
		}, nil
	})
}

// Unassign clears the chat's leading staff. The assignee and the owner may
// always do this; any staff member may when nobody leads the chat.
func (s *Service) Unassign(ctx context.Context, actor models.Actor, chatID, origin string) (*models.Chat, error) {
	return s.mutate(ctx, "unassign", actor, chatID, func(chat *models.Chat, tenant *models.Tenant) (func(Audience), error) {
		lead := chat.LeadingStaff
		if lead == nil {
			return nil, nil
		}
		if actor.Role != models.RoleOwner && actor.ID != lead.ID {
			return nil, ErrUnauthorized
		}

		chat.LeadingStaff = nil
		msg := s.message(models.SystemSender(), lead.Name+" has left the conversation")
		chat.Messages = append(chat.Messages, msg)
		return func(to Audience) {
			s.publisher.PublishMessage(ctx, to, msg, origin)
			s.publisher.PublishStatus(ctx, to, chat)
		}, nil
	})
}

// SetAIEnabled toggles AI replies for the chat.
func (s *Service) SetAIEnabled(ctx context.Context, actor models.Actor, chatID string, enabled bool, origin string) (*models.Chat, error) {
	return s.mutate(ctx, "set_ai", actor, chatID, func(chat *models.Chat, tenant *models.Tenant) (func(Audience), error) {
		if chat.AIEnabled == enabled {
			return nil, nil
		}
		chat.AIEnabled = enabled
		return func(to Audience) {
			s.publisher.PublishStatus(ctx, to, chat)
		}, nil
	})
}

// Close marks the chat closed and clears its assignment. History is kept.
func (s *Service) Close(ctx context.Context, actor models.Actor, chatID, origin string) (*models.Chat, error) {
	return s.mutate(ctx, "close", actor, chatID, func(chat *models.Chat, tenant *models.Tenant) (func(Audience), error) {
		if chat.Status == models.ChatClosed {
			return nil, nil
		}
		chat.Status = models.ChatClosed
		chat.LeadingStaff = nil
		return func(to Audience) {
			s.publisher.PublishStatus(ctx, to, chat)
		}, nil
	})
}

// Reopen puts a closed chat back in play and restarts its workflow after
// the greeting.
func (s *Service) Reopen(ctx context.Context, actor models.Actor, chatID, origin string) (*models.Chat, error) {
	return s.mutate(ctx, "reopen", actor, chatID, func(chat *models.Chat, tenant *models.Tenant) (func(Audience), error) {
		if chat.Status == models.ChatOpen {
			return nil, nil
		}
		_, position := s.greeting(tenant, s.settings.Chat())
		chat.Status = models.ChatOpen
		chat.Position = position
		chat.LastChoice = ""
		return func(to Audience) {
			s.publisher.PublishStatus(ctx, to, chat)
		}, nil
	})
}

// GetChat returns a chat the actor may see.
func (s *Service) GetChat(ctx context.Context, actor models.Actor, chatID string) (*models.Chat, error) {
	chat, tenant, err := s.loadChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !isMember(actor, tenant) {
		return nil, ErrUnauthorized
	}
	return chat, nil
}

// ListChats returns the actor's tenant chats with the given status.
func (s *Service) ListChats(ctx context.Context, actor models.Actor, status models.ChatStatus) ([]*models.Chat, error) {
	tenant, err := s.repo.GetTenantByID(ctx, actor.TenantID)
	if err != nil {
		return nil, err
	}
	if !isMember(actor, tenant) {
		return nil, ErrUnauthorized
	}
	return s.repo.ListChats(ctx, tenant.ID, status)
}

func (s *Service) mutate(ctx context.Context, action string, actor models.Actor, chatID string, fn mutation) (*models.Chat, error) {
	ctx, span := s.tracer.Start(ctx, "conversation."+action, trace.WithAttributes(
		attribute.String("chat.id", chatID),
		attribute.String("actor.id", actor.ID),
	))
	defer span.End()

	release, err := s.locks.acquire(ctx, chatID)
	if err != nil {
		return nil, err
	}
	defer release()

	chat, tenant, err := s.loadChat(ctx, chatID)
	if err != nil {
		s.logger.Warn("dashboard action aborted", "action", action, "chat_id", chatID, "error", err)
		s.metrics.Action(action, false)
		return nil, err
	}

	var publish func(Audience)
	if isMember(actor, tenant) {
		publish, err = fn(chat, tenant)
	} else {
		err = ErrUnauthorized
	}
	if err != nil {
		span.RecordError(err)
		s.logger.Warn("dashboard action refused", "action", action, "chat_id", chatID, "actor_id", actor.ID, "error", err)
		s.metrics.Action(action, false)
		return nil, err
	}
	if publish == nil {
		return chat, nil
	}

	if err := s.repo.UpdateChat(ctx, chat); err != nil {
		s.logger.Error("failed to save chat", "action", action, "chat_id", chatID, "error", err)
		s.metrics.Action(action, false)
		return nil, fmt.Errorf("failed to save chat: %w", err)
	}
	publish(audience(chat, tenant))
	s.metrics.Action(action, true)
	s.logger.Debug("dashboard action applied", "action", action, "chat_id", chatID, "actor_id", actor.ID)
	return chat, nil
}

// isMember reports whether actor is the tenant's owner or on its roster.
func isMember(actor models.Actor, tenant *models.Tenant) bool {
	if actor.TenantID != tenant.ID {
		return false
	}
	switch actor.Role {
	case models.RoleOwner:
		return actor.ID == tenant.OwnerID
	case models.RoleStaff:
		_, ok := tenant.FindStaff(actor.ID)
		return ok
	}
	return false
}

func rosterEntry(tenant *models.Tenant, id string) (models.Assignee, bool) {
	if id == tenant.OwnerID {
		return models.Assignee{ID: id, Name: tenant.OwnerName, Role: models.RoleOwner}, true
	}
	if st, ok := tenant.FindStaff(id); ok {
		return models.Assignee{ID: st.ID, Name: st.Name, Role: models.RoleStaff}, true
	}
	return models.Assignee{}, false
}

// VisitorChat returns the chat a visitor of the tenant with tenantCode asks
// to resume. Chats of other tenants are reported as not found.
func (s *Service) VisitorChat(ctx context.Context, tenantCode, chatID string) (*models.Chat, error) {
	chat, err := s.repo.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	tenant, err := s.repo.GetTenantByCode(ctx, tenantCode)
	if err != nil {
		return nil, err
	}
	if chat.TenantID != tenant.ID {
		return nil, repository.ErrNotFound
	}
	return chat, nil
}
