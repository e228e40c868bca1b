package realtime

import (
	"context"

	"chatflow/backend/internal/conversation"
	"chatflow/backend/pkg/models"
)

// Router maps conversation events onto room deliveries.
type Router struct {
	broker Broker
	logger Logger
}

var _ conversation.Publisher = (*Router)(nil)

// NewRouter creates a Router publishing through broker.
func NewRouter(broker Broker, logger Logger) *Router {
	return &Router{broker: broker, logger: logger}
}

// PublishMessage sends msg to the visitor as a reply and to the dashboards
// as a new message. Messages written on a dashboard are not echoed back to
// the originating connection.
func (r *Router) PublishMessage(ctx context.Context, to conversation.Audience, msg models.Message, origin string) {
	payload := messagePayload(to.ChatID, msg)
	exclude := ""
	if msg.Sender.IsDashboard() {
		exclude = origin
	}

	r.send(ctx, EventReply, payload, "", ChatRoom(to.ChatID))
	r.send(ctx, EventNewMessage, payload, exclude, OwnerRoom(to.OwnerID), StaffRoom(to.TenantID))
}

// PublishStatus sends the chat's new state to the visitor, the owner and
// the staff pool.
func (r *Router) PublishStatus(ctx context.Context, to conversation.Audience, chat *models.Chat) {
	r.send(ctx, EventStatus, statusPayload(chat), "", ChatRoom(to.ChatID), OwnerRoom(to.OwnerID), StaffRoom(to.TenantID))
}

// PublishNewChat announces a chat to the owner and the staff pool.
func (r *Router) PublishNewChat(ctx context.Context, to conversation.Audience, chat *models.Chat) {
	r.send(ctx, EventNewChat, chatPayload(chat, false), "", OwnerRoom(to.OwnerID), StaffRoom(to.TenantID))
}

// PublishError tells the visitor a turn failed.
func (r *Router) PublishError(ctx context.Context, chatID, text string) {
	r.send(ctx, EventError, ErrorPayload{ChatID: chatID, Text: text}, "", ChatRoom(chatID))
}

func (r *Router) send(ctx context.Context, t EventType, payload any, exclude string, rooms ...string) {
	env, err := newEnvelope(t, payload)
	if err != nil {
		r.logger.Error("failed to encode event", "type", string(t), "error", err)
		return
	}
	for _, room := range rooms {
		if err := r.broker.Publish(ctx, Delivery{Room: room, Exclude: exclude, Event: env}); err != nil {
			r.logger.Warn("failed to publish event", "type", string(t), "room", room, "error", err)
		}
	}
}
