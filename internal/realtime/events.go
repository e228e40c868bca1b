// Package realtime delivers chat events to live websocket connections.
//
// Connections join rooms: a visitor joins the room of the one chat it is
// talking in, an owner joins its personal room and staff join their tenant's
// pool room. The Router turns conversation events into room deliveries, a
// Broker carries deliveries to every server instance, and the Hub hands
// them to the local members of each room.
package realtime

import (
	"encoding/json"
	"time"

	"chatflow/backend/pkg/models"
)

// EventType names an event on the wire.
type EventType string

const (
	EventReply       EventType = "reply"
	EventNewMessage  EventType = "new_message"
	EventStatus      EventType = "status"
	EventNewChat     EventType = "new_chat"
	EventError       EventType = "error"
	EventChatStarted EventType = "chat_started"
	EventHistory     EventType = "history"
)

// Envelope is the frame format in both directions.
type Envelope struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// MessagePayload is one chat message as the widget and dashboards see it.
type MessagePayload struct {
	ChatID    string    `json:"chatId"`
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Sender    string    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
	Options   []string  `json:"options,omitempty"`
	FileURL   string    `json:"fileUrl,omitempty"`
}

// StatusPayload announces a change of AI flag, assignment or lifecycle.
type StatusPayload struct {
	ChatID       string           `json:"chatId"`
	Name         string           `json:"name"`
	Status       string           `json:"status"`
	AIEnabled    bool             `json:"aiEnabled"`
	LeadingStaff *models.Assignee `json:"leadingStaff,omitempty"`
}

// ChatPayload summarises a chat for dashboards and resuming visitors.
type ChatPayload struct {
	ChatID       string           `json:"chatId"`
	Name         string           `json:"name"`
	VisitorEmail string           `json:"email,omitempty"`
	PageURL      string           `json:"pageUrl,omitempty"`
	Status       string           `json:"status"`
	AIEnabled    bool             `json:"aiEnabled"`
	LeadingStaff *models.Assignee `json:"leadingStaff,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
	Messages     []MessagePayload `json:"messages,omitempty"`
}

// ErrorPayload carries a user-facing failure text.
type ErrorPayload struct {
	ChatID string `json:"chatId,omitempty"`
	Text   string `json:"text"`
}

func newEnvelope(t EventType, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: t, Data: raw}, nil
}

func messagePayload(chatID string, m models.Message) MessagePayload {
	return MessagePayload{
		ChatID:    chatID,
		ID:        m.ID,
		Text:      m.Text,
		Sender:    m.Sender.Tag(),
		Timestamp: m.Timestamp,
		Options:   m.Options,
		FileURL:   m.FileURL,
	}
}

func statusPayload(c *models.Chat) StatusPayload {
	return StatusPayload{
		ChatID:       c.ID,
		Name:         c.Name,
		Status:       string(c.Status),
		AIEnabled:    c.AIEnabled,
		LeadingStaff: c.LeadingStaff,
	}
}

// chatPayload summarises c; withHistory includes the message log minus
// silent entries.
func chatPayload(c *models.Chat, withHistory bool) ChatPayload {
	p := ChatPayload{
		ChatID:       c.ID,
		Name:         c.Name,
		VisitorEmail: c.VisitorEmail,
		PageURL:      c.PageURL,
		Status:       string(c.Status),
		AIEnabled:    c.AIEnabled,
		LeadingStaff: c.LeadingStaff,
		CreatedAt:    c.CreatedAt,
	}
	if withHistory {
		for _, m := range c.Messages {
			if !m.Silent {
				p.Messages = append(p.Messages, messagePayload(c.ID, m))
			}
		}
	}
	return p
}

// Room names.
func ChatRoom(chatID string) string    { return "chat:" + chatID }
func OwnerRoom(ownerID string) string  { return "owner:" + ownerID }
func StaffRoom(tenantID string) string { return "staff:" + tenantID }
