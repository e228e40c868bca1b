// Package models defines the domain models shared by the chat backend.
package models

import (
	"time"
)

// SenderKind is the closed set of message authors.
type SenderKind string

const (
	SenderVisitor SenderKind = "visitor"
	SenderBot     SenderKind = "bot"
	SenderAI      SenderKind = "ai"
	SenderSystem  SenderKind = "system"
	SenderStaff   SenderKind = "staff"
	SenderOwner   SenderKind = "owner"
)

// Sender identifies who authored a message. Staff and owner senders carry
// the dashboard user's id and display name.
type Sender struct {
	Kind SenderKind `json:"kind"`
	ID   string     `json:"id,omitempty"`
	Name string     `json:"name,omitempty"`
}

func VisitorSender() Sender { return Sender{Kind: SenderVisitor} }
func BotSender() Sender     { return Sender{Kind: SenderBot} }
func AISender() Sender      { return Sender{Kind: SenderAI} }
func SystemSender() Sender  { return Sender{Kind: SenderSystem} }

// StaffSender returns the sender for a staff member.
func StaffSender(id, name string) Sender {
	return Sender{Kind: SenderStaff, ID: id, Name: name}
}

// OwnerSender returns the sender for the tenant owner.
func OwnerSender(id, name string) Sender {
	return Sender{Kind: SenderOwner, ID: id, Name: name}
}

// IsDashboard reports whether the message came from an owner or staff member.
func (s Sender) IsDashboard() bool {
	return s.Kind == SenderStaff || s.Kind == SenderOwner
}

// Tag renders the sender in the widget wire format ("user", "bot", "ai",
// "system", "owner", "staff-<name>").
func (s Sender) Tag() string {
	switch s.Kind {
	case SenderVisitor:
		return "user"
	case SenderStaff:
		return "staff-" + s.Name
	default:
		return string(s.Kind)
	}
}

// Message is one entry in a chat's log.
type Message struct {
	ID        string    `json:"id"`
	Sender    Sender    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	FileURL   string    `json:"file_url,omitempty"`
	Options   []string  `json:"options,omitempty"`
	Silent    bool      `json:"silent,omitempty"`
}

// ChatStatus is the lifecycle state of a chat.
type ChatStatus string

const (
	ChatOpen   ChatStatus = "open"
	ChatClosed ChatStatus = "closed"
)

// Assignee is the staff member or owner leading a chat.
type Assignee struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// Chat is the persisted conversation state of one visitor session.
type Chat struct {
	ID           string `json:"id" db:"id"`
	TenantID     string `json:"tenant_id" db:"tenant_id"`
	Name         string `json:"name" db:"name"`
	VisitorEmail string `json:"visitor_email,omitempty" db:"visitor_email"`
	PageURL      string `json:"page_url,omitempty" db:"page_url"`

	// Position is the workflow block the chat is paused at. Empty means the
	// workflow is inactive for this chat.
	Position string `json:"position,omitempty" db:"position"`
	// LastChoice is the most recent option label the visitor picked; condition
	// blocks compare against it.
	LastChoice string `json:"last_choice,omitempty" db:"last_choice"`

	Messages     []Message  `json:"messages" db:"messages"`
	AIEnabled    bool       `json:"ai_enabled" db:"ai_enabled"`
	LeadingStaff *Assignee  `json:"leading_staff,omitempty" db:"leading_staff"`
	Status       ChatStatus `json:"status" db:"status"`

	// Version is bumped on every successful save and checked on update.
	Version int64 `json:"version" db:"version"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Clone returns a deep copy so callers can mutate state without touching a
// stored value.
func (c *Chat) Clone() *Chat {
	out := *c
	out.Messages = make([]Message, len(c.Messages))
	for i, m := range c.Messages {
		m.Options = append([]string(nil), m.Options...)
		out.Messages[i] = m
	}
	if c.LeadingStaff != nil {
		a := *c.LeadingStaff
		out.LeadingStaff = &a
	}
	return &out
}
