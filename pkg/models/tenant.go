package models

import (
	"encoding/json"
	"time"
)

// Tenant is a website owner's account together with its widget configuration.
type Tenant struct {
	ID         string `json:"id" db:"id"`
	Code       string `json:"code" db:"code"` // public widget code used by visitors
	Name       string `json:"name" db:"name"`
	OwnerID    string `json:"owner_id" db:"owner_id"`
	OwnerName  string `json:"owner_name" db:"owner_name"`
	OwnerEmail string `json:"owner_email,omitempty" db:"owner_email"`

	// Domains lists the website origins allowed to open widget connections.
	Domains []string `json:"domains" db:"domains"`

	PlanAllowsAI   bool   `json:"plan_allows_ai" db:"plan_allows_ai"`
	PrefersAI      bool   `json:"prefers_ai" db:"prefers_ai"`
	Credits        int64  `json:"credits" db:"credits"`
	DailyLimit     int64  `json:"daily_limit" db:"daily_limit"` // 0 means no ceiling
	WelcomeMessage string `json:"welcome_message,omitempty" db:"welcome_message"`

	// Workflow is the owner-authored graph document; nil when none is configured.
	Workflow json.RawMessage `json:"workflow,omitempty" db:"workflow"`

	Staff []StaffMember `json:"staff"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// StaffMember is a human agent working a tenant's chats.
type StaffMember struct {
	ID       string `json:"id" db:"id"`
	TenantID string `json:"tenant_id" db:"tenant_id"`
	Name     string `json:"name" db:"name"`
	Email    string `json:"email" db:"email"`
}

// FindStaff returns the roster entry with the given id.
func (t *Tenant) FindStaff(id string) (StaffMember, bool) {
	for _, s := range t.Staff {
		if s.ID == id {
			return s, true
		}
	}
	return StaffMember{}, false
}

// Role identifies what kind of party is acting on a chat.
type Role string

const (
	RoleOwner   Role = "owner"
	RoleStaff   Role = "staff"
	RoleVisitor Role = "visitor"
)

// Actor is an authenticated dashboard user.
type Actor struct {
	Role     Role   `json:"role"`
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
}

// Sender returns the message sender variant for this actor.
func (a Actor) Sender() Sender {
	if a.Role == RoleOwner {
		return OwnerSender(a.ID, a.Name)
	}
	return StaffSender(a.ID, a.Name)
}
