// Package services holds the clients for the collaborators a conversation
// calls out to: the AI responder and the human notification channels.
package services

import (
	"context"
	"errors"
	"fmt"
)

// AIRequest is what the AI responder is asked to answer.
type AIRequest struct {
	TenantID string `json:"tenantId"`
	ChatID   string `json:"chatId"`
	Prompt   string `json:"prompt"`
}

// AIResponder produces a reply to a visitor message.
type AIResponder interface {
	GenerateReply(ctx context.Context, req AIRequest) (string, error)
}

// Notification alerts humans that a chat needs attention.
type Notification struct {
	Text           string `json:"text"`
	TenantID       string `json:"tenantId"`
	ChatID         string `json:"chatId"`
	NotifyOwner    bool   `json:"notifyOwner"`
	OwnerID        string `json:"ownerId,omitempty"`
	NotifyAllStaff bool   `json:"notifyAllStaff"`
	// AssigneeID is set when only the assigned staff member should hear about it.
	AssigneeID string `json:"assigneeId,omitempty"`
}

// Notifier delivers notifications. Callers treat failures as log-only.
type Notifier interface {
	NotifyHumans(ctx context.Context, n Notification) error
}

// UpstreamError is returned when a collaborator is unreachable or answers
// with a failure status.
type UpstreamError struct {
	Service    string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s upstream failure: status code %d", e.Service, e.StatusCode)
	}
	return fmt.Sprintf("%s upstream failure: %v", e.Service, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// IsUpstreamError reports whether err came from a failing collaborator.
func IsUpstreamError(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue)
}

// MultiNotifier sends each notification to every notifier in order and
// joins their errors.
type MultiNotifier []Notifier

// NotifyHumans implements Notifier.
func (m MultiNotifier) NotifyHumans(ctx context.Context, n Notification) error {
	var errs []error
	for _, notifier := range m {
		if err := notifier.NotifyHumans(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NopNotifier drops every notification.
type NopNotifier struct{}

// NotifyHumans implements Notifier.
func (NopNotifier) NotifyHumans(context.Context, Notification) error { return nil }
