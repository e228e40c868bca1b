package repository

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"chatflow/backend/pkg/models"
)

// MemoryStore is an in-process Repository used in development and tests.
// Values are copied on the way in and out so callers never share state with
// the store.
type MemoryStore struct {
	mu      sync.RWMutex
	tenants map[string]*models.Tenant
	chats   map[string]*models.Chat
	usage   map[string]int64
	now     func() time.Time
}

var _ Repository = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants: make(map[string]*models.Tenant),
		chats:   make(map[string]*models.Chat),
		usage:   make(map[string]int64),
		now:     time.Now,
	}
}

// Ping implements Repository.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// CreateChat implements ChatStore.
func (s *MemoryStore) CreateChat(ctx context.Context, chat *models.Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	chat.CreatedAt = now
	chat.UpdatedAt = now
	chat.Version = 1
	s.chats[chat.ID] = chat.Clone()
	return nil
}

// GetChat implements ChatStore.
func (s *MemoryStore) GetChat(ctx context.Context, id string) (*models.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chat, ok := s.chats[id]
	if !ok {
		return nil, ErrNotFound
	}
	return chat.Clone(), nil
}

// UpdateChat implements ChatStore.
func (s *MemoryStore) UpdateChat(ctx context.Context, chat *models.Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.chats[chat.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != chat.Version {
		return ErrVersionConflict
	}

	chat.Version++
	chat.UpdatedAt = s.now()
	s.chats[chat.ID] = chat.Clone()
	return nil
}

// ListChats implements ChatStore.
func (s *MemoryStore) ListChats(ctx context.Context, tenantID string, status models.ChatStatus) ([]*models.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Chat
	for _, c := range s.chats {
		if c.TenantID != tenantID || (status != "" && c.Status != status) {
			continue
		}
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// CreateTenant implements TenantStore.
func (s *MemoryStore) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	tenant.CreatedAt = now
	tenant.UpdatedAt = now
	s.tenants[tenant.ID] = cloneTenant(tenant)
	return nil
}

// AddStaff implements TenantStore.
func (s *MemoryStore) AddStaff(ctx context.Context, staff *models.StaffMember) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tenants[staff.TenantID]
	if !ok {
		return ErrNotFound
	}
	t.Staff = append(t.Staff, *staff)
	return nil
}

// GetTenantByID implements TenantStore.
func (s *MemoryStore) GetTenantByID(ctx context.Context, id string) (*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tenants[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneTenant(t), nil
}

// GetTenantByCode implements TenantStore.
func (s *MemoryStore) GetTenantByCode(ctx context.Context, code string) (*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.tenants {
		if t.Code == code {
			return cloneTenant(t), nil
		}
	}
	return nil, ErrNotFound
}

// DecrementCredit implements TenantStore.
func (s *MemoryStore) DecrementCredit(ctx context.Context, tenantID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tenants[tenantID]
	if !ok {
		return 0, ErrNotFound
	}
	if t.Credits > 0 {
		t.Credits--
	}
	return t.Credits, nil
}

// UpdateWorkflow implements TenantStore.
func (s *MemoryStore) UpdateWorkflow(ctx context.Context, tenantID string, doc json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tenants[tenantID]
	if !ok {
		return ErrNotFound
	}
	t.Workflow = append(json.RawMessage(nil), doc...)
	t.UpdatedAt = s.now()
	return nil
}

// FindActorByEmail implements TenantStore.
func (s *MemoryStore) FindActorByEmail(ctx context.Context, email string) (*models.Actor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.tenants {
		if t.OwnerEmail != "" && strings.EqualFold(t.OwnerEmail, email) {
			return &models.Actor{Role: models.RoleOwner, ID: t.OwnerID, TenantID: t.ID, Name: t.OwnerName, Email: t.OwnerEmail}, nil
		}
		for _, st := range t.Staff {
			if strings.EqualFold(st.Email, email) {
				return &models.Actor{Role: models.RoleStaff, ID: st.ID, TenantID: t.ID, Name: st.Name, Email: st.Email}, nil
			}
		}
	}
	return nil, ErrNotFound
}

// ListAllowedOrigins implements TenantStore.
func (s *MemoryStore) ListAllowedOrigins(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	for _, t := range s.tenants {
		out = append(out, t.Domains...)
	}
	return out, nil
}

// RecordDailyUsage implements UsageCounter.
func (s *MemoryStore) RecordDailyUsage(ctx context.Context, tenantID string, day time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := tenantID + ":" + dayKey(day)
	s.usage[key]++
	return s.usage[key], nil
}

// DailyUsage implements UsageCounter.
func (s *MemoryStore) DailyUsage(ctx context.Context, tenantID string, day time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.usage[tenantID+":"+dayKey(day)], nil
}

func cloneTenant(t *models.Tenant) *models.Tenant {
	out := *t
	out.Domains = append([]string(nil), t.Domains...)
	out.Staff = append([]models.StaffMember(nil), t.Staff...)
	out.Workflow = append(json.RawMessage(nil), t.Workflow...)
	return &out
}
