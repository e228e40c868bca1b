package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"chatflow/backend/pkg/models"
)

// Schema is the PostgreSQL DDL applied by Migrate.
const Schema = `
CREATE TABLE IF NOT EXISTS tenants (
	id              TEXT PRIMARY KEY,
	code            TEXT NOT NULL UNIQUE,
	name            TEXT NOT NULL,
	owner_id        TEXT NOT NULL,
	owner_name      TEXT NOT NULL DEFAULT '',
	owner_email     TEXT NOT NULL DEFAULT '',
	domains         TEXT[] NOT NULL DEFAULT '{}',
	plan_allows_ai  BOOLEAN NOT NULL DEFAULT FALSE,
	prefers_ai      BOOLEAN NOT NULL DEFAULT TRUE,
	credits         BIGINT NOT NULL DEFAULT 0,
	daily_limit     BIGINT NOT NULL DEFAULT 0,
	welcome_message TEXT NOT NULL DEFAULT '',
	workflow        JSONB,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS staff (
	id        TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
	name      TEXT NOT NULL,
	email     TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS chats (
	id            TEXT PRIMARY KEY,
	tenant_id     TEXT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
	name          TEXT NOT NULL,
	visitor_email TEXT NOT NULL DEFAULT '',
	page_url      TEXT NOT NULL DEFAULT '',
	position      TEXT NOT NULL DEFAULT '',
	last_choice   TEXT NOT NULL DEFAULT '',
	messages      JSONB NOT NULL DEFAULT '[]',
	ai_enabled    BOOLEAN NOT NULL DEFAULT TRUE,
	leading_staff JSONB,
	status        TEXT NOT NULL DEFAULT 'open',
	version       BIGINT NOT NULL DEFAULT 1,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS chats_tenant_status_idx ON chats (tenant_id, status, created_at DESC);

CREATE TABLE IF NOT EXISTS daily_usage (
	tenant_id TEXT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
	day       DATE NOT NULL,
	count     BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (tenant_id, day)
);
`

const chatColumns = `id, tenant_id, name, visitor_email, page_url, position, last_choice, messages,
	ai_enabled, leading_staff, status, version, created_at, updated_at`

const tenantColumns = `id, code, name, owner_id, owner_name, owner_email, domains, plan_allows_ai,
	prefers_ai, credits, daily_limit, welcome_message, workflow, created_at, updated_at`

// PostgresStore is a PostgreSQL implementation of Repository.
type PostgresStore struct {
	db *pgxpool.Pool
}

var _ Repository = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the tables the store needs.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Ping implements Repository.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// CreateChat implements ChatStore.
func (s *PostgresStore) CreateChat(ctx context.Context, chat *models.Chat) error {
	messages, staff, err := encodeChat(chat)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	chat.Version = 1
	chat.CreatedAt = now
	chat.UpdatedAt = now

	_, err = s.db.Exec(ctx, `INSERT INTO chats (`+chatColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		chat.ID, chat.TenantID, chat.Name, chat.VisitorEmail, chat.PageURL, chat.Position, chat.LastChoice,
		messages, chat.AIEnabled, staff, string(chat.Status), chat.Version, chat.CreatedAt, chat.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert chat: %w", err)
	}
	return nil
}

// GetChat implements ChatStore.
func (s *PostgresStore) GetChat(ctx context.Context, id string) (*models.Chat, error) {
	row := s.db.QueryRow(ctx, `SELECT `+chatColumns+` FROM chats WHERE id = $1`, id)
	chat, err := scanChat(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return chat, err
}

// UpdateChat implements ChatStore.
func (s *PostgresStore) UpdateChat(ctx context.Context, chat *models.Chat) error {
	messages, staff, err := encodeChat(chat)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	tag, err := s.db.Exec(ctx, `UPDATE chats SET
			name = $3, visitor_email = $4, page_url = $5, position = $6, last_choice = $7,
			messages = $8, ai_enabled = $9, leading_staff = $10, status = $11,
			version = version + 1, updated_at = $12
		WHERE id = $1 AND version = $2`,
		chat.ID, chat.Version, chat.Name, chat.VisitorEmail, chat.PageURL, chat.Position, chat.LastChoice,
		messages, chat.AIEnabled, staff, string(chat.Status), now)
	if err != nil {
		return fmt.Errorf("failed to update chat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM chats WHERE id = $1)`, chat.ID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check chat: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrVersionConflict
	}

	chat.Version++
	chat.UpdatedAt = now
	return nil
}

// ListChats implements ChatStore.
func (s *PostgresStore) ListChats(ctx context.Context, tenantID string, status models.ChatStatus) ([]*models.Chat, error) {
	rows, err := s.db.Query(ctx, `SELECT `+chatColumns+` FROM chats
		WHERE tenant_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC`, tenantID, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	defer rows.Close()

	var chats []*models.Chat
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, chat)
	}
	return chats, rows.Err()
}

// CreateTenant implements TenantStore. Staff listed on the tenant are
// inserted in the same transaction.
func (s *PostgresStore) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	tenant.CreatedAt = now
	tenant.UpdatedAt = now
	domains := tenant.Domains
	if domains == nil {
		domains = []string{}
	}

	_, err = tx.Exec(ctx, `INSERT INTO tenants (`+tenantColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		tenant.ID, tenant.Code, tenant.Name, tenant.OwnerID, tenant.OwnerName, tenant.OwnerEmail, domains,
		tenant.PlanAllowsAI, tenant.PrefersAI, tenant.Credits, tenant.DailyLimit, tenant.WelcomeMessage,
		nullJSON(tenant.Workflow), tenant.CreatedAt, tenant.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert tenant: %w", err)
	}

	for _, st := range tenant.Staff {
		if _, err := tx.Exec(ctx, `INSERT INTO staff (id, tenant_id, name, email) VALUES ($1, $2, $3, $4)`,
			st.ID, tenant.ID, st.Name, st.Email); err != nil {
			return fmt.Errorf("failed to insert staff: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// AddStaff implements TenantStore.
func (s *PostgresStore) AddStaff(ctx context.Context, staff *models.StaffMember) error {
	_, err := s.db.Exec(ctx, `INSERT INTO staff (id, tenant_id, name, email) VALUES ($1, $2, $3, $4)`,
		staff.ID, staff.TenantID, staff.Name, staff.Email)
	if err != nil {
		return fmt.Errorf("failed to insert staff: %w", err)
	}
	return nil
}

// GetTenantByID implements TenantStore.
func (s *PostgresStore) GetTenantByID(ctx context.Context, id string) (*models.Tenant, error) {
	return s.getTenant(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id)
}

// GetTenantByCode implements TenantStore.
func (s *PostgresStore) GetTenantByCode(ctx context.Context, code string) (*models.Tenant, error) {
	return s.getTenant(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE code = $1`, code)
}

func (s *PostgresStore) getTenant(ctx context.Context, query, arg string) (*models.Tenant, error) {
	var t models.Tenant
	var workflow []byte
	err := s.db.QueryRow(ctx, query, arg).Scan(
		&t.ID, &t.Code, &t.Name, &t.OwnerID, &t.OwnerName, &t.OwnerEmail, &t.Domains, &t.PlanAllowsAI,
		&t.PrefersAI, &t.Credits, &t.DailyLimit, &t.WelcomeMessage, &workflow, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load tenant: %w", err)
	}
	t.Workflow = workflow

	rows, err := s.db.Query(ctx, `SELECT id, tenant_id, name, email FROM staff WHERE tenant_id = $1 ORDER BY name`, t.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load staff: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var st models.StaffMember
		if err := rows.Scan(&st.ID, &st.TenantID, &st.Name, &st.Email); err != nil {
			return nil, fmt.Errorf("failed to scan staff: %w", err)
		}
		t.Staff = append(t.Staff, st)
	}
	return &t, rows.Err()
}

// DecrementCredit implements TenantStore.
func (s *PostgresStore) DecrementCredit(ctx context.Context, tenantID string) (int64, error) {
	var left int64
	err := s.db.QueryRow(ctx, `UPDATE tenants SET credits = GREATEST(credits - 1, 0), updated_at = now()
		WHERE id = $1 RETURNING credits`, tenantID).Scan(&left)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to decrement credit: %w", err)
	}
	return left, nil
}

// UpdateWorkflow implements TenantStore.
func (s *PostgresStore) UpdateWorkflow(ctx context.Context, tenantID string, doc json.RawMessage) error {
	tag, err := s.db.Exec(ctx, `UPDATE tenants SET workflow = $2, updated_at = now() WHERE id = $1`, tenantID, nullJSON(doc))
	if err != nil {
		return fmt.Errorf("failed to update workflow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FindActorByEmail implements TenantStore.
func (s *PostgresStore) FindActorByEmail(ctx context.Context, email string) (*models.Actor, error) {
	var a models.Actor
	err := s.db.QueryRow(ctx, `SELECT owner_id, id, owner_name, owner_email FROM tenants
		WHERE lower(owner_email) = lower($1) LIMIT 1`, email).Scan(&a.ID, &a.TenantID, &a.Name, &a.Email)
	if err == nil {
		a.Role = models.RoleOwner
		return &a, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to look up owner: %w", err)
	}

	err = s.db.QueryRow(ctx, `SELECT id, tenant_id, name, email FROM staff
		WHERE lower(email) = lower($1) LIMIT 1`, email).Scan(&a.ID, &a.TenantID, &a.Name, &a.Email)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up staff: %w", err)
	}
	a.Role = models.RoleStaff
	return &a, nil
}

// ListAllowedOrigins implements TenantStore.
func (s *PostgresStore) ListAllowedOrigins(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT DISTINCT unnest(domains) FROM tenants`)
	if err != nil {
		return nil, fmt.Errorf("failed to list origins: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var origin string
		if err := rows.Scan(&origin); err != nil {
			return nil, err
		}
		out = append(out, origin)
	}
	return out, rows.Err()
}

// RecordDailyUsage implements UsageCounter.
func (s *PostgresStore) RecordDailyUsage(ctx context.Context, tenantID string, day time.Time) (int64, error) {
	var count int64
	err := s.db.QueryRow(ctx, `INSERT INTO daily_usage (tenant_id, day, count) VALUES ($1, $2::date, 1)
		ON CONFLICT (tenant_id, day) DO UPDATE SET count = daily_usage.count + 1
		RETURNING count`, tenantID, dayKey(day)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to record usage: %w", err)
	}
	return count, nil
}

// DailyUsage implements UsageCounter.
func (s *PostgresStore) DailyUsage(ctx context.Context, tenantID string, day time.Time) (int64, error) {
	var count int64
	err := s.db.QueryRow(ctx, `SELECT count FROM daily_usage WHERE tenant_id = $1 AND day = $2::date`,
		tenantID, dayKey(day)).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read usage: %w", err)
	}
	return count, nil
}

func encodeChat(chat *models.Chat) (messages, staff []byte, err error) {
	msgs := chat.Messages
	if msgs == nil {
		msgs = []models.Message{}
	}
	if messages, err = json.Marshal(msgs); err != nil {
		return nil, nil, fmt.Errorf("failed to encode messages: %w", err)
	}
	if chat.LeadingStaff != nil {
		if staff, err = json.Marshal(chat.LeadingStaff); err != nil {
			return nil, nil, fmt.Errorf("failed to encode assignee: %w", err)
		}
	}
	return messages, staff, nil
}

func scanChat(row pgx.Row) (*models.Chat, error) {
	var c models.Chat
	var messages, staff []byte
	var status string
	err := row.Scan(&c.ID, &c.TenantID, &c.Name, &c.VisitorEmail, &c.PageURL, &c.Position, &c.LastChoice,
		&messages, &c.AIEnabled, &staff, &status, &c.Version, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Status = models.ChatStatus(status)
	if err := json.Unmarshal(messages, &c.Messages); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}
	if len(staff) > 0 {
		c.LeadingStaff = &models.Assignee{}
		if err := json.Unmarshal(staff, c.LeadingStaff); err != nil {
			return nil, fmt.Errorf("failed to decode assignee: %w", err)
		}
	}
	return &c, nil
}

func nullJSON(doc json.RawMessage) any {
	if len(doc) == 0 {
		return nil
	}
	return []byte(doc)
}
