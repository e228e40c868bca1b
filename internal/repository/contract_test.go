package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatflow/backend/pkg/models"
)

// testRepository exercises behaviour every Repository implementation shares.
func testRepository(t *testing.T, repo Repository) {
	ctx := context.Background()

	tenant := &models.Tenant{
		ID:           uuid.NewString(),
		Code:         "acme-" + uuid.NewString()[:8],
		Name:         "Acme",
		OwnerID:      uuid.NewString(),
		OwnerName:    "Olive",
		OwnerEmail:   "olive-" + uuid.NewString()[:8] + "@acme.test",
		Domains:      []string{"https://acme.test"},
		PlanAllowsAI: true,
		PrefersAI:    true,
		Credits:      2,
		DailyLimit:   10,
		Staff: []models.StaffMember{
			{ID: uuid.NewString(), Name: "Sam", Email: "sam-" + uuid.NewString()[:8] + "@acme.test"},
		},
	}
	tenant.Staff[0].TenantID = tenant.ID
	require.NoError(t, repo.CreateTenant(ctx, tenant))

	t.Run("tenant lookups", func(t *testing.T) {
		byCode, err := repo.GetTenantByCode(ctx, tenant.Code)
		require.NoError(t, err)
		assert.Equal(t, tenant.ID, byCode.ID)
		require.Len(t, byCode.Staff, 1)
		assert.Equal(t, "Sam", byCode.Staff[0].Name)

		_, err = repo.GetTenantByID(ctx, uuid.NewString())
		assert.ErrorIs(t, err, ErrNotFound)

		origins, err := repo.ListAllowedOrigins(ctx)
		require.NoError(t, err)
		assert.Contains(t, origins, "https://acme.test")
	})

	t.Run("actor resolution", func(t *testing.T) {
		owner, err := repo.FindActorByEmail(ctx, tenant.OwnerEmail)
		require.NoError(t, err)
		assert.Equal(t, models.RoleOwner, owner.Role)
		assert.Equal(t, tenant.OwnerID, owner.ID)
		assert.Equal(t, tenant.ID, owner.TenantID)

		staff, err := repo.FindActorByEmail(ctx, tenant.Staff[0].Email)
		require.NoError(t, err)
		assert.Equal(t, models.RoleStaff, staff.Role)
		assert.Equal(t, "Sam", staff.Name)

		_, err = repo.FindActorByEmail(ctx, "nobody@acme.test")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("add staff", func(t *testing.T) {
		member := &models.StaffMember{ID: uuid.NewString(), TenantID: tenant.ID, Name: "Tia", Email: "tia-" + uuid.NewString()[:8] + "@acme.test"}
		require.NoError(t, repo.AddStaff(ctx, member))

		got, err := repo.GetTenantByID(ctx, tenant.ID)
		require.NoError(t, err)
		_, ok := got.FindStaff(member.ID)
		assert.True(t, ok)
	})

	t.Run("credits never go negative", func(t *testing.T) {
		left, err := repo.DecrementCredit(ctx, tenant.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), left)
		left, err = repo.DecrementCredit(ctx, tenant.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), left)
		left, err = repo.DecrementCredit(ctx, tenant.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), left)
	})

	t.Run("workflow update", func(t *testing.T) {
		doc := json.RawMessage(`{"blocks":[{"id":"s","type":"start"}],"connections":[]}`)
		require.NoError(t, repo.UpdateWorkflow(ctx, tenant.ID, doc))

		got, err := repo.GetTenantByID(ctx, tenant.ID)
		require.NoError(t, err)
		assert.JSONEq(t, string(doc), string(got.Workflow))

		assert.ErrorIs(t, repo.UpdateWorkflow(ctx, uuid.NewString(), doc), ErrNotFound)
	})

	t.Run("chat lifecycle", func(t *testing.T) {
		chat := &models.Chat{
			ID:        uuid.NewString(),
			TenantID:  tenant.ID,
			Name:      "Visitor",
			AIEnabled: true,
			Status:    models.ChatOpen,
			Messages: []models.Message{
				{ID: uuid.NewString(), Sender: models.BotSender(), Text: "Hi", Timestamp: time.Now().UTC()},
			},
		}
		require.NoError(t, repo.CreateChat(ctx, chat))
		assert.Equal(t, int64(1), chat.Version)

		loaded, err := repo.GetChat(ctx, chat.ID)
		require.NoError(t, err)
		require.Len(t, loaded.Messages, 1)
		assert.Equal(t, models.SenderBot, loaded.Messages[0].Sender.Kind)

		loaded.LeadingStaff = &models.Assignee{ID: "s1", Name: "Sam", Role: models.RoleStaff}
		loaded.AIEnabled = false
		require.NoError(t, repo.UpdateChat(ctx, loaded))
		assert.Equal(t, int64(2), loaded.Version)

		// chat still carries Version 1
		assert.ErrorIs(t, repo.UpdateChat(ctx, chat), ErrVersionConflict)

		again, err := repo.GetChat(ctx, chat.ID)
		require.NoError(t, err)
		require.NotNil(t, again.LeadingStaff)
		assert.Equal(t, "Sam", again.LeadingStaff.Name)
		assert.False(t, again.AIEnabled)

		closed := &models.Chat{ID: uuid.NewString(), TenantID: tenant.ID, Name: "Other", Status: models.ChatClosed}
		require.NoError(t, repo.CreateChat(ctx, closed))

		open, err := repo.ListChats(ctx, tenant.ID, models.ChatOpen)
		require.NoError(t, err)
		require.Len(t, open, 1)
		assert.Equal(t, chat.ID, open[0].ID)

		all, err := repo.ListChats(ctx, tenant.ID, "")
		require.NoError(t, err)
		assert.Len(t, all, 2)

		_, err = repo.GetChat(ctx, uuid.NewString())
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, repo.UpdateChat(ctx, &models.Chat{ID: uuid.NewString()}), ErrNotFound)
	})

	t.Run("daily usage", func(t *testing.T) {
		testUsageCounter(t, repo, tenant.ID)
	})
}

func testUsageCounter(t *testing.T, usage UsageCounter, tenantID string) {
	ctx := context.Background()
	day := time.Date(2026, 3, 14, 23, 30, 0, 0, time.UTC)

	n, err := usage.DailyUsage(ctx, tenantID, day)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	for i := 1; i <= 3; i++ {
		n, err = usage.RecordDailyUsage(ctx, tenantID, day)
		require.NoError(t, err)
		assert.Equal(t, int64(i), n)
	}

	n, err = usage.DailyUsage(ctx, tenantID, day.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "next day starts from zero")

	n, err = usage.DailyUsage(ctx, tenantID, day)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func testDay() time.Time {
	return time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
}
