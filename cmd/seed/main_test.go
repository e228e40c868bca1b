package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatflow/backend/internal/logging"
	"chatflow/backend/internal/repository"
	"chatflow/backend/internal/workflow"
)

func TestParseSeed_Demo(t *testing.T) {
	tenants, err := parseSeed(demoSeed)
	require.NoError(t, err)
	require.Len(t, tenants, 1)

	demo := tenants[0]
	assert.Equal(t, "demo", demo.Code)
	assert.NotEmpty(t, demo.ID)
	require.Len(t, demo.Staff, 2)
	assert.Equal(t, demo.ID, demo.Staff[0].TenantID)

	g, err := workflow.Parse(demo.Workflow)
	require.NoError(t, err)
	assert.False(t, workflow.HasErrors(workflow.Validate(g)))
}

func TestParseSeed_RejectsBrokenWorkflow(t *testing.T) {
	_, err := parseSeed([]byte(`
tenants:
  - code: broken
    workflow:
      blocks:
        - {id: s, type: start}
        - {id: lost, type: message}
`))
	assert.Error(t, err)

	_, err = parseSeed([]byte(`tenants: [{name: nameless}]`))
	assert.Error(t, err)
}

func TestSeed_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()

	tenants, err := parseSeed(demoSeed)
	require.NoError(t, err)
	require.NoError(t, seed(ctx, store, tenants, logging.Nop()))

	again, err := parseSeed(demoSeed)
	require.NoError(t, err)
	require.NoError(t, seed(ctx, store, again, logging.Nop()))

	actor, err := store.FindActorByEmail(ctx, "dev@localhost")
	require.NoError(t, err)
	assert.Equal(t, tenants[0].ID, actor.TenantID)

	origins, err := store.ListAllowedOrigins(ctx)
	require.NoError(t, err)
	assert.Len(t, origins, 2)
}
