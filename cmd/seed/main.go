// Command seed loads demo tenants, staff and workflows into the database.
package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"chatflow/backend/internal/config"
	"chatflow/backend/internal/logging"
	"chatflow/backend/internal/repository"
	"chatflow/backend/internal/workflow"
	"chatflow/backend/pkg/models"
)

//go:embed demo.yaml
var demoSeed []byte

type seedFile struct {
	Tenants []seedTenant `yaml:"tenants"`
}

type seedPerson struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Email string `yaml:"email"`
}

type seedTenant struct {
	ID             string          `yaml:"id"`
	Code           string          `yaml:"code"`
	Name           string          `yaml:"name"`
	Owner          seedPerson      `yaml:"owner"`
	Domains        []string        `yaml:"domains"`
	PlanAllowsAI   bool            `yaml:"plan_allows_ai"`
	PrefersAI      bool            `yaml:"prefers_ai"`
	Credits        int64           `yaml:"credits"`
	DailyLimit     int64           `yaml:"daily_limit"`
	WelcomeMessage string          `yaml:"welcome_message"`
	Staff          []seedPerson    `yaml:"staff"`
	Workflow       *workflow.Graph `yaml:"workflow"`
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath, seedPath string

	cmd := &cobra.Command{
		Use:           "seed",
		Short:         "Load demo tenants into the database",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			data := demoSeed
			if seedPath != "" {
				var err error
				if data, err = os.ReadFile(seedPath); err != nil {
					return err
				}
			}
			tenants, err := parseSeed(data)
			if err != nil {
				return err
			}
			return run(cmd.Context(), configPath, tenants)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.Flags().StringVarP(&seedPath, "file", "f", "", "Seed file (defaults to the built-in demo tenant)")
	return cmd
}

// parseSeed decodes a seed file into tenants ready to insert. Workflows are
// checked the same way the API checks them.
func parseSeed(data []byte) ([]*models.Tenant, error) {
	var file seedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}

	out := make([]*models.Tenant, 0, len(file.Tenants))
	for _, st := range file.Tenants {
		if st.Code == "" {
			return nil, errors.New("every tenant needs a code")
		}
		t := &models.Tenant{
			ID:             orNew(st.ID),
			Code:           st.Code,
			Name:           st.Name,
			OwnerID:        orNew(st.Owner.ID),
			OwnerName:      st.Owner.Name,
			OwnerEmail:     st.Owner.Email,
			Domains:        st.Domains,
			PlanAllowsAI:   st.PlanAllowsAI,
			PrefersAI:      st.PrefersAI,
			Credits:        st.Credits,
			DailyLimit:     st.DailyLimit,
			WelcomeMessage: st.WelcomeMessage,
		}
		for _, p := range st.Staff {
			t.Staff = append(t.Staff, models.StaffMember{ID: orNew(p.ID), TenantID: t.ID, Name: p.Name, Email: p.Email})
		}

		if st.Workflow != nil {
			if st.Workflow.Connections == nil {
				st.Workflow.Connections = []workflow.Connection{}
			}
			doc, err := json.Marshal(st.Workflow)
			if err != nil {
				return nil, err
			}
			g, err := workflow.Parse(doc)
			if err != nil {
				return nil, fmt.Errorf("tenant %s: %w", st.Code, err)
			}
			if issues := workflow.Validate(g); workflow.HasErrors(issues) {
				return nil, fmt.Errorf("tenant %s: workflow has errors: %v", st.Code, issues)
			}
			t.Workflow = doc
		}
		out = append(out, t)
	}
	return out, nil
}

func run(ctx context.Context, configPath string, tenants []*models.Tenant) error {
	cfg, _, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	logger := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})

	if cfg.DatabaseURL() == "" {
		return errors.New("db.host is not configured")
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL())
	if err != nil {
		return fmt.Errorf("failed to connect to DB: %w", err)
	}
	defer pool.Close()

	store := repository.NewPostgresStore(pool)
	if err := store.Migrate(ctx); err != nil {
		return err
	}
	return seed(ctx, store, tenants, logger)
}

// seed inserts tenants that do not exist yet and refreshes the workflow of
// those that do.
func seed(ctx context.Context, store repository.TenantStore, tenants []*models.Tenant, logger *logging.Logger) error {
	for _, t := range tenants {
		existing, err := store.GetTenantByCode(ctx, t.Code)
		switch {
		case err == nil:
			if err := store.UpdateWorkflow(ctx, existing.ID, t.Workflow); err != nil {
				return err
			}
			logger.Info("Refreshed existing tenant", "code", t.Code, "id", existing.ID)
		case errors.Is(err, repository.ErrNotFound):
			if err := store.CreateTenant(ctx, t); err != nil {
				return err
			}
			logger.Info("Seeded tenant", "code", t.Code, "id", t.ID, "staff", len(t.Staff))
		default:
			return err
		}
	}
	logger.Info("Seeding complete!")
	return nil
}

func orNew(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}
