package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"chatflow/backend/internal/workflow"
	"chatflow/backend/pkg/models"
)

// WorkflowStore reads and replaces a tenant's workflow document.
type WorkflowStore interface {
	GetTenantByID(ctx context.Context, id string) (*models.Tenant, error)
	UpdateWorkflow(ctx context.Context, tenantID string, doc json.RawMessage) error
}

// WorkflowResponse is a workflow document together with its lint results.
type WorkflowResponse struct {
	Workflow json.RawMessage  `json:"workflow"`
	Issues   []workflow.Issue `json:"issues"`
}

// GetWorkflow returns the tenant's workflow document.
// (GET /api/v1/workflow)
func (s *Server) GetWorkflow(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	tenant, err := s.Workflows.GetTenantByID(c.Request().Context(), actor.TenantID)
	if err != nil {
		return err
	}
	if len(tenant.Workflow) == 0 {
		return echo.NewHTTPError(http.StatusNotFound, workflow.ErrNoWorkflow.Error())
	}

	resp := WorkflowResponse{Workflow: tenant.Workflow, Issues: []workflow.Issue{}}
	if g, err := workflow.Parse(tenant.Workflow); err == nil {
		resp.Issues = append(resp.Issues, workflow.Validate(g)...)
	}
	return c.JSON(http.StatusOK, resp)
}

// PutWorkflow replaces the tenant's workflow. Documents with structural
// errors are refused; warnings are returned with the saved document.
// (PUT /api/v1/workflow)
func (s *Server) PutWorkflow(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	if actor.Role != models.RoleOwner {
		return echo.NewHTTPError(http.StatusForbidden, "only the owner may change the workflow")
	}

	doc, issues, err := readWorkflow(c)
	if err != nil {
		return err
	}
	if workflow.HasErrors(issues) {
		return c.JSON(http.StatusUnprocessableEntity, WorkflowResponse{Workflow: doc, Issues: issues})
	}

	if err := s.Workflows.UpdateWorkflow(c.Request().Context(), actor.TenantID, doc); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, WorkflowResponse{Workflow: doc, Issues: issues})
}

// DeleteWorkflow removes the tenant's workflow; chats fall back to the
// welcome message and AI.
// (DELETE /api/v1/workflow)
func (s *Server) DeleteWorkflow(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	if actor.Role != models.RoleOwner {
		return echo.NewHTTPError(http.StatusForbidden, "only the owner may change the workflow")
	}
	if err := s.Workflows.UpdateWorkflow(c.Request().Context(), actor.TenantID, nil); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// ValidateWorkflow lints a document without saving it.
// (POST /api/v1/workflow/validate)
func (s *Server) ValidateWorkflow(c echo.Context) error {
	if _, err := actorFrom(c); err != nil {
		return err
	}
	doc, issues, err := readWorkflow(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, WorkflowResponse{Workflow: doc, Issues: issues})
}

// readWorkflow parses the request body. Schema violations are reported as
// error issues rather than a failed request.
func readWorkflow(c echo.Context) (json.RawMessage, []workflow.Issue, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, 1<<20))
	if err != nil {
		return nil, nil, echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	g, err := workflow.Parse(body)
	switch {
	case errors.Is(err, workflow.ErrNoWorkflow):
		return nil, nil, echo.NewHTTPError(http.StatusBadRequest, "workflow document is empty")
	case err != nil:
		var cfgErr *workflow.ConfigurationError
		if !errors.As(err, &cfgErr) {
			return nil, nil, err
		}
		issues := make([]workflow.Issue, 0, len(cfgErr.Problems))
		for _, p := range cfgErr.Problems {
			issues = append(issues, workflow.Issue{Severity: workflow.SeverityError, Message: p})
		}
		if !json.Valid(body) {
			return nil, issues, nil
		}
		return json.RawMessage(body), issues, nil
	}

	issues := workflow.Validate(g)
	if issues == nil {
		issues = []workflow.Issue{}
	}
	return json.RawMessage(body), issues, nil
}
