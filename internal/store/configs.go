package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"leadflow/internal/models"
)

// GetWorkflowConfig fetches a workflow config scoped to its organisation.
// Read-only from the job layer's perspective.
func (s *Store) GetWorkflowConfig(ctx context.Context, organisationID, workflowConfigID string) (models.WorkflowConfig, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT workflow_config_id, organisation_id, domains, locations, designations,
		       lead_count, company_name, company_website, custom_instructions, llm_type
		FROM workflow_config
		WHERE workflow_config_id = $1 AND organisation_id = $2
	`, workflowConfigID, organisationID)

	var cfg models.WorkflowConfig
	err := row.Scan(
		&cfg.WorkflowConfigID, &cfg.OrganisationID,
		&cfg.Domains, &cfg.Locations, &cfg.Designations,
		&cfg.LeadCount, &cfg.CompanyName, &cfg.CompanyWebsite,
		&cfg.CustomInstructions, &cfg.LLMType,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.WorkflowConfig{}, fmt.Errorf("workflow config %s: %w", workflowConfigID, ErrNotFound)
	}
	if err != nil {
		return models.WorkflowConfig{}, fmt.Errorf("scan workflow config: %w", err)
	}
	return cfg, nil
}
