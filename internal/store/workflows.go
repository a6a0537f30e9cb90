package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"leadflow/internal/models"
)

// CreateWorkflow inserts a QUEUED workflow row for a config run.
func (s *Store) CreateWorkflow(ctx context.Context, organisationID, workflowConfigID string) (models.Workflow, error) {
	w := models.Workflow{
		WorkflowID:       uuid.NewString(),
		OrganisationID:   organisationID,
		WorkflowConfigID: workflowConfigID,
		Status:           models.WorkflowQueued,
		CreatedAt:        time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO workflows (workflow_id, organisation_id, workflow_config_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, w.WorkflowID, w.OrganisationID, w.WorkflowConfigID, w.Status, w.CreatedAt)
	if err != nil {
		return models.Workflow{}, fmt.Errorf("insert workflow: %w", err)
	}
	return w, nil
}

// GetWorkflow fetches a workflow scoped to its organisation.
func (s *Store) GetWorkflow(ctx context.Context, organisationID, workflowID string) (models.Workflow, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT workflow_id, organisation_id, workflow_config_id, status, started_at, finished_at, created_at
		FROM workflows WHERE workflow_id = $1 AND organisation_id = $2
	`, workflowID, organisationID)

	var w models.Workflow
	err := row.Scan(&w.WorkflowID, &w.OrganisationID, &w.WorkflowConfigID, &w.Status, &w.StartedAt, &w.FinishedAt, &w.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Workflow{}, fmt.Errorf("workflow %s: %w", workflowID, ErrNotFound)
	}
	if err != nil {
		return models.Workflow{}, fmt.Errorf("scan workflow: %w", err)
	}
	return w, nil
}

// ListWorkflows returns an organisation's workflows, newest first.
func (s *Store) ListWorkflows(ctx context.Context, organisationID string) ([]models.Workflow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT workflow_id, organisation_id, workflow_config_id, status, started_at, finished_at, created_at
		FROM workflows WHERE organisation_id = $1
		ORDER BY created_at DESC
	`, organisationID)
	if err != nil {
		return nil, fmt.Errorf("query workflows: %w", err)
	}
	defer rows.Close()

	out := make([]models.Workflow, 0)
	for rows.Next() {
		var w models.Workflow
		if err := rows.Scan(&w.WorkflowID, &w.OrganisationID, &w.WorkflowConfigID, &w.Status, &w.StartedAt, &w.FinishedAt, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// DeleteQueuedWorkflow removes a workflow only while it is still QUEUED.
// RUNNING and FINISHED rows are immutable from this path.
func (s *Store) DeleteQueuedWorkflow(ctx context.Context, organisationID, workflowID string) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM workflows
		WHERE workflow_id = $1 AND organisation_id = $2 AND status = $3
	`, workflowID, organisationID, models.WorkflowQueued)
	if err != nil {
		return fmt.Errorf("delete workflow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetWorkflow(ctx, organisationID, workflowID); err != nil {
			return err
		}
		return ErrNotQueued
	}
	return nil
}

// MarkRunning transitions a workflow to RUNNING and stamps started_at.
// Deliberately unguarded on the current status: duplicate run messages for
// the same workflow race exactly as two deliveries would.
func (s *Store) MarkRunning(ctx context.Context, workflowID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE workflows SET status = $2, started_at = NOW() WHERE workflow_id = $1
	`, workflowID, models.WorkflowRunning)
	if err != nil {
		return fmt.Errorf("mark workflow running: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("workflow %s: %w", workflowID, ErrNotFound)
	}
	return nil
}

// ForceFinish transitions a workflow to FINISHED, keeping the first
// finished_at on repeated calls.
func (s *Store) ForceFinish(ctx context.Context, workflowID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE workflows
		SET status = $2, finished_at = COALESCE(finished_at, NOW())
		WHERE workflow_id = $1
	`, workflowID, models.WorkflowFinished)
	if err != nil {
		return fmt.Errorf("force finish workflow: %w", err)
	}
	return nil
}

// FinishWithDebit debits the organisation's balance by the number of leads
// generated and marks the workflow FINISHED, in one transaction.
func (s *Store) FinishWithDebit(ctx context.Context, workflowID, organisationID string, leadsGenerated int) (float64, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	var balance float64
	err = tx.QueryRow(ctx, `
		SELECT credit_balance FROM organisation_credit_balance
		WHERE organisation_id = $1 FOR UPDATE
	`, organisationID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("credit balance for %s: %w", organisationID, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}

	newBalance := balance - float64(leadsGenerated)
	if _, err := tx.Exec(ctx, `
		UPDATE organisation_credit_balance SET credit_balance = $2 WHERE organisation_id = $1
	`, organisationID, newBalance); err != nil {
		return 0, fmt.Errorf("update balance: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE workflows
		SET status = $2, finished_at = COALESCE(finished_at, NOW())
		WHERE workflow_id = $1
	`, workflowID, models.WorkflowFinished); err != nil {
		return 0, fmt.Errorf("finish workflow: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return newBalance, nil
}

// ReapStuckRunning finishes workflows that have sat in RUNNING longer than
// the threshold. A crash mid-handler leaves rows stuck there; this sweep is
// the reconciliation path.
func (s *Store) ReapStuckRunning(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE workflows
		SET status = $1, finished_at = COALESCE(finished_at, NOW())
		WHERE status = $2 AND started_at < NOW() - $3::interval
	`, models.WorkflowFinished, models.WorkflowRunning, fmt.Sprintf("%d seconds", int(olderThan.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("reap stuck workflows: %w", err)
	}
	return tag.RowsAffected(), nil
}
