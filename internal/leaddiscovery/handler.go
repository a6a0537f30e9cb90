// Package leaddiscovery implements the single registered job processor: it
// drives one workflow run end-to-end against the external discovery API.
package leaddiscovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"leadflow/internal/agent"
	"leadflow/internal/jobs"
	"leadflow/internal/models"
	"leadflow/internal/telemetry"
)

// JobName routes run messages to this handler.
const JobName = "lead_discovery_handler"

// ErrInsufficientCredits aborts a run before any workflow mutation.
var ErrInsufficientCredits = errors.New("leaddiscovery: insufficient credit balance")

// Repository is the slice of the relational store the handler needs.
type Repository interface {
	GetWorkflowConfig(ctx context.Context, organisationID, workflowConfigID string) (models.WorkflowConfig, error)
	GetCreditBalance(ctx context.Context, organisationID string) (float64, error)
	MarkRunning(ctx context.Context, workflowID string) error
	FinishWithDebit(ctx context.Context, workflowID, organisationID string, leadsGenerated int) (float64, error)
	ForceFinish(ctx context.Context, workflowID string) error
}

// LeadGenerator is the external discovery API.
type LeadGenerator interface {
	GenerateLeads(ctx context.Context, req agent.GenerateLeadsRequest) (agent.GenerateLeadsResponse, error)
}

// Handler orchestrates a workflow run: state transitions, the external call,
// and the credit debit.
type Handler struct {
	repo  Repository
	agent LeadGenerator
	log   zerolog.Logger
}

// New wires a handler over its collaborators.
func New(repo Repository, gen LeadGenerator, logger zerolog.Logger) *Handler {
	return &Handler{
		repo:  repo,
		agent: gen,
		log:   logger.With().Str("component", "lead_discovery").Logger(),
	}
}

// JobHandler adapts Run to the consumer's handler signature.
func (h *Handler) JobHandler() jobs.Handler {
	return func(ctx context.Context, job models.Job) error {
		_, err := h.Run(ctx, job)
		return err
	}
}

// Run executes one workflow run.
//
// Precondition failures (missing fields, unknown config, empty balance)
// abort while the workflow is still QUEUED, so it remains deletable and
// re-runnable. Failures after the RUNNING transition force the workflow to
// FINISHED best-effort and return the original error; FINISHED alone does
// not signal success.
func (h *Handler) Run(ctx context.Context, job models.Job) (models.RunSummary, error) {
	workflowConfigID, err := job.StringField("workflow_config_id")
	if err != nil {
		return models.RunSummary{}, err
	}
	workflowID, err := job.StringField("workflow_id")
	if err != nil {
		return models.RunSummary{}, err
	}
	organisationID, err := job.StringField("organisation_id")
	if err != nil {
		return models.RunSummary{}, err
	}

	logger := h.log.With().
		Str("workflow_id", workflowID).
		Str("organisation_id", organisationID).
		Str("workflow_config_id", workflowConfigID).
		Logger()

	cfg, err := h.repo.GetWorkflowConfig(ctx, organisationID, workflowConfigID)
	if err != nil {
		logger.Error().Err(err).Msg("workflow config lookup failed")
		return models.RunSummary{}, fmt.Errorf("load workflow config: %w", err)
	}

	balance, err := h.repo.GetCreditBalance(ctx, organisationID)
	if err != nil {
		logger.Error().Err(err).Msg("credit balance lookup failed")
		return models.RunSummary{}, fmt.Errorf("load credit balance: %w", err)
	}
	if balance <= 0 {
		logger.Warn().Float64("balance", balance).Msg("run aborted: no credits")
		return models.RunSummary{}, ErrInsufficientCredits
	}

	startedAt := time.Now().UTC()
	if err := h.repo.MarkRunning(ctx, workflowID); err != nil {
		logger.Error().Err(err).Msg("running transition failed")
		return models.RunSummary{}, fmt.Errorf("mark workflow running: %w", err)
	}

	resp, err := h.agent.GenerateLeads(ctx, agent.GenerateLeadsRequest{
		OrganisationID:     organisationID,
		WorkflowID:         workflowID,
		Domains:            cfg.Domains,
		Locations:          cfg.Locations,
		Designations:       cfg.Designations,
		LeadCount:          cfg.LeadCount,
		CompanyName:        cfg.CompanyName,
		CompanyWebsite:     cfg.CompanyWebsite,
		CustomInstructions: cfg.CustomInstructions,
		LLMType:            cfg.LLMType,
	})
	if err != nil {
		h.forceFinish(ctx, workflowID, logger)
		logger.Error().Err(err).Msg("lead discovery call failed")
		return models.RunSummary{}, fmt.Errorf("generate leads: %w", err)
	}

	leads := len(resp.Leads)
	newBalance, err := h.repo.FinishWithDebit(ctx, workflowID, organisationID, leads)
	if err != nil {
		h.forceFinish(ctx, workflowID, logger)
		logger.Error().Err(err).Int("leads", leads).Msg("debit failed")
		return models.RunSummary{}, fmt.Errorf("debit credits: %w", err)
	}

	finishedAt := time.Now().UTC()
	telemetry.LeadsGenerated.Add(float64(leads))
	telemetry.CreditsDebited.Add(float64(leads))
	logger.Info().
		Int("leads_generated", leads).
		Float64("new_balance", newBalance).
		Dur("duration", finishedAt.Sub(startedAt)).
		Msg("workflow run finished")

	return models.RunSummary{
		Success:          true,
		WorkflowID:       workflowID,
		WorkflowConfigID: workflowConfigID,
		OrganisationID:   organisationID,
		StartedAt:        startedAt,
		FinishedAt:       finishedAt,
		DurationMS:       finishedAt.Sub(startedAt).Milliseconds(),
		LeadsGenerated:   leads,
	}, nil
}

// forceFinish is the post-RUNNING recovery path. Secondary errors are
// swallowed; the original handler error propagates.
func (h *Handler) forceFinish(ctx context.Context, workflowID string, logger zerolog.Logger) {
	if err := h.repo.ForceFinish(ctx, workflowID); err != nil {
		logger.Warn().Err(err).Msg("force-finish after failure also failed")
	}
}
