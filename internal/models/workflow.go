package models

import "time"

// Workflow statuses persisted in Postgres. FINISHED is terminal for both
// successful and failed runs; the run summary and logs carry the success
// signal.
const (
	WorkflowQueued   = "QUEUED"
	WorkflowRunning  = "RUNNING"
	WorkflowFinished = "FINISHED"
)

// Workflow is one execution of a workflow config. The row is the durable
// record of a run.
type Workflow struct {
	WorkflowID       string     `json:"workflow_id"`
	OrganisationID   string     `json:"organisation_id"`
	WorkflowConfigID string     `json:"workflow_config_id"`
	Status           string     `json:"status"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// WorkflowConfig holds the search criteria an organisation configured for
// lead discovery. Read-only from the job layer's perspective.
type WorkflowConfig struct {
	WorkflowConfigID   string   `json:"workflow_config_id"`
	OrganisationID     string   `json:"organisation_id"`
	Domains            []string `json:"domains"`
	Locations          []string `json:"locations"`
	Designations       []string `json:"designations"`
	LeadCount          int      `json:"lead_count"`
	CompanyName        string   `json:"company_name"`
	CompanyWebsite     string   `json:"company_website"`
	CustomInstructions []string `json:"custom_instructions"`
	LLMType            string   `json:"llm_type"`
}

// CreditBalance is the per-organisation credit row debited after each run.
type CreditBalance struct {
	OrganisationID string  `json:"organisation_id"`
	CreditBalance  float64 `json:"credit_balance"`
}

// RunSummary is returned by the lead discovery handler after a run.
type RunSummary struct {
	Success          bool      `json:"success"`
	WorkflowID       string    `json:"workflow_id"`
	WorkflowConfigID string    `json:"workflow_config_id"`
	OrganisationID   string    `json:"organisation_id"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
	DurationMS       int64     `json:"duration_ms"`
	LeadsGenerated   int       `json:"leads_generated"`
}
