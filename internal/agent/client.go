// Package agent calls the external lead-discovery API. The API is an opaque
// collaborator: this client only shapes the request and counts the leads in
// the response.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// GenerateLeadsRequest is the wire body for a discovery run.
type GenerateLeadsRequest struct {
	OrganisationID     string   `json:"organisation_id"`
	WorkflowID         string   `json:"workflow_id"`
	Domains            []string `json:"domains"`
	Locations          []string `json:"locations"`
	Designations       []string `json:"designations"`
	LeadCount          int      `json:"lead_count"`
	CompanyName        string   `json:"company_name"`
	CompanyWebsite     string   `json:"company_website"`
	CustomInstructions []string `json:"custom_instructions"`
	LLMType            string   `json:"llm_type"`
}

// GenerateLeadsResponse carries the discovered leads. Only the count is used
// by the job layer; the lead contents stay opaque.
type GenerateLeadsResponse struct {
	Leads []json.RawMessage `json:"leads"`
}

// Client is an HTTP client for the agent API. The auth token comes from
// process configuration, not the original caller's session.
type Client struct {
	baseURL   string
	authToken string
	http      *http.Client
}

// NewClient builds a client with a bounded request timeout.
func NewClient(baseURL, authToken string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	return &Client{
		baseURL:   baseURL,
		authToken: authToken,
		http:      &http.Client{Timeout: timeout},
	}
}

// GenerateLeads performs the discovery call and returns the leads generated.
func (c *Client) GenerateLeads(ctx context.Context, req GenerateLeadsRequest) (GenerateLeadsResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return GenerateLeadsResponse{}, fmt.Errorf("marshal generate-leads request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate-leads", bytes.NewReader(body))
	if err != nil {
		return GenerateLeadsResponse{}, fmt.Errorf("build generate-leads request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.AddCookie(&http.Cookie{Name: "access_token", Value: "Bearer " + c.authToken})

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return GenerateLeadsResponse{}, fmt.Errorf("call generate-leads: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return GenerateLeadsResponse{}, fmt.Errorf("generate-leads returned %d: %s", resp.StatusCode, snippet)
	}

	var out GenerateLeadsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return GenerateLeadsResponse{}, fmt.Errorf("decode generate-leads response: %w", err)
	}
	return out, nil
}
