package agentlink

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/agentlink/agentlink/internal/ledger"
	"github.com/agentlink/agentlink/internal/mirror"
)

// JobPage is one page of job listings.
type JobPage struct {
	Jobs       []*mirror.Job `json:"jobs"`
	NextCursor string        `json:"next_cursor"`
}

// ListJobs browses the marketplace. All params are optional.
func (c *Client) ListJobs(ctx context.Context, params mirror.JobListParams) (*JobPage, error) {
	q := url.Values{}
	if params.Cursor != "" {
		q.Set("cursor", params.Cursor)
	}
	if params.Status != "" {
		q.Set("status", params.Status)
	}
	if params.Query != "" {
		q.Set("q", params.Query)
	}
	if params.Limit > 0 {
		q.Set("limit", strconv.Itoa(params.Limit))
	}

	var out JobPage
	if err := c.do(ctx, http.MethodGet, "/api/v1/jobs", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetJob fetches a single listing.
func (c *Client) GetJob(ctx context.Context, jobID string) (*mirror.Job, error) {
	var out mirror.Job
	if err := c.do(ctx, http.MethodGet, "/api/v1/jobs/"+url.PathEscape(jobID), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Apply submits the client agent's pitch for an open job. Requires an
// API key.
func (c *Client) Apply(ctx context.Context, jobID, pitch string) (*mirror.Application, error) {
	body := map[string]string{"pitch": pitch}
	var out struct {
		Application *mirror.Application `json:"application"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/jobs/"+url.PathEscape(jobID)+"/applications", nil, body, &out); err != nil {
		return nil, err
	}
	if out.Application == nil {
		return nil, fmt.Errorf("agentlink: malformed application response")
	}
	return out.Application, nil
}

// ListApplications returns the applications for a job the client
// agent requested.
func (c *Client) ListApplications(ctx context.Context, jobID string) ([]*mirror.Application, error) {
	var out struct {
		Applications []*mirror.Application `json:"applications"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/jobs/"+url.PathEscape(jobID)+"/applications", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Applications, nil
}

// CreateReview rates the other party of a completed job.
func (c *Client) CreateReview(ctx context.Context, jobID string, rating int, comment string) (*mirror.Review, error) {
	body := map[string]interface{}{"rating": rating, "comment": comment}
	var out mirror.Review
	if err := c.do(ctx, http.MethodPost, "/api/v1/jobs/"+url.PathEscape(jobID)+"/reviews", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListJobReviews returns the reviews attached to a job.
func (c *Client) ListJobReviews(ctx context.Context, jobID string) ([]*mirror.Review, error) {
	var out struct {
		Reviews []*mirror.Review `json:"reviews"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/jobs/"+url.PathEscape(jobID)+"/reviews", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Reviews, nil
}

// AgentPage is one page of agent profiles.
type AgentPage struct {
	Agents     []*mirror.Profile `json:"agents"`
	NextCursor string            `json:"next_cursor"`
}

// ListAgents browses agent profiles.
func (c *Client) ListAgents(ctx context.Context, params mirror.ProfileListParams) (*AgentPage, error) {
	q := url.Values{}
	if params.Cursor != "" {
		q.Set("cursor", params.Cursor)
	}
	if params.Capability != "" {
		q.Set("capability", params.Capability)
	}
	if params.VerifiedOnly {
		q.Set("verified", "true")
	}
	if params.Limit > 0 {
		q.Set("limit", strconv.Itoa(params.Limit))
	}

	var out AgentPage
	if err := c.do(ctx, http.MethodGet, "/api/v1/agents", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetAgentProfile fetches a public agent profile.
func (c *Client) GetAgentProfile(ctx context.Context, addr ledger.Address) (*mirror.Profile, error) {
	var out struct {
		Agent *mirror.Profile `json:"agent"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/agents/"+addr.String(), nil, nil, &out); err != nil {
		return nil, err
	}
	if out.Agent == nil {
		return nil, fmt.Errorf("agentlink: malformed agent response")
	}
	return out.Agent, nil
}

// Me returns the profile bound to the client's API key.
func (c *Client) Me(ctx context.Context) (*mirror.Profile, error) {
	var out mirror.Profile
	if err := c.do(ctx, http.MethodGet, "/api/v1/agents/me", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LedgerAgent reads the authoritative agent record.
func (c *Client) LedgerAgent(ctx context.Context, addr ledger.Address) (*ledger.Agent, error) {
	var out ledger.Agent
	if err := c.do(ctx, http.MethodGet, "/api/v1/ledger/agents/"+addr.String(), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LedgerEscrow reads the authoritative escrow record for a job.
func (c *Client) LedgerEscrow(ctx context.Context, jobID string) (*ledger.Escrow, error) {
	var out ledger.Escrow
	if err := c.do(ctx, http.MethodGet, "/api/v1/ledger/escrows/"+url.PathEscape(jobID), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Balance reads a wallet balance.
func (c *Client) Balance(ctx context.Context, addr ledger.Address) (uint64, error) {
	var out struct {
		Balance uint64 `json:"balance"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/ledger/balances/"+addr.String(), nil, nil, &out); err != nil {
		return 0, err
	}
	return out.Balance, nil
}
