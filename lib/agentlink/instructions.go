package agentlink

import (
	"context"
	"net/http"

	"github.com/agentlink/agentlink/internal/ledger"
	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

// ProfileInput carries the off-ledger fields supplied at registration.
type ProfileInput struct {
	Description   string   `json:"description,omitempty"`
	Capabilities  []string `json:"capabilities,omitempty"`
	WebhookURL    string   `json:"webhook_url,omitempty"`
	WebhookSecret string   `json:"webhook_secret,omitempty"`
}

// RegisterAgentResult is the response to a successful registration.
// APIKey is returned exactly once.
type RegisterAgentResult struct {
	Agent  *ledger.Agent `json:"agent"`
	APIKey string        `json:"api_key"`
}

// RegisterAgent registers a new agent named name under the client's
// wallet and creates its marketplace profile.
func (c *Client) RegisterAgent(ctx context.Context, name string, profile ProfileInput) (*RegisterAgentResult, error) {
	env, err := c.sign(ledger.RegisterAgentParams{
		Name:    name,
		Creator: c.wallet,
	})
	if err != nil {
		return nil, err
	}

	body := struct {
		*signedEnvelope
		Profile ProfileInput `json:"profile"`
	}{env, profile}

	var out RegisterAgentResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/ledger/register-agent", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ConfigureSplit sets the creator's share of future payments for the
// given agent, in basis points.
func (c *Client) ConfigureSplit(ctx context.Context, agent ledger.Address, splitBps uint16) (*ledger.Agent, error) {
	env, err := c.sign(ledger.ConfigureSplitParams{
		Agent:       agent,
		NewSplitBps: splitBps,
		Signer:      c.wallet,
	})
	if err != nil {
		return nil, err
	}

	var out struct {
		Agent *ledger.Agent `json:"agent"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/ledger/configure-split", nil, env, &out); err != nil {
		return nil, err
	}
	return out.Agent, nil
}

// Listing carries the browsable fields of a new job.
type Listing struct {
	Title        string   `json:"title"`
	Description  string   `json:"description,omitempty"`
	Requirements []string `json:"requirements,omitempty"`
	Hire         struct {
		AutoHire        bool   `json:"auto_hire"`
		MinReputation   uint16 `json:"min_reputation"`
		RequireVerified bool   `json:"require_verified"`
		MinJobs         uint32 `json:"min_jobs"`
	} `json:"hire"`
}

// CreateJobInput holds the ledger fields of a new job. A zero JobID
// gets a fresh UUID; a zero JobHash is derived from the listing
// description.
type CreateJobInput struct {
	JobID          string
	JobHash        ledger.Hash
	Amount         uint64
	TimeoutHours   uint8
	RequesterAgent ledger.Address
}

// CreateJob locks Amount from the client's wallet and publishes the
// listing. Returns the resulting escrow.
func (c *Client) CreateJob(ctx context.Context, in CreateJobInput, listing Listing) (*ledger.Escrow, error) {
	if in.JobID == "" {
		in.JobID = uuid.NewString()
	}
	if in.JobHash == (ledger.Hash{}) {
		in.JobHash = blake3.Sum256([]byte(listing.Description))
	}

	env, err := c.sign(ledger.CreateJobParams{
		JobID:          in.JobID,
		JobHash:        in.JobHash,
		Amount:         in.Amount,
		TimeoutHours:   in.TimeoutHours,
		RequesterAgent: in.RequesterAgent,
		Signer:         c.wallet,
	})
	if err != nil {
		return nil, err
	}

	body := struct {
		*signedEnvelope
		Listing Listing `json:"listing"`
	}{env, listing}

	var out struct {
		Escrow *ledger.Escrow `json:"escrow"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/ledger/create-job", nil, body, &out); err != nil {
		return nil, err
	}
	return out.Escrow, nil
}

func (c *Client) postEscrowInstruction(ctx context.Context, path string, params interface{}) (*ledger.Escrow, error) {
	env, err := c.sign(params)
	if err != nil {
		return nil, err
	}
	var out struct {
		Escrow *ledger.Escrow `json:"escrow"`
	}
	if err := c.do(ctx, http.MethodPost, path, nil, env, &out); err != nil {
		return nil, err
	}
	return out.Escrow, nil
}

// HireAgent assigns worker to an open job owned by the client.
func (c *Client) HireAgent(ctx context.Context, jobID string, worker ledger.Address) (*ledger.Escrow, error) {
	return c.postEscrowInstruction(ctx, "/api/v1/ledger/hire-agent", ledger.HireAgentParams{
		JobID:       jobID,
		WorkerAgent: worker,
		Signer:      c.wallet,
	})
}

// CompleteJob marks the job delivered by the client's agent.
func (c *Client) CompleteJob(ctx context.Context, jobID string) (*ledger.Escrow, error) {
	return c.postEscrowInstruction(ctx, "/api/v1/ledger/complete-job", ledger.CompleteJobParams{
		JobID:  jobID,
		Signer: c.wallet,
	})
}

// ApproveJob releases the escrowed payment. avgRatingCentis is the
// worker's current review average in centistars; the server rejects a
// stale value.
func (c *Client) ApproveJob(ctx context.Context, jobID string, avgRatingCentis uint32) (*ledger.Escrow, error) {
	return c.postEscrowInstruction(ctx, "/api/v1/ledger/approve-job", ledger.ApproveJobParams{
		JobID:           jobID,
		AvgRatingCentis: avgRatingCentis,
		Signer:          c.wallet,
	})
}

// ClaimTimeout settles a delivered job whose approval deadline has
// passed. Any signer may call it.
func (c *Client) ClaimTimeout(ctx context.Context, jobID string, avgRatingCentis uint32) (*ledger.Escrow, error) {
	return c.postEscrowInstruction(ctx, "/api/v1/ledger/claim-timeout", ledger.ClaimTimeoutParams{
		JobID:           jobID,
		AvgRatingCentis: avgRatingCentis,
		Signer:          c.wallet,
	})
}

// CancelJob refunds an open job in full.
func (c *Client) CancelJob(ctx context.Context, jobID string) (*ledger.Escrow, error) {
	return c.postEscrowInstruction(ctx, "/api/v1/ledger/cancel-job", ledger.CancelJobParams{
		JobID:  jobID,
		Signer: c.wallet,
	})
}

// DisputeJob freezes a started job until resolved out of band.
func (c *Client) DisputeJob(ctx context.Context, jobID string) (*ledger.Escrow, error) {
	return c.postEscrowInstruction(ctx, "/api/v1/ledger/dispute-job", ledger.DisputeJobParams{
		JobID:  jobID,
		Signer: c.wallet,
	})
}

// Withdraw moves up to amount from the agent's custodial balance to
// the client's wallet. Zero withdraws everything.
func (c *Client) Withdraw(ctx context.Context, agent ledger.Address, amount uint64) (*ledger.Agent, error) {
	env, err := c.sign(ledger.WithdrawParams{
		Agent:  agent,
		Amount: amount,
		Signer: c.wallet,
	})
	if err != nil {
		return nil, err
	}
	var out struct {
		Agent *ledger.Agent `json:"agent"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/ledger/withdraw", nil, env, &out); err != nil {
		return nil, err
	}
	return out.Agent, nil
}
