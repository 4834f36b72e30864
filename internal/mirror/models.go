// Package mirror holds the queryable marketplace catalog: job
// listings, agent profiles, applications, and reviews. Ledger records
// are the source of truth for every status and amount; the mirror only
// copies ledger results for browsing and never computes financial
// state on its own.
package mirror

import (
	"time"

	"github.com/agentlink/agentlink/internal/ledger"
)

// Job is a marketplace job listing. Status, payment, and party
// addresses are written from ledger instruction results.
type Job struct {
	JobID        string          `json:"job_id"`
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	Requirements []string        `json:"requirements"`
	Payment      uint64          `json:"payment"`
	TimeoutHours uint8           `json:"timeout_hours"`
	Status       string          `json:"status"`
	Requester    ledger.Address  `json:"requester"`
	Worker       *ledger.Address `json:"worker,omitempty"`
	Hire         HireSettings    `json:"hire"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// HireSettings controls which applicants qualify for automatic hire.
type HireSettings struct {
	AutoHire        bool   `json:"auto_hire"`
	MinReputation   uint16 `json:"min_reputation"`
	RequireVerified bool   `json:"require_verified"`
	MinJobs         uint32 `json:"min_jobs"`
}

// CreateJobInput holds the listing fields supplied at job creation.
// The financial fields come from the ledger instruction, not from
// this input.
type CreateJobInput struct {
	JobID        string       `json:"job_id"`
	Title        string       `json:"title"`
	Description  string       `json:"description"`
	Requirements []string     `json:"requirements"`
	Hire         HireSettings `json:"hire"`
}

// JobListParams controls listing and pagination of jobs.
type JobListParams struct {
	Cursor string `json:"cursor"`
	Limit  int    `json:"limit"`
	Status string `json:"status"`
	Query  string `json:"query"`
}

// Profile is an agent's marketplace profile. Counters mirror the
// ledger agent record.
type Profile struct {
	Address         ledger.Address `json:"address"`
	Name            string         `json:"name"`
	Creator         ledger.Address `json:"creator"`
	Description     string         `json:"description"`
	Capabilities    []string       `json:"capabilities"`
	WebhookURL      string         `json:"-"`
	APIKeyPrefix    string         `json:"api_key_prefix,omitempty"`
	Verified        bool           `json:"verified"`
	SuccessfulJobs  uint32         `json:"successful_jobs"`
	ReputationScore uint16         `json:"reputation_score"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// CreateProfileInput holds the fields supplied when an agent registers
// its marketplace profile alongside the ledger record.
type CreateProfileInput struct {
	Address          ledger.Address `json:"address"`
	Name             string         `json:"name"`
	Creator          ledger.Address `json:"creator"`
	Description      string         `json:"description"`
	Capabilities     []string       `json:"capabilities"`
	WebhookURL       string         `json:"webhook_url"`
	WebhookSecretEnc []byte         `json:"-"`
	APIKeyHash       string         `json:"-"`
	APIKeyPrefix     string         `json:"-"`
}

// UpdateProfileInput holds the optional profile fields; only non-nil
// fields are applied.
type UpdateProfileInput struct {
	Description  *string   `json:"description"`
	Capabilities *[]string `json:"capabilities"`
	WebhookURL   *string   `json:"webhook_url"`
}

// ProfileListParams controls listing and pagination of profiles.
type ProfileListParams struct {
	Cursor       string `json:"cursor"`
	Limit        int    `json:"limit"`
	VerifiedOnly bool   `json:"verified_only"`
	Capability   string `json:"capability"`
}

// Application statuses.
const (
	ApplicationPending  = "pending"
	ApplicationAccepted = "accepted"
	ApplicationRejected = "rejected"
)

// Application is an agent's pitch for an open job.
type Application struct {
	ID        string         `json:"id"`
	JobID     string         `json:"job_id"`
	Agent     ledger.Address `json:"agent"`
	Pitch     string         `json:"pitch"`
	Status    string         `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
}

// Review is a post-job rating from one party about the other.
// Rating is whole stars, 1 through 5.
type Review struct {
	ID        string         `json:"id"`
	JobID     string         `json:"job_id"`
	From      ledger.Address `json:"from"`
	To        ledger.Address `json:"to"`
	Rating    int            `json:"rating"`
	Comment   string         `json:"comment"`
	CreatedAt time.Time      `json:"created_at"`
}

// CreateReviewInput holds the fields for a new review.
type CreateReviewInput struct {
	JobID   string         `json:"job_id"`
	From    ledger.Address `json:"from"`
	To      ledger.Address `json:"to"`
	Rating  int            `json:"rating"`
	Comment string         `json:"comment"`
}
