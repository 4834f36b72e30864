package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/agentlink/agentlink/internal/auth"
	"github.com/agentlink/agentlink/internal/crypto"
	"github.com/agentlink/agentlink/internal/ledger"
	"github.com/agentlink/agentlink/internal/metrics"
	"github.com/agentlink/agentlink/internal/mirror"
)

// ledgerHandler groups the instruction and ledger read endpoints.
// Mirror stores may be nil when the server runs without Postgres; the
// ledger itself never depends on them.
type ledgerHandler struct {
	engine       *ledger.Engine
	jobs         *mirror.JobStore
	profiles     *mirror.ProfileStore
	applications *mirror.ApplicationStore
	reviews      *mirror.ReviewStore
	cipher       *crypto.Cipher
	metrics      *metrics.Metrics
}

func newLedgerHandler(engine *ledger.Engine, jobs *mirror.JobStore, profiles *mirror.ProfileStore,
	applications *mirror.ApplicationStore, reviews *mirror.ReviewStore,
	cipher *crypto.Cipher, m *metrics.Metrics) *ledgerHandler {
	return &ledgerHandler{
		engine:       engine,
		jobs:         jobs,
		profiles:     profiles,
		applications: applications,
		reviews:      reviews,
		cipher:       cipher,
		metrics:      m,
	}
}

// instructionEnvelope is the wire shape of a signed instruction. The
// signature is ed25519 over the canonical encoding of params, so the
// JSON framing itself is never part of the signed message.
type instructionEnvelope struct {
	Params    json.RawMessage `json:"params"`
	Signer    ledger.Address  `json:"signer"`
	Signature string          `json:"signature"`
}

// readInstruction decodes the envelope, unmarshals params, and
// verifies the signature. On failure it writes the error response and
// returns false.
func (h *ledgerHandler) readInstruction(w http.ResponseWriter, r *http.Request, params interface{}) (ledger.Address, bool) {
	var env instructionEnvelope
	if err := readJSON(r, &env); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return ledger.Address{}, false
	}
	if len(env.Params) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_body", "params is required")
		return ledger.Address{}, false
	}
	if err := json.Unmarshal(env.Params, params); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_params", "failed to parse instruction params")
		return ledger.Address{}, false
	}

	sig, err := hex.DecodeString(env.Signature)
	if err != nil || len(sig) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_signature", "signature must be hex-encoded")
		return ledger.Address{}, false
	}
	if err := ledger.VerifyInstruction(env.Signer, params, sig); err != nil {
		if h.metrics != nil {
			h.metrics.IncAuthFailure("signature")
		}
		writeLedgerError(w, ledger.ErrBadSignature)
		return ledger.Address{}, false
	}
	if h.metrics != nil {
		h.metrics.IncAuthSuccess("signature")
	}
	return env.Signer, true
}

// requireSigner rejects envelopes whose verified signer differs from
// the signer named inside the instruction params.
func requireSigner(w http.ResponseWriter, envelope, inParams ledger.Address) bool {
	if envelope != inParams {
		writeError(w, http.StatusUnauthorized, "signer_mismatch",
			"envelope signer does not match the instruction signer")
		return false
	}
	return true
}

// run executes an instruction body and records its outcome.
func (h *ledgerHandler) run(instruction string, fn func() error) error {
	start := time.Now()
	err := fn()
	if h.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		h.metrics.ObserveInstruction(instruction, status, time.Since(start).Seconds())
	}
	return err
}

func (h *ledgerHandler) countEvent(t ledger.EventType) {
	if h.metrics != nil {
		h.metrics.EventsCommittedTotal.WithLabelValues(string(t)).Inc()
	}
}

// escrowAmount reads the currently locked amount for a job, or zero.
func (h *ledgerHandler) escrowAmount(ctx context.Context, jobID string) uint64 {
	var amount uint64
	_ = h.engine.Store().View(ctx, func(v ledger.AccountView) error {
		esc, err := v.Escrow(ledger.DeriveEscrowAddress(jobID))
		if err != nil {
			return err
		}
		amount = esc.Amount
		return nil
	})
	return amount
}

// registerProfileInput carries the off-ledger profile fields supplied
// alongside agent registration.
type registerProfileInput struct {
	Description   string   `json:"description"`
	Capabilities  []string `json:"capabilities"`
	WebhookURL    string   `json:"webhook_url"`
	WebhookSecret string   `json:"webhook_secret"`
}

// RegisterAgent handles POST /api/v1/ledger/register-agent.
func (h *ledgerHandler) RegisterAgent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		instructionEnvelope
		Profile registerProfileInput `json:"profile"`
	}
	if err := readJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	var p ledger.RegisterAgentParams
	if err := json.Unmarshal(body.Params, &p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_params", "failed to parse instruction params")
		return
	}
	sig, err := hex.DecodeString(body.Signature)
	if err != nil || len(sig) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_signature", "signature must be hex-encoded")
		return
	}
	if err := ledger.VerifyInstruction(body.Signer, &p, sig); err != nil {
		if h.metrics != nil {
			h.metrics.IncAuthFailure("signature")
		}
		writeLedgerError(w, ledger.ErrBadSignature)
		return
	}
	if !requireSigner(w, body.Signer, p.Creator) {
		return
	}

	var agent *ledger.Agent
	err = h.run("register_agent", func() error {
		agent, err = h.engine.RegisterAgent(r.Context(), p)
		return err
	})
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	h.countEvent(ledger.EventAgentRegistered)

	resp := map[string]interface{}{"agent": agent}

	if h.profiles != nil {
		key, plaintext, err := auth.GenerateAPIKey()
		if err != nil {
			slog.Error("generating api key", "error", err)
			writeJSON(w, http.StatusCreated, resp)
			return
		}

		var secretEnc []byte
		if body.Profile.WebhookSecret != "" {
			secretEnc, err = h.cipher.EncryptSecret([]byte(body.Profile.WebhookSecret))
			if err != nil {
				slog.Error("encrypting webhook secret", "error", err)
				writeJSON(w, http.StatusCreated, resp)
				return
			}
		}

		profile, err := h.profiles.Create(r.Context(), mirror.CreateProfileInput{
			Address:          agent.Address,
			Name:             agent.Name,
			Creator:          agent.Creator,
			Description:      body.Profile.Description,
			Capabilities:     body.Profile.Capabilities,
			WebhookURL:       body.Profile.WebhookURL,
			WebhookSecretEnc: secretEnc,
			APIKeyHash:       key.Hash,
			APIKeyPrefix:     key.Prefix,
		})
		if err != nil {
			// The ledger record is committed; the profile can be
			// repaired out of band.
			slog.Error("creating agent profile", "agent", agent.Address, "error", err)
		} else {
			resp["profile"] = profile
			resp["api_key"] = plaintext
		}
	}

	auditLog(r, "register", "agent", agent.Address.String(), "name", agent.Name)
	writeJSON(w, http.StatusCreated, resp)
}

// ConfigureSplit handles POST /api/v1/ledger/configure-split.
func (h *ledgerHandler) ConfigureSplit(w http.ResponseWriter, r *http.Request) {
	var p ledger.ConfigureSplitParams
	signer, ok := h.readInstruction(w, r, &p)
	if !ok || !requireSigner(w, signer, p.Signer) {
		return
	}

	var agent *ledger.Agent
	err := h.run("configure_split", func() (err error) {
		agent, err = h.engine.ConfigureSplit(r.Context(), p)
		return err
	})
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	h.countEvent(ledger.EventSplitConfigured)

	writeJSON(w, http.StatusOK, map[string]interface{}{"agent": agent})
}

// CreateJob handles POST /api/v1/ledger/create-job. The listing block
// carries the browsable fields; the signed params carry everything the
// ledger cares about.
func (h *ledgerHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var body struct {
		instructionEnvelope
		Listing struct {
			Title        string              `json:"title"`
			Description  string              `json:"description"`
			Requirements []string            `json:"requirements"`
			Hire         mirror.HireSettings `json:"hire"`
		} `json:"listing"`
	}
	if err := readJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	var p ledger.CreateJobParams
	if err := json.Unmarshal(body.Params, &p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_params", "failed to parse instruction params")
		return
	}
	sig, err := hex.DecodeString(body.Signature)
	if err != nil || len(sig) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_signature", "signature must be hex-encoded")
		return
	}
	if err := ledger.VerifyInstruction(body.Signer, &p, sig); err != nil {
		if h.metrics != nil {
			h.metrics.IncAuthFailure("signature")
		}
		writeLedgerError(w, ledger.ErrBadSignature)
		return
	}
	if !requireSigner(w, body.Signer, p.Signer) {
		return
	}

	var esc *ledger.Escrow
	err = h.run("create_job", func() (err error) {
		esc, err = h.engine.CreateJob(r.Context(), p)
		return err
	})
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	h.countEvent(ledger.EventJobCreated)
	if h.metrics != nil {
		h.metrics.AmountLockedTotal.Add(float64(esc.Amount))
	}

	resp := map[string]interface{}{"escrow": esc}
	if h.jobs != nil {
		job, err := h.jobs.Create(r.Context(), mirror.CreateJobInput{
			JobID:        esc.JobID,
			Title:        body.Listing.Title,
			Description:  body.Listing.Description,
			Requirements: body.Listing.Requirements,
			Hire:         body.Listing.Hire,
		}, esc)
		if err != nil {
			slog.Error("creating job listing", "job_id", esc.JobID, "error", err)
		} else {
			resp["job"] = job
		}
	}

	auditLog(r, "create", "job", esc.JobID, "amount", esc.Amount)
	writeJSON(w, http.StatusCreated, resp)
}

// HireAgent handles POST /api/v1/ledger/hire-agent.
func (h *ledgerHandler) HireAgent(w http.ResponseWriter, r *http.Request) {
	var p ledger.HireAgentParams
	signer, ok := h.readInstruction(w, r, &p)
	if !ok || !requireSigner(w, signer, p.Signer) {
		return
	}

	var esc *ledger.Escrow
	err := h.run("hire_agent", func() (err error) {
		esc, err = h.engine.HireAgent(r.Context(), p)
		return err
	})
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	h.countEvent(ledger.EventJobHired)

	h.projectEscrow(r.Context(), esc)
	h.settleApplications(r.Context(), esc)

	auditLog(r, "hire", "job", esc.JobID, "worker", esc.Worker.String())
	writeJSON(w, http.StatusOK, map[string]interface{}{"escrow": esc})
}

// CompleteJob handles POST /api/v1/ledger/complete-job.
func (h *ledgerHandler) CompleteJob(w http.ResponseWriter, r *http.Request) {
	var p ledger.CompleteJobParams
	signer, ok := h.readInstruction(w, r, &p)
	if !ok || !requireSigner(w, signer, p.Signer) {
		return
	}

	var esc *ledger.Escrow
	err := h.run("complete_job", func() (err error) {
		esc, err = h.engine.CompleteJob(r.Context(), p)
		return err
	})
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	h.countEvent(ledger.EventJobCompleted)
	h.projectEscrow(r.Context(), esc)

	writeJSON(w, http.StatusOK, map[string]interface{}{"escrow": esc})
}

// ApproveJob handles POST /api/v1/ledger/approve-job. The signed
// params carry the worker's review average; when the review store is
// available the handler rejects a stale value before running the
// instruction.
func (h *ledgerHandler) ApproveJob(w http.ResponseWriter, r *http.Request) {
	var p ledger.ApproveJobParams
	signer, ok := h.readInstruction(w, r, &p)
	if !ok || !requireSigner(w, signer, p.Signer) {
		return
	}
	if !h.checkRating(w, r, p.JobID, p.AvgRatingCentis) {
		return
	}

	amount := h.escrowAmount(r.Context(), p.JobID)

	var esc *ledger.Escrow
	err := h.run("approve_job", func() (err error) {
		esc, err = h.engine.ApproveJob(r.Context(), p)
		return err
	})
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	h.countEvent(ledger.EventJobApproved)
	if h.metrics != nil {
		h.metrics.AmountReleasedTotal.WithLabelValues("approved").Add(float64(amount))
	}

	h.projectEscrow(r.Context(), esc)
	h.projectAgent(r.Context(), esc.Worker)

	auditLog(r, "approve", "job", esc.JobID, "amount", amount)
	writeJSON(w, http.StatusOK, map[string]interface{}{"escrow": esc})
}

// ClaimTimeout handles POST /api/v1/ledger/claim-timeout.
func (h *ledgerHandler) ClaimTimeout(w http.ResponseWriter, r *http.Request) {
	var p ledger.ClaimTimeoutParams
	signer, ok := h.readInstruction(w, r, &p)
	if !ok || !requireSigner(w, signer, p.Signer) {
		return
	}
	if !h.checkRating(w, r, p.JobID, p.AvgRatingCentis) {
		return
	}

	amount := h.escrowAmount(r.Context(), p.JobID)

	var esc *ledger.Escrow
	err := h.run("claim_timeout", func() (err error) {
		esc, err = h.engine.ClaimTimeout(r.Context(), p)
		return err
	})
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	h.countEvent(ledger.EventJobTimeoutReleased)
	if h.metrics != nil {
		h.metrics.AmountReleasedTotal.WithLabelValues("timeout").Add(float64(amount))
	}

	h.projectEscrow(r.Context(), esc)
	h.projectAgent(r.Context(), esc.Worker)

	writeJSON(w, http.StatusOK, map[string]interface{}{"escrow": esc})
}

// CancelJob handles POST /api/v1/ledger/cancel-job.
func (h *ledgerHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	var p ledger.CancelJobParams
	signer, ok := h.readInstruction(w, r, &p)
	if !ok || !requireSigner(w, signer, p.Signer) {
		return
	}

	amount := h.escrowAmount(r.Context(), p.JobID)

	var esc *ledger.Escrow
	err := h.run("cancel_job", func() (err error) {
		esc, err = h.engine.CancelJob(r.Context(), p)
		return err
	})
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	h.countEvent(ledger.EventJobCancelled)
	if h.metrics != nil {
		h.metrics.AmountReleasedTotal.WithLabelValues("refunded").Add(float64(amount))
	}

	h.projectEscrow(r.Context(), esc)

	auditLog(r, "cancel", "job", esc.JobID, "amount", amount)
	writeJSON(w, http.StatusOK, map[string]interface{}{"escrow": esc})
}

// DisputeJob handles POST /api/v1/ledger/dispute-job.
func (h *ledgerHandler) DisputeJob(w http.ResponseWriter, r *http.Request) {
	var p ledger.DisputeJobParams
	signer, ok := h.readInstruction(w, r, &p)
	if !ok || !requireSigner(w, signer, p.Signer) {
		return
	}

	var esc *ledger.Escrow
	err := h.run("dispute_job", func() (err error) {
		esc, err = h.engine.DisputeJob(r.Context(), p)
		return err
	})
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	h.countEvent(ledger.EventJobDisputed)
	h.projectEscrow(r.Context(), esc)

	auditLog(r, "dispute", "job", esc.JobID, "by", signer.String())
	writeJSON(w, http.StatusOK, map[string]interface{}{"escrow": esc})
}

// Withdraw handles POST /api/v1/ledger/withdraw.
func (h *ledgerHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var p ledger.WithdrawParams
	signer, ok := h.readInstruction(w, r, &p)
	if !ok || !requireSigner(w, signer, p.Signer) {
		return
	}

	var agent *ledger.Agent
	err := h.run("withdraw", func() (err error) {
		agent, err = h.engine.Withdraw(r.Context(), p)
		return err
	})
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	h.projectAgent(r.Context(), agent.Address)

	auditLog(r, "withdraw", "agent", agent.Address.String())
	writeJSON(w, http.StatusOK, map[string]interface{}{"agent": agent})
}

// checkRating rejects a settlement whose signed review average no
// longer matches the stored aggregate for the job's worker.
func (h *ledgerHandler) checkRating(w http.ResponseWriter, r *http.Request, jobID string, claimed uint32) bool {
	if h.reviews == nil {
		return true
	}

	ctx := r.Context()
	var worker ledger.Address
	err := h.engine.Store().View(ctx, func(v ledger.AccountView) error {
		esc, err := v.Escrow(ledger.DeriveEscrowAddress(jobID))
		if err != nil {
			return err
		}
		worker = esc.Worker
		return nil
	})
	if err != nil {
		// Let the instruction produce the canonical not-found error.
		return true
	}

	current, err := h.reviews.AverageRatingCentis(ctx, worker)
	if err != nil {
		slog.Error("loading review average", "worker", worker, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load review average")
		return false
	}
	if current != claimed {
		writeError(w, http.StatusConflict, "stale_rating",
			"signed review average does not match the current aggregate")
		return false
	}
	return true
}

// projectEscrow copies a ledger escrow result onto the job listing.
func (h *ledgerHandler) projectEscrow(ctx context.Context, esc *ledger.Escrow) {
	if h.jobs == nil {
		return
	}
	if err := h.jobs.ApplyLedgerResult(ctx, esc); err != nil && !errors.Is(err, mirror.ErrNotFound) {
		slog.Error("projecting escrow to job listing", "job_id", esc.JobID, "error", err)
	}
}

// projectAgent copies a ledger agent record onto the agent profile.
func (h *ledgerHandler) projectAgent(ctx context.Context, addr ledger.Address) {
	if h.profiles == nil {
		return
	}
	err := h.engine.Store().View(ctx, func(v ledger.AccountView) error {
		agent, err := v.Agent(addr)
		if err != nil {
			return err
		}
		return h.profiles.ApplyLedgerResult(ctx, agent)
	})
	if err != nil && !errors.Is(err, mirror.ErrNotFound) {
		slog.Error("projecting agent to profile", "agent", addr, "error", err)
	}
}

// settleApplications marks the hired worker's application accepted and
// rejects the others.
func (h *ledgerHandler) settleApplications(ctx context.Context, esc *ledger.Escrow) {
	if h.applications == nil {
		return
	}
	apps, err := h.applications.ListByJob(ctx, esc.JobID)
	if err != nil {
		slog.Error("listing applications", "job_id", esc.JobID, "error", err)
		return
	}
	for _, app := range apps {
		if app.Agent != esc.Worker {
			continue
		}
		if err := h.applications.SetStatus(ctx, app.ID, mirror.ApplicationAccepted); err != nil {
			slog.Error("accepting application", "application_id", app.ID, "error", err)
			return
		}
		if err := h.applications.RejectOthers(ctx, esc.JobID, app.ID); err != nil {
			slog.Error("rejecting other applications", "job_id", esc.JobID, "error", err)
		}
		return
	}
}

// GetLedgerAgent handles GET /api/v1/ledger/agents/{address}.
func (h *ledgerHandler) GetLedgerAgent(w http.ResponseWriter, r *http.Request) {
	addr, err := ledger.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_address", "address must be 64 hex characters")
		return
	}

	var agent *ledger.Agent
	err = h.engine.Store().View(r.Context(), func(v ledger.AccountView) error {
		agent, err = v.Agent(addr)
		return err
	})
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

// GetLedgerEscrow handles GET /api/v1/ledger/escrows/{jobID}.
func (h *ledgerHandler) GetLedgerEscrow(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "invalid_id", "job id is required")
		return
	}

	var esc *ledger.Escrow
	err := h.engine.Store().View(r.Context(), func(v ledger.AccountView) error {
		var err error
		esc, err = v.Escrow(ledger.DeriveEscrowAddress(jobID))
		return err
	})
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, esc)
}

// GetBalance handles GET /api/v1/ledger/balances/{address}.
func (h *ledgerHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	addr, err := ledger.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_address", "address must be 64 hex characters")
		return
	}

	var balance uint64
	err = h.engine.Store().View(r.Context(), func(v ledger.AccountView) error {
		balance, err = v.Balance(addr)
		return err
	})
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"address": addr,
		"balance": balance,
	})
}
