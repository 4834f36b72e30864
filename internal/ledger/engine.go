package ledger

import (
	"context"
	"encoding/hex"
	"fmt"
	"math"
	"math/bits"
	"time"
)

// Engine executes ledger instructions. Every instruction is a single
// atomic read-modify-write across the records it touches: all
// validation happens before any mutation, and the whole operation is
// one commit unit in the backing AccountStore. The engine never
// blocks, retries, or suspends; deadlines are data, enforced only by
// the explicit ClaimTimeout instruction.
type Engine struct {
	store AccountStore
	now   func() time.Time // injectable clock for testing
}

// NewEngine creates an Engine on the given account store.
func NewEngine(store AccountStore) *Engine {
	return &Engine{store: store, now: time.Now}
}

// Store returns the underlying account store, for read-only queries.
func (e *Engine) Store() AccountStore {
	return e.store
}

// Hash is a 32-byte content fingerprint, hex-encoded on the wire.
type Hash [32]byte

// MarshalText implements encoding.TextMarshaler.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(h[:])), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	raw, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("decoding hash hex: %w", err)
	}
	if len(raw) != len(h) {
		return fmt.Errorf("hash must be %d bytes, got %d", len(h), len(raw))
	}
	copy(h[:], raw)
	return nil
}

// RegisterAgentParams are the arguments for RegisterAgent. Creator is
// the verified signer of the instruction.
type RegisterAgentParams struct {
	Name    string  `json:"name" cbor:"1,keyasint"`
	Creator Address `json:"creator" cbor:"2,keyasint"`
}

// RegisterAgent creates a new agent identity. The record address is
// derived from (creator, name): registering the same pair twice fails
// with ErrDuplicateAgent, and no other check is needed for
// uniqueness.
func (e *Engine) RegisterAgent(ctx context.Context, p RegisterAgentParams) (*Agent, error) {
	if len(p.Name) == 0 {
		return nil, ErrNameEmpty
	}
	if len(p.Name) > MaxNameLength {
		return nil, ErrNameTooLong
	}

	agent := &Agent{
		Address:         DeriveAgentAddress(p.Creator, p.Name),
		Name:            p.Name,
		Creator:         p.Creator,
		Authority:       p.Creator,
		CreatedAt:       e.now().UTC(),
		CreatorSigned:   true,
		CreatorSplitBps: DefaultSplitBps,
	}

	err := e.store.Update(ctx, func(tx AccountTx) error {
		if err := tx.CreateAgent(agent); err != nil {
			return err
		}
		return tx.AppendEvent(Event{
			Type:  EventAgentRegistered,
			At:    agent.CreatedAt,
			Agent: agent.Address,
		})
	})
	if err != nil {
		return nil, err
	}
	return agent, nil
}

// ConfigureSplitParams are the arguments for ConfigureSplit.
type ConfigureSplitParams struct {
	Agent       Address `json:"agent" cbor:"1,keyasint"`
	NewSplitBps uint16  `json:"new_split_bps" cbor:"2,keyasint"`
	Signer      Address `json:"signer" cbor:"3,keyasint"`
}

// ConfigureSplit updates the share of future job payments routed to
// the agent's creator. Authority-only; no funds move.
func (e *Engine) ConfigureSplit(ctx context.Context, p ConfigureSplitParams) (*Agent, error) {
	if p.NewSplitBps > MaxSplitBps {
		return nil, ErrSplitTooHigh
	}

	var agent *Agent
	err := e.store.Update(ctx, func(tx AccountTx) error {
		a, err := tx.Agent(p.Agent)
		if err != nil {
			return err
		}
		if err := requireAuthority(a, p.Signer); err != nil {
			return err
		}

		a.CreatorSplitBps = p.NewSplitBps
		if err := tx.PutAgent(a); err != nil {
			return err
		}
		agent = a
		return tx.AppendEvent(Event{
			Type:  EventSplitConfigured,
			At:    e.now().UTC(),
			Agent: a.Address,
		})
	})
	if err != nil {
		return nil, err
	}
	return agent, nil
}

// CreateJobParams are the arguments for CreateJob.
type CreateJobParams struct {
	JobID          string  `json:"job_id" cbor:"1,keyasint"`
	JobHash        Hash    `json:"job_hash" cbor:"2,keyasint"`
	Amount         uint64  `json:"amount" cbor:"3,keyasint"`
	TimeoutHours   uint8   `json:"timeout_hours" cbor:"4,keyasint"`
	RequesterAgent Address `json:"requester_agent" cbor:"5,keyasint"`
	Signer         Address `json:"signer" cbor:"6,keyasint"`
}

// CreateJob locks funds for a new job. The amount moves from the
// requester authority's wallet into the escrow's custody in the same
// commit as the escrow record creation, so a job can never exist
// unfunded.
func (e *Engine) CreateJob(ctx context.Context, p CreateJobParams) (*Escrow, error) {
	if len(p.JobID) == 0 || len(p.JobID) > MaxJobIDLength {
		return nil, ErrJobIDTooLong
	}
	if p.Amount == 0 {
		return nil, ErrInvalidAmount
	}
	if !ValidTimeout(p.TimeoutHours) {
		return nil, ErrInvalidTimeout
	}

	escrow := &Escrow{
		Address:      DeriveEscrowAddress(p.JobID),
		JobID:        p.JobID,
		JobHash:      p.JobHash,
		Requester:    p.RequesterAgent,
		Amount:       p.Amount,
		Status:       StatusOpen,
		TimeoutHours: p.TimeoutHours,
		CreatedAt:    e.now().UTC(),
	}

	err := e.store.Update(ctx, func(tx AccountTx) error {
		requester, err := tx.Agent(p.RequesterAgent)
		if err != nil {
			return err
		}
		if err := requireAuthority(requester, p.Signer); err != nil {
			return err
		}

		balance, err := tx.Balance(p.Signer)
		if err != nil {
			return err
		}
		if balance < p.Amount {
			return ErrInsufficientFunds
		}
		spent, err := checkedAdd(requester.TotalSpent, p.Amount)
		if err != nil {
			return err
		}

		if err := tx.CreateEscrow(escrow); err != nil {
			return err
		}
		if err := tx.SetBalance(p.Signer, balance-p.Amount); err != nil {
			return err
		}
		requester.TotalSpent = spent
		if err := tx.PutAgent(requester); err != nil {
			return err
		}
		return tx.AppendEvent(Event{
			Type:      EventJobCreated,
			At:        escrow.CreatedAt,
			JobID:     escrow.JobID,
			Requester: escrow.Requester,
			Amount:    escrow.Amount,
		})
	})
	if err != nil {
		return nil, err
	}
	return escrow, nil
}

// HireAgentParams are the arguments for HireAgent.
type HireAgentParams struct {
	JobID       string  `json:"job_id" cbor:"1,keyasint"`
	WorkerAgent Address `json:"worker_agent" cbor:"2,keyasint"`
	Signer      Address `json:"signer" cbor:"3,keyasint"`
}

// HireAgent assigns a worker to an open job and starts the approval
// clock: deadline = now + timeout.
func (e *Engine) HireAgent(ctx context.Context, p HireAgentParams) (*Escrow, error) {
	var escrow *Escrow
	err := e.store.Update(ctx, func(tx AccountTx) error {
		esc, err := tx.Escrow(DeriveEscrowAddress(p.JobID))
		if err != nil {
			return err
		}
		if esc.Status != StatusOpen {
			return ErrJobNotOpen
		}
		if _, err := requireRole(tx, esc, RoleRequester, p.Signer); err != nil {
			return err
		}
		// The worker agent record must exist before it can be hired.
		if _, err := tx.Agent(p.WorkerAgent); err != nil {
			return err
		}

		now := e.now().UTC()
		esc.Worker = p.WorkerAgent
		esc.Status = StatusInProgress
		esc.Deadline = now.Add(time.Duration(esc.TimeoutHours) * time.Hour)
		if err := tx.PutEscrow(esc); err != nil {
			return err
		}
		escrow = esc
		return tx.AppendEvent(Event{
			Type:      EventJobHired,
			At:        now,
			JobID:     esc.JobID,
			Requester: esc.Requester,
			Worker:    esc.Worker,
			Amount:    esc.Amount,
		})
	})
	if err != nil {
		return nil, err
	}
	return escrow, nil
}

// CompleteJobParams are the arguments for CompleteJob.
type CompleteJobParams struct {
	JobID  string  `json:"job_id" cbor:"1,keyasint"`
	Signer Address `json:"signer" cbor:"2,keyasint"`
}

// CompleteJob marks delivery by the worker. Evidence only: no funds
// move until the requester approves or the deadline passes.
func (e *Engine) CompleteJob(ctx context.Context, p CompleteJobParams) (*Escrow, error) {
	var escrow *Escrow
	err := e.store.Update(ctx, func(tx AccountTx) error {
		esc, err := tx.Escrow(DeriveEscrowAddress(p.JobID))
		if err != nil {
			return err
		}
		if esc.Status != StatusInProgress {
			return ErrInvalidStatus
		}
		if _, err := requireRole(tx, esc, RoleWorker, p.Signer); err != nil {
			return err
		}

		esc.Status = StatusPendingApproval
		if err := tx.PutEscrow(esc); err != nil {
			return err
		}
		escrow = esc
		return tx.AppendEvent(Event{
			Type:      EventJobCompleted,
			At:        e.now().UTC(),
			JobID:     esc.JobID,
			Requester: esc.Requester,
			Worker:    esc.Worker,
			Amount:    esc.Amount,
		})
	})
	if err != nil {
		return nil, err
	}
	return escrow, nil
}

// ApproveJobParams are the arguments for ApproveJob. AvgRatingCentis
// is the worker's review average in hundredths of a star, supplied by
// the caller from the off-ledger review aggregate.
type ApproveJobParams struct {
	JobID           string  `json:"job_id" cbor:"1,keyasint"`
	AvgRatingCentis uint32  `json:"avg_rating_centis" cbor:"2,keyasint"`
	Signer          Address `json:"signer" cbor:"3,keyasint"`
}

// ApproveJob releases the escrowed payment. The creator share is
// amount*split/10000 with integer division; the worker share is the
// exact remainder, so the two always sum to the locked amount.
func (e *Engine) ApproveJob(ctx context.Context, p ApproveJobParams) (*Escrow, error) {
	if !ValidRating(p.AvgRatingCentis) {
		return nil, ErrInvalidRating
	}

	var escrow *Escrow
	err := e.store.Update(ctx, func(tx AccountTx) error {
		esc, err := tx.Escrow(DeriveEscrowAddress(p.JobID))
		if err != nil {
			return err
		}
		if esc.Status != StatusPendingApproval {
			return ErrInvalidStatus
		}
		if _, err := requireRole(tx, esc, RoleRequester, p.Signer); err != nil {
			return err
		}

		if err := e.settle(tx, esc, p.AvgRatingCentis, EventJobApproved); err != nil {
			return err
		}
		escrow = esc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return escrow, nil
}

// ClaimTimeoutParams are the arguments for ClaimTimeout.
type ClaimTimeoutParams struct {
	JobID           string  `json:"job_id" cbor:"1,keyasint"`
	AvgRatingCentis uint32  `json:"avg_rating_centis" cbor:"2,keyasint"`
	Signer          Address `json:"signer" cbor:"3,keyasint"`
}

// ClaimTimeout settles a delivered job whose approval deadline has
// passed. Permissionless: any signer may trigger it, the payout
// routing is identical to ApproveJob. Only PendingApproval qualifies,
// so a disputed job can never be drained by the clock.
func (e *Engine) ClaimTimeout(ctx context.Context, p ClaimTimeoutParams) (*Escrow, error) {
	if !ValidRating(p.AvgRatingCentis) {
		return nil, ErrInvalidRating
	}

	var escrow *Escrow
	err := e.store.Update(ctx, func(tx AccountTx) error {
		esc, err := tx.Escrow(DeriveEscrowAddress(p.JobID))
		if err != nil {
			return err
		}
		if esc.Status != StatusPendingApproval {
			return ErrInvalidStatus
		}
		if !e.now().After(esc.Deadline) {
			return ErrDeadlineNotReached
		}

		if err := e.settle(tx, esc, p.AvgRatingCentis, EventJobTimeoutReleased); err != nil {
			return err
		}
		escrow = esc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return escrow, nil
}

// settle drains the escrow to the worker side: creator share to the
// worker agent's creator wallet, remainder to the worker agent
// record's custodial balance, stats and reputation updated, escrow
// closed. Called with all preconditions already checked.
func (e *Engine) settle(tx AccountTx, esc *Escrow, avgRatingCentis uint32, eventType EventType) error {
	worker, err := tx.Agent(esc.Worker)
	if err != nil {
		return err
	}

	creatorShare, workerShare, err := splitAmount(esc.Amount, worker.CreatorSplitBps)
	if err != nil {
		return err
	}

	jobs, err := checkedAdd32(worker.SuccessfulJobs, 1)
	if err != nil {
		return err
	}
	earned, err := checkedAdd(worker.TotalEarned, esc.Amount)
	if err != nil {
		return err
	}
	workerBalance, err := checkedAdd(worker.Balance, workerShare)
	if err != nil {
		return err
	}
	creatorBalance, err := tx.Balance(worker.Creator)
	if err != nil {
		return err
	}
	creatorBalance, err = checkedAdd(creatorBalance, creatorShare)
	if err != nil {
		return err
	}

	if creatorShare > 0 {
		if err := tx.SetBalance(worker.Creator, creatorBalance); err != nil {
			return err
		}
	}
	worker.Balance = workerBalance
	worker.SuccessfulJobs = jobs
	worker.TotalEarned = earned
	worker.ReputationScore = Reputation(jobs, avgRatingCentis)
	if jobs >= VerificationThreshold {
		worker.Verified = true
	}
	if err := tx.PutAgent(worker); err != nil {
		return err
	}

	amount := esc.Amount
	esc.Amount = 0
	esc.Status = StatusCompleted
	if err := tx.PutEscrow(esc); err != nil {
		return err
	}

	return tx.AppendEvent(Event{
		Type:      eventType,
		At:        e.now().UTC(),
		JobID:     esc.JobID,
		Requester: esc.Requester,
		Worker:    esc.Worker,
		Amount:    amount,
	})
}

// CancelJobParams are the arguments for CancelJob.
type CancelJobParams struct {
	JobID  string  `json:"job_id" cbor:"1,keyasint"`
	Signer Address `json:"signer" cbor:"2,keyasint"`
}

// CancelJob refunds an open job in full. Illegal once a worker has
// been hired.
func (e *Engine) CancelJob(ctx context.Context, p CancelJobParams) (*Escrow, error) {
	var escrow *Escrow
	err := e.store.Update(ctx, func(tx AccountTx) error {
		esc, err := tx.Escrow(DeriveEscrowAddress(p.JobID))
		if err != nil {
			return err
		}
		if esc.Status != StatusOpen {
			return ErrJobNotOpen
		}
		requester, err := requireRole(tx, esc, RoleRequester, p.Signer)
		if err != nil {
			return err
		}

		spent, err := checkedSub(requester.TotalSpent, esc.Amount)
		if err != nil {
			return err
		}
		balance, err := tx.Balance(p.Signer)
		if err != nil {
			return err
		}
		balance, err = checkedAdd(balance, esc.Amount)
		if err != nil {
			return err
		}

		if err := tx.SetBalance(p.Signer, balance); err != nil {
			return err
		}
		requester.TotalSpent = spent
		if err := tx.PutAgent(requester); err != nil {
			return err
		}

		amount := esc.Amount
		esc.Amount = 0
		esc.Status = StatusCancelled
		if err := tx.PutEscrow(esc); err != nil {
			return err
		}
		escrow = esc
		return tx.AppendEvent(Event{
			Type:      EventJobCancelled,
			At:        e.now().UTC(),
			JobID:     esc.JobID,
			Requester: esc.Requester,
			Amount:    amount,
		})
	})
	if err != nil {
		return nil, err
	}
	return escrow, nil
}

// DisputeJobParams are the arguments for DisputeJob.
type DisputeJobParams struct {
	JobID  string  `json:"job_id" cbor:"1,keyasint"`
	Signer Address `json:"signer" cbor:"2,keyasint"`
}

// DisputeJob freezes a job. Either party may dispute once work has
// started; funds stay locked in the escrow and no further ledger
// instruction touches them. Resolution is an external, privileged
// process by design.
func (e *Engine) DisputeJob(ctx context.Context, p DisputeJobParams) (*Escrow, error) {
	var escrow *Escrow
	err := e.store.Update(ctx, func(tx AccountTx) error {
		esc, err := tx.Escrow(DeriveEscrowAddress(p.JobID))
		if err != nil {
			return err
		}
		if esc.Status != StatusInProgress && esc.Status != StatusPendingApproval {
			return ErrInvalidStatus
		}
		if _, err := requireRole(tx, esc, RoleEither, p.Signer); err != nil {
			return err
		}

		esc.Status = StatusDisputed
		if err := tx.PutEscrow(esc); err != nil {
			return err
		}
		escrow = esc
		return tx.AppendEvent(Event{
			Type:      EventJobDisputed,
			At:        e.now().UTC(),
			JobID:     esc.JobID,
			Requester: esc.Requester,
			Worker:    esc.Worker,
			Amount:    esc.Amount,
		})
	})
	if err != nil {
		return nil, err
	}
	return escrow, nil
}

// WithdrawParams are the arguments for Withdraw. Amount zero means
// the full custodial balance.
type WithdrawParams struct {
	Agent  Address `json:"agent" cbor:"1,keyasint"`
	Amount uint64  `json:"amount" cbor:"2,keyasint"`
	Signer Address `json:"signer" cbor:"3,keyasint"`
}

// Withdraw moves accumulated earnings from the agent record's
// custodial balance to the authority's wallet.
func (e *Engine) Withdraw(ctx context.Context, p WithdrawParams) (*Agent, error) {
	var agent *Agent
	err := e.store.Update(ctx, func(tx AccountTx) error {
		a, err := tx.Agent(p.Agent)
		if err != nil {
			return err
		}
		if err := requireAuthority(a, p.Signer); err != nil {
			return err
		}

		amount := p.Amount
		if amount == 0 {
			amount = a.Balance
		}
		if amount == 0 {
			return ErrNothingToWithdraw
		}
		if amount > a.Balance {
			return ErrInsufficientFunds
		}

		balance, err := tx.Balance(a.Authority)
		if err != nil {
			return err
		}
		balance, err = checkedAdd(balance, amount)
		if err != nil {
			return err
		}

		a.Balance -= amount
		if err := tx.PutAgent(a); err != nil {
			return err
		}
		if err := tx.SetBalance(a.Authority, balance); err != nil {
			return err
		}
		agent = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return agent, nil
}

// splitAmount computes the creator and worker shares of a payout.
// The intermediate product is taken at 128 bits, so no amount/split
// combination can overflow, and the shares always sum exactly to
// amount.
func splitAmount(amount uint64, splitBps uint16) (creatorShare, workerShare uint64, err error) {
	if splitBps > BpsDenominator {
		return 0, 0, ErrSplitTooHigh
	}
	hi, lo := bits.Mul64(amount, uint64(splitBps))
	creatorShare, _ = bits.Div64(hi, lo, BpsDenominator)
	return creatorShare, amount - creatorShare, nil
}

func checkedAdd(a, b uint64) (uint64, error) {
	if a > math.MaxUint64-b {
		return 0, ErrArithmeticOverflow
	}
	return a + b, nil
}

func checkedSub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrArithmeticOverflow
	}
	return a - b, nil
}

func checkedAdd32(a, b uint32) (uint32, error) {
	if a > math.MaxUint32-b {
		return 0, ErrArithmeticOverflow
	}
	return a + b, nil
}
