package ledger

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

// testClock is a manually advanced clock for deadline tests.
type testClock struct {
	t time.Time
}

func (c *testClock) now() time.Time { return c.t }

func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestEngine() (*Engine, *MemStore, *testClock) {
	store := NewMemStore()
	clock := &testClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	engine := NewEngine(store)
	engine.now = clock.now
	return engine, store, clock
}

func fund(t *testing.T, store *MemStore, wallet Address, amount uint64) {
	t.Helper()
	err := store.Update(context.Background(), func(tx AccountTx) error {
		bal, err := tx.Balance(wallet)
		if err != nil {
			return err
		}
		return tx.SetBalance(wallet, bal+amount)
	})
	if err != nil {
		t.Fatalf("funding wallet: %v", err)
	}
}

func register(t *testing.T, e *Engine, name string, creator Address) *Agent {
	t.Helper()
	a, err := e.RegisterAgent(context.Background(), RegisterAgentParams{Name: name, Creator: creator})
	if err != nil {
		t.Fatalf("registering %q: %v", name, err)
	}
	return a
}

func balance(t *testing.T, store *MemStore, wallet Address) uint64 {
	t.Helper()
	var bal uint64
	err := store.View(context.Background(), func(v AccountView) error {
		var err error
		bal, err = v.Balance(wallet)
		return err
	})
	if err != nil {
		t.Fatalf("reading balance: %v", err)
	}
	return bal
}

func loadAgent(t *testing.T, store *MemStore, address Address) *Agent {
	t.Helper()
	var a *Agent
	err := store.View(context.Background(), func(v AccountView) error {
		var err error
		a, err = v.Agent(address)
		return err
	})
	if err != nil {
		t.Fatalf("loading agent: %v", err)
	}
	return a
}

func loadEscrow(t *testing.T, store *MemStore, jobID string) *Escrow {
	t.Helper()
	var e *Escrow
	err := store.View(context.Background(), func(v AccountView) error {
		var err error
		e, err = v.Escrow(DeriveEscrowAddress(jobID))
		return err
	})
	if err != nil {
		t.Fatalf("loading escrow: %v", err)
	}
	return e
}

// --- registration ---

func TestRegisterAgent(t *testing.T) {
	engine, store, _ := newTestEngine()
	creator := addr(1)

	agent := register(t, engine, "alice", creator)

	if agent.Address != DeriveAgentAddress(creator, "alice") {
		t.Error("record address must be derived from (creator, name)")
	}
	if agent.Authority != creator {
		t.Error("authority must default to creator")
	}
	if !agent.CreatorSigned {
		t.Error("creator_signed must be set at registration")
	}
	if agent.CreatorSplitBps != DefaultSplitBps {
		t.Errorf("split = %d, want default %d", agent.CreatorSplitBps, DefaultSplitBps)
	}
	if agent.Verified || agent.SuccessfulJobs != 0 || agent.TotalEarned != 0 || agent.TotalSpent != 0 {
		t.Error("counters must initialize to zero")
	}

	stored := loadAgent(t, store, agent.Address)
	if stored.Name != "alice" {
		t.Errorf("stored name = %q", stored.Name)
	}

	evs := store.DrainEvents()
	if len(evs) != 1 || evs[0].Type != EventAgentRegistered {
		t.Errorf("expected one agent.registered event, got %v", evs)
	}
}

func TestRegisterAgentNameValidation(t *testing.T) {
	engine, _, _ := newTestEngine()

	_, err := engine.RegisterAgent(context.Background(), RegisterAgentParams{Name: "", Creator: addr(1)})
	if !errors.Is(err, ErrNameEmpty) {
		t.Errorf("empty name: got %v, want ErrNameEmpty", err)
	}

	long := make([]byte, MaxNameLength+1)
	for i := range long {
		long[i] = 'x'
	}
	_, err = engine.RegisterAgent(context.Background(), RegisterAgentParams{Name: string(long), Creator: addr(1)})
	if !errors.Is(err, ErrNameTooLong) {
		t.Errorf("long name: got %v, want ErrNameTooLong", err)
	}
}

func TestRegisterAgentDuplicate(t *testing.T) {
	engine, _, _ := newTestEngine()
	creator := addr(1)

	register(t, engine, "alice", creator)
	_, err := engine.RegisterAgent(context.Background(), RegisterAgentParams{Name: "alice", Creator: creator})
	if !errors.Is(err, ErrDuplicateAgent) {
		t.Errorf("got %v, want ErrDuplicateAgent", err)
	}

	// Same name under a different creator derives a different
	// address and must succeed.
	register(t, engine, "alice", addr(2))
}

// --- configure split ---

func TestConfigureSplit(t *testing.T) {
	engine, store, _ := newTestEngine()
	creator := addr(1)
	agent := register(t, engine, "alice", creator)

	updated, err := engine.ConfigureSplit(context.Background(), ConfigureSplitParams{
		Agent:       agent.Address,
		NewSplitBps: 2500,
		Signer:      creator,
	})
	if err != nil {
		t.Fatalf("configure split: %v", err)
	}
	if updated.CreatorSplitBps != 2500 {
		t.Errorf("split = %d, want 2500", updated.CreatorSplitBps)
	}
	if loadAgent(t, store, agent.Address).CreatorSplitBps != 2500 {
		t.Error("split not persisted")
	}
}

func TestConfigureSplitTooHigh(t *testing.T) {
	engine, store, _ := newTestEngine()
	creator := addr(1)
	agent := register(t, engine, "alice", creator)

	_, err := engine.ConfigureSplit(context.Background(), ConfigureSplitParams{
		Agent:       agent.Address,
		NewSplitBps: 6000,
		Signer:      creator,
	})
	if !errors.Is(err, ErrSplitTooHigh) {
		t.Fatalf("got %v, want ErrSplitTooHigh", err)
	}
	if got := loadAgent(t, store, agent.Address).CreatorSplitBps; got != DefaultSplitBps {
		t.Errorf("split changed to %d after rejected update", got)
	}
}

func TestConfigureSplitUnauthorized(t *testing.T) {
	engine, _, _ := newTestEngine()
	agent := register(t, engine, "alice", addr(1))

	_, err := engine.ConfigureSplit(context.Background(), ConfigureSplitParams{
		Agent:       agent.Address,
		NewSplitBps: 100,
		Signer:      addr(9),
	})
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("got %v, want ErrUnauthorized", err)
	}
}

// --- create job ---

func TestCreateJob(t *testing.T) {
	engine, store, _ := newTestEngine()
	creator := addr(1)
	requester := register(t, engine, "alice", creator)
	fund(t, store, creator, 1000)

	esc, err := engine.CreateJob(context.Background(), CreateJobParams{
		JobID:          "job-1",
		Amount:         100,
		TimeoutHours:   24,
		RequesterAgent: requester.Address,
		Signer:         creator,
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	if esc.Status != StatusOpen {
		t.Errorf("status = %v, want open", esc.Status)
	}
	if esc.Amount != 100 {
		t.Errorf("escrow amount = %d, want 100", esc.Amount)
	}
	if !esc.Worker.IsZero() {
		t.Error("worker must be unset at creation")
	}
	if got := balance(t, store, creator); got != 900 {
		t.Errorf("wallet = %d, want 900", got)
	}
	if got := loadAgent(t, store, requester.Address).TotalSpent; got != 100 {
		t.Errorf("total_spent = %d, want 100", got)
	}
}

func TestCreateJobValidation(t *testing.T) {
	engine, store, _ := newTestEngine()
	creator := addr(1)
	requester := register(t, engine, "alice", creator)
	fund(t, store, creator, 1000)

	base := CreateJobParams{
		JobID:          "job-1",
		Amount:         100,
		TimeoutHours:   24,
		RequesterAgent: requester.Address,
		Signer:         creator,
	}

	tests := []struct {
		name    string
		mutate  func(*CreateJobParams)
		wantErr error
	}{
		{"zero amount", func(p *CreateJobParams) { p.Amount = 0 }, ErrInvalidAmount},
		{"bad timeout", func(p *CreateJobParams) { p.TimeoutHours = 12 }, ErrInvalidTimeout},
		{"empty job id", func(p *CreateJobParams) { p.JobID = "" }, ErrJobIDTooLong},
		{"long job id", func(p *CreateJobParams) { p.JobID = "0123456789012345678901234567890123456" }, ErrJobIDTooLong},
		{"wrong signer", func(p *CreateJobParams) { p.Signer = addr(9) }, ErrUnauthorized},
		{"amount above balance", func(p *CreateJobParams) { p.Amount = 5000 }, ErrInsufficientFunds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := base
			tt.mutate(&p)
			if _, err := engine.CreateJob(context.Background(), p); !errors.Is(err, tt.wantErr) {
				t.Errorf("got %v, want %v", err, tt.wantErr)
			}
			// No partial effects.
			if got := balance(t, store, creator); got != 1000 {
				t.Errorf("wallet = %d after rejected create", got)
			}
		})
	}
}

func TestCreateJobDuplicateID(t *testing.T) {
	engine, store, _ := newTestEngine()
	creator := addr(1)
	requester := register(t, engine, "alice", creator)
	fund(t, store, creator, 1000)

	p := CreateJobParams{
		JobID:          "job-1",
		Amount:         100,
		TimeoutHours:   24,
		RequesterAgent: requester.Address,
		Signer:         creator,
	}
	if _, err := engine.CreateJob(context.Background(), p); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := engine.CreateJob(context.Background(), p); !errors.Is(err, ErrDuplicateJobID) {
		t.Fatalf("got %v, want ErrDuplicateJobID", err)
	}
	// The failed attempt must not have debited the wallet.
	if got := balance(t, store, creator); got != 900 {
		t.Errorf("wallet = %d, want 900", got)
	}
}

// --- full lifecycle ---

// setupHiredJob registers a requester and worker, funds the requester,
// creates "job-1" for amount 100 at 24h, and hires the worker.
func setupHiredJob(t *testing.T, engine *Engine, store *MemStore) (requester, worker *Agent, requesterKey, workerKey Address) {
	t.Helper()
	requesterKey = addr(1)
	workerKey = addr(2)
	requester = register(t, engine, "alice", requesterKey)
	worker = register(t, engine, "bob", workerKey)
	fund(t, store, requesterKey, 1000)

	_, err := engine.CreateJob(context.Background(), CreateJobParams{
		JobID:          "job-1",
		Amount:         100,
		TimeoutHours:   24,
		RequesterAgent: requester.Address,
		Signer:         requesterKey,
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	_, err = engine.HireAgent(context.Background(), HireAgentParams{
		JobID:       "job-1",
		WorkerAgent: worker.Address,
		Signer:      requesterKey,
	})
	if err != nil {
		t.Fatalf("hire: %v", err)
	}
	return requester, worker, requesterKey, workerKey
}

func TestHappyPathWorkedScenario(t *testing.T) {
	engine, store, clock := newTestEngine()
	requester, worker, requesterKey, workerKey := setupHiredJob(t, engine, store)

	esc := loadEscrow(t, store, "job-1")
	if esc.Status != StatusInProgress {
		t.Fatalf("status after hire = %v, want in_progress", esc.Status)
	}
	if esc.Worker != worker.Address {
		t.Fatal("worker not recorded")
	}
	wantDeadline := clock.t.Add(24 * time.Hour)
	if !esc.Deadline.Equal(wantDeadline) {
		t.Errorf("deadline = %v, want %v", esc.Deadline, wantDeadline)
	}

	if _, err := engine.CompleteJob(context.Background(), CompleteJobParams{JobID: "job-1", Signer: workerKey}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got := loadEscrow(t, store, "job-1").Status; got != StatusPendingApproval {
		t.Fatalf("status after complete = %v, want pending_approval", got)
	}

	_, err := engine.ApproveJob(context.Background(), ApproveJobParams{
		JobID:           "job-1",
		AvgRatingCentis: 500,
		Signer:          requesterKey,
	})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}

	esc = loadEscrow(t, store, "job-1")
	if esc.Status != StatusCompleted || esc.Amount != 0 {
		t.Errorf("escrow after approve: status=%v amount=%d", esc.Status, esc.Amount)
	}

	b := loadAgent(t, store, worker.Address)
	if b.SuccessfulJobs != 1 {
		t.Errorf("successful_jobs = %d, want 1", b.SuccessfulJobs)
	}
	if b.TotalEarned != 100 {
		t.Errorf("total_earned = %d, want 100 (pre-split)", b.TotalEarned)
	}
	if b.ReputationScore != 1000 {
		t.Errorf("reputation = %d, want 1000", b.ReputationScore)
	}
	// Default 1000 bps: 10 to bob's creator wallet, 90 held on bob's
	// record until withdrawal.
	if got := balance(t, store, workerKey); got != 10 {
		t.Errorf("creator wallet = %d, want 10", got)
	}
	if b.Balance != 90 {
		t.Errorf("worker custodial balance = %d, want 90", b.Balance)
	}

	a := loadAgent(t, store, requester.Address)
	if a.TotalSpent != 100 {
		t.Errorf("requester total_spent = %d, want 100", a.TotalSpent)
	}
}

func TestApproveSplitConservation(t *testing.T) {
	// creator_share + worker_share == amount for every legal split,
	// including ones that do not divide evenly.
	amounts := []uint64{1, 3, 99, 100, 101, 999999999999}
	splits := []uint16{0, 1, 333, 1000, 2500, 4999, 5000}

	for _, amount := range amounts {
		for _, split := range splits {
			creatorShare, workerShare, err := splitAmount(amount, split)
			if err != nil {
				t.Fatalf("splitAmount(%d, %d): %v", amount, split, err)
			}
			if creatorShare+workerShare != amount {
				t.Fatalf("split %d bps of %d: %d + %d != %d",
					split, amount, creatorShare, workerShare, amount)
			}
			if creatorShare > amount/2+1 {
				t.Fatalf("creator share %d of %d exceeds the 50%% ceiling", creatorShare, amount)
			}
		}
	}
}

func TestSplitAmountNoOverflow(t *testing.T) {
	// The 128-bit intermediate product must handle the full uint64
	// range.
	const max = ^uint64(0)
	creatorShare, workerShare, err := splitAmount(max, 5000)
	if err != nil {
		t.Fatalf("splitAmount: %v", err)
	}
	if creatorShare+workerShare != max {
		t.Fatal("shares must sum to the amount at uint64 max")
	}
}

func TestVerificationThreshold(t *testing.T) {
	engine, store, _ := newTestEngine()
	requesterKey := addr(1)
	workerKey := addr(2)
	requester := register(t, engine, "alice", requesterKey)
	worker := register(t, engine, "bob", workerKey)
	fund(t, store, requesterKey, 10000)

	for i := 0; i < VerificationThreshold; i++ {
		jobID := string(rune('a'+i)) + "-job"
		if _, err := engine.CreateJob(context.Background(), CreateJobParams{
			JobID: jobID, Amount: 10, TimeoutHours: 24,
			RequesterAgent: requester.Address, Signer: requesterKey,
		}); err != nil {
			t.Fatalf("create %s: %v", jobID, err)
		}
		if _, err := engine.HireAgent(context.Background(), HireAgentParams{
			JobID: jobID, WorkerAgent: worker.Address, Signer: requesterKey,
		}); err != nil {
			t.Fatalf("hire %s: %v", jobID, err)
		}
		if _, err := engine.CompleteJob(context.Background(), CompleteJobParams{JobID: jobID, Signer: workerKey}); err != nil {
			t.Fatalf("complete %s: %v", jobID, err)
		}
		if _, err := engine.ApproveJob(context.Background(), ApproveJobParams{
			JobID: jobID, AvgRatingCentis: 400, Signer: requesterKey,
		}); err != nil {
			t.Fatalf("approve %s: %v", jobID, err)
		}

		b := loadAgent(t, store, worker.Address)
		wantVerified := i+1 >= VerificationThreshold
		if b.Verified != wantVerified {
			t.Errorf("after %d jobs: verified = %v, want %v", i+1, b.Verified, wantVerified)
		}
	}
}

// --- illegal transitions ---

func TestTransitionPreconditions(t *testing.T) {
	ctx := context.Background()

	t.Run("hire non-open job", func(t *testing.T) {
		engine, store, _ := newTestEngine()
		_, worker, requesterKey, _ := setupHiredJob(t, engine, store)
		_, err := engine.HireAgent(ctx, HireAgentParams{JobID: "job-1", WorkerAgent: worker.Address, Signer: requesterKey})
		if !errors.Is(err, ErrJobNotOpen) {
			t.Errorf("got %v, want ErrJobNotOpen", err)
		}
	})

	t.Run("complete open job", func(t *testing.T) {
		engine, store, _ := newTestEngine()
		requesterKey := addr(1)
		requester := register(t, engine, "alice", requesterKey)
		register(t, engine, "bob", addr(2))
		fund(t, store, requesterKey, 1000)
		if _, err := engine.CreateJob(ctx, CreateJobParams{
			JobID: "job-1", Amount: 100, TimeoutHours: 24,
			RequesterAgent: requester.Address, Signer: requesterKey,
		}); err != nil {
			t.Fatal(err)
		}
		_, err := engine.CompleteJob(ctx, CompleteJobParams{JobID: "job-1", Signer: addr(2)})
		if !errors.Is(err, ErrInvalidStatus) {
			t.Errorf("got %v, want ErrInvalidStatus", err)
		}
	})

	t.Run("complete twice", func(t *testing.T) {
		engine, store, _ := newTestEngine()
		_, _, _, workerKey := setupHiredJob(t, engine, store)
		if _, err := engine.CompleteJob(ctx, CompleteJobParams{JobID: "job-1", Signer: workerKey}); err != nil {
			t.Fatal(err)
		}
		_, err := engine.CompleteJob(ctx, CompleteJobParams{JobID: "job-1", Signer: workerKey})
		if !errors.Is(err, ErrInvalidStatus) {
			t.Errorf("got %v, want ErrInvalidStatus", err)
		}
	})

	t.Run("approve before completion", func(t *testing.T) {
		engine, store, _ := newTestEngine()
		_, _, requesterKey, _ := setupHiredJob(t, engine, store)
		_, err := engine.ApproveJob(ctx, ApproveJobParams{JobID: "job-1", AvgRatingCentis: 500, Signer: requesterKey})
		if !errors.Is(err, ErrInvalidStatus) {
			t.Errorf("got %v, want ErrInvalidStatus", err)
		}
	})

	t.Run("approve twice", func(t *testing.T) {
		engine, store, _ := newTestEngine()
		_, _, requesterKey, workerKey := setupHiredJob(t, engine, store)
		if _, err := engine.CompleteJob(ctx, CompleteJobParams{JobID: "job-1", Signer: workerKey}); err != nil {
			t.Fatal(err)
		}
		if _, err := engine.ApproveJob(ctx, ApproveJobParams{JobID: "job-1", AvgRatingCentis: 500, Signer: requesterKey}); err != nil {
			t.Fatal(err)
		}
		_, err := engine.ApproveJob(ctx, ApproveJobParams{JobID: "job-1", AvgRatingCentis: 500, Signer: requesterKey})
		if !errors.Is(err, ErrInvalidStatus) {
			t.Errorf("double release: got %v, want ErrInvalidStatus", err)
		}
	})
}

func TestRoleEnforcement(t *testing.T) {
	ctx := context.Background()

	t.Run("worker cannot hire", func(t *testing.T) {
		engine, store, _ := newTestEngine()
		requesterKey := addr(1)
		workerKey := addr(2)
		requester := register(t, engine, "alice", requesterKey)
		worker := register(t, engine, "bob", workerKey)
		fund(t, store, requesterKey, 1000)
		if _, err := engine.CreateJob(ctx, CreateJobParams{
			JobID: "job-1", Amount: 100, TimeoutHours: 24,
			RequesterAgent: requester.Address, Signer: requesterKey,
		}); err != nil {
			t.Fatal(err)
		}
		_, err := engine.HireAgent(ctx, HireAgentParams{JobID: "job-1", WorkerAgent: worker.Address, Signer: workerKey})
		if !errors.Is(err, ErrUnauthorized) {
			t.Errorf("got %v, want ErrUnauthorized", err)
		}
	})

	t.Run("requester cannot complete", func(t *testing.T) {
		engine, store, _ := newTestEngine()
		_, _, requesterKey, _ := setupHiredJob(t, engine, store)
		_, err := engine.CompleteJob(ctx, CompleteJobParams{JobID: "job-1", Signer: requesterKey})
		if !errors.Is(err, ErrUnauthorized) {
			t.Errorf("got %v, want ErrUnauthorized", err)
		}
	})

	t.Run("worker cannot approve", func(t *testing.T) {
		engine, store, _ := newTestEngine()
		_, _, _, workerKey := setupHiredJob(t, engine, store)
		if _, err := engine.CompleteJob(ctx, CompleteJobParams{JobID: "job-1", Signer: workerKey}); err != nil {
			t.Fatal(err)
		}
		_, err := engine.ApproveJob(ctx, ApproveJobParams{JobID: "job-1", AvgRatingCentis: 500, Signer: workerKey})
		if !errors.Is(err, ErrUnauthorized) {
			t.Errorf("got %v, want ErrUnauthorized", err)
		}
	})

	t.Run("stranger cannot dispute", func(t *testing.T) {
		engine, store, _ := newTestEngine()
		setupHiredJob(t, engine, store)
		_, err := engine.DisputeJob(ctx, DisputeJobParams{JobID: "job-1", Signer: addr(9)})
		if !errors.Is(err, ErrUnauthorized) {
			t.Errorf("got %v, want ErrUnauthorized", err)
		}
	})
}

// --- cancel ---

func TestCancelJob(t *testing.T) {
	engine, store, _ := newTestEngine()
	requesterKey := addr(1)
	requester := register(t, engine, "alice", requesterKey)
	fund(t, store, requesterKey, 1000)

	if _, err := engine.CreateJob(context.Background(), CreateJobParams{
		JobID: "job-1", Amount: 100, TimeoutHours: 24,
		RequesterAgent: requester.Address, Signer: requesterKey,
	}); err != nil {
		t.Fatal(err)
	}

	esc, err := engine.CancelJob(context.Background(), CancelJobParams{JobID: "job-1", Signer: requesterKey})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if esc.Status != StatusCancelled || esc.Amount != 0 {
		t.Errorf("after cancel: status=%v amount=%d", esc.Status, esc.Amount)
	}
	if got := balance(t, store, requesterKey); got != 1000 {
		t.Errorf("wallet = %d, want full refund to 1000", got)
	}
	if got := loadAgent(t, store, requester.Address).TotalSpent; got != 0 {
		t.Errorf("total_spent = %d, want 0 after refund", got)
	}

	// Terminal: a second cancel fails and changes nothing.
	if _, err := engine.CancelJob(context.Background(), CancelJobParams{JobID: "job-1", Signer: requesterKey}); !errors.Is(err, ErrJobNotOpen) {
		t.Errorf("second cancel: got %v, want ErrJobNotOpen", err)
	}
	if got := balance(t, store, requesterKey); got != 1000 {
		t.Errorf("wallet = %d after rejected second cancel", got)
	}
}

func TestCancelAfterHireFails(t *testing.T) {
	engine, store, _ := newTestEngine()
	_, _, requesterKey, _ := setupHiredJob(t, engine, store)

	_, err := engine.CancelJob(context.Background(), CancelJobParams{JobID: "job-1", Signer: requesterKey})
	if !errors.Is(err, ErrJobNotOpen) {
		t.Errorf("got %v, want ErrJobNotOpen", err)
	}
	if got := loadEscrow(t, store, "job-1").Amount; got != 100 {
		t.Errorf("escrow amount = %d after rejected cancel", got)
	}
}

// --- dispute ---

func TestDisputeJob(t *testing.T) {
	for _, role := range []string{"requester", "worker"} {
		t.Run(role, func(t *testing.T) {
			engine, store, _ := newTestEngine()
			_, _, requesterKey, workerKey := setupHiredJob(t, engine, store)

			signer := requesterKey
			if role == "worker" {
				signer = workerKey
			}
			esc, err := engine.DisputeJob(context.Background(), DisputeJobParams{JobID: "job-1", Signer: signer})
			if err != nil {
				t.Fatalf("dispute: %v", err)
			}
			if esc.Status != StatusDisputed {
				t.Errorf("status = %v, want disputed", esc.Status)
			}
			// Funds stay locked.
			if esc.Amount != 100 {
				t.Errorf("amount = %d, want 100 still locked", esc.Amount)
			}
			if got := balance(t, store, workerKey); got != 0 {
				t.Errorf("worker wallet = %d, want 0", got)
			}
		})
	}
}

func TestDisputeOpenJobFails(t *testing.T) {
	engine, store, _ := newTestEngine()
	requesterKey := addr(1)
	requester := register(t, engine, "alice", requesterKey)
	fund(t, store, requesterKey, 1000)
	if _, err := engine.CreateJob(context.Background(), CreateJobParams{
		JobID: "job-1", Amount: 100, TimeoutHours: 24,
		RequesterAgent: requester.Address, Signer: requesterKey,
	}); err != nil {
		t.Fatal(err)
	}

	_, err := engine.DisputeJob(context.Background(), DisputeJobParams{JobID: "job-1", Signer: requesterKey})
	if !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("got %v, want ErrInvalidStatus", err)
	}
}

func TestDisputedJobIsStuck(t *testing.T) {
	engine, store, _ := newTestEngine()
	_, _, requesterKey, workerKey := setupHiredJob(t, engine, store)
	if _, err := engine.CompleteJob(context.Background(), CompleteJobParams{JobID: "job-1", Signer: workerKey}); err != nil {
		t.Fatal(err)
	}
	if _, err := engine.DisputeJob(context.Background(), DisputeJobParams{JobID: "job-1", Signer: workerKey}); err != nil {
		t.Fatal(err)
	}

	// No instruction can move a disputed job.
	if _, err := engine.ApproveJob(context.Background(), ApproveJobParams{JobID: "job-1", AvgRatingCentis: 500, Signer: requesterKey}); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("approve: got %v, want ErrInvalidStatus", err)
	}
	if _, err := engine.CancelJob(context.Background(), CancelJobParams{JobID: "job-1", Signer: requesterKey}); !errors.Is(err, ErrJobNotOpen) {
		t.Errorf("cancel: got %v, want ErrJobNotOpen", err)
	}
	if _, err := engine.CompleteJob(context.Background(), CompleteJobParams{JobID: "job-1", Signer: workerKey}); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("complete: got %v, want ErrInvalidStatus", err)
	}
}

// --- claim timeout ---

func TestClaimTimeout(t *testing.T) {
	engine, store, clock := newTestEngine()
	_, worker, _, workerKey := setupHiredJob(t, engine, store)
	if _, err := engine.CompleteJob(context.Background(), CompleteJobParams{JobID: "job-1", Signer: workerKey}); err != nil {
		t.Fatal(err)
	}

	// Before the deadline, nobody can claim.
	_, err := engine.ClaimTimeout(context.Background(), ClaimTimeoutParams{JobID: "job-1", AvgRatingCentis: 500, Signer: addr(9)})
	if !errors.Is(err, ErrDeadlineNotReached) {
		t.Fatalf("got %v, want ErrDeadlineNotReached", err)
	}

	clock.advance(24*time.Hour + time.Minute)

	// Permissionless: an unrelated signer can trigger the release.
	esc, err := engine.ClaimTimeout(context.Background(), ClaimTimeoutParams{JobID: "job-1", AvgRatingCentis: 500, Signer: addr(9)})
	if err != nil {
		t.Fatalf("claim timeout: %v", err)
	}
	if esc.Status != StatusCompleted || esc.Amount != 0 {
		t.Errorf("after claim: status=%v amount=%d", esc.Status, esc.Amount)
	}
	b := loadAgent(t, store, worker.Address)
	if b.Balance != 90 || b.SuccessfulJobs != 1 {
		t.Errorf("worker after claim: balance=%d jobs=%d", b.Balance, b.SuccessfulJobs)
	}
}

func TestClaimTimeoutRequiresPendingApproval(t *testing.T) {
	engine, store, clock := newTestEngine()
	_, _, _, workerKey := setupHiredJob(t, engine, store)

	clock.advance(48 * time.Hour)

	// Still in progress: the clock alone cannot settle.
	_, err := engine.ClaimTimeout(context.Background(), ClaimTimeoutParams{JobID: "job-1", AvgRatingCentis: 0, Signer: workerKey})
	if !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("in_progress: got %v, want ErrInvalidStatus", err)
	}

	// Disputed jobs are immune to timeout release.
	if _, err := engine.DisputeJob(context.Background(), DisputeJobParams{JobID: "job-1", Signer: workerKey}); err != nil {
		t.Fatal(err)
	}
	_, err = engine.ClaimTimeout(context.Background(), ClaimTimeoutParams{JobID: "job-1", AvgRatingCentis: 0, Signer: workerKey})
	if !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("disputed: got %v, want ErrInvalidStatus", err)
	}
}

// --- withdraw ---

func TestWithdraw(t *testing.T) {
	engine, store, _ := newTestEngine()
	_, worker, requesterKey, workerKey := setupHiredJob(t, engine, store)
	if _, err := engine.CompleteJob(context.Background(), CompleteJobParams{JobID: "job-1", Signer: workerKey}); err != nil {
		t.Fatal(err)
	}
	if _, err := engine.ApproveJob(context.Background(), ApproveJobParams{JobID: "job-1", AvgRatingCentis: 500, Signer: requesterKey}); err != nil {
		t.Fatal(err)
	}

	// Bob is his own creator, so approval already routed the 10-unit
	// creator share to his wallet; the other 90 sit in custody.
	if got := balance(t, store, workerKey); got != 10 {
		t.Fatalf("authority wallet after approval = %d, want 10", got)
	}

	// Partial withdrawal.
	a, err := engine.Withdraw(context.Background(), WithdrawParams{Agent: worker.Address, Amount: 40, Signer: workerKey})
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if a.Balance != 50 {
		t.Errorf("custodial balance = %d, want 50", a.Balance)
	}
	if got := balance(t, store, workerKey); got != 50 {
		t.Errorf("authority wallet = %d, want 50", got)
	}

	// Amount zero drains the rest.
	a, err = engine.Withdraw(context.Background(), WithdrawParams{Agent: worker.Address, Amount: 0, Signer: workerKey})
	if err != nil {
		t.Fatalf("withdraw all: %v", err)
	}
	if a.Balance != 0 {
		t.Errorf("custodial balance = %d, want 0", a.Balance)
	}
	// The wallet now holds the full job amount: 10 split + 90 withdrawn.
	if got := balance(t, store, workerKey); got != 100 {
		t.Errorf("authority wallet = %d, want 100", got)
	}

	// Nothing left.
	if _, err := engine.Withdraw(context.Background(), WithdrawParams{Agent: worker.Address, Signer: workerKey}); !errors.Is(err, ErrNothingToWithdraw) {
		t.Errorf("got %v, want ErrNothingToWithdraw", err)
	}

	// Overdraw.
	if _, err := engine.Withdraw(context.Background(), WithdrawParams{Agent: worker.Address, Amount: 1000, Signer: workerKey}); !errors.Is(err, ErrNothingToWithdraw) && !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("overdraw: got %v", err)
	}
}

func TestSettlementConservation(t *testing.T) {
	// Through the full flow, custodial balance plus the creator-share
	// wallet credit must equal the locked amount for every legal
	// split, including ones that do not divide 101 evenly.
	const amount = 101
	splits := []uint16{0, 1, 3333, 4999, 5000}

	for _, split := range splits {
		engine, store, _ := newTestEngine()
		requesterKey := addr(1)
		workerKey := addr(2)
		requester := register(t, engine, "alice", requesterKey)
		worker := register(t, engine, "bob", workerKey)
		fund(t, store, requesterKey, amount)

		_, err := engine.ConfigureSplit(context.Background(), ConfigureSplitParams{
			Agent: worker.Address, NewSplitBps: split, Signer: workerKey,
		})
		if err != nil {
			t.Fatalf("split %d: configure: %v", split, err)
		}

		_, err = engine.CreateJob(context.Background(), CreateJobParams{
			JobID: "job-1", Amount: amount, TimeoutHours: 24,
			RequesterAgent: requester.Address, Signer: requesterKey,
		})
		if err != nil {
			t.Fatalf("split %d: create: %v", split, err)
		}
		if _, err := engine.HireAgent(context.Background(), HireAgentParams{JobID: "job-1", WorkerAgent: worker.Address, Signer: requesterKey}); err != nil {
			t.Fatalf("split %d: hire: %v", split, err)
		}
		if _, err := engine.CompleteJob(context.Background(), CompleteJobParams{JobID: "job-1", Signer: workerKey}); err != nil {
			t.Fatalf("split %d: complete: %v", split, err)
		}
		if _, err := engine.ApproveJob(context.Background(), ApproveJobParams{JobID: "job-1", AvgRatingCentis: 500, Signer: requesterKey}); err != nil {
			t.Fatalf("split %d: approve: %v", split, err)
		}

		custodial := loadAgent(t, store, worker.Address).Balance
		wallet := balance(t, store, workerKey)
		if custodial+wallet != amount {
			t.Errorf("split %d: custodial %d + wallet %d != %d", split, custodial, wallet, amount)
		}

		wantShare := amount * uint64(split) / 10000
		if wallet != wantShare {
			t.Errorf("split %d: creator wallet = %d, want %d", split, wallet, wantShare)
		}
	}
}

// --- idempotence of failure ---

func TestRejectedOperationLeavesRecordsUnchanged(t *testing.T) {
	engine, store, _ := newTestEngine()
	requester, worker, requesterKey, workerKey := setupHiredJob(t, engine, store)

	escrowAddr := DeriveEscrowAddress("job-1")
	before := [][]byte{
		store.AgentBytes(requester.Address),
		store.AgentBytes(worker.Address),
		store.EscrowBytes(escrowAddr),
	}

	// A mix of rejected operations against the in-progress job.
	_, _ = engine.ApproveJob(context.Background(), ApproveJobParams{JobID: "job-1", AvgRatingCentis: 500, Signer: requesterKey})
	_, _ = engine.CancelJob(context.Background(), CancelJobParams{JobID: "job-1", Signer: requesterKey})
	_, _ = engine.CompleteJob(context.Background(), CompleteJobParams{JobID: "job-1", Signer: requesterKey})
	_, _ = engine.HireAgent(context.Background(), HireAgentParams{JobID: "job-1", WorkerAgent: worker.Address, Signer: requesterKey})
	_, _ = engine.Withdraw(context.Background(), WithdrawParams{Agent: worker.Address, Amount: 1, Signer: workerKey})

	after := [][]byte{
		store.AgentBytes(requester.Address),
		store.AgentBytes(worker.Address),
		store.EscrowBytes(escrowAddr),
	}
	for i := range before {
		if !bytes.Equal(before[i], after[i]) {
			t.Errorf("record %d changed after rejected operations", i)
		}
	}
}

// --- events ---

func TestLifecycleEvents(t *testing.T) {
	engine, store, _ := newTestEngine()
	_, _, requesterKey, workerKey := setupHiredJob(t, engine, store)
	if _, err := engine.CompleteJob(context.Background(), CompleteJobParams{JobID: "job-1", Signer: workerKey}); err != nil {
		t.Fatal(err)
	}
	if _, err := engine.ApproveJob(context.Background(), ApproveJobParams{JobID: "job-1", AvgRatingCentis: 500, Signer: requesterKey}); err != nil {
		t.Fatal(err)
	}

	var types []EventType
	for _, ev := range store.DrainEvents() {
		types = append(types, ev.Type)
	}
	want := []EventType{
		EventAgentRegistered, EventAgentRegistered,
		EventJobCreated, EventJobHired, EventJobCompleted, EventJobApproved,
	}
	if len(types) != len(want) {
		t.Fatalf("event types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, types[i], want[i])
		}
	}
}
