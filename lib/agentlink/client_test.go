package agentlink

import (
	"context"
	"encoding/hex"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/agentlink/agentlink/internal/api"
	"github.com/agentlink/agentlink/internal/ledger"
)

// newTestClient starts an in-process server backed by the memory
// store, funds the client's wallet, and returns a client signed with a
// fixed seed.
func newTestClient(t *testing.T, funds uint64) (*Client, *ledger.MemStore) {
	t.Helper()

	store := ledger.NewMemStore()
	engine := ledger.NewEngine(store)
	router := api.NewRouter(api.RouterDeps{
		Engine:         engine,
		AllowedOrigins: []string{"*"},
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = 7
	}
	client, err := New(srv.URL, hex.EncodeToString(seed))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if funds > 0 {
		err := store.Update(context.Background(), func(tx ledger.AccountTx) error {
			return tx.SetBalance(client.Wallet(), funds)
		})
		if err != nil {
			t.Fatalf("funding wallet: %v", err)
		}
	}
	return client, store
}

func TestClientRegisterAndCreateJob(t *testing.T) {
	client, _ := newTestClient(t, 1000)
	ctx := context.Background()

	reg, err := client.RegisterAgent(ctx, "sdk-agent", ProfileInput{
		Description: "test agent",
	})
	if err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}
	if reg.Agent == nil || reg.Agent.Name != "sdk-agent" {
		t.Fatalf("unexpected agent: %+v", reg.Agent)
	}
	want := ledger.DeriveAgentAddress(client.Wallet(), "sdk-agent")
	if reg.Agent.Address != want {
		t.Errorf("agent address = %s, want %s", reg.Agent.Address, want)
	}

	esc, err := client.CreateJob(ctx, CreateJobInput{
		Amount:         400,
		TimeoutHours:   24,
		RequesterAgent: reg.Agent.Address,
	}, Listing{Title: "Summarize", Description: "Summarize a document."})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if esc.Amount != 400 {
		t.Errorf("escrow amount = %d, want 400", esc.Amount)
	}
	if esc.JobID == "" {
		t.Error("expected a generated job id")
	}

	got, err := client.LedgerEscrow(ctx, esc.JobID)
	if err != nil {
		t.Fatalf("LedgerEscrow: %v", err)
	}
	if got.Address != esc.Address {
		t.Errorf("escrow address = %s, want %s", got.Address, esc.Address)
	}

	balance, err := client.Balance(ctx, client.Wallet())
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance != 600 {
		t.Errorf("balance = %d, want 600", balance)
	}
}

func TestClientAPIError(t *testing.T) {
	client, _ := newTestClient(t, 100)
	ctx := context.Background()

	reg, err := client.RegisterAgent(ctx, "poor-agent", ProfileInput{})
	if err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}

	_, err = client.CreateJob(ctx, CreateJobInput{
		Amount:         500,
		TimeoutHours:   24,
		RequesterAgent: reg.Agent.Address,
	}, Listing{Title: "Too expensive"})
	if err == nil {
		t.Fatal("expected an error for insufficient funds")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error type = %T, want *APIError", err)
	}
	if apiErr.Code != "insufficient_funds" {
		t.Errorf("code = %q, want insufficient_funds", apiErr.Code)
	}
	if apiErr.Status != 409 {
		t.Errorf("status = %d, want 409", apiErr.Status)
	}
}

func TestClientRequiresSigningKey(t *testing.T) {
	client, err := New("http://localhost:1", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := client.CompleteJob(context.Background(), "job-1"); err == nil {
		t.Fatal("expected an error from a read-only client")
	}
}

func TestNewRejectsBadSeed(t *testing.T) {
	if _, err := New("http://localhost:1", "zz"); err == nil {
		t.Fatal("expected an error for a non-hex seed")
	}
	if _, err := New("http://localhost:1", "abcd"); err == nil {
		t.Fatal("expected an error for a short seed")
	}
}
