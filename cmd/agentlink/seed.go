package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/agentlink/agentlink/internal/auth"
	"github.com/agentlink/agentlink/internal/config"
	"github.com/agentlink/agentlink/internal/ledger"
	"github.com/agentlink/agentlink/internal/ledger/pgstore"
	"github.com/agentlink/agentlink/internal/mirror"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/zeebo/blake3"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed two demo agents and a funded job",
	RunE:  runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

type demoAgent struct {
	name   string
	priv   ed25519.PrivateKey
	wallet ledger.Address
	agent  *ledger.Agent
	apiKey string
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	store := pgstore.New(pool)
	engine := ledger.NewEngine(store)
	profiles := mirror.NewProfileStore(pool)
	jobs := mirror.NewJobStore(pool)

	// Check if seed has already run.
	existing, _, err := profiles.List(ctx, mirror.ProfileListParams{Limit: 1})
	if err != nil {
		return fmt.Errorf("checking existing profiles: %w", err)
	}
	if len(existing) > 0 {
		slog.Info("demo data already exists, skipping seed")
		return nil
	}

	requester, err := seedAgent(ctx, engine, store, profiles, "demo-requester",
		"Demo requester that posts jobs.", []string{"orchestration"}, 10000)
	if err != nil {
		return err
	}
	worker, err := seedAgent(ctx, engine, store, profiles, "demo-worker",
		"Demo worker that takes jobs.", []string{"summarization", "translation"}, 1000)
	if err != nil {
		return err
	}

	jobID := uuid.NewString()
	description := "Summarize the attached research paper in 500 words."
	esc, err := engine.CreateJob(ctx, ledger.CreateJobParams{
		JobID:          jobID,
		JobHash:        blake3.Sum256([]byte(description)),
		Amount:         500,
		TimeoutHours:   24,
		RequesterAgent: requester.agent.Address,
		Signer:         requester.wallet,
	})
	if err != nil {
		return fmt.Errorf("creating demo job: %w", err)
	}

	job, err := jobs.Create(ctx, mirror.CreateJobInput{
		JobID:       jobID,
		Title:       "Summarize research paper",
		Description: description,
		Requirements: []string{
			"english",
			"500 word limit",
		},
		Hire: mirror.HireSettings{AutoHire: false},
	}, esc)
	if err != nil {
		return fmt.Errorf("creating demo listing: %w", err)
	}

	slog.Info("created demo job", "job_id", job.JobID, "amount", esc.Amount)

	fmt.Printf("\n=== Demo Data Seeded ===\n")
	for _, a := range []*demoAgent{requester, worker} {
		fmt.Printf("\nAgent:        %s\n", a.name)
		fmt.Printf("Address:      %s\n", a.agent.Address)
		fmt.Printf("Wallet:       %s\n", a.wallet)
		fmt.Printf("Signing seed: %s\n", hex.EncodeToString(a.priv.Seed()))
		fmt.Printf("API key:      %s\n", a.apiKey)
	}
	fmt.Printf("\nTry it:\n")
	fmt.Printf("  curl http://localhost:8080/api/v1/jobs?q=summarize\n")
	fmt.Printf("  curl http://localhost:8080/api/v1/ledger/escrows/%s\n", jobID)
	fmt.Printf("  curl -H 'Authorization: Bearer %s' http://localhost:8080/api/v1/agents/me\n", worker.apiKey)

	return nil
}

func seedAgent(ctx context.Context, engine *ledger.Engine, store ledger.AccountStore, profiles *mirror.ProfileStore, name, description string, capabilities []string, funds uint64) (*demoAgent, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating key for %s: %w", name, err)
	}
	wallet, err := ledger.SignerAddress(pub)
	if err != nil {
		return nil, err
	}

	if err := store.Update(ctx, func(tx ledger.AccountTx) error {
		return tx.SetBalance(wallet, funds)
	}); err != nil {
		return nil, fmt.Errorf("funding %s: %w", name, err)
	}

	agent, err := engine.RegisterAgent(ctx, ledger.RegisterAgentParams{
		Name:    name,
		Creator: wallet,
	})
	if err != nil {
		return nil, fmt.Errorf("registering %s: %w", name, err)
	}

	apiKey, plaintext, err := auth.GenerateAPIKey()
	if err != nil {
		return nil, fmt.Errorf("generating api key for %s: %w", name, err)
	}

	_, err = profiles.Create(ctx, mirror.CreateProfileInput{
		Address:      agent.Address,
		Name:         name,
		Creator:      wallet,
		Description:  description,
		Capabilities: capabilities,
		APIKeyHash:   apiKey.Hash,
		APIKeyPrefix: apiKey.Prefix,
	})
	if err != nil {
		return nil, fmt.Errorf("creating profile for %s: %w", name, err)
	}

	slog.Info("created demo agent", "name", name, "address", agent.Address.String())

	return &demoAgent{
		name:   name,
		priv:   priv,
		wallet: wallet,
		agent:  agent,
		apiKey: plaintext,
	}, nil
}
