package mirror

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentlink/agentlink/internal/ledger"
)

// ProfileStore provides database operations for agent profiles.
type ProfileStore struct {
	pool *pgxpool.Pool
}

// NewProfileStore creates a profile store backed by the given pool.
func NewProfileStore(pool *pgxpool.Pool) *ProfileStore {
	return &ProfileStore{pool: pool}
}

const profileColumns = `address, name, creator, description, capabilities,
	 webhook_url, api_key_prefix, verified, successful_jobs, reputation_score,
	 created_at, updated_at`

func scanProfile(row pgx.Row) (*Profile, error) {
	p := &Profile{}
	var address, creator []byte
	var jobs int64
	var reputation int32
	err := row.Scan(
		&address, &p.Name, &creator, &p.Description, &p.Capabilities,
		&p.WebhookURL, &p.APIKeyPrefix, &p.Verified, &jobs, &reputation,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	copy(p.Address[:], address)
	copy(p.Creator[:], creator)
	p.SuccessfulJobs = uint32(jobs)
	p.ReputationScore = uint16(reputation)
	return p, nil
}

// Create inserts a profile for a freshly registered agent.
func (s *ProfileStore) Create(ctx context.Context, in CreateProfileInput) (*Profile, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO agent_profiles (address, name, creator, description,
		   capabilities, webhook_url, webhook_secret_enc, api_key_hash, api_key_prefix)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING `+profileColumns,
		in.Address[:], in.Name, in.Creator[:], in.Description,
		in.Capabilities, in.WebhookURL, in.WebhookSecretEnc,
		in.APIKeyHash, in.APIKeyPrefix,
	)
	p, err := scanProfile(row)
	if err != nil {
		return nil, fmt.Errorf("creating agent profile: %w", err)
	}
	return p, nil
}

// GetByAddress retrieves a profile by its ledger address.
func (s *ProfileStore) GetByAddress(ctx context.Context, addr ledger.Address) (*Profile, error) {
	p, err := scanProfile(s.pool.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM agent_profiles WHERE address = $1`,
		addr[:]))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting profile by address: %w", err)
	}
	return p, nil
}

// GetByKeyHash retrieves a profile by its API key hash, used for
// authentication.
func (s *ProfileStore) GetByKeyHash(ctx context.Context, hash string) (*Profile, error) {
	p, err := scanProfile(s.pool.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM agent_profiles WHERE api_key_hash = $1`,
		hash))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting profile by key hash: %w", err)
	}
	return p, nil
}

// List returns a page of profiles ordered by created_at DESC,
// address DESC with cursor-based pagination.
func (s *ProfileStore) List(ctx context.Context, params ProfileListParams) ([]*Profile, string, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = 20
	}

	where := []string{"TRUE"}
	args := []any{}
	argIdx := 1

	if params.VerifiedOnly {
		where = append(where, "verified")
	}
	if params.Capability != "" {
		where = append(where, fmt.Sprintf("$%d = ANY(capabilities)", argIdx))
		args = append(args, params.Capability)
		argIdx++
	}
	if params.Cursor != "" {
		cursorTime, cursorID, cerr := decodeCursor(params.Cursor)
		if cerr != nil {
			return nil, "", fmt.Errorf("invalid cursor: %w", cerr)
		}
		addr, aerr := ledger.ParseAddress(cursorID)
		if aerr != nil {
			return nil, "", fmt.Errorf("invalid cursor: %w", aerr)
		}
		where = append(where, fmt.Sprintf("(created_at, address) < ($%d, $%d)", argIdx, argIdx+1))
		args = append(args, cursorTime, addr[:])
		argIdx += 2
	}

	args = append(args, limit+1)
	rows, err := s.pool.Query(ctx,
		`SELECT `+profileColumns+` FROM agent_profiles
		 WHERE `+strings.Join(where, " AND ")+`
		 ORDER BY created_at DESC, address DESC
		 LIMIT $`+fmt.Sprint(argIdx),
		args...,
	)
	if err != nil {
		return nil, "", fmt.Errorf("listing profiles: %w", err)
	}
	defer rows.Close()

	var profiles []*Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, "", fmt.Errorf("scanning profile row: %w", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("iterating profile rows: %w", err)
	}

	var nextCursor string
	if len(profiles) > limit {
		last := profiles[limit-1]
		nextCursor = encodeCursor(last.CreatedAt, last.Address.String())
		profiles = profiles[:limit]
	}
	return profiles, nextCursor, nil
}

// Update performs a partial update on the profile at addr and returns
// the updated record.
func (s *ProfileStore) Update(ctx context.Context, addr ledger.Address, in UpdateProfileInput) (*Profile, error) {
	var setClauses []string
	var args []any
	argIdx := 1

	if in.Description != nil {
		setClauses = append(setClauses, fmt.Sprintf("description = $%d", argIdx))
		args = append(args, *in.Description)
		argIdx++
	}
	if in.Capabilities != nil {
		setClauses = append(setClauses, fmt.Sprintf("capabilities = $%d", argIdx))
		args = append(args, *in.Capabilities)
		argIdx++
	}
	if in.WebhookURL != nil {
		setClauses = append(setClauses, fmt.Sprintf("webhook_url = $%d", argIdx))
		args = append(args, *in.WebhookURL)
		argIdx++
	}
	if len(setClauses) == 0 {
		return s.GetByAddress(ctx, addr)
	}

	setClauses = append(setClauses, "updated_at = now()")
	args = append(args, addr[:])
	p, err := scanProfile(s.pool.QueryRow(ctx,
		`UPDATE agent_profiles SET `+strings.Join(setClauses, ", ")+
			fmt.Sprintf(` WHERE address = $%d RETURNING `, argIdx)+profileColumns,
		args...,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("updating profile: %w", err)
	}
	return p, nil
}

// ApplyLedgerResult copies the authoritative counters from an agent
// record onto the profile.
func (s *ProfileStore) ApplyLedgerResult(ctx context.Context, a *ledger.Agent) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE agent_profiles
		 SET verified = $2, successful_jobs = $3, reputation_score = $4,
		     updated_at = now()
		 WHERE address = $1`,
		a.Address[:], a.Verified, int64(a.SuccessfulJobs), int32(a.ReputationScore),
	)
	if err != nil {
		return fmt.Errorf("updating profile from ledger result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Webhook returns the webhook endpoint registered for addr together
// with the encrypted signing secret. Both are empty when the agent has
// no webhook.
func (s *ProfileStore) Webhook(ctx context.Context, addr ledger.Address) (url string, secretEnc []byte, err error) {
	err = s.pool.QueryRow(ctx,
		`SELECT webhook_url, webhook_secret_enc FROM agent_profiles WHERE address = $1`,
		addr[:],
	).Scan(&url, &secretEnc)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil, nil
	}
	if err != nil {
		return "", nil, fmt.Errorf("getting webhook: %w", err)
	}
	return url, secretEnc, nil
}

// SetWebhook stores the webhook endpoint and the encrypted signing
// secret for addr.
func (s *ProfileStore) SetWebhook(ctx context.Context, addr ledger.Address, url string, secretEnc []byte) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE agent_profiles
		 SET webhook_url = $2, webhook_secret_enc = $3, updated_at = now()
		 WHERE address = $1`,
		addr[:], url, secretEnc,
	)
	if err != nil {
		return fmt.Errorf("setting webhook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetAPIKey replaces the stored API key hash and prefix for addr.
func (s *ProfileStore) SetAPIKey(ctx context.Context, addr ledger.Address, hash, prefix string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE agent_profiles
		 SET api_key_hash = $2, api_key_prefix = $3, updated_at = now()
		 WHERE address = $1`,
		addr[:], hash, prefix,
	)
	if err != nil {
		return fmt.Errorf("setting api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
