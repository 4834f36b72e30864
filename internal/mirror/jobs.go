package mirror

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentlink/agentlink/internal/ledger"
)

// ErrNotFound is returned when a mirror row does not exist.
var ErrNotFound = errors.New("not found")

// JobStore provides database operations for job listings.
type JobStore struct {
	pool *pgxpool.Pool
}

// NewJobStore creates a job store backed by the given connection pool.
func NewJobStore(pool *pgxpool.Pool) *JobStore {
	return &JobStore{pool: pool}
}

const jobColumns = `job_id, title, description, requirements, payment, timeout_hours,
	 status, requester, worker, auto_hire, min_reputation, require_verified,
	 min_jobs, created_at, updated_at`

func scanJob(row pgx.Row) (*Job, error) {
	j := &Job{}
	var requester []byte
	var worker []byte
	err := row.Scan(
		&j.JobID, &j.Title, &j.Description, &j.Requirements, &j.Payment,
		&j.TimeoutHours, &j.Status, &requester, &worker,
		&j.Hire.AutoHire, &j.Hire.MinReputation, &j.Hire.RequireVerified,
		&j.Hire.MinJobs, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	copy(j.Requester[:], requester)
	if len(worker) > 0 {
		var w ledger.Address
		copy(w[:], worker)
		j.Worker = &w
	}
	return j, nil
}

// Create inserts a listing for a job the ledger has just opened.
func (s *JobStore) Create(ctx context.Context, in CreateJobInput, esc *ledger.Escrow) (*Job, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO jobs (job_id, title, description, requirements, payment,
		   timeout_hours, status, requester, auto_hire, min_reputation,
		   require_verified, min_jobs)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING `+jobColumns,
		in.JobID, in.Title, in.Description, in.Requirements, int64(esc.Amount),
		int16(esc.TimeoutHours), esc.Status.String(), esc.Requester[:],
		in.Hire.AutoHire, int32(in.Hire.MinReputation), in.Hire.RequireVerified,
		int64(in.Hire.MinJobs),
	)
	j, err := scanJob(row)
	if err != nil {
		return nil, fmt.Errorf("creating job listing: %w", err)
	}
	return j, nil
}

// GetByID retrieves a job listing by its job id.
func (s *JobStore) GetByID(ctx context.Context, jobID string) (*Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE job_id = $1`, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting job by id: %w", err)
	}
	return j, nil
}

// List returns a page of jobs ordered by created_at DESC, job_id DESC
// using cursor-based pagination. It returns the jobs, the next cursor
// (empty if no more results), and any error.
func (s *JobStore) List(ctx context.Context, params JobListParams) ([]*Job, string, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = 20
	}

	where := []string{"TRUE"}
	args := []any{}
	argIdx := 1

	if params.Status != "" {
		where = append(where, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, params.Status)
		argIdx++
	}
	if params.Query != "" {
		where = append(where, fmt.Sprintf("(title ILIKE $%d OR description ILIKE $%d)", argIdx, argIdx))
		args = append(args, "%"+params.Query+"%")
		argIdx++
	}
	if params.Cursor != "" {
		cursorTime, cursorID, cerr := decodeCursor(params.Cursor)
		if cerr != nil {
			return nil, "", fmt.Errorf("invalid cursor: %w", cerr)
		}
		where = append(where, fmt.Sprintf("(created_at, job_id) < ($%d, $%d)", argIdx, argIdx+1))
		args = append(args, cursorTime, cursorID)
		argIdx += 2
	}

	args = append(args, limit+1)
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE `+strings.Join(where, " AND ")+`
		 ORDER BY created_at DESC, job_id DESC
		 LIMIT $`+fmt.Sprint(argIdx),
		args...,
	)
	if err != nil {
		return nil, "", fmt.Errorf("listing jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, "", fmt.Errorf("scanning job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("iterating job rows: %w", err)
	}

	var nextCursor string
	if len(jobs) > limit {
		last := jobs[limit-1]
		nextCursor = encodeCursor(last.CreatedAt, last.JobID)
		jobs = jobs[:limit]
	}
	return jobs, nextCursor, nil
}

// ApplyLedgerResult copies the authoritative status, worker, and
// remaining payment from an escrow record onto the listing.
func (s *JobStore) ApplyLedgerResult(ctx context.Context, esc *ledger.Escrow) error {
	var worker []byte
	if !esc.Worker.IsZero() {
		worker = esc.Worker[:]
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs
		 SET status = $2, worker = $3, payment = $4, updated_at = now()
		 WHERE job_id = $1`,
		esc.JobID, esc.Status.String(), worker, int64(esc.Amount),
	)
	if err != nil {
		return fmt.Errorf("updating job from ledger result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// encodeCursor produces a base64 string from a created_at timestamp and id.
func encodeCursor(createdAt time.Time, id string) string {
	raw := createdAt.Format(time.RFC3339Nano) + "|" + id
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

// decodeCursor parses a base64 cursor back into its created_at and id parts.
func decodeCursor(cursor string) (time.Time, string, error) {
	data, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("decoding cursor base64: %w", err)
	}

	parts := strings.SplitN(string(data), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, "", fmt.Errorf("invalid cursor format")
	}

	t, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, "", fmt.Errorf("parsing cursor time: %w", err)
	}

	return t, parts[1], nil
}
