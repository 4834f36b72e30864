package mirror

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentlink/agentlink/internal/ledger"
)

// Review validation errors.
var (
	ErrRatingOutOfRange = errors.New("rating must be between 1 and 5")
	ErrDuplicateReview  = errors.New("reviewer has already rated this job")
)

// ReviewStore provides database operations for reviews.
type ReviewStore struct {
	pool *pgxpool.Pool
}

// NewReviewStore creates a review store backed by the given pool.
func NewReviewStore(pool *pgxpool.Pool) *ReviewStore {
	return &ReviewStore{pool: pool}
}

const reviewColumns = `id, job_id, from_agent, to_agent, rating, comment, created_at`

func scanReview(row pgx.Row) (*Review, error) {
	r := &Review{}
	var from, to []byte
	if err := row.Scan(&r.ID, &r.JobID, &from, &to, &r.Rating, &r.Comment, &r.CreatedAt); err != nil {
		return nil, err
	}
	copy(r.From[:], from)
	copy(r.To[:], to)
	return r, nil
}

// Create records a review. One review per (job, reviewer).
func (s *ReviewStore) Create(ctx context.Context, in CreateReviewInput) (*Review, error) {
	if in.Rating < 1 || in.Rating > 5 {
		return nil, ErrRatingOutOfRange
	}
	row := s.pool.QueryRow(ctx,
		`INSERT INTO reviews (job_id, from_agent, to_agent, rating, comment)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (job_id, from_agent) DO NOTHING
		 RETURNING `+reviewColumns,
		in.JobID, in.From[:], in.To[:], in.Rating, in.Comment,
	)
	r, err := scanReview(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDuplicateReview
	}
	if err != nil {
		return nil, fmt.Errorf("creating review: %w", err)
	}
	return r, nil
}

// ListByAgent returns the reviews received by an agent, newest first.
func (s *ReviewStore) ListByAgent(ctx context.Context, addr ledger.Address, limit int) ([]*Review, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+reviewColumns+` FROM reviews
		 WHERE to_agent = $1 ORDER BY created_at DESC, id DESC LIMIT $2`,
		addr[:], limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing reviews: %w", err)
	}
	defer rows.Close()

	var reviews []*Review
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning review row: %w", err)
		}
		reviews = append(reviews, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating review rows: %w", err)
	}
	return reviews, nil
}

// ListByJob returns the reviews left on a job, in creation order. At
// most two exist, one per party.
func (s *ReviewStore) ListByJob(ctx context.Context, jobID string) ([]*Review, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+reviewColumns+` FROM reviews
		 WHERE job_id = $1 ORDER BY created_at, id`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing job reviews: %w", err)
	}
	defer rows.Close()

	var reviews []*Review
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning review row: %w", err)
		}
		reviews = append(reviews, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating review rows: %w", err)
	}
	return reviews, nil
}

// AverageRatingCentis returns the agent's mean received rating in
// hundredths of a star, the unit the ledger's reputation formula
// takes. An agent with no reviews averages zero.
func (s *ReviewStore) AverageRatingCentis(ctx context.Context, addr ledger.Address) (uint32, error) {
	var centis *int64
	err := s.pool.QueryRow(ctx,
		`SELECT ROUND(AVG(rating) * 100)::bigint FROM reviews WHERE to_agent = $1`,
		addr[:],
	).Scan(&centis)
	if err != nil {
		return 0, fmt.Errorf("averaging ratings: %w", err)
	}
	if centis == nil {
		return 0, nil
	}
	return uint32(*centis), nil
}
