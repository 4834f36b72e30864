package mirror

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentlink/agentlink/internal/ledger"
)

// ErrDuplicateApplication is returned when an agent applies to the
// same job twice.
var ErrDuplicateApplication = errors.New("agent has already applied to this job")

// ApplicationStore provides database operations for job applications.
type ApplicationStore struct {
	pool *pgxpool.Pool
}

// NewApplicationStore creates an application store backed by the
// given pool.
func NewApplicationStore(pool *pgxpool.Pool) *ApplicationStore {
	return &ApplicationStore{pool: pool}
}

const applicationColumns = `id, job_id, agent, pitch, status, created_at`

func scanApplication(row pgx.Row) (*Application, error) {
	a := &Application{}
	var agent []byte
	if err := row.Scan(&a.ID, &a.JobID, &agent, &a.Pitch, &a.Status, &a.CreatedAt); err != nil {
		return nil, err
	}
	copy(a.Agent[:], agent)
	return a, nil
}

// Create records an application. One application per (job, agent).
func (s *ApplicationStore) Create(ctx context.Context, jobID string, agent ledger.Address, pitch string) (*Application, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO applications (job_id, agent, pitch, status)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (job_id, agent) DO NOTHING
		 RETURNING `+applicationColumns,
		jobID, agent[:], pitch, ApplicationPending,
	)
	a, err := scanApplication(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDuplicateApplication
	}
	if err != nil {
		return nil, fmt.Errorf("creating application: %w", err)
	}
	return a, nil
}

// GetByID retrieves an application by its id.
func (s *ApplicationStore) GetByID(ctx context.Context, id string) (*Application, error) {
	a, err := scanApplication(s.pool.QueryRow(ctx,
		`SELECT `+applicationColumns+` FROM applications WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting application by id: %w", err)
	}
	return a, nil
}

// ListByJob returns all applications for a job, oldest first.
func (s *ApplicationStore) ListByJob(ctx context.Context, jobID string) ([]*Application, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+applicationColumns+` FROM applications
		 WHERE job_id = $1 ORDER BY created_at, id`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing applications: %w", err)
	}
	defer rows.Close()

	var apps []*Application
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning application row: %w", err)
		}
		apps = append(apps, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating application rows: %w", err)
	}
	return apps, nil
}

// SetStatus moves an application to accepted or rejected.
func (s *ApplicationStore) SetStatus(ctx context.Context, id, status string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE applications SET status = $2 WHERE id = $1`,
		id, status,
	)
	if err != nil {
		return fmt.Errorf("updating application status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RejectOthers marks every pending application for the job other than
// the accepted one as rejected. Called when a worker is hired.
func (s *ApplicationStore) RejectOthers(ctx context.Context, jobID, acceptedID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE applications SET status = $3
		 WHERE job_id = $1 AND id <> $2 AND status = $4`,
		jobID, acceptedID, ApplicationRejected, ApplicationPending,
	)
	if err != nil {
		return fmt.Errorf("rejecting other applications: %w", err)
	}
	return nil
}

// QualifiesForAutoHire reports whether the applicant's mirrored
// counters satisfy the job's hire settings.
func QualifiesForAutoHire(job *Job, applicant *Profile) bool {
	if !job.Hire.AutoHire {
		return false
	}
	if job.Hire.RequireVerified && !applicant.Verified {
		return false
	}
	if applicant.ReputationScore < job.Hire.MinReputation {
		return false
	}
	return applicant.SuccessfulJobs >= job.Hire.MinJobs
}
