// Package pgstore implements the ledger account store on Postgres.
// Records are stored in their canonical CBOR encoding; each Update is
// one database transaction with row locks on every record it reads,
// so concurrent instructions against the same accounts serialize.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentlink/agentlink/internal/ledger"
)

// Store is the Postgres-backed AccountStore.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a store backed by the given connection pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Update implements ledger.AccountStore. The update function runs
// inside a single transaction; reads take FOR UPDATE locks, and any
// error from fn rolls everything back.
func (s *Store) Update(ctx context.Context, fn func(tx ledger.AccountTx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning ledger transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{ctx: ctx, tx: tx, forUpdate: true}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing ledger transaction: %w", err)
	}
	return nil
}

// View implements ledger.AccountStore.
func (s *Store) View(ctx context.Context, fn func(v ledger.AccountView) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning ledger read transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{ctx: ctx, tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type pgTx struct {
	ctx       context.Context
	tx        pgx.Tx
	forUpdate bool
}

func (t *pgTx) lockClause() string {
	if t.forUpdate {
		return " FOR UPDATE"
	}
	return ""
}

func (t *pgTx) Agent(addr ledger.Address) (*ledger.Agent, error) {
	var data []byte
	err := t.tx.QueryRow(t.ctx,
		`SELECT data FROM ledger_agents WHERE address = $1`+t.lockClause(),
		addr[:],
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading agent record: %w", err)
	}
	a := &ledger.Agent{}
	if err := ledger.UnmarshalRecord(data, a); err != nil {
		return nil, fmt.Errorf("decoding agent record: %w", err)
	}
	return a, nil
}

func (t *pgTx) Escrow(addr ledger.Address) (*ledger.Escrow, error) {
	var data []byte
	err := t.tx.QueryRow(t.ctx,
		`SELECT data FROM ledger_escrows WHERE address = $1`+t.lockClause(),
		addr[:],
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading escrow record: %w", err)
	}
	e := &ledger.Escrow{}
	if err := ledger.UnmarshalRecord(data, e); err != nil {
		return nil, fmt.Errorf("decoding escrow record: %w", err)
	}
	return e, nil
}

func (t *pgTx) Balance(addr ledger.Address) (uint64, error) {
	var balance int64
	err := t.tx.QueryRow(t.ctx,
		`SELECT balance FROM ledger_balances WHERE address = $1`+t.lockClause(),
		addr[:],
	).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("loading balance: %w", err)
	}
	return uint64(balance), nil
}

func (t *pgTx) CreateAgent(a *ledger.Agent) error {
	data, err := ledger.MarshalRecord(a)
	if err != nil {
		return fmt.Errorf("encoding agent record: %w", err)
	}
	tag, err := t.tx.Exec(t.ctx,
		`INSERT INTO ledger_agents (address, data) VALUES ($1, $2)
		 ON CONFLICT (address) DO NOTHING`,
		a.Address[:], data,
	)
	if err != nil {
		return fmt.Errorf("inserting agent record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrDuplicateAgent
	}
	return nil
}

func (t *pgTx) CreateEscrow(e *ledger.Escrow) error {
	data, err := ledger.MarshalRecord(e)
	if err != nil {
		return fmt.Errorf("encoding escrow record: %w", err)
	}
	tag, err := t.tx.Exec(t.ctx,
		`INSERT INTO ledger_escrows (address, data) VALUES ($1, $2)
		 ON CONFLICT (address) DO NOTHING`,
		e.Address[:], data,
	)
	if err != nil {
		return fmt.Errorf("inserting escrow record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrDuplicateJobID
	}
	return nil
}

func (t *pgTx) PutAgent(a *ledger.Agent) error {
	data, err := ledger.MarshalRecord(a)
	if err != nil {
		return fmt.Errorf("encoding agent record: %w", err)
	}
	tag, err := t.tx.Exec(t.ctx,
		`UPDATE ledger_agents SET data = $2 WHERE address = $1`,
		a.Address[:], data,
	)
	if err != nil {
		return fmt.Errorf("updating agent record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

func (t *pgTx) PutEscrow(e *ledger.Escrow) error {
	data, err := ledger.MarshalRecord(e)
	if err != nil {
		return fmt.Errorf("encoding escrow record: %w", err)
	}
	tag, err := t.tx.Exec(t.ctx,
		`UPDATE ledger_escrows SET data = $2 WHERE address = $1`,
		e.Address[:], data,
	)
	if err != nil {
		return fmt.Errorf("updating escrow record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

func (t *pgTx) SetBalance(addr ledger.Address, balance uint64) error {
	_, err := t.tx.Exec(t.ctx,
		`INSERT INTO ledger_balances (address, balance) VALUES ($1, $2)
		 ON CONFLICT (address) DO UPDATE SET balance = EXCLUDED.balance`,
		addr[:], int64(balance),
	)
	if err != nil {
		return fmt.Errorf("setting balance: %w", err)
	}
	return nil
}

func (t *pgTx) AppendEvent(ev ledger.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event payload: %w", err)
	}
	_, err = t.tx.Exec(t.ctx,
		`INSERT INTO ledger_events (event_type, payload, created_at)
		 VALUES ($1, $2, $3)`,
		string(ev.Type), payload, ev.At,
	)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}
	return nil
}

// OutboxEvent is a committed ledger event awaiting webhook delivery.
type OutboxEvent struct {
	ID        int64
	Type      ledger.EventType
	Payload   []byte
	CreatedAt time.Time
	Attempts  int
}

// NextUndelivered returns up to limit events that are due for
// delivery, oldest first. Events whose next attempt time lies in the
// future are skipped.
func (s *Store) NextUndelivered(ctx context.Context, limit int) ([]OutboxEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, event_type, payload, created_at, attempts
		 FROM ledger_events
		 WHERE delivered_at IS NULL AND abandoned_at IS NULL AND next_attempt_at <= now()
		 ORDER BY id
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing undelivered events: %w", err)
	}
	defer rows.Close()

	var events []OutboxEvent
	for rows.Next() {
		var ev OutboxEvent
		var typ string
		if err := rows.Scan(&ev.ID, &typ, &ev.Payload, &ev.CreatedAt, &ev.Attempts); err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}
		ev.Type = ledger.EventType(typ)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating event rows: %w", err)
	}
	return events, nil
}

// MarkDelivered records a successful delivery.
func (s *Store) MarkDelivered(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE ledger_events SET delivered_at = now() WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("marking event delivered: %w", err)
	}
	return nil
}

// MarkFailed records a failed delivery attempt and schedules the next
// one after the given backoff.
func (s *Store) MarkFailed(ctx context.Context, id int64, backoff time.Duration) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE ledger_events
		 SET attempts = attempts + 1, next_attempt_at = now() + $2
		 WHERE id = $1`,
		id, backoff,
	)
	if err != nil {
		return fmt.Errorf("recording failed delivery: %w", err)
	}
	return nil
}

// MarkAbandoned takes an event out of the delivery queue after its
// attempts are exhausted, without claiming it was delivered.
func (s *Store) MarkAbandoned(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE ledger_events
		 SET attempts = attempts + 1, abandoned_at = now()
		 WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("marking event abandoned: %w", err)
	}
	return nil
}
