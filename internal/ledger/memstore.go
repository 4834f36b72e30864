package ledger

import (
	"context"
	"fmt"
	"sync"
)

// MemStore is the in-memory AccountStore. It backs the engine's tests
// and single-node development mode. Records are held in their
// canonical CBOR encoding, the same bytes the Postgres store persists,
// so byte-level invariants hold identically in both.
type MemStore struct {
	mu       sync.Mutex
	agents   map[Address][]byte
	escrows  map[Address][]byte
	balances map[Address]uint64

	events  []Event
	eventCh chan Event
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		agents:   make(map[Address][]byte),
		escrows:  make(map[Address][]byte),
		balances: make(map[Address]uint64),
		eventCh:  make(chan Event, 256),
	}
}

// Events returns the channel onto which committed events are pushed.
// If nobody drains it, events are dropped rather than blocking a
// commit.
func (m *MemStore) Events() <-chan Event {
	return m.eventCh
}

// DrainEvents returns and clears all buffered committed events.
func (m *MemStore) DrainEvents() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	evs := m.events
	m.events = nil
	return evs
}

// Update implements AccountStore. Writes are staged in the transaction
// and merged only if fn returns nil.
func (m *MemStore) Update(ctx context.Context, fn func(tx AccountTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{
		store:    m,
		agents:   make(map[Address][]byte),
		escrows:  make(map[Address][]byte),
		balances: make(map[Address]uint64),
	}
	if err := fn(tx); err != nil {
		return err
	}

	for addr, data := range tx.agents {
		m.agents[addr] = data
	}
	for addr, data := range tx.escrows {
		m.escrows[addr] = data
	}
	for addr, bal := range tx.balances {
		m.balances[addr] = bal
	}
	m.events = append(m.events, tx.events...)
	for _, ev := range tx.events {
		select {
		case m.eventCh <- ev:
		default:
		}
	}
	return nil
}

// View implements AccountStore.
func (m *MemStore) View(ctx context.Context, fn func(v AccountView) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&memTx{store: m})
}

// AgentBytes returns the stored canonical encoding of the agent record
// at addr, for byte-level assertions in tests.
func (m *MemStore) AgentBytes(addr Address) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.agents[addr]
	if !ok {
		return nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out
}

// EscrowBytes returns the stored canonical encoding of the escrow
// record at addr.
func (m *MemStore) EscrowBytes(addr Address) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.escrows[addr]
	if !ok {
		return nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out
}

// memTx stages writes for one Update call. With a nil write set it
// doubles as the read-only view.
type memTx struct {
	store    *MemStore
	agents   map[Address][]byte
	escrows  map[Address][]byte
	balances map[Address]uint64
	events   []Event
}

func (t *memTx) agentBytes(addr Address) ([]byte, bool) {
	if t.agents != nil {
		if data, ok := t.agents[addr]; ok {
			return data, true
		}
	}
	data, ok := t.store.agents[addr]
	return data, ok
}

func (t *memTx) escrowBytes(addr Address) ([]byte, bool) {
	if t.escrows != nil {
		if data, ok := t.escrows[addr]; ok {
			return data, true
		}
	}
	data, ok := t.store.escrows[addr]
	return data, ok
}

func (t *memTx) Agent(addr Address) (*Agent, error) {
	data, ok := t.agentBytes(addr)
	if !ok {
		return nil, ErrNotFound
	}
	a := &Agent{}
	if err := UnmarshalRecord(data, a); err != nil {
		return nil, fmt.Errorf("decoding agent record: %w", err)
	}
	return a, nil
}

func (t *memTx) Escrow(addr Address) (*Escrow, error) {
	data, ok := t.escrowBytes(addr)
	if !ok {
		return nil, ErrNotFound
	}
	e := &Escrow{}
	if err := UnmarshalRecord(data, e); err != nil {
		return nil, fmt.Errorf("decoding escrow record: %w", err)
	}
	return e, nil
}

func (t *memTx) Balance(addr Address) (uint64, error) {
	if t.balances != nil {
		if bal, ok := t.balances[addr]; ok {
			return bal, nil
		}
	}
	return t.store.balances[addr], nil
}

func (t *memTx) CreateAgent(a *Agent) error {
	if _, exists := t.agentBytes(a.Address); exists {
		return ErrDuplicateAgent
	}
	return t.putAgent(a)
}

func (t *memTx) CreateEscrow(e *Escrow) error {
	if _, exists := t.escrowBytes(e.Address); exists {
		return ErrDuplicateJobID
	}
	return t.putEscrow(e)
}

func (t *memTx) PutAgent(a *Agent) error {
	if _, exists := t.agentBytes(a.Address); !exists {
		return ErrNotFound
	}
	return t.putAgent(a)
}

func (t *memTx) PutEscrow(e *Escrow) error {
	if _, exists := t.escrowBytes(e.Address); !exists {
		return ErrNotFound
	}
	return t.putEscrow(e)
}

func (t *memTx) putAgent(a *Agent) error {
	data, err := MarshalRecord(a)
	if err != nil {
		return fmt.Errorf("encoding agent record: %w", err)
	}
	t.agents[a.Address] = data
	return nil
}

func (t *memTx) putEscrow(e *Escrow) error {
	data, err := MarshalRecord(e)
	if err != nil {
		return fmt.Errorf("encoding escrow record: %w", err)
	}
	t.escrows[e.Address] = data
	return nil
}

func (t *memTx) SetBalance(addr Address, balance uint64) error {
	t.balances[addr] = balance
	return nil
}

func (t *memTx) AppendEvent(ev Event) error {
	t.events = append(t.events, ev)
	return nil
}
