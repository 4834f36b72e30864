package ledger

import "context"

// AccountView provides read access to ledger accounts. Loads return
// copies: mutating a loaded record has no effect until it is written
// back through an AccountTx.
type AccountView interface {
	// Agent loads the agent record at addr, or ErrNotFound.
	Agent(addr Address) (*Agent, error)

	// Escrow loads the escrow record at addr, or ErrNotFound.
	Escrow(addr Address) (*Escrow, error)

	// Balance returns the wallet balance for addr. Wallets are
	// implicit: an address that has never been credited reads as
	// zero.
	Balance(addr Address) (uint64, error)
}

// AccountTx is the mutation surface handed to an instruction. Writes
// are staged: nothing becomes visible until the update function
// returns nil, and everything is discarded if it returns an error.
// That staging is what makes partial application structurally
// impossible.
type AccountTx interface {
	AccountView

	// CreateAgent writes a new agent record. Fails with
	// ErrDuplicateAgent if the derived address is already
	// initialized.
	CreateAgent(a *Agent) error

	// CreateEscrow writes a new escrow record. Fails with
	// ErrDuplicateJobID if the derived address is already
	// initialized.
	CreateEscrow(e *Escrow) error

	// PutAgent replaces an existing agent record.
	PutAgent(a *Agent) error

	// PutEscrow replaces an existing escrow record.
	PutEscrow(e *Escrow) error

	// SetBalance sets the wallet balance for addr.
	SetBalance(addr Address, balance uint64) error

	// AppendEvent stages a notification event in the same commit
	// unit as the record writes.
	AppendEvent(ev Event) error
}

// AccountStore is the persistence boundary of the ledger. The
// in-memory implementation backs tests and single-node development;
// the pgstore implementation maps Update to one Postgres transaction
// with row locks on every touched record.
type AccountStore interface {
	// Update runs fn with exclusive access to the records it
	// touches and commits the staged writes if fn returns nil.
	// On error, no write is applied and the error is returned
	// unchanged.
	Update(ctx context.Context, fn func(tx AccountTx) error) error

	// View runs fn with a read-only snapshot.
	View(ctx context.Context, fn func(v AccountView) error) error
}
