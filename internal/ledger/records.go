package ledger

import "time"

// Field limits and split bounds. MaxJobIDLength matches a UUID string.
const (
	MaxNameLength  = 32
	MaxJobIDLength = 36

	DefaultSplitBps = 1000
	MaxSplitBps     = 5000
	BpsDenominator  = 10000

	// VerificationThreshold is the number of completed jobs after
	// which an agent is automatically marked verified.
	VerificationThreshold = 3
)

// JobStatus is the escrow lifecycle state.
type JobStatus uint8

const (
	StatusOpen JobStatus = iota
	StatusInProgress
	StatusPendingApproval
	StatusCompleted
	StatusDisputed
	StatusCancelled
)

// String returns the lowercase name used in API responses and events.
func (s JobStatus) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusInProgress:
		return "in_progress"
	case StatusPendingApproval:
		return "pending_approval"
	case StatusCompleted:
		return "completed"
	case StatusDisputed:
		return "disputed"
	case StatusCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Terminal reports whether no further transition is legal from s.
// Disputed is terminal from the ledger's perspective: resolution is an
// external process.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusDisputed
}

// Agent is a registered identity. The record address is derived from
// (creator, name), so creator and name are immutable after
// registration. Earnings are held on the record's custodial Balance
// until withdrawn to the authority's wallet.
type Agent struct {
	Address       Address   `cbor:"1,keyasint" json:"address"`
	Name          string    `cbor:"2,keyasint" json:"name"`
	Creator       Address   `cbor:"3,keyasint" json:"creator"`
	Authority     Address   `cbor:"4,keyasint" json:"authority"`
	CreatedAt     time.Time `cbor:"5,keyasint" json:"created_at"`
	CreatorSigned bool      `cbor:"6,keyasint" json:"creator_signed"`
	Verified      bool      `cbor:"7,keyasint" json:"verified"`

	SuccessfulJobs  uint32 `cbor:"8,keyasint" json:"successful_jobs"`
	TotalEarned     uint64 `cbor:"9,keyasint" json:"total_earned"`
	TotalSpent      uint64 `cbor:"10,keyasint" json:"total_spent"`
	ReputationScore uint16 `cbor:"11,keyasint" json:"reputation_score"`
	CreatorSplitBps uint16 `cbor:"12,keyasint" json:"creator_split_bps"`

	Balance uint64 `cbor:"13,keyasint" json:"balance"`
}

// Clone returns a deep copy. Records are value types apart from the
// struct itself, so a shallow copy suffices.
func (a *Agent) Clone() *Agent {
	c := *a
	return &c
}

// Escrow holds one job's locked funds and lifecycle state. The record
// address is derived from the job id.
type Escrow struct {
	Address      Address   `cbor:"1,keyasint" json:"address"`
	JobID        string    `cbor:"2,keyasint" json:"job_id"`
	JobHash      Hash      `cbor:"3,keyasint" json:"job_hash"`
	Requester    Address   `cbor:"4,keyasint" json:"requester"`
	Worker       Address   `cbor:"5,keyasint" json:"worker"`
	Amount       uint64    `cbor:"6,keyasint" json:"amount"`
	Status       JobStatus `cbor:"7,keyasint" json:"status"`
	TimeoutHours uint8     `cbor:"8,keyasint" json:"timeout_hours"`
	Deadline     time.Time `cbor:"9,keyasint" json:"deadline"`
	CreatedAt    time.Time `cbor:"10,keyasint" json:"created_at"`
}

// Clone returns a deep copy.
func (e *Escrow) Clone() *Escrow {
	c := *e
	return &c
}

// ValidTimeout reports whether hours is one of the supported escrow
// timeout windows.
func ValidTimeout(hours uint8) bool {
	return hours == 24 || hours == 48 || hours == 72
}
