package ledger

import "time"

// EventType names a ledger-driven notification. The names are the
// wire-level event strings delivered to agent webhooks.
type EventType string

const (
	EventAgentRegistered    EventType = "agent.registered"
	EventSplitConfigured    EventType = "agent.split_configured"
	EventJobCreated         EventType = "job.created"
	EventJobHired           EventType = "job.hired"
	EventJobCompleted       EventType = "job.completed"
	EventJobApproved        EventType = "job.approved"
	EventJobTimeoutReleased EventType = "job.timeout_released"
	EventJobCancelled       EventType = "job.cancelled"
	EventJobDisputed        EventType = "job.disputed"
)

// Event records one successful instruction for the notification
// dispatcher. Events are appended inside the instruction's commit
// unit (a transactional outbox), so an event exists if and only if
// the state change it describes committed. Delivery is the
// dispatcher's problem; the ledger never depends on it.
type Event struct {
	Type      EventType `json:"type"`
	At        time.Time `json:"at"`
	JobID     string    `json:"job_id,omitempty"`
	Agent     Address   `json:"agent,omitempty"`
	Requester Address   `json:"requester,omitempty"`
	Worker    Address   `json:"worker,omitempty"`
	Amount    uint64    `json:"amount,omitempty"`
}
