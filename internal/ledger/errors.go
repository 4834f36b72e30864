package ledger

import "errors"

// Instruction failures. None of these is retryable: each one means the
// caller violated a constraint or a business rule, not that something
// transient went wrong. A failed instruction leaves every record it
// touched byte-for-byte unchanged.
var (
	ErrNameEmpty          = errors.New("agent name cannot be empty")
	ErrNameTooLong        = errors.New("agent name too long")
	ErrJobIDTooLong       = errors.New("job id too long")
	ErrInvalidAmount      = errors.New("amount must be greater than zero")
	ErrInvalidTimeout     = errors.New("timeout must be 24, 48, or 72 hours")
	ErrInvalidRating      = errors.New("average rating out of range")
	ErrJobNotOpen         = errors.New("job is not open")
	ErrInvalidStatus      = errors.New("invalid job status for this operation")
	ErrUnauthorized       = errors.New("signer is not authorized for this operation")
	ErrDuplicateAgent     = errors.New("agent already registered")
	ErrDuplicateJobID     = errors.New("job id already exists")
	ErrSplitTooHigh       = errors.New("creator split exceeds the maximum")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrNothingToWithdraw  = errors.New("nothing to withdraw")
	ErrDeadlineNotReached = errors.New("deadline not reached")
	ErrArithmeticOverflow = errors.New("arithmetic overflow")
	ErrNotFound           = errors.New("account not found")
)
