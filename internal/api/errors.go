package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/agentlink/agentlink/internal/ledger"
	"github.com/agentlink/agentlink/internal/mirror"
)

// maxBodySize is the maximum allowed request body size (1 MB).
const maxBodySize = 1 << 20

// errorEnvelope is the standard error response shape.
type errorEnvelope struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError writes a JSON error response with the given status code.
func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorEnvelope{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// writeJSON writes a JSON response with the given status code and data.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// readJSON decodes the request body into v, enforcing a size limit.
func readJSON(r *http.Request, v interface{}) error {
	lr := io.LimitReader(r.Body, maxBodySize)
	return json.NewDecoder(lr).Decode(v)
}

// ledgerErrorStatus maps a ledger sentinel error to an HTTP status and
// machine-readable code. Validation failures are 422, missing records
// 404, authorization failures 401/403, and state conflicts 409.
func ledgerErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ledger.ErrBadSignature):
		return http.StatusUnauthorized, "invalid_signature"
	case errors.Is(err, ledger.ErrUnauthorized):
		return http.StatusForbidden, "unauthorized"
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ledger.ErrDuplicateAgent):
		return http.StatusConflict, "duplicate_agent"
	case errors.Is(err, ledger.ErrDuplicateJobID):
		return http.StatusConflict, "duplicate_job_id"
	case errors.Is(err, ledger.ErrJobNotOpen),
		errors.Is(err, ledger.ErrInvalidStatus),
		errors.Is(err, ledger.ErrDeadlineNotReached):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return http.StatusConflict, "insufficient_funds"
	case errors.Is(err, ledger.ErrNothingToWithdraw):
		return http.StatusConflict, "nothing_to_withdraw"
	case errors.Is(err, ledger.ErrNameEmpty),
		errors.Is(err, ledger.ErrNameTooLong),
		errors.Is(err, ledger.ErrJobIDTooLong),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidTimeout),
		errors.Is(err, ledger.ErrInvalidRating),
		errors.Is(err, ledger.ErrSplitTooHigh),
		errors.Is(err, ledger.ErrArithmeticOverflow):
		return http.StatusUnprocessableEntity, "validation_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writeLedgerError writes the mapped error envelope for a failed
// ledger instruction.
func writeLedgerError(w http.ResponseWriter, err error) {
	status, code := ledgerErrorStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "instruction failed"
	}
	writeError(w, status, code, msg)
}

// writeMirrorError writes the mapped error envelope for a failed
// mirror store operation.
func writeMirrorError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, mirror.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "resource not found")
	case errors.Is(err, mirror.ErrDuplicateApplication):
		writeError(w, http.StatusConflict, "duplicate_application", err.Error())
	case errors.Is(err, mirror.ErrDuplicateReview):
		writeError(w, http.StatusConflict, "duplicate_review", err.Error())
	case errors.Is(err, mirror.ErrRatingOutOfRange):
		writeError(w, http.StatusUnprocessableEntity, "validation_error", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", fallback)
	}
}
