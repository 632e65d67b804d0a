package claim

import (
	"errors"
	"net/http"
)

var (
	// Client faults, no side effects
	ErrValidation      = errors.New("invalid request")
	ErrAuthenticity    = errors.New("invalid fused key")
	ErrReplay          = errors.New("random key already used")
	ErrNotFound        = errors.New("player not found")
	ErrAlreadyClaimed  = errors.New("already claimed")
	ErrClaimInProgress = errors.New("claim already in progress")

	// Server or chain faults
	ErrDisbursement = errors.New("disbursement failed")
	ErrLedger       = errors.New("claim ledger unavailable")
)

// HTTPStatus maps a claim error to its response status
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrAlreadyClaimed),
		errors.Is(err, ErrClaimInProgress):
		return http.StatusBadRequest
	case errors.Is(err, ErrAuthenticity), errors.Is(err, ErrReplay):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// outcome labels the claims_requests_total metric
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "invalid"
	case errors.Is(err, ErrAuthenticity):
		return "forbidden"
	case errors.Is(err, ErrReplay):
		return "replay"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadyClaimed):
		return "already_claimed"
	case errors.Is(err, ErrClaimInProgress):
		return "in_progress"
	case errors.Is(err, ErrDisbursement):
		return "disbursement_failed"
	default:
		return "ledger_error"
	}
}
