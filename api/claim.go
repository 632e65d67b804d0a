package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"claimServer/claim"

	"github.com/sirupsen/logrus"
)

/* =========================
   REQUEST/RESPONSE TYPES
========================= */

// ClaimRequest is the POST /claim body
type ClaimRequest struct {
	To        string      `json:"to"`
	Amount    json.Number `json:"amount"` // native units, e.g. 0.05
	FID       int64       `json:"fid"`
	Name      *string     `json:"name,omitempty"`
	RandomKey string      `json:"randomKey"`
	FusedKey  string      `json:"fusedKey"`
	Score     *int64      `json:"score,omitempty"`
}

// ClaimResponse is returned for a paid claim
type ClaimResponse struct {
	TxHash string `json:"txHash"`
}

// ClaimStatusRequest is the POST /claim-status body
type ClaimStatusRequest struct {
	FID int64 `json:"fid"`
}

// ClaimStatusResponse reports whether the envelope was claimed
type ClaimStatusResponse struct {
	Claimed bool `json:"claimed"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// ClaimService is the orchestrator behind the claim endpoints
type ClaimService interface {
	Claim(ctx context.Context, req claim.Request) (claim.Result, error)
	Status(ctx context.Context, fid int64) (bool, error)
}

// HealthCheck reports whether one dependency is reachable
type HealthCheck func(ctx context.Context) error

// Handler serves the claim HTTP surface
type Handler struct {
	claims ClaimService
	checks map[string]HealthCheck
}

// NewHandler creates the HTTP handlers. checks may be nil.
func NewHandler(claims ClaimService, checks map[string]HealthCheck) *Handler {
	if checks == nil {
		checks = map[string]HealthCheck{}
	}
	return &Handler{claims: claims, checks: checks}
}

/* =========================
   CLAIM ENDPOINTS
========================= */

// HandleClaim pays out a player's envelope
// POST /claim
func (h *Handler) HandleClaim(w http.ResponseWriter, r *http.Request) {
	var req ClaimRequest
	if err := decodeBody(r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	res, err := h.claims.Claim(r.Context(), claim.Request{
		To:       strings.TrimSpace(req.To),
		Amount:   req.Amount.String(),
		FID:      req.FID,
		Name:     req.Name,
		Nonce:    req.RandomKey,
		FusedKey: req.FusedKey,
		Score:    req.Score,
	})
	if err != nil {
		status := claim.HTTPStatus(err)
		if status >= http.StatusInternalServerError {
			logrus.WithError(err).WithField("fid", req.FID).Error("❌ Claim failed")
		}
		sendError(w, status, errorMessage(err))
		return
	}

	sendJSON(w, http.StatusOK, ClaimResponse{TxHash: res.TxHash})
}

// HandleClaimStatus reports whether a player's envelope was claimed
// POST /claim-status
func (h *Handler) HandleClaimStatus(w http.ResponseWriter, r *http.Request) {
	var req ClaimStatusRequest
	if err := decodeBody(r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.FID <= 0 {
		sendError(w, http.StatusBadRequest, "fid is required")
		return
	}

	claimed, err := h.claims.Status(r.Context(), req.FID)
	if err != nil {
		logrus.WithError(err).WithField("fid", req.FID).Error("❌ Failed to read claim status")
		sendError(w, claim.HTTPStatus(err), errorMessage(err))
		return
	}

	sendJSON(w, http.StatusOK, ClaimStatusResponse{Claimed: claimed})
}

/* =========================
   HEALTH CHECK ENDPOINT
========================= */

// HandleHealthCheck handles health check requests
// GET /api/health
func (h *Handler) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	healthy := true
	response := map[string]interface{}{}
	for name, check := range h.checks {
		status := "ok"
		if err := check(ctx); err != nil {
			status = "error: " + err.Error()
			healthy = false
		}
		response[name] = status
	}
	response["success"] = healthy
	response["message"] = "Health check completed"

	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	sendJSON(w, code, response)
}

/* =========================
   HELPER FUNCTIONS
========================= */

func decodeBody(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	return json.NewDecoder(r.Body).Decode(v)
}

// errorMessage keeps the "already claimed" wording stable for clients
func errorMessage(err error) string {
	switch {
	case errors.Is(err, claim.ErrAlreadyClaimed):
		return claim.ErrAlreadyClaimed.Error()
	case errors.Is(err, claim.ErrClaimInProgress):
		return claim.ErrClaimInProgress.Error()
	}
	return err.Error()
}

// sendJSON writes a JSON response
func sendJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// sendError sends an error response
func sendError(w http.ResponseWriter, statusCode int, message string) {
	sendJSON(w, statusCode, ErrorResponse{Error: message})
}
