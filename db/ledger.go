package db

import (
	"errors"
	"time"
)

// ClaimState is the envelope lifecycle of one player
type ClaimState string

const (
	ClaimStateUnclaimed ClaimState = "unclaimed"
	ClaimStatePending   ClaimState = "pending"
	ClaimStateCommitted ClaimState = "committed"
)

// ErrPlayerNotFound is returned by operations that need an existing player row
var ErrPlayerNotFound = errors.New("player not found")

// ClaimStatus is the ledger view of one player
type ClaimStatus struct {
	Exists  bool
	Claimed bool
	Pending bool
}

// PlayerRecord is a row of the players table as seen by the claim service
type PlayerRecord struct {
	FID             int64      `json:"fid"`
	Name            string     `json:"name"`
	EnvelopeClaimed bool       `json:"envelopeClaimed"`
	ClaimState      ClaimState `json:"claimState"`
	ClaimTxHash     *string    `json:"claimTxHash,omitempty"`
	ClaimStartedAt  *time.Time `json:"claimStartedAt,omitempty"`
	ClaimedAt       *time.Time `json:"claimedAt,omitempty"`
}
