package events

import (
	"context"
	"errors"
	"time"
)

// Kind of a claim event
type Kind string

const (
	KindCommitted Kind = "committed"
	KindReconcile Kind = "reconcile"
	KindFailed    Kind = "failed"
)

// Event describes the outcome of one claim attempt
type Event struct {
	Kind      Kind      `json:"kind"`
	AttemptID string    `json:"attemptId"`
	FID       int64     `json:"fid"`
	To        string    `json:"to,omitempty"`
	Amount    string    `json:"amount,omitempty"`
	TxHash    string    `json:"txHash,omitempty"`
	Signer    string    `json:"signer,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher delivers claim events
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop drops every event
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Multi fans an event out to several publishers
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
