package db

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryLedger is an in-process ledger with the same conditional-update
// semantics as PostgresLedger. State is lost on restart.
type MemoryLedger struct {
	mu      sync.Mutex
	players map[int64]*PlayerRecord
	calls   int
}

// NewMemoryLedger creates an empty in-memory ledger
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{players: make(map[int64]*PlayerRecord)}
}

func (m *MemoryLedger) ClaimStatus(ctx context.Context, fid int64) (ClaimStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	p, ok := m.players[fid]
	if !ok {
		return ClaimStatus{}, nil
	}
	return ClaimStatus{
		Exists:  true,
		Claimed: p.EnvelopeClaimed,
		Pending: !p.EnvelopeClaimed && p.ClaimState == ClaimStatePending,
	}, nil
}

func (m *MemoryLedger) BeginClaim(ctx context.Context, fid int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	p, ok := m.players[fid]
	if !ok || p.EnvelopeClaimed || p.ClaimState != ClaimStateUnclaimed {
		return false, nil
	}
	now := time.Now()
	p.ClaimState = ClaimStatePending
	p.ClaimStartedAt = &now
	return true, nil
}

func (m *MemoryLedger) ReleaseClaim(ctx context.Context, fid int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	p, ok := m.players[fid]
	if !ok || p.EnvelopeClaimed || p.ClaimState != ClaimStatePending {
		return false, nil
	}
	p.ClaimState = ClaimStateUnclaimed
	p.ClaimStartedAt = nil
	return true, nil
}

func (m *MemoryLedger) MarkClaimed(ctx context.Context, fid int64, txHash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	p, ok := m.players[fid]
	if !ok || p.EnvelopeClaimed {
		return false, nil
	}
	now := time.Now()
	hash := txHash
	p.EnvelopeClaimed = true
	p.ClaimState = ClaimStateCommitted
	p.ClaimTxHash = &hash
	p.ClaimedAt = &now
	return true, nil
}

func (m *MemoryLedger) UpsertPlayer(ctx context.Context, fid int64, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.players[fid]; ok {
		p.Name = name
		return nil
	}
	m.players[fid] = &PlayerRecord{FID: fid, Name: name, ClaimState: ClaimStateUnclaimed}
	return nil
}

func (m *MemoryLedger) GetPlayer(ctx context.Context, fid int64) (*PlayerRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.players[fid]
	if !ok {
		return nil, ErrPlayerNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryLedger) PendingClaims(ctx context.Context, olderThan time.Duration) ([]*PlayerRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	var out []*PlayerRecord
	for _, p := range m.players {
		if p.ClaimState == ClaimStatePending && p.ClaimStartedAt != nil && p.ClaimStartedAt.Before(cutoff) {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClaimStartedAt.Before(*out[j].ClaimStartedAt) })
	return out, nil
}

func (m *MemoryLedger) Ping(ctx context.Context) error { return nil }

// Reset zeroes the call counter
func (m *MemoryLedger) Reset() {
	m.mu.Lock()
	m.calls = 0
	m.mu.Unlock()
}

// CallCount returns the number of claim ledger operations so far
func (m *MemoryLedger) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
