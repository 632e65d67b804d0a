package db

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLedgerLifecycle(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()

	st, err := l.ClaimStatus(ctx, 100)
	require.NoError(t, err)
	assert.False(t, st.Exists)

	ok, err := l.BeginClaim(ctx, 100)
	require.NoError(t, err)
	assert.False(t, ok, "unknown player cannot begin")

	require.NoError(t, l.UpsertPlayer(ctx, 100, "alice"))

	st, _ = l.ClaimStatus(ctx, 100)
	assert.Equal(t, ClaimStatus{Exists: true}, st)

	ok, _ = l.BeginClaim(ctx, 100)
	assert.True(t, ok)
	st, _ = l.ClaimStatus(ctx, 100)
	assert.True(t, st.Pending)

	ok, _ = l.BeginClaim(ctx, 100)
	assert.False(t, ok, "second begin must lose")

	ok, _ = l.ReleaseClaim(ctx, 100)
	assert.True(t, ok)
	ok, _ = l.ReleaseClaim(ctx, 100)
	assert.False(t, ok)

	ok, _ = l.MarkClaimed(ctx, 100, "0xabc")
	assert.True(t, ok)
	ok, _ = l.MarkClaimed(ctx, 100, "0xdef")
	assert.False(t, ok, "flag never flips twice")

	p, err := l.GetPlayer(ctx, 100)
	require.NoError(t, err)
	assert.True(t, p.EnvelopeClaimed)
	assert.Equal(t, ClaimStateCommitted, p.ClaimState)
	assert.Equal(t, "0xabc", *p.ClaimTxHash)

	ok, _ = l.ReleaseClaim(ctx, 100)
	assert.False(t, ok, "committed claims never revert")
	ok, _ = l.BeginClaim(ctx, 100)
	assert.False(t, ok)

	_, err = l.GetPlayer(ctx, 5)
	assert.ErrorIs(t, err, ErrPlayerNotFound)
}

func TestMemoryLedgerConcurrentMarkClaimed(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	require.NoError(t, l.UpsertPlayer(ctx, 1, "bob"))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := l.MarkClaimed(ctx, 1, "0x1"); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestMemoryLedgerPendingClaims(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	require.NoError(t, l.UpsertPlayer(ctx, 1, "a"))
	require.NoError(t, l.UpsertPlayer(ctx, 2, "b"))

	_, _ = l.BeginClaim(ctx, 1)

	pending, err := l.PendingClaims(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, int64(1), pending[0].FID)

	pending, _ = l.PendingClaims(ctx, time.Hour)
	assert.Empty(t, pending)
}

func TestMemoryNonceLedger(t *testing.T) {
	ctx := context.Background()
	n := NewMemoryNonceLedger()

	fresh, _ := n.Consume(ctx, 1, "abc")
	assert.True(t, fresh)
	fresh, _ = n.Consume(ctx, 1, "abc")
	assert.False(t, fresh)
	fresh, _ = n.Consume(ctx, 2, "abc")
	assert.True(t, fresh, "nonces are scoped per fid")

	require.NoError(t, n.Release(ctx, 1, "abc"))
	fresh, _ = n.Consume(ctx, 1, "abc")
	assert.True(t, fresh)
}
