package keys

import (
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrEmptyPool is returned when no signing keys are configured.
var ErrEmptyPool = errors.New("signing key pool is empty")

// Credential is one signing account of the pool.
type Credential struct {
	Key     *ecdsa.PrivateKey
	Address common.Address
}

// CredentialSelector picks an index in [0, n).
type CredentialSelector interface {
	Pick(n int) int
}

// Pool is the fixed set of payout accounts. It is immutable after NewPool.
type Pool struct {
	creds    []Credential
	selector CredentialSelector
}

// NewPool parses hex private keys (0x prefix optional). A nil selector means
// uniform random selection.
func NewPool(hexKeys []string, selector CredentialSelector) (*Pool, error) {
	if len(hexKeys) == 0 {
		return nil, ErrEmptyPool
	}
	if selector == nil {
		selector = RandomSelector{}
	}

	seen := make(map[common.Address]bool, len(hexKeys))
	creds := make([]Credential, 0, len(hexKeys))
	for i, raw := range hexKeys {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(raw), "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid private key #%d: %w", i, err)
		}
		addr := crypto.PubkeyToAddress(key.PublicKey)
		if seen[addr] {
			return nil, fmt.Errorf("duplicate private key #%d (%s)", i, addr.Hex())
		}
		seen[addr] = true
		creds = append(creds, Credential{Key: key, Address: addr})
	}

	return &Pool{creds: creds, selector: selector}, nil
}

// Select returns the credential for one disbursement attempt.
func (p *Pool) Select() Credential {
	i := p.selector.Pick(len(p.creds))
	if i < 0 || i >= len(p.creds) {
		i = 0
	}
	return p.creds[i]
}

// Size returns the number of credentials.
func (p *Pool) Size() int {
	return len(p.creds)
}

// Addresses lists the on-chain accounts in configuration order.
func (p *Pool) Addresses() []common.Address {
	out := make([]common.Address, len(p.creds))
	for i, c := range p.creds {
		out[i] = c.Address
	}
	return out
}

/* =========================
   SELECTORS
========================= */

// RandomSelector picks uniformly using crypto/rand.
type RandomSelector struct{}

func (RandomSelector) Pick(n int) int {
	if n <= 1 {
		return 0
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0
	}
	return int(v.Int64())
}

// FixedSelector always picks the same index.
type FixedSelector int

func (f FixedSelector) Pick(n int) int {
	return int(f) % n
}

// RoundRobinSelector cycles through the pool. Safe for concurrent use.
type RoundRobinSelector struct {
	next atomic.Uint64
}

func (r *RoundRobinSelector) Pick(n int) int {
	return int((r.next.Add(1) - 1) % uint64(n))
}
