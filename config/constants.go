package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/params"
)

/* =========================
   NETWORK CONFIGURATION
========================= */

const (
	// Mantle Sepolia Testnet
	DefaultRPCURL  = "https://rpc.sepolia.mantle.xyz"
	DefaultChainID = 5003
)

/* =========================
   CLAIM CONFIGURATION
========================= */

const (
	// Largest single envelope payout, in native units
	DefaultMaxClaimAmount = "0.12"

	// Single-use nonce retention in Redis
	// Key: claim:nonce:{fid}:{randomKey}
	DefaultNonceTTL = 30 * 24 * time.Hour

	// Nonce key pattern
	RedisNonceKey = "claim:nonce:%d:%s" // claim:nonce:{fid}:{randomKey}

	// Players table holding the envelope flag
	DefaultPlayersTable = "players"
)

/* =========================
   DISBURSEMENT CONFIGURATION
========================= */

const (
	// Plain value transfer
	TransferGasLimit = 21000

	// 50 Gwei max gas price
	DefaultMaxGasPriceWei = "50000000000"

	// Time allowed between broadcast and receipt
	DefaultTxConfirmTimeout = 90 * time.Second

	// Signer balance polling
	DefaultBalanceCheckInterval = 1 * time.Minute

	// 0.5 native units
	DefaultSignerMinBalanceWei = "500000000000000000"
)

/* =========================
   API CONFIGURATION
========================= */

const (
	DefaultPort = "8080"

	// Per-IP limiter on POST /claim
	DefaultClaimRateRPS   = 2.0
	DefaultClaimRateBurst = 5

	// Request body cap
	MaxRequestBodyBytes = 16 * 1024
)

/* =========================
   HELPER FUNCTIONS
========================= */

// ParseEther converts a decimal amount of native units ("0.05") into wei
// without going through float64. More than 18 fractional digits is an error.
func ParseEther(amount string) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return nil, fmt.Errorf("empty amount")
	}
	if strings.ContainsAny(amount, "eE") {
		return nil, fmt.Errorf("exponent notation not supported: %s", amount)
	}
	if i := strings.IndexByte(amount, '.'); i >= 0 && len(amount)-i-1 > 18 {
		return nil, fmt.Errorf("too many decimals: %s", amount)
	}

	r, ok := new(big.Rat).SetString(amount)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %s", amount)
	}
	r.Mul(r, new(big.Rat).SetInt(big.NewInt(params.Ether)))
	if !r.IsInt() {
		return nil, fmt.Errorf("invalid amount: %s", amount)
	}
	return new(big.Int).Set(r.Num()), nil
}

// WeiToEther formats wei as a decimal string in native units
func WeiToEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	r := new(big.Rat).SetFrac(wei, big.NewInt(params.Ether))
	s := r.FloatString(18)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}
