package contract

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"claimServer/config"
	"claimServer/metrics"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

// BalanceMonitor watches the payout accounts and warns when one runs low
type BalanceMonitor struct {
	client     ChainClient
	addresses  []common.Address
	minBalance *big.Int
}

// NewBalanceMonitor creates a monitor for the given accounts
func NewBalanceMonitor(client ChainClient, addresses []common.Address, minBalance *big.Int) *BalanceMonitor {
	return &BalanceMonitor{
		client:     client,
		addresses:  addresses,
		minBalance: minBalance,
	}
}

// Check queries every account once. It returns the accounts below the
// minimum balance and the first RPC failure, if any.
func (m *BalanceMonitor) Check(ctx context.Context) ([]common.Address, error) {
	var low []common.Address
	var firstErr error

	for _, addr := range m.addresses {
		balance, err := m.client.BalanceAt(ctx, addr, nil)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to get balance of %s: %w", addr.Hex(), err)
			}
			continue
		}

		f, _ := new(big.Float).SetInt(balance).Float64()
		metrics.SignerBalance.WithLabelValues(addr.Hex()).Set(f)

		if m.minBalance != nil && balance.Cmp(m.minBalance) < 0 {
			low = append(low, addr)
			logrus.WithFields(logrus.Fields{
				"address": addr.Hex(),
				"balance": config.WeiToEther(balance),
				"minimum": config.WeiToEther(m.minBalance),
			}).Warn("⚠️ Payout account balance too low")
		}
	}

	return low, firstErr
}

// Run checks balances every interval until ctx is cancelled
func (m *BalanceMonitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := m.Check(ctx); err != nil {
			logrus.WithError(err).Warn("⚠️ Balance check failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
