package contract

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"claimServer/config"
	"claimServer/keys"
	"claimServer/metrics"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sirupsen/logrus"
)

// ChainClient is the subset of *ethclient.Client used for payouts.
type ChainClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

var _ ChainClient = (*ethclient.Client)(nil)

// DisburserConfig holds transaction parameters for payouts
type DisburserConfig struct {
	ChainID        int64
	GasLimit       uint64
	MaxGasPrice    *big.Int
	ConfirmTimeout time.Duration
}

// Disburser sends native value transfers and waits for them to be mined.
// It never retries: a second submission of a value transfer can pay twice.
type Disburser struct {
	client  ChainClient
	chainID *big.Int
	config  DisburserConfig
}

// Result describes a mined payout
type Result struct {
	TxHash      string
	Confirmed   bool
	Signer      common.Address
	BlockNumber uint64
}

// Stage names the step a payout failed at
type Stage string

const (
	StageNonce     Stage = "nonce"
	StageGasPrice  Stage = "gas_price"
	StageSign      Stage = "sign"
	StageBroadcast Stage = "broadcast"
	StageRejected  Stage = "rejected"
	StageConfirm   Stage = "confirm"
	StageReverted  Stage = "reverted"
)

// DisbursementError is returned for every failed payout.
type DisbursementError struct {
	Stage  Stage
	Signer common.Address
	TxHash string
	Err    error
}

func (e *DisbursementError) Error() string {
	if e.TxHash != "" {
		return fmt.Sprintf("disbursement failed at %s (tx %s): %v", e.Stage, e.TxHash, e.Err)
	}
	return fmt.Sprintf("disbursement failed at %s: %v", e.Stage, e.Err)
}

func (e *DisbursementError) Unwrap() error { return e.Err }

// Submitted reports whether the transaction was handed to the RPC node and
// may have been accepted. A rejected send is not.
func (e *DisbursementError) Submitted() bool {
	switch e.Stage {
	case StageBroadcast, StageConfirm, StageReverted:
		return true
	}
	return false
}

// Ambiguous reports whether value may have moved. A reverted transfer moved
// nothing; a broadcast or confirmation failure is unknown until checked on chain.
func (e *DisbursementError) Ambiguous() bool {
	return e.Stage == StageBroadcast || e.Stage == StageConfirm
}

// rejectedByNode reports whether the node answered the send with a JSON-RPC
// error, meaning the transaction never entered its pool. "already known" is
// the exception: an identical transaction is already pending.
func rejectedByNode(err error) bool {
	var rpcErr rpc.Error
	if !errors.As(err, &rpcErr) {
		return false
	}
	msg := strings.ToLower(rpcErr.Error())
	return !strings.Contains(msg, "already known") && !strings.Contains(msg, "known transaction")
}

// NewDisburser creates a payout sender over an RPC client
func NewDisburser(client ChainClient, cfg DisburserConfig) *Disburser {
	if cfg.GasLimit == 0 {
		cfg.GasLimit = config.TransferGasLimit
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = config.DefaultTxConfirmTimeout
	}
	return &Disburser{
		client:  client,
		chainID: big.NewInt(cfg.ChainID),
		config:  cfg,
	}
}

// Dial connects to the RPC endpoint and checks it serves the configured chain
func Dial(ctx context.Context, rpcURL string, chainID int64) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}

	remote, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to get chain id: %w", err)
	}
	if remote.Cmp(big.NewInt(chainID)) != 0 {
		client.Close()
		return nil, fmt.Errorf("chain id mismatch: rpc reports %s, configured %d", remote, chainID)
	}

	logrus.WithFields(logrus.Fields{"rpc": rpcURL, "chainId": chainID}).Info("✅ Chain client connected")
	return client, nil
}

// Send transfers amount wei from cred to recipient and blocks until the
// transaction is mined or the confirmation timeout expires. Once broadcast,
// cancellation of ctx no longer aborts the wait.
func (d *Disburser) Send(ctx context.Context, cred keys.Credential, to common.Address, amount *big.Int) (Result, error) {
	start := time.Now()
	signer := cred.Address.Hex()

	fail := func(stage Stage, txHash string, err error) (Result, error) {
		metrics.DisbursementsTotal.WithLabelValues(signer, string(stage)).Inc()
		return Result{}, &DisbursementError{Stage: stage, Signer: cred.Address, TxHash: txHash, Err: err}
	}

	nonce, err := d.client.PendingNonceAt(ctx, cred.Address)
	if err != nil {
		return fail(StageNonce, "", fmt.Errorf("failed to get nonce: %w", err))
	}

	gasPrice, err := d.client.SuggestGasPrice(ctx)
	if err != nil {
		return fail(StageGasPrice, "", fmt.Errorf("failed to get gas price: %w", err))
	}
	if d.config.MaxGasPrice != nil && d.config.MaxGasPrice.Sign() > 0 && gasPrice.Cmp(d.config.MaxGasPrice) > 0 {
		logrus.WithFields(logrus.Fields{
			"suggested": gasPrice.String(),
			"cap":       d.config.MaxGasPrice.String(),
		}).Warn("⚠️ Gas price above cap, using cap")
		gasPrice = new(big.Int).Set(d.config.MaxGasPrice)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    amount,
		Gas:      d.config.GasLimit,
		GasPrice: gasPrice,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(d.chainID), cred.Key)
	if err != nil {
		return fail(StageSign, "", fmt.Errorf("failed to sign transaction: %w", err))
	}
	if err := ctx.Err(); err != nil {
		return fail(StageSign, "", err)
	}

	txHash := signed.Hash().Hex()

	// Past this point the request may go away but the payout must not be resubmitted.
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.config.ConfirmTimeout)
	defer cancel()

	log := logrus.WithFields(logrus.Fields{
		"signer": signer,
		"to":     to.Hex(),
		"amount": config.WeiToEther(amount),
		"nonce":  nonce,
		"tx":     txHash,
	})
	log.Info("💸 Sending envelope payout")

	if err := d.client.SendTransaction(sendCtx, signed); err != nil {
		stage := StageBroadcast
		if rejectedByNode(err) {
			stage = StageRejected
		}
		return fail(stage, txHash, fmt.Errorf("failed to send transaction: %w", err))
	}

	receipt, err := bind.WaitMined(sendCtx, d.client, signed)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("not mined within %s: %w", d.config.ConfirmTimeout, err)
		}
		return fail(StageConfirm, txHash, fmt.Errorf("transaction mining failed: %w", err))
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fail(StageReverted, txHash, fmt.Errorf("transaction failed with status: %d", receipt.Status))
	}

	metrics.DisbursementsTotal.WithLabelValues(signer, "ok").Inc()
	metrics.DisbursementDuration.Observe(time.Since(start).Seconds())

	var block uint64
	if receipt.BlockNumber != nil {
		block = receipt.BlockNumber.Uint64()
	}
	log.WithField("block", block).Info("✅ Envelope payout mined")

	return Result{
		TxHash:      txHash,
		Confirmed:   true,
		Signer:      cred.Address,
		BlockNumber: block,
	}, nil
}
