package claim

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"claimServer/config"
	"claimServer/contract"
	"claimServer/crypto"
	"claimServer/db"
	"claimServer/events"
	"claimServer/keys"
	"claimServer/metrics"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Ledger is the persistent envelope flag per player
type Ledger interface {
	ClaimStatus(ctx context.Context, fid int64) (db.ClaimStatus, error)
	BeginClaim(ctx context.Context, fid int64) (bool, error)
	ReleaseClaim(ctx context.Context, fid int64) (bool, error)
	MarkClaimed(ctx context.Context, fid int64, txHash string) (bool, error)
}

// NonceLedger makes a random key usable once per player
type NonceLedger interface {
	Consume(ctx context.Context, fid int64, nonce string) (bool, error)
	Release(ctx context.Context, fid int64, nonce string) error
}

// CredentialPool hands out a signing account per payout
type CredentialPool interface {
	Select() keys.Credential
}

// Disburser sends the on-chain transfer
type Disburser interface {
	Send(ctx context.Context, cred keys.Credential, to common.Address, amount *big.Int) (contract.Result, error)
}

// Request is one inbound claim
type Request struct {
	To       string
	Amount   string // decimal native units
	FID      int64
	Name     *string
	Nonce    string
	FusedKey string
	Score    *int64
}

// Result is returned for a paid claim
type Result struct {
	AttemptID string
	TxHash    string
	Signer    string
	Committed bool
}

// Options configures a Service
type Options struct {
	Secret       string
	MaxAmountWei *big.Int

	// IntentLock reserves the claim (unclaimed -> pending) before paying
	IntentLock bool

	Ledger    Ledger
	Nonces    NonceLedger
	Pool      CredentialPool
	Disburser Disburser
	Publisher events.Publisher
}

// Service runs the claim state machine:
// Received -> Validated -> AuthChecked -> Unclaimed -> Disbursed -> Committed.
type Service struct {
	secret     string
	maxAmount  *big.Int
	intentLock bool

	ledger    Ledger
	nonces    NonceLedger
	pool      CredentialPool
	disburser Disburser
	publisher events.Publisher

	// bookkeeping after payout must outlive the request
	settleTimeout time.Duration
}

// NewService checks the options and builds a Service
func NewService(opts Options) (*Service, error) {
	if opts.Secret == "" {
		return nil, errors.New("claim secret is empty")
	}
	if opts.MaxAmountWei == nil || opts.MaxAmountWei.Sign() <= 0 {
		return nil, errors.New("max claim amount must be positive")
	}
	if opts.Ledger == nil || opts.Pool == nil || opts.Disburser == nil {
		return nil, errors.New("ledger, pool and disburser are required")
	}
	if opts.Publisher == nil {
		opts.Publisher = events.Nop{}
	}

	return &Service{
		secret:        opts.Secret,
		maxAmount:     new(big.Int).Set(opts.MaxAmountWei),
		intentLock:    opts.IntentLock,
		ledger:        opts.Ledger,
		nonces:        opts.Nonces,
		pool:          opts.Pool,
		disburser:     opts.Disburser,
		publisher:     opts.Publisher,
		settleTimeout: 15 * time.Second,
	}, nil
}

// Claim validates, authenticates and pays one envelope claim
func (s *Service) Claim(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	attemptID := uuid.NewString()

	res, err := s.claim(ctx, attemptID, req)

	metrics.ClaimsTotal.WithLabelValues(outcome(err)).Inc()
	metrics.ClaimDuration.Observe(time.Since(start).Seconds())
	return res, err
}

func (s *Service) claim(ctx context.Context, attemptID string, req Request) (Result, error) {
	log := logrus.WithFields(logrus.Fields{"attempt": attemptID, "fid": req.FID})

	// Received -> Validated
	to, amount, err := s.validate(req)
	if err != nil {
		log.WithError(err).Info("🚫 Claim rejected")
		return Result{}, err
	}
	log = log.WithFields(logrus.Fields{"to": to.Hex(), "amount": config.WeiToEther(amount)})

	// Validated -> AuthChecked
	if !crypto.VerifyFusedKey(req.FusedKey, req.Nonce, s.secret, req.Score, &req.FID) {
		log.Warn("🚫 Fused key mismatch")
		return Result{}, ErrAuthenticity
	}

	// AuthChecked -> Unclaimed
	if err := s.checkUnclaimed(ctx, req.FID); err != nil {
		log.WithError(err).Info("🚫 Claim rejected")
		return Result{}, err
	}

	if s.nonces != nil {
		fresh, err := s.nonces.Consume(ctx, req.FID, req.Nonce)
		if err != nil {
			log.WithError(err).Error("❌ Nonce ledger unavailable")
			return Result{}, fmt.Errorf("%w: %v", ErrLedger, err)
		}
		if !fresh {
			log.Warn("🚫 Random key replayed")
			return Result{}, ErrReplay
		}
	}

	if s.intentLock {
		if err := s.reserve(ctx, req.FID); err != nil {
			s.releaseNonce(ctx, log, req)
			log.WithError(err).Info("🚫 Claim not reserved")
			return Result{}, err
		}
	}

	// Unclaimed -> Disbursed
	cred := s.pool.Select()
	log = log.WithField("signer", cred.Address.Hex())

	payout, err := s.disburser.Send(ctx, cred, to, amount)
	if err != nil {
		s.handleDisbursementFailure(ctx, log, attemptID, req, to, amount, cred, err)
		return Result{}, fmt.Errorf("%w: %w", ErrDisbursement, err)
	}

	// Disbursed -> Committed
	committed := s.commit(ctx, log, attemptID, req, to, amount, payout)

	return Result{
		AttemptID: attemptID,
		TxHash:    payout.TxHash,
		Signer:    payout.Signer.Hex(),
		Committed: committed,
	}, nil
}

// Status reports whether the player's envelope was claimed. Unknown players
// have not claimed.
func (s *Service) Status(ctx context.Context, fid int64) (bool, error) {
	if fid <= 0 {
		return false, fmt.Errorf("%w: fid is required", ErrValidation)
	}
	st, err := s.ledger.ClaimStatus(ctx, fid)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrLedger, err)
	}
	return st.Claimed, nil
}

func (s *Service) validate(req Request) (common.Address, *big.Int, error) {
	if req.To == "" {
		return common.Address{}, nil, fmt.Errorf("%w: to is required", ErrValidation)
	}
	if !common.IsHexAddress(req.To) {
		return common.Address{}, nil, fmt.Errorf("%w: invalid recipient address", ErrValidation)
	}
	to := common.HexToAddress(req.To)
	if to == (common.Address{}) {
		return common.Address{}, nil, fmt.Errorf("%w: invalid recipient address", ErrValidation)
	}

	if req.Amount == "" {
		return common.Address{}, nil, fmt.Errorf("%w: amount is required", ErrValidation)
	}
	amount, err := config.ParseEther(req.Amount)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if amount.Sign() <= 0 {
		return common.Address{}, nil, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if amount.Cmp(s.maxAmount) > 0 {
		return common.Address{}, nil, fmt.Errorf("%w: amount exceeds maximum of %s", ErrValidation, config.WeiToEther(s.maxAmount))
	}

	if req.FID <= 0 {
		return common.Address{}, nil, fmt.Errorf("%w: fid is required", ErrValidation)
	}
	if req.Nonce == "" {
		return common.Address{}, nil, fmt.Errorf("%w: randomKey is required", ErrValidation)
	}
	if req.FusedKey == "" {
		return common.Address{}, nil, fmt.Errorf("%w: fusedKey is required", ErrValidation)
	}

	return to, amount, nil
}

func (s *Service) checkUnclaimed(ctx context.Context, fid int64) error {
	st, err := s.ledger.ClaimStatus(ctx, fid)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLedger, err)
	}
	return statusError(st)
}

func statusError(st db.ClaimStatus) error {
	switch {
	case !st.Exists:
		return ErrNotFound
	case st.Claimed:
		return ErrAlreadyClaimed
	case st.Pending:
		return ErrClaimInProgress
	}
	return nil
}

// reserve moves the claim to pending. Losing the race reports why.
func (s *Service) reserve(ctx context.Context, fid int64) error {
	ok, err := s.ledger.BeginClaim(ctx, fid)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLedger, err)
	}
	if ok {
		return nil
	}

	st, err := s.ledger.ClaimStatus(ctx, fid)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLedger, err)
	}
	if err := statusError(st); err != nil {
		return err
	}
	return ErrClaimInProgress
}

func (s *Service) settleContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.settleTimeout)
}

func (s *Service) releaseNonce(ctx context.Context, log *logrus.Entry, req Request) {
	if s.nonces == nil {
		return
	}
	ctx, cancel := s.settleContext(ctx)
	defer cancel()
	if err := s.nonces.Release(ctx, req.FID, req.Nonce); err != nil {
		log.WithError(err).Warn("⚠️ Failed to release random key")
	}
}

func (s *Service) handleDisbursementFailure(
	ctx context.Context,
	log *logrus.Entry,
	attemptID string,
	req Request,
	to common.Address,
	amount *big.Int,
	cred keys.Credential,
	cause error,
) {
	ambiguous := true
	var derr *contract.DisbursementError
	if errors.As(cause, &derr) {
		ambiguous = derr.Ambiguous()
	}

	ev := events.Event{
		AttemptID: attemptID,
		FID:       req.FID,
		To:        to.Hex(),
		Amount:    config.WeiToEther(amount),
		Signer:    cred.Address.Hex(),
		Reason:    cause.Error(),
		Timestamp: time.Now(),
	}
	if derr != nil {
		ev.TxHash = derr.TxHash
	}

	if ambiguous {
		// The transfer may have landed. Keep the claim reserved and the nonce
		// burned until an operator has checked the chain.
		metrics.ReconcileRequired.WithLabelValues("ambiguous_disbursement").Inc()
		log.WithError(cause).WithFields(logrus.Fields{
			"tx":        ev.TxHash,
			"reconcile": true,
		}).Error("❌ Payout outcome unknown, reconciliation required")
		ev.Kind = events.KindReconcile
		s.publish(ctx, log, ev)
		return
	}

	log.WithError(cause).Error("❌ Payout failed")

	if s.intentLock {
		settleCtx, cancel := s.settleContext(ctx)
		released, err := s.ledger.ReleaseClaim(settleCtx, req.FID)
		cancel()
		if err != nil || !released {
			metrics.ReconcileRequired.WithLabelValues("release_failed").Inc()
			log.WithError(err).WithField("reconcile", true).Error("❌ Failed to release claim after payout failure")
		}
	}
	s.releaseNonce(ctx, log, req)

	ev.Kind = events.KindFailed
	s.publish(ctx, log, ev)
}

// commit records the paid claim. The player has the funds at this point, so a
// failed or lost write is logged for reconciliation and never fails the request.
func (s *Service) commit(
	ctx context.Context,
	log *logrus.Entry,
	attemptID string,
	req Request,
	to common.Address,
	amount *big.Int,
	payout contract.Result,
) bool {
	log = log.WithField("tx", payout.TxHash)

	settleCtx, cancel := s.settleContext(ctx)
	applied, err := s.ledger.MarkClaimed(settleCtx, req.FID, payout.TxHash)
	cancel()

	ev := events.Event{
		Kind:      events.KindCommitted,
		AttemptID: attemptID,
		FID:       req.FID,
		To:        to.Hex(),
		Amount:    config.WeiToEther(amount),
		TxHash:    payout.TxHash,
		Signer:    payout.Signer.Hex(),
		Timestamp: time.Now(),
	}

	switch {
	case err != nil:
		metrics.ReconcileRequired.WithLabelValues("ledger_commit_failed").Inc()
		log.WithError(err).WithField("reconcile", true).Error("❌ Payout sent but claim not recorded")
		ev.Kind = events.KindReconcile
		ev.Reason = fmt.Sprintf("ledger commit failed: %v", err)
	case !applied:
		metrics.CommitNotApplied.Inc()
		log.WithField("reconcile", true).Warn("⚠️ Payout sent but envelope was already marked claimed")
		ev.Kind = events.KindReconcile
		ev.Reason = "envelope already marked claimed"
	default:
		log.Info("🧧 Envelope claimed")
	}

	s.publish(ctx, log, ev)
	return err == nil && applied
}

func (s *Service) publish(ctx context.Context, log *logrus.Entry, ev events.Event) {
	ctx, cancel := s.settleContext(ctx)
	defer cancel()
	if err := s.publisher.Publish(ctx, ev); err != nil {
		log.WithError(err).Warn("⚠️ Failed to publish claim event")
	}
}
