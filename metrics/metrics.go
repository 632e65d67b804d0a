package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ============================================
	// Claim pipeline
	// ============================================
	ClaimsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claims_requests_total",
			Help: "Claim requests by final outcome",
		},
		[]string{"outcome"},
	)

	ClaimDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "claims_request_duration_seconds",
		Help:    "End to end claim handling time",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	})

	ReconcileRequired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claims_reconcile_required_total",
			Help: "Claims left in a state that needs an operator to check the chain",
		},
		[]string{"reason"},
	)

	CommitNotApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "claims_commit_not_applied_total",
		Help: "Ledger commits that found the envelope already claimed",
	})

	// ============================================
	// Disbursement
	// ============================================
	DisbursementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claims_disbursements_total",
			Help: "Native transfers by signer and result",
		},
		[]string{"signer", "result"},
	)

	DisbursementDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "claims_disbursement_duration_seconds",
		Help:    "Time from nonce lookup to mined receipt",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 90, 180},
	})

	// ============================================
	// Signer balances
	// ============================================
	SignerBalance = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "claims_signer_balance_wei",
			Help: "Native balance of each payout account",
		},
		[]string{"address"},
	)
)
