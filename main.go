package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"claimServer/api"
	"claimServer/claim"
	"claimServer/config"
	"claimServer/contract"
	"claimServer/db"
	"claimServer/events"
	"claimServer/keys"
	"claimServer/ws"

	"github.com/sirupsen/logrus"
)

// claimLedger is what the server needs from a ledger backend
type claimLedger interface {
	claim.Ledger
	Ping(ctx context.Context) error
}

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	config.LoadDotEnv()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("❌ Invalid configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("❌ Invalid configuration: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logrus.SetLevel(level)
	} else {
		logrus.Warnf("⚠️  Unknown LOG_LEVEL %q, using info", cfg.LogLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checks := map[string]api.HealthCheck{}

	// Claim ledger
	var ledger claimLedger
	switch cfg.LedgerDriver {
	case "postgres":
		pool, err := db.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			logrus.Fatalf("❌ PostgreSQL initialization failed: %v", err)
		}
		defer pool.Close()

		pg, err := db.NewPostgresLedger(pool, cfg.PlayersTable)
		if err != nil {
			logrus.Fatalf("❌ %v", err)
		}
		if err := pg.InitSchema(ctx); err != nil {
			logrus.Fatalf("❌ Failed to initialize claim schema: %v", err)
		}
		ledger = pg
		checks["postgres"] = pg.Ping
	default:
		logrus.Warn("⚠️  Using in-memory claim ledger, claims are lost on restart")
		ledger = db.NewMemoryLedger()
	}

	// Single-use random keys
	var nonces claim.NonceLedger
	if cfg.RedisURL != "" {
		rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			if cfg.NonceSingleUse {
				logrus.Fatalf("❌ Redis initialization failed: %v", err)
			}
			logrus.Warnf("⚠️  Redis initialization failed: %v", err)
		} else {
			defer rdb.Close()
			nl := db.NewRedisNonceLedger(rdb, cfg.NonceTTL)
			checks["redis"] = nl.Ping
			if cfg.NonceSingleUse {
				nonces = nl
				logrus.Infof("🔑 Random keys are single-use (ttl %s)", cfg.NonceTTL)
			}
		}
	}

	// Signing keys
	signers, err := keys.NewPool(cfg.SignerKeys, keys.RandomSelector{})
	if err != nil {
		logrus.Fatalf("❌ Invalid signer keys: %v", err)
	}
	for _, addr := range signers.Addresses() {
		logrus.Infof("🔐 Signer loaded: %s", addr.Hex())
	}

	// Chain
	client, err := contract.Dial(ctx, cfg.RPCURL, cfg.ChainID)
	if err != nil {
		logrus.Fatalf("❌ Chain client initialization failed: %v", err)
	}
	defer client.Close()
	checks["chain"] = func(ctx context.Context) error {
		_, err := client.BlockNumber(ctx)
		return err
	}

	disburser := contract.NewDisburser(client, contract.DisburserConfig{
		ChainID:        cfg.ChainID,
		GasLimit:       cfg.GasLimit,
		MaxGasPrice:    cfg.MaxGasPriceWei,
		ConfirmTimeout: cfg.TxConfirmTimeout,
	})

	monitor := contract.NewBalanceMonitor(client, signers.Addresses(), cfg.SignerMinBalanceWei)
	go monitor.Run(ctx, cfg.BalanceCheckInterval)

	// Claim events
	hub := ws.NewHub()
	go hub.Run(ctx)

	publishers := events.Multi{hub}
	if cfg.NATSURL != "" {
		nc, err := events.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubjectPrefix)
		if err != nil {
			logrus.Warnf("⚠️  NATS initialization failed: %v", err)
		} else {
			defer nc.Close()
			publishers = append(publishers, nc)
		}
	}

	svc, err := claim.NewService(claim.Options{
		Secret:       cfg.ClaimSecret,
		MaxAmountWei: cfg.MaxClaimWei,
		IntentLock:   cfg.ClaimIntentLock,
		Ledger:       ledger,
		Nonces:       nonces,
		Pool:         signers,
		Disburser:    disburser,
		Publisher:    publishers,
	})
	if err != nil {
		logrus.Fatalf("❌ %v", err)
	}
	if !cfg.ClaimIntentLock {
		logrus.Warn("⚠️  CLAIM_INTENT_LOCK is off, concurrent duplicate claims may pay twice")
	}

	router := api.NewRouter(api.NewHandler(svc, checks), api.RouterOptions{
		ClaimRateRPS:   cfg.ClaimRateRPS,
		ClaimRateBurst: cfg.ClaimRateBurst,
		TrustProxy:     cfg.TrustProxyHeaders,
		Feed:           http.HandlerFunc(hub.ServeWS),
	})

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	idle := make(chan struct{})
	go func() {
		defer close(idle)
		<-ctx.Done()
		logrus.Info("🛑 Shutting down")
		// in-flight claims may be waiting on a receipt
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.TxConfirmTimeout+15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logrus.Errorf("❌ Shutdown error: %v", err)
		}
	}()

	logrus.Infof("🚀 Server starting on %s (chain %d, %d signers, max claim %s)",
		srv.Addr, cfg.ChainID, signers.Size(), config.WeiToEther(cfg.MaxClaimWei))
	logrus.Info("🔌 API Endpoints:")
	logrus.Info("   POST /claim - Claim a player's envelope")
	logrus.Info("   POST /claim-status - Check whether an envelope was claimed")
	logrus.Info("   GET  /api/health - Health check")
	logrus.Info("   GET  /metrics - Prometheus metrics")
	logrus.Info("📡 WebSocket Endpoints:")
	logrus.Info("   ws://localhost:" + cfg.Port + "/ws - Claim events, subscribe with {\"type\":\"subscribe\",\"data\":{\"fid\":N}}")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logrus.Fatalf("❌ Server error: %v", err)
	}
	<-idle
	logrus.Info("👋 Server stopped")
}
