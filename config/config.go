package config

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config is the process configuration, read once at startup.
type Config struct {
	Port string

	// Shared secret mixed into every fused key
	ClaimSecret string

	RPCURL     string
	ChainID    int64
	SignerKeys []string

	LedgerDriver string // postgres | memory
	DatabaseURL  string
	PlayersTable string

	RedisURL       string
	RedisPassword  string
	RedisDB        int
	NonceSingleUse bool
	NonceTTL       time.Duration

	NATSURL           string
	NATSSubjectPrefix string

	MaxClaimAmount  string
	MaxClaimWei     *big.Int
	ClaimIntentLock bool

	GasLimit             uint64
	MaxGasPriceWei       *big.Int
	TxConfirmTimeout     time.Duration
	BalanceCheckInterval time.Duration
	SignerMinBalanceWei  *big.Int

	ClaimRateRPS      float64
	ClaimRateBurst    int
	TrustProxyHeaders bool

	LogLevel string
}

type source struct {
	file map[string]string
}

func (s source) get(key string) string {
	if v, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(v)
	}
	return strings.TrimSpace(s.file[key])
}

func (s source) str(key, def string) string {
	if v := s.get(key); v != "" {
		return v
	}
	return def
}

// LoadDotEnv loads .env if present. Missing files are not an error.
func LoadDotEnv(files ...string) {
	if err := godotenv.Load(files...); err != nil {
		logrus.Warn("⚠️  .env file not found, using environment variables")
		return
	}
	logrus.Info("✅ Loaded environment variables from .env")
}

// Load builds the Config from the environment, falling back to the optional
// YAML file named by CONFIG_FILE. Environment values win.
func Load() (*Config, error) {
	src := source{file: map[string]string{}}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &src.file); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	return load(src)
}

func load(src source) (*Config, error) {
	var err error
	cfg := &Config{
		Port:              src.str("PORT", DefaultPort),
		ClaimSecret:       src.get("CLAIM_SECRET"),
		RPCURL:            src.str("RPC_URL", DefaultRPCURL),
		LedgerDriver:      strings.ToLower(src.str("LEDGER_DRIVER", "postgres")),
		DatabaseURL:       src.get("DATABASE_URL"),
		PlayersTable:      src.str("PLAYERS_TABLE", DefaultPlayersTable),
		RedisURL:          src.get("REDIS_URL"),
		RedisPassword:     src.get("REDIS_PASSWORD"),
		NATSURL:           src.get("NATS_URL"),
		NATSSubjectPrefix: src.str("NATS_SUBJECT_PREFIX", "claims"),
		MaxClaimAmount:    src.str("CLAIM_MAX_AMOUNT", DefaultMaxClaimAmount),
		LogLevel:          src.str("LOG_LEVEL", "info"),
	}

	for _, k := range strings.Split(src.get("SIGNER_PRIVATE_KEYS"), ",") {
		if k = strings.TrimSpace(k); k != "" {
			cfg.SignerKeys = append(cfg.SignerKeys, k)
		}
	}

	if cfg.ChainID, err = parseInt(src, "CHAIN_ID", DefaultChainID); err != nil {
		return nil, err
	}
	redisDB, err := parseInt(src, "REDIS_DB", 0)
	if err != nil {
		return nil, err
	}
	cfg.RedisDB = int(redisDB)
	if cfg.NonceSingleUse, err = parseBool(src, "NONCE_SINGLE_USE", false); err != nil {
		return nil, err
	}
	if cfg.ClaimIntentLock, err = parseBool(src, "CLAIM_INTENT_LOCK", true); err != nil {
		return nil, err
	}
	if cfg.NonceTTL, err = parseDuration(src, "NONCE_TTL", DefaultNonceTTL); err != nil {
		return nil, err
	}
	if cfg.TxConfirmTimeout, err = parseDuration(src, "TX_CONFIRM_TIMEOUT", DefaultTxConfirmTimeout); err != nil {
		return nil, err
	}
	if cfg.BalanceCheckInterval, err = parseDuration(src, "BALANCE_CHECK_INTERVAL", DefaultBalanceCheckInterval); err != nil {
		return nil, err
	}
	gasLimit, err := parseInt(src, "GAS_LIMIT", TransferGasLimit)
	if err != nil {
		return nil, err
	}
	cfg.GasLimit = uint64(gasLimit)
	if cfg.MaxGasPriceWei, err = parseWei(src, "MAX_GAS_PRICE_WEI", DefaultMaxGasPriceWei); err != nil {
		return nil, err
	}
	if cfg.SignerMinBalanceWei, err = parseWei(src, "SIGNER_MIN_BALANCE_WEI", DefaultSignerMinBalanceWei); err != nil {
		return nil, err
	}
	if cfg.MaxClaimWei, err = ParseEther(cfg.MaxClaimAmount); err != nil {
		return nil, fmt.Errorf("invalid CLAIM_MAX_AMOUNT: %w", err)
	}

	cfg.ClaimRateRPS = DefaultClaimRateRPS
	if v := src.get("CLAIM_RATE_RPS"); v != "" {
		if cfg.ClaimRateRPS, err = strconv.ParseFloat(v, 64); err != nil {
			return nil, fmt.Errorf("invalid CLAIM_RATE_RPS: %w", err)
		}
	}
	burst, err := parseInt(src, "CLAIM_RATE_BURST", DefaultClaimRateBurst)
	if err != nil {
		return nil, err
	}
	cfg.ClaimRateBurst = int(burst)
	if cfg.TrustProxyHeaders, err = parseBool(src, "TRUST_PROXY_HEADERS", false); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate reports configuration that makes the claim path unusable.
func (c *Config) Validate() error {
	if c.ClaimSecret == "" {
		return fmt.Errorf("CLAIM_SECRET environment variable not set")
	}
	if len(c.SignerKeys) == 0 {
		return fmt.Errorf("SIGNER_PRIVATE_KEYS environment variable not set")
	}
	if c.RPCURL == "" {
		return fmt.Errorf("RPC_URL environment variable not set")
	}
	switch c.LedgerDriver {
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL environment variable not set")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown LEDGER_DRIVER %q", c.LedgerDriver)
	}
	if c.NonceSingleUse && c.RedisURL == "" {
		return fmt.Errorf("NONCE_SINGLE_USE requires REDIS_URL")
	}
	if c.MaxClaimWei.Sign() <= 0 {
		return fmt.Errorf("CLAIM_MAX_AMOUNT must be positive")
	}
	return nil
}

func parseInt(src source, key string, def int64) (int64, error) {
	v := src.get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func parseBool(src source, key string, def bool) (bool, error) {
	v := src.get(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func parseDuration(src source, key string, def time.Duration) (time.Duration, error) {
	v := src.get(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func parseWei(src source, key, def string) (*big.Int, error) {
	v := src.str(key, def)
	n, ok := new(big.Int).SetString(v, 10)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("invalid %s: %s", key, v)
	}
	return n, nil
}
