package config

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEther(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "0.05", want: "50000000000000000"},
		{in: "0.12", want: "120000000000000000"},
		{in: "1", want: "1000000000000000000"},
		{in: "0.000000000000000001", want: "1"},
		{in: "0.0000000000000000001", wantErr: true},
		{in: "1e-2", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseEther(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestWeiToEther(t *testing.T) {
	assert.Equal(t, "0.05", WeiToEther(big.NewInt(50000000000000000)))
	assert.Equal(t, "0", WeiToEther(big.NewInt(0)))
	assert.Equal(t, "0", WeiToEther(nil))

	two, _ := new(big.Int).SetString("2000000000000000000", 10)
	assert.Equal(t, "2", WeiToEther(two))
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CLAIM_SECRET", "s3cret")
	t.Setenv("SIGNER_PRIVATE_KEYS", " aa , bb ,")
	t.Setenv("LEDGER_DRIVER", "memory")
	t.Setenv("CONFIG_FILE", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, []string{"aa", "bb"}, cfg.SignerKeys)
	assert.True(t, cfg.ClaimIntentLock)
	assert.False(t, cfg.TrustProxyHeaders)
	assert.Equal(t, "120000000000000000", cfg.MaxClaimWei.String())
	assert.Equal(t, uint64(TransferGasLimit), cfg.GasLimit)
	assert.Equal(t, DefaultTxConfirmTimeout, cfg.TxConfirmTimeout)
}

func TestLoadFileWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "claims.yaml")
	body := "CLAIM_SECRET: from-file\nCLAIM_MAX_AMOUNT: 0.5\nNONCE_TTL: 2h\nCHAIN_ID: 1\nLEDGER_DRIVER: memory\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("CHAIN_ID", "5000")
	t.Setenv("TRUST_PROXY_HEADERS", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, int64(5000), cfg.ChainID)
	assert.True(t, cfg.TrustProxyHeaders)
	assert.Equal(t, 2*time.Hour, cfg.NonceTTL)
	assert.Equal(t, "500000000000000000", cfg.MaxClaimWei.String())
	if _, set := os.LookupEnv("CLAIM_SECRET"); !set {
		assert.Equal(t, "from-file", cfg.ClaimSecret)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			ClaimSecret:  "x",
			SignerKeys:   []string{"k"},
			RPCURL:       "http://localhost:8545",
			LedgerDriver: "memory",
			MaxClaimWei:  big.NewInt(1),
		}
	}

	require.NoError(t, base().Validate())

	c := base()
	c.ClaimSecret = ""
	assert.Error(t, c.Validate())

	c = base()
	c.SignerKeys = nil
	assert.Error(t, c.Validate())

	c = base()
	c.LedgerDriver = "postgres"
	assert.Error(t, c.Validate())

	c = base()
	c.NonceSingleUse = true
	assert.Error(t, c.Validate())

	c = base()
	c.LedgerDriver = "mongo"
	assert.Error(t, c.Validate())
}
