package api

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"claimServer/claim"
	"claimServer/config"
	"claimServer/contract"
	"claimServer/crypto"
	"claimServer/db"
	"claimServer/keys"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "envelope-secret"

type stubDisburser struct {
	sends atomic.Int32
}

func (s *stubDisburser) Send(ctx context.Context, cred keys.Credential, to common.Address, amount *big.Int) (contract.Result, error) {
	n := s.sends.Add(1)
	return contract.Result{
		TxHash:    common.BigToHash(big.NewInt(int64(n))).Hex(),
		Confirmed: true,
		Signer:    cred.Address,
	}, nil
}

type countingPool struct {
	*keys.Pool
	calls atomic.Int32
}

func (c *countingPool) Select() keys.Credential {
	c.calls.Add(1)
	return c.Pool.Select()
}

type fixture struct {
	router    http.Handler
	ledger    *db.MemoryLedger
	pool      *countingPool
	disburser *stubDisburser
}

func newFixture(t *testing.T, opts RouterOptions, checks map[string]HealthCheck) *fixture {
	t.Helper()

	k, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	pool, err := keys.NewPool([]string{hex.EncodeToString(ethcrypto.FromECDSA(k))}, nil)
	require.NoError(t, err)
	maxWei, err := config.ParseEther("0.12")
	require.NoError(t, err)

	f := &fixture{
		ledger:    db.NewMemoryLedger(),
		pool:      &countingPool{Pool: pool},
		disburser: &stubDisburser{},
	}
	require.NoError(t, f.ledger.UpsertPlayer(context.Background(), 100, "alice"))
	f.ledger.Reset()

	svc, err := claim.NewService(claim.Options{
		Secret:       testSecret,
		MaxAmountWei: maxWei,
		IntentLock:   true,
		Ledger:       f.ledger,
		Pool:         f.pool,
		Disburser:    f.disburser,
	})
	require.NoError(t, err)

	f.router = NewRouter(NewHandler(svc, checks), opts)
	return f
}

func (f *fixture) post(t *testing.T, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	return f.postFrom(t, path, body, nil)
}

func (f *fixture) postFrom(t *testing.T, path, body string, header http.Header) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec, out
}

func claimBody(t *testing.T, amount string, fusedKey string) string {
	t.Helper()
	fid := int64(100)
	score := int64(4200)
	if fusedKey == "" {
		fusedKey = crypto.FusedKey("r-1", testSecret, &score, &fid)
	}

	var buf bytes.Buffer
	buf.WriteString(`{"to":"0x1111111111111111111111111111111111111111","amount":`)
	buf.WriteString(amount)
	buf.WriteString(`,"fid":100,"name":"alice","randomKey":"r-1","score":4200,"fusedKey":"`)
	buf.WriteString(fusedKey)
	buf.WriteString(`"}`)
	return buf.String()
}

func TestClaimEndpointPaysOnce(t *testing.T) {
	f := newFixture(t, RouterOptions{}, nil)

	rec, out := f.post(t, "/claim", claimBody(t, "0.05", ""))
	require.Equal(t, http.StatusOK, rec.Code, out)
	assert.NotEmpty(t, out["txHash"])

	rec, out = f.post(t, "/claim", claimBody(t, "0.05", ""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "already claimed", out["error"])
	assert.Equal(t, int32(1), f.disburser.sends.Load())

	rec, out = f.post(t, "/claim-status", `{"fid":100}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["claimed"])
}

func TestClaimEndpointInProgress(t *testing.T) {
	f := newFixture(t, RouterOptions{}, nil)
	ok, err := f.ledger.BeginClaim(context.Background(), 100)
	require.NoError(t, err)
	require.True(t, ok)

	rec, out := f.post(t, "/claim", claimBody(t, "0.05", ""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "claim already in progress", out["error"])
	assert.Zero(t, f.disburser.sends.Load())
}

func TestClaimEndpointOverCeiling(t *testing.T) {
	f := newFixture(t, RouterOptions{}, nil)

	rec, out := f.post(t, "/claim", claimBody(t, "0.15", ""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, out["error"], "exceeds maximum")
	assert.Zero(t, f.pool.calls.Load())
	assert.Zero(t, f.ledger.CallCount())
}

func TestClaimEndpointTamperedKey(t *testing.T) {
	f := newFixture(t, RouterOptions{}, nil)

	rec, out := f.post(t, "/claim", claimBody(t, "0.05", strings.Repeat("0", 64)))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.NotEmpty(t, out["error"])
	assert.Zero(t, f.ledger.CallCount())
	assert.Zero(t, f.disburser.sends.Load())
}

func TestClaimEndpointBadBodies(t *testing.T) {
	f := newFixture(t, RouterOptions{}, nil)

	tests := []struct {
		name string
		body string
	}{
		{"not json", `hello`},
		{"string amount", `{"amount":"lots"}`},
		{"missing fields", `{}`},
		{"exponent amount", claimBody(t, "5e-2", "")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, out := f.post(t, "/claim", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.NotEmpty(t, out["error"])
		})
	}
	assert.Zero(t, f.disburser.sends.Load())
}

func TestClaimStatusEndpoint(t *testing.T) {
	f := newFixture(t, RouterOptions{}, nil)

	rec, out := f.post(t, "/claim-status", `{"fid":100}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, out["claimed"])

	rec, out = f.post(t, "/claim-status", `{"fid":4242}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, out["claimed"])

	rec, _ = f.post(t, "/claim-status", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClaimRateLimit(t *testing.T) {
	f := newFixture(t, RouterOptions{ClaimRateRPS: 0.001, ClaimRateBurst: 1}, nil)

	rec, _ := f.post(t, "/claim", claimBody(t, "0.15", ""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, out := f.post(t, "/claim", claimBody(t, "0.15", ""))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate limit exceeded", out["error"])

	// status is not limited
	rec, _ = f.post(t, "/claim-status", `{"fid":100}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestClaimRateLimitIgnoresForwardedFor(t *testing.T) {
	f := newFixture(t, RouterOptions{ClaimRateRPS: 0.001, ClaimRateBurst: 1}, nil)

	for i, xff := range []string{"203.0.113.1", "203.0.113.2", "203.0.113.3"} {
		rec, _ := f.postFrom(t, "/claim", claimBody(t, "0.15", ""), http.Header{"X-Forwarded-For": {xff}})
		if i == 0 {
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			continue
		}
		assert.Equal(t, http.StatusTooManyRequests, rec.Code, "forwarded for %s", xff)
	}
}

func TestClaimRateLimitBehindTrustedProxy(t *testing.T) {
	f := newFixture(t, RouterOptions{ClaimRateRPS: 0.001, ClaimRateBurst: 1, TrustProxy: true}, nil)

	rec, _ := f.postFrom(t, "/claim", claimBody(t, "0.15", ""), http.Header{"X-Forwarded-For": {"203.0.113.1"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// distinct clients behind the same proxy get their own budget
	rec, _ = f.postFrom(t, "/claim", claimBody(t, "0.15", ""), http.Header{"X-Forwarded-For": {"203.0.113.2"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, out := f.postFrom(t, "/claim", claimBody(t, "0.15", ""), http.Header{"X-Forwarded-For": {"203.0.113.1"}})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate limit exceeded", out["error"])
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, RouterOptions{}, nil)

	req := httptest.NewRequest(http.MethodOptions, "/claim", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Zero(t, f.disburser.sends.Load())
}

func TestHealthCheck(t *testing.T) {
	f := newFixture(t, RouterOptions{}, map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
		"chain":    func(context.Context) error { return errors.New("dial timeout") },
	})

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "ok", out["postgres"])
	assert.Equal(t, "error: dial timeout", out["chain"])
	assert.Equal(t, false, out["success"])
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, RouterOptions{}, nil)
	f.post(t, "/claim", claimBody(t, "0.15", ""))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "claims_requests_total")
}
