package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// NewPostgresPool opens and pings a PostgreSQL connection pool
func NewPostgresPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	logrus.Info("🔌 Connecting to PostgreSQL...")

	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable not set")
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	// Configure pool settings
	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logrus.Info("✅ PostgreSQL connected successfully")
	return pool, nil
}

// PostgresLedger keeps the envelope flag on the players table. Every state
// change is a single conditional UPDATE so concurrent requests for the same
// fid cannot both win.
type PostgresLedger struct {
	pool  *pgxpool.Pool
	table string
	index string
}

// NewPostgresLedger binds the ledger to a players table
func NewPostgresLedger(pool *pgxpool.Pool, table string) (*PostgresLedger, error) {
	table = strings.TrimSpace(table)
	if table == "" {
		return nil, fmt.Errorf("players table name is empty")
	}
	return &PostgresLedger{
		pool:  pool,
		table: pgx.Identifier{table}.Sanitize(),
		index: pgx.Identifier{"idx_" + table + "_claim_state"}.Sanitize(),
	}, nil
}

// InitSchema creates the players table, or adds the claim columns to a
// profile table created elsewhere
func (l *PostgresLedger) InitSchema(ctx context.Context) error {
	logrus.Info("📋 Initializing players schema...")

	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %[1]s (
		fid BIGINT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT ''
	);

	ALTER TABLE %[1]s ADD COLUMN IF NOT EXISTS envelope_claimed BOOLEAN NOT NULL DEFAULT FALSE;
	ALTER TABLE %[1]s ADD COLUMN IF NOT EXISTS claim_state TEXT NOT NULL DEFAULT 'unclaimed';
	ALTER TABLE %[1]s ADD COLUMN IF NOT EXISTS claim_tx_hash TEXT;
	ALTER TABLE %[1]s ADD COLUMN IF NOT EXISTS claim_started_at TIMESTAMPTZ;
	ALTER TABLE %[1]s ADD COLUMN IF NOT EXISTS claimed_at TIMESTAMPTZ;

	-- Index on claim_state for reconciliation scans
	CREATE INDEX IF NOT EXISTS %[2]s ON %[1]s(claim_state);
	`, l.table, l.index)

	if _, err := l.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create players table: %w", err)
	}

	logrus.Info("✅ Players schema initialized")
	return nil
}

/* =========================
   CLAIM LEDGER
========================= */

// ClaimStatus looks up the envelope flag of a player
func (l *PostgresLedger) ClaimStatus(ctx context.Context, fid int64) (ClaimStatus, error) {
	query := fmt.Sprintf(`
		SELECT COALESCE(envelope_claimed, FALSE), COALESCE(claim_state, 'unclaimed')
		FROM %s
		WHERE fid = $1
	`, l.table)

	var claimed bool
	var state string
	err := l.pool.QueryRow(ctx, query, fid).Scan(&claimed, &state)
	if errors.Is(err, pgx.ErrNoRows) {
		return ClaimStatus{}, nil
	}
	if err != nil {
		return ClaimStatus{}, fmt.Errorf("failed to get claim status: %w", err)
	}

	return ClaimStatus{
		Exists:  true,
		Claimed: claimed,
		Pending: !claimed && ClaimState(state) == ClaimStatePending,
	}, nil
}

// BeginClaim moves an unclaimed player to pending. It reports false when the
// player is missing, already claimed, or another request holds the claim.
func (l *PostgresLedger) BeginClaim(ctx context.Context, fid int64) (bool, error) {
	query := fmt.Sprintf(`
		UPDATE %s
		SET claim_state = 'pending',
		    claim_started_at = NOW()
		WHERE fid = $1
		  AND envelope_claimed IS NOT TRUE
		  AND COALESCE(claim_state, 'unclaimed') = 'unclaimed'
	`, l.table)

	result, err := l.pool.Exec(ctx, query, fid)
	if err != nil {
		return false, fmt.Errorf("failed to begin claim: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// ReleaseClaim moves a pending claim back to unclaimed
func (l *PostgresLedger) ReleaseClaim(ctx context.Context, fid int64) (bool, error) {
	query := fmt.Sprintf(`
		UPDATE %s
		SET claim_state = 'unclaimed',
		    claim_started_at = NULL
		WHERE fid = $1
		  AND envelope_claimed IS NOT TRUE
		  AND claim_state = 'pending'
	`, l.table)

	result, err := l.pool.Exec(ctx, query, fid)
	if err != nil {
		return false, fmt.Errorf("failed to release claim: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// MarkClaimed sets envelope_claimed where it is not already set. It reports
// whether this call flipped the flag.
func (l *PostgresLedger) MarkClaimed(ctx context.Context, fid int64, txHash string) (bool, error) {
	query := fmt.Sprintf(`
		UPDATE %s
		SET envelope_claimed = TRUE,
		    claim_state = 'committed',
		    claim_tx_hash = $2,
		    claimed_at = NOW()
		WHERE fid = $1 AND envelope_claimed IS NOT TRUE
	`, l.table)

	result, err := l.pool.Exec(ctx, query, fid, txHash)
	if err != nil {
		return false, fmt.Errorf("failed to mark claimed: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

/* =========================
   PLAYERS
========================= */

// UpsertPlayer creates a player row, or updates its name
func (l *PostgresLedger) UpsertPlayer(ctx context.Context, fid int64, name string) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (fid, name)
		VALUES ($1, $2)
		ON CONFLICT (fid) DO UPDATE
		SET name = EXCLUDED.name
	`, l.table)

	if _, err := l.pool.Exec(ctx, query, fid, name); err != nil {
		return fmt.Errorf("failed to upsert player: %w", err)
	}
	return nil
}

// GetPlayer returns the claim columns of a player
func (l *PostgresLedger) GetPlayer(ctx context.Context, fid int64) (*PlayerRecord, error) {
	query := fmt.Sprintf(`
		SELECT fid, name, envelope_claimed, claim_state, claim_tx_hash, claim_started_at, claimed_at
		FROM %s
		WHERE fid = $1
	`, l.table)

	rec, err := scanPlayer(l.pool.QueryRow(ctx, query, fid))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPlayerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get player: %w", err)
	}
	return rec, nil
}

// PendingClaims lists claims stuck in pending for longer than olderThan
func (l *PostgresLedger) PendingClaims(ctx context.Context, olderThan time.Duration) ([]*PlayerRecord, error) {
	query := fmt.Sprintf(`
		SELECT fid, name, envelope_claimed, claim_state, claim_tx_hash, claim_started_at, claimed_at
		FROM %s
		WHERE claim_state = 'pending'
		  AND claim_started_at < NOW() - make_interval(secs => $1)
		ORDER BY claim_started_at
	`, l.table)

	rows, err := l.pool.Query(ctx, query, olderThan.Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to query pending claims: %w", err)
	}
	defer rows.Close()

	var records []*PlayerRecord
	for rows.Next() {
		rec, err := scanPlayer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return records, nil
}

// Ping performs a PostgreSQL health check
func (l *PostgresLedger) Ping(ctx context.Context) error {
	return l.pool.Ping(ctx)
}

func scanPlayer(row pgx.Row) (*PlayerRecord, error) {
	var rec PlayerRecord
	var state string
	if err := row.Scan(
		&rec.FID,
		&rec.Name,
		&rec.EnvelopeClaimed,
		&state,
		&rec.ClaimTxHash,
		&rec.ClaimStartedAt,
		&rec.ClaimedAt,
	); err != nil {
		return nil, err
	}
	rec.ClaimState = ClaimState(state)
	return &rec, nil
}
