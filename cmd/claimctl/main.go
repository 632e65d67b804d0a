// Command claimctl is the operator tool for the claim ledger: seeding players,
// inspecting claims and releasing stuck reservations after a manual chain check.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"claimServer/config"
	"claimServer/contract"
	"claimServer/crypto"
	"claimServer/db"
	"claimServer/keys"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	config.LoadDotEnv()
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "claimctl",
		Short:        "Operate the envelope claim ledger",
		SilenceUsage: true,
	}

	root.AddCommand(
		newSeedCmd(),
		newStatusCmd(),
		newFusedKeyCmd(),
		newKeysCmd(),
		newPendingCmd(),
		newReleaseCmd(),
	)
	return root
}

/* =========================
   LEDGER COMMANDS
========================= */

func newSeedCmd() *cobra.Command {
	var fid int64
	var name string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create or rename a player with an unclaimed envelope",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd.Context(), func(ctx context.Context, l *db.PostgresLedger) error {
				if err := l.UpsertPlayer(ctx, fid, name); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✅ Player %d (%s) seeded\n", fid, name)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&fid, "fid", 0, "player fid")
	cmd.Flags().StringVar(&name, "name", "", "player name")
	cmd.MarkFlagRequired("fid")
	return cmd
}

func newStatusCmd() *cobra.Command {
	var fid int64

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show a player's claim record",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd.Context(), func(ctx context.Context, l *db.PostgresLedger) error {
				p, err := l.GetPlayer(ctx, fid)
				if err != nil {
					return err
				}
				return printJSON(cmd, p)
			})
		},
	}
	cmd.Flags().Int64Var(&fid, "fid", 0, "player fid")
	cmd.MarkFlagRequired("fid")
	return cmd
}

func newPendingCmd() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List claims reserved but never committed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd.Context(), func(ctx context.Context, l *db.PostgresLedger) error {
				players, err := l.PendingClaims(ctx, olderThan)
				if err != nil {
					return err
				}
				if players == nil {
					players = []*db.PlayerRecord{}
				}
				return printJSON(cmd, players)
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 5*time.Minute, "only claims reserved longer ago than this")
	return cmd
}

func newReleaseCmd() *cobra.Command {
	var fid int64

	cmd := &cobra.Command{
		Use:   "release",
		Short: "Return a pending claim to unclaimed once the chain shows no payout",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd.Context(), func(ctx context.Context, l *db.PostgresLedger) error {
				ok, err := l.ReleaseClaim(ctx, fid)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("player %d has no pending claim", fid)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✅ Claim for player %d released\n", fid)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&fid, "fid", 0, "player fid")
	cmd.MarkFlagRequired("fid")
	return cmd
}

/* =========================
   KEY COMMANDS
========================= */

func newFusedKeyCmd() *cobra.Command {
	var nonce string
	var fid, score int64

	cmd := &cobra.Command{
		Use:   "fused-key",
		Short: "Compute the fused key a client must present for a claim",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.ClaimSecret == "" {
				return fmt.Errorf("CLAIM_SECRET environment variable not set")
			}

			var scorePtr *int64
			if cmd.Flags().Changed("score") {
				scorePtr = &score
			}
			fmt.Fprintln(cmd.OutOrStdout(), crypto.FusedKey(nonce, cfg.ClaimSecret, scorePtr, &fid))
			return nil
		},
	}
	cmd.Flags().StringVar(&nonce, "nonce", "", "random key")
	cmd.Flags().Int64Var(&fid, "fid", 0, "player fid")
	cmd.Flags().Int64Var(&score, "score", 0, "player score (omit for null)")
	cmd.MarkFlagRequired("nonce")
	cmd.MarkFlagRequired("fid")
	return cmd
}

func newKeysCmd() *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "keys",
		Short: "List signer addresses and their balances",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			pool, err := keys.NewPool(cfg.SignerKeys, nil)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if offline {
				for _, addr := range pool.Addresses() {
					fmt.Fprintln(out, addr.Hex())
				}
				return nil
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			client, err := contract.Dial(ctx, cfg.RPCURL, cfg.ChainID)
			if err != nil {
				return err
			}
			defer client.Close()

			for _, addr := range pool.Addresses() {
				bal, err := client.BalanceAt(ctx, addr, nil)
				if err != nil {
					return fmt.Errorf("balance of %s: %w", addr.Hex(), err)
				}
				marker := ""
				if bal.Cmp(cfg.SignerMinBalanceWei) < 0 {
					marker = "  ⚠️  low"
				}
				fmt.Fprintf(out, "%s  %s%s\n", addr.Hex(), config.WeiToEther(bal), marker)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "print addresses without querying the chain")
	return cmd
}

/* =========================
   HELPERS
========================= */

func withLedger(ctx context.Context, fn func(ctx context.Context, l *db.PostgresLedger) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL environment variable not set")
	}

	pool, err := db.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	ledger, err := db.NewPostgresLedger(pool, cfg.PlayersTable)
	if err != nil {
		return err
	}
	if err := ledger.InitSchema(ctx); err != nil {
		return err
	}
	logrus.Debugf("📦 Using players table %q", cfg.PlayersTable)
	return fn(ctx, ledger)
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
