package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"presence-tracker/internal/common/auth"
	"presence-tracker/internal/common/config"
	"presence-tracker/internal/common/database"
	httpclient "presence-tracker/internal/common/http"
	"presence-tracker/internal/presence/engine"
	pgrepo "presence-tracker/internal/repository/postgres"
)

var (
	tokenTTL      time.Duration
	heartbeatURL  string
	heartbeatKind string
)

func init() {
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")
	heartbeatCmd.Flags().StringVar(&heartbeatURL, "server", "http://localhost:8080", "presence-manager base URL")
	heartbeatCmd.Flags().StringVar(&heartbeatKind, "kind", "heartbeat", "online, heartbeat, away or offline")
	rootCmd.AddCommand(sweepCmd, migrateCmd, tokenCmd, heartbeatCmd)
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one sweeper pass now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		core, err := openCore(cmd.Context())
		if err != nil {
			return err
		}
		defer core.Close()

		res, err := core.Sweeper.Tick(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("scanned=%d closed=%d skipped=%d failed=%d\n", res.Scanned, res.Closed, res.Skipped, res.Failed)
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the PostgreSQL tables and indexes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Storage.Backend != config.BackendPostgres {
			return fmt.Errorf("migrate needs storage.backend=postgres, got %q", cfg.Storage.Backend)
		}

		pg, err := database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		defer pg.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		if err := pg.Ping(ctx); err != nil {
			return err
		}
		if err := pgrepo.EnsureSchema(ctx, pg.GetDB()); err != nil {
			return err
		}
		fmt.Printf("Schema ready (%d statements).\n", len(pgrepo.Schema))
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token <userId>",
	Short: "Mint a bearer token for a user with the configured secret",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		verifier, err := auth.NewTokenVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
		if err != nil {
			return err
		}
		token, err := verifier.Issue(args[0], tokenTTL)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

var heartbeatCmd = &cobra.Command{
	Use:   "heartbeat <userId>",
	Short: "Send one heartbeat to a running presence-manager",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		verifier, err := auth.NewTokenVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
		if err != nil {
			return err
		}
		token, err := verifier.Issue(args[0], time.Minute)
		if err != nil {
			return err
		}

		client := httpclient.NewClient(heartbeatURL, 10*time.Second).WithToken(token)
		var view engine.PresenceView
		err = client.DoJSON(cmd.Context(), "POST", "/api/v1/presence/heartbeat", map[string]string{
			"kind":             heartbeatKind,
			"connectionMethod": "cli",
		}, &view)
		if err != nil {
			return err
		}
		fmt.Printf("%s is %s (session %s, total %s)\n", view.UserID, view.Status, orDash(view.ActiveSessionID),
			(time.Duration(view.TotalOnlineMs) * time.Millisecond).String())
		return nil
	},
}
