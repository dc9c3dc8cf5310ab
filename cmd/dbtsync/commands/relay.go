package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dbt-portal/dbtsync/internal/content"
	"github.com/dbt-portal/dbtsync/internal/logging"
	"github.com/dbt-portal/dbtsync/internal/relay"
	"github.com/dbt-portal/dbtsync/pkg/types"
)

var (
	relayPort     int
	relayHostname string
	relaySeed     bool
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Start a local update server",
	Long: `Start a relay that speaks the portal sync protocol.

Clients connect to /ws. Admin broadcasts are fanned out to every other
client and the last full collection of each kind is kept for data_sync.`,
	RunE: runRelay,
}

func init() {
	relayCmd.Flags().IntVarP(&relayPort, "port", "p", 0, "Port to listen on (default from config)")
	relayCmd.Flags().StringVar(&relayHostname, "hostname", "", "Hostname to listen on (default from config)")
	relayCmd.Flags().BoolVar(&relaySeed, "seed", false, "Start with the default seed collections")
}

func runRelay(cmd *cobra.Command, args []string) error {
	cfg := relay.DefaultConfig()
	if rc := appConfig.Relay; rc != nil {
		if rc.Port != 0 {
			cfg.Port = rc.Port
		}
		if rc.Hostname != "" {
			cfg.Hostname = rc.Hostname
		}
		if rc.EnableCORS != nil {
			cfg.EnableCORS = *rc.EnableCORS
		}
	}
	if relayPort != 0 {
		cfg.Port = relayPort
	}
	if relayHostname != "" {
		cfg.Hostname = relayHostname
	}

	var snapshot types.DataSync
	if relaySeed {
		for c, records := range content.DefaultSeeds() {
			snapshot.Set(c, records)
		}
	}

	srv := relay.New(cfg, snapshot)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()
	fmt.Fprintf(cmd.OutOrStdout(), "relay listening on ws://%s/ws\n", srv.Addr())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	logging.Info().Msg("shutting down relay")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("relay shutdown: %w", err)
	}
	return nil
}
