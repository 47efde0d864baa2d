// Command pimsync drives one-way and two-way synchronization between
// CardDAV/CalDAV accounts and local stores (sqlite, LDAP) according to
// a YAML configuration file.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sonroyaalmerol/pimsync/internal/config"
	"github.com/sonroyaalmerol/pimsync/internal/logging"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "pimsync",
	Short: "Synchronize contacts and calendars between DAV servers and local stores",
}

var runCmd = &cobra.Command{
	Use:   "run [pair...]",
	Short: "Run the configured sync pairs once",
	Long: `Run executes every sync pair in the configuration file, or only
the named pairs when given, then exits. Each pair runs to completion
before the next one starts.`,
	RunE: runPairs,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "pimsync.yaml", "path to the YAML configuration file")
	rootCmd.AddCommand(runCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runPairs(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.New(cfg.LogLevel)
	reg := buildDefaultRegistry()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info().Msg("shutdown requested, finishing current pair")
		cancel()
	}()

	pairs := cfg.Sync
	if len(args) > 0 {
		pairs, err = selectPairs(cfg.Sync, args)
		if err != nil {
			return err
		}
	}

	for _, pair := range pairs {
		logger.Info().Str("pair", pair.Name).Str("mode", pair.Mode).Msg("starting pair")
		if err := runPair(ctx, cfg, pair, reg, logger); err != nil {
			logger.Error().Err(err).Str("pair", pair.Name).Msg("pair failed")
			return err
		}
	}
	return nil
}

func selectPairs(all []config.SyncPair, names []string) ([]config.SyncPair, error) {
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}
	out := make([]config.SyncPair, 0, len(names))
	for _, p := range all {
		if wanted[p.Name] {
			out = append(out, p)
			delete(wanted, p.Name)
		}
	}
	for n := range wanted {
		return nil, fmt.Errorf("cmd/pimsync: no sync pair named %q in config", n)
	}
	return out, nil
}
