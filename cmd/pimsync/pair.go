package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/pimsync/internal/config"
	engine "github.com/sonroyaalmerol/pimsync/internal/sync"
	"github.com/sonroyaalmerol/pimsync/internal/syncmeta"
	"github.com/sonroyaalmerol/pimsync/pkg/pim"
)

func toEngineConfig(pair config.SyncPair, logger zerolog.Logger) engine.EngineConfig {
	return engine.EngineConfig{
		BatchSize:             pair.BatchSize,
		SyncProgressFrequency: time.Duration(pair.SyncProgressFrequency * float64(time.Second)),
		Pair:                  pair.Name,
		Callback:              pairCallback(pair.Name, logger),
	}
}

func toEnginePhases(phases []config.Phase) []engine.Phase {
	out := make([]engine.Phase, 0, len(phases))
	for _, p := range phases {
		out = append(out, engine.Phase{Name: p.Name, IgnoredFields: p.IgnoredFields})
	}
	return out
}

func pairCallback(pairName string, logger zerolog.Logger) *engine.Callback {
	return &engine.Callback{
		Print: func(msg string) {
			logger.Info().Str("pair", pairName).Msg(msg)
		},
		SyncPhaseStarted: func(phase string) {
			logger.Info().Str("pair", pairName).Str("phase", phase).Msg("phase started")
		},
		SyncPhaseFinished: func(phase string) {
			logger.Info().Str("pair", pairName).Str("phase", phase).Msg("phase finished")
		},
		SyncProgress: func(phase string, fraction float64, processed int) {
			logger.Debug().Str("pair", pairName).Str("phase", phase).Float64("fraction", fraction).Int("processed", processed).Msg("progress")
		},
	}
}

// runPair builds the collaborators a single SyncPair names and drives
// one Synchronize call to completion, blocking until SyncFinished
// fires.
func runPair(ctx context.Context, cfg *config.Config, pair config.SyncPair, reg *pim.Registry, logger zerolog.Logger) error {
	switch pair.Mode {
	case "oneway":
		return runOneWayPair(ctx, cfg, pair, reg, logger)
	case "twoway":
		return runTwoWayPair(ctx, cfg, pair, reg, logger)
	default:
		return fmt.Errorf("cmd/pimsync: pair %s: unknown mode %q (want oneway or twoway)", pair.Name, pair.Mode)
	}
}

func runOneWayPair(ctx context.Context, cfg *config.Config, pair config.SyncPair, reg *pim.Registry, logger zerolog.Logger) error {
	source, itemType, err := resolveSource(ctx, cfg, pair.Remote, logger)
	if err != nil {
		return err
	}
	local, err := resolveLocalStore(cfg, pair.Local, itemType, logger)
	if err != nil {
		return err
	}

	phases := toEnginePhases(pair.Phases)
	if len(phases) == 0 {
		phases = []engine.Phase{{Name: "default"}}
	}

	syncEngine, err := engine.NewOneWaySync(ctx, source, local, reg, itemType, phases, toEngineConfig(pair, logger))
	if err != nil {
		return fmt.Errorf("cmd/pimsync: pair %s: %w", pair.Name, err)
	}

	done := make(chan struct{})
	cb := syncEngine.Config.Callback
	innerFinished := cb.SyncFinished
	cb.SyncFinished = func(result engine.Result, stats engine.Stats) {
		if innerFinished != nil {
			innerFinished(result, stats)
		}
		logger.Info().Str("pair", pair.Name).Str("result", result.String()).Msg("one-way sync finished")
		close(done)
	}

	syncEngine.Synchronize(ctx)
	<-done
	return nil
}

func runTwoWayPair(ctx context.Context, cfg *config.Config, pair config.SyncPair, reg *pim.Registry, logger zerolog.Logger) error {
	remote, itemType, err := resolveRemoteStore(ctx, cfg, pair.Remote, logger)
	if err != nil {
		return err
	}
	local, err := resolveLocalStore(cfg, pair.Local, itemType, logger)
	if err != nil {
		return err
	}

	meta, err := syncmeta.Load(pair.MetadataPath)
	if err != nil {
		return fmt.Errorf("cmd/pimsync: pair %s: loading metadata: %w", pair.Name, err)
	}

	engineCfg := toEngineConfig(pair, logger)
	cb := engineCfg.Callback
	cb.MetadataUpdated = func(metadataJSON string) {
		updated, err := syncmeta.FromJSON(metadataJSON)
		if err != nil {
			logger.Error().Err(err).Str("pair", pair.Name).Msg("parsing updated metadata")
			return
		}
		if err := updated.Save(pair.MetadataPath); err != nil {
			logger.Error().Err(err).Str("pair", pair.Name).Msg("persisting updated metadata")
		}
	}

	syncEngine, err := engine.NewTwoWaySync(ctx, local, remote, reg, itemType, engineCfg)
	if err != nil {
		return fmt.Errorf("cmd/pimsync: pair %s: %w", pair.Name, err)
	}

	done := make(chan struct{})
	innerFinished := cb.SyncFinished
	cb.SyncFinished = func(result engine.Result, stats engine.Stats) {
		if innerFinished != nil {
			innerFinished(result, stats)
		}
		logger.Info().Str("pair", pair.Name).Str("result", result.String()).Msg("two-way sync finished")
		close(done)
	}

	syncEngine.Synchronize(ctx, meta)
	<-done
	return nil
}
