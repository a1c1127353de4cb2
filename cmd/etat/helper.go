package main

import (
	"context"
	"fmt"

	"github.com/harunnryd/etat/internal/config"
	"github.com/harunnryd/etat/internal/engine"

	"github.com/spf13/cobra"
)

func loadConfigForCommand(cmd *cobra.Command) (*config.Config, error) {
	if cfg != nil {
		return cfg, nil
	}

	loadedCfg, err := config.Load(cmd)
	if err != nil {
		return nil, err
	}

	return loadedCfg, nil
}

// withEngine opens the data dir for the duration of fn. It fails fast when a
// daemon already holds the store lock.
func withEngine(cmd *cobra.Command, fn func(ctx context.Context, eng *engine.Engine) error) error {
	loadedCfg, err := loadConfigForCommand(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	eng, err := engine.New(loadedCfg, engine.Deps{})
	if err != nil {
		return fmt.Errorf("failed to open data dir (is the daemon running?): %w", err)
	}
	defer eng.Close()

	return fn(ctx, eng)
}
