package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agenthands/geargraph/internal/app"
)

func newIndicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "indices",
		Short: "Create the Memgraph indexes and constraints",
		Args:  cobra.NoArgs,
		RunE:  runIndices,
	}
}

func runIndices(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Persistence.Store != "memgraph" {
		return errors.New("indices requires persistence.store = memgraph")
	}
	log, err := loadLogger(cfg)
	if err != nil {
		return err
	}
	a, err := app.New(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	if err := a.Driver.BuildIndices(cmd.Context()); err != nil {
		return fmt.Errorf("building indices: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "indices ready")
	return nil
}
