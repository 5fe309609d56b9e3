package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agenthands/geargraph/internal/app"
)

func newAuditCmd() *cobra.Command {
	var apply bool
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Scan the graph for duplicate entities",
		Long: "Groups entities that match each other above the configured floor. " +
			"With --apply, unambiguous groups are absorbed and the rest are queued for review.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAudit(cmd, apply)
		},
	}
	cmd.Flags().BoolVar(&apply, "apply", false, "Absorb unambiguous duplicates and queue the rest for review")
	return cmd
}

func runAudit(cmd *cobra.Command, apply bool) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
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

	res, err := a.Auditor.Run(cmd.Context(), apply)
	if err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
