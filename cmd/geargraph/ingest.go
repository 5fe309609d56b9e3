package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/agenthands/geargraph/internal/app"
	"github.com/agenthands/geargraph/internal/orchestrator"
)

func newIngestCmd() *cobra.Command {
	var events bool
	cmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: "Ingest units from a YAML or JSON file",
		Long: "Reads one unit or a list of units (source_ref plus candidates or content), " +
			"runs them through the curation pipeline and prints a summary per unit.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd, args[0], events)
		},
	}
	cmd.Flags().BoolVar(&events, "events", false, "Stream unit events to stdout as JSON lines")
	return cmd
}

// readUnits accepts YAML or JSON. YAML is converted to JSON first so that
// candidate fields get the same decoding as the HTTP API.
func readUnits(path string) ([]orchestrator.UnitRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("converting %s: %w", path, err)
	}

	if bytes.HasPrefix(bytes.TrimSpace(raw), []byte("[")) {
		var reqs []orchestrator.UnitRequest
		if err := json.Unmarshal(raw, &reqs); err != nil {
			return nil, fmt.Errorf("decoding units: %w", err)
		}
		return reqs, nil
	}
	var req orchestrator.UnitRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("decoding unit: %w", err)
	}
	return []orchestrator.UnitRequest{req}, nil
}

func runIngest(cmd *cobra.Command, path string, events bool) error {
	reqs, err := readUnits(path)
	if err != nil {
		return err
	}
	if len(reqs) == 0 {
		return fmt.Errorf("%s contains no units", path)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if len(reqs) > cfg.Orchestrator.QueueSize {
		cfg.Orchestrator.QueueSize = len(reqs)
	}
	log, err := loadLogger(cfg)
	if err != nil {
		return err
	}

	var sinks []orchestrator.EventSink
	if events {
		sinks = append(sinks, orchestrator.NewJSONSink(cmd.OutOrStdout()))
	}
	a, err := app.New(cmd.Context(), cfg, log, sinks...)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	ctx, cancel := context.WithCancel(cmd.Context())
	done := make(chan error, 1)
	go func() { done <- a.Orchestrator.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	ids := make([]string, 0, len(reqs))
	for i, req := range reqs {
		id, err := a.Orchestrator.Enqueue(req)
		if err != nil {
			return fmt.Errorf("unit %d (%s): %w", i+1, req.SourceRef, err)
		}
		ids = append(ids, id)
	}

	out := cmd.OutOrStdout()
	failed := 0
	for _, id := range ids {
		snap, err := a.Orchestrator.Wait(cmd.Context(), id)
		if err != nil {
			return err
		}
		if snap.State != orchestrator.StateCompleted {
			failed++
		}
		c := snap.Counts
		fmt.Fprintf(out, "%s %-9s candidates=%d created=%d merged=%d flagged=%d invalid=%d failed=%d",
			snap.SourceRef, snap.State, c.Candidates, c.Created, c.Merged, c.Flagged, c.Invalid, c.Failed)
		if snap.Error != "" {
			fmt.Fprintf(out, " error=%q", snap.Error)
		}
		fmt.Fprintln(out)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d units did not complete", failed, len(ids))
	}
	return nil
}
