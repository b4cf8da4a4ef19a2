package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zen-systems/nanobot/pkg/navigator"
	"github.com/zen-systems/nanobot/pkg/router"
)

// replayTurn is one line of a replay file.
type replayTurn struct {
	ConversationID string                `json:"conversation_id"`
	Message        string                `json:"message"`
	History        []router.HistoryEntry `json:"history"`
}

func replayCmd() *cobra.Command {
	var (
		turnsFile   string
		parallel    int
		noTelemetry bool
		gated       bool
	)

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Run a JSONL file of recorded turns through the navigator",
		Long: `Each line holds {"conversation_id", "message", "history"}.
	Turns are analyzed concurrently and a per-route breakdown is printed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if turnsFile == "" {
				return fmt.Errorf("--file is required")
			}
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			turns, err := loadTurns(turnsFile)
			if err != nil {
				return err
			}

			providers, err := createProviders(cfg)
			if err != nil {
				return err
			}

			nav, sink, err := buildNavigator(cfg, providers, nil, noTelemetry)
			if err != nil {
				return err
			}
			defer sink.Close()

			var (
				mu      sync.Mutex
				counts  = make(map[string]int)
				skipped int
				cost    float64
				saved   int
			)

			g, ctx := errgroup.WithContext(cmd.Context())
			g.SetLimit(max(parallel, 1))
			for _, turn := range turns {
				g.Go(func() error {
					if gated && !navigator.ShouldRun(turn.ConversationID, cfg.Navigator) {
						mu.Lock()
						skipped++
						mu.Unlock()
						return nil
					}
					res := nav.Analyze(ctx, turn.History, turn.Message, cfg.Navigator, turn.ConversationID)
					mu.Lock()
					counts[res.Route.String()]++
					cost += res.Metrics.CostUSD
					saved += res.Metrics.TokensSavedEst
					mu.Unlock()
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ROUTE\tTURNS")
			for _, r := range router.Routes() {
				fmt.Fprintf(w, "%s\t%d\n", r, counts[r.String()])
			}
			if gated {
				fmt.Fprintf(w, "GATED OUT\t%d\n", skipped)
			}
			fmt.Fprintln(w)
			fmt.Fprintf(w, "COST\t$%.7f\n", cost)
			fmt.Fprintf(w, "SAVED\t%d tokens (est.)\n", saved)
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&turnsFile, "file", "f", "", "JSONL file of turns (required)")
	cmd.Flags().IntVar(&parallel, "parallel", 4, "number of turns analyzed concurrently")
	cmd.Flags().BoolVar(&noTelemetry, "no-telemetry", false, "do not write telemetry events")
	cmd.Flags().BoolVar(&gated, "gated", false, "apply the enabled/mode/canary gate before analyzing")

	return cmd
}

func loadTurns(path string) ([]replayTurn, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open turns: %w", err)
	}
	defer f.Close()

	var turns []replayTurn
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var turn replayTurn
		if err := json.Unmarshal(line, &turn); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}
		turns = append(turns, turn)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read turns: %w", err)
	}
	return turns, nil
}
