package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zen-systems/nanobot/pkg/telemetry"
)

func statsCmd() *cobra.Command {
	var (
		file    string
		sqlite  string
		limit   int
		jsonOut bool
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize navigator telemetry",
		Long: `Reads telemetry events from the JSONL log (default: the configured path)
	or from the SQLite mirror with --sqlite, and prints route counts, cost and savings.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				events []telemetry.Event
				err    error
			)

			if sqlite != "" {
				db, err := telemetry.OpenSQLiteSink(sqlite)
				if err != nil {
					return err
				}
				defer db.Close()
				if events, err = db.Events(cmd.Context(), limit); err != nil {
					return err
				}
			} else {
				if file == "" {
					cfg, err := loadConfig()
					if err != nil {
						return fmt.Errorf("failed to load config: %w", err)
					}
					file = cfg.Navigator.TelemetryPath()
				}
				if events, err = telemetry.ReadJSONL(file); err != nil {
					return fmt.Errorf("failed to read telemetry: %w", err)
				}
				if limit > 0 && len(events) > limit {
					events = events[len(events)-limit:]
				}
			}

			summary := telemetry.Summarize(events)
			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(summary)
			}
			return printSummary(summary)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "telemetry JSONL file")
	cmd.Flags().StringVar(&sqlite, "sqlite", "", "read from the SQLite mirror instead")
	cmd.Flags().IntVar(&limit, "limit", 0, "only consider the last N events (0 = all)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the summary as JSON")

	return cmd
}

func printSummary(s telemetry.Summary) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ROUTE\tTURNS\tSHARE")
	for _, route := range s.Routes() {
		n := s.ByRoute[route]
		fmt.Fprintf(w, "%s\t%d\t%.1f%%\n", route, n, 100*float64(n)/float64(s.Total))
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "TOTAL\t%d\n", s.Total)
	fmt.Fprintf(w, "HINT RATE\t%.1f%%\n", 100*s.HintRate)
	fmt.Fprintf(w, "MEAN COMPLEXITY\t%.3f\n", s.MeanComplexity)
	fmt.Fprintf(w, "MEAN SLM LATENCY\t%.2fms\n", s.MeanSLMLatencyMS)
	fmt.Fprintf(w, "TOKENS\tin=%d out=%d\n", s.TokensIn, s.TokensOut)
	fmt.Fprintf(w, "COST\t$%.7f\n", s.TotalCostUSD)
	fmt.Fprintf(w, "SAVED\t%d tokens (est.)\n", s.TotalTokensSaved)

	if len(s.TagCounts) > 0 {
		tags := make([]string, 0, len(s.TagCounts))
		for tag := range s.TagCounts {
			tags = append(tags, tag)
		}
		sort.Strings(tags)
		fmt.Fprintln(w)
		fmt.Fprintln(w, "TAG\tTURNS")
		for _, tag := range tags {
			fmt.Fprintf(w, "%s\t%d\n", tag, s.TagCounts[tag])
		}
	}
	return w.Flush()
}
