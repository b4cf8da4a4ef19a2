package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/zen-systems/nanobot/pkg/config"
	"github.com/zen-systems/nanobot/pkg/logging"
	"github.com/zen-systems/nanobot/pkg/navigator"
	"github.com/zen-systems/nanobot/pkg/router"
)

var (
	configFile string
	logLevel   string
	logFormat  string
	aliases    *config.ModelAliases
	logger     zerolog.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "nanobot",
		Short: "Personal assistant with a hybrid navigator in front of the full agent",
		Long: `nanobot routes every conversation turn through the hybrid navigator:
	a rule engine decides whether to stay silent, answer from a template,
	ask a small model for a steering hint, or hand the turn to the full agent.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger = logging.New(os.Stderr, logLevel, logging.Format(logFormat))
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to routing config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", string(logging.FormatConsole), "log format (console, json)")

	rootCmd.AddCommand(analyzeCmd())
	rootCmd.AddCommand(shouldRunCmd())
	rootCmd.AddCommand(replayCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(modelsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func analyzeCmd() *cobra.Command {
	var (
		historyFile    string
		conversationID string
		jsonOut        bool
		noTelemetry    bool
	)

	cmd := &cobra.Command{
		Use:   "analyze [message]",
		Short: "Run one turn through the navigator and print the decision",
		Long: `Runs the rule engine and, for mid-complexity turns, the hint model.
	The message is read from stdin when no argument is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			message, err := messageFromArgs(args)
			if err != nil {
				return err
			}

			history, err := loadHistory(historyFile)
			if err != nil {
				return err
			}

			if conversationID == "" {
				conversationID = uuid.NewString()
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

			res := nav.Analyze(cmd.Context(), history, message, cfg.Navigator, conversationID)
			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			return printResult(res)
		},
	}

	cmd.Flags().StringVar(&historyFile, "history", "", "JSON file with prior turns [{role, content, timestamp}]")
	cmd.Flags().StringVar(&conversationID, "conversation-id", "", "conversation id (random when empty)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the result as JSON")
	cmd.Flags().BoolVar(&noTelemetry, "no-telemetry", false, "do not write telemetry events")

	return cmd
}

func printResult(res navigator.Result) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ROUTE\t%s\n", res.Route)
	fmt.Fprintf(w, "COMPLEXITY\t%.3f\n", res.Complexity)
	fmt.Fprintf(w, "STAGE\t%s\n", res.Metrics.Flags.Stage)
	fmt.Fprintf(w, "TAGS\t%s\n", formatList(res.Metrics.Tags))
	fmt.Fprintf(w, "TOKENS\test=%.0f in=%d out=%d\n", res.Metrics.TokenEst, res.Metrics.TokensIn, res.Metrics.TokensOut)
	fmt.Fprintf(w, "IDLE\t%.1fs\n", res.Metrics.IdleSec)
	fmt.Fprintf(w, "REPEAT\t%.3f\n", res.Metrics.RepeatScore)
	if res.Hint != nil {
		fmt.Fprintf(w, "HINT\t%s\n", *res.Hint)
		fmt.Fprintf(w, "FOCUS\t%s\n", res.Metrics.Focus)
		fmt.Fprintf(w, "LATENCY\t%.2fms\n", res.Metrics.LatencyMS)
	}
	fmt.Fprintf(w, "COST\t$%.7f\n", res.Metrics.CostUSD)
	fmt.Fprintf(w, "SAVED\t%d tokens (est.)\n", res.Metrics.TokensSavedEst)
	return w.Flush()
}

func shouldRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "should-run [conversation-id]",
		Short: "Check whether the navigator gate admits a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			nav := cfg.Navigator

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "ENABLED\t%t\n", nav.Enabled)
			fmt.Fprintf(w, "MODE\t%s\n", nav.Mode)
			fmt.Fprintf(w, "CANARY\t%d%%\n", nav.CanaryPercent)
			fmt.Fprintf(w, "BUCKET\t%d\n", navigator.Bucket(args[0]))
			fmt.Fprintf(w, "SHOULD RUN\t%t\n", navigator.ShouldRun(args[0], nav))
			return w.Flush()
		},
	}
}

func configCmd() *cobra.Command {
	var validateFlag bool

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show the effective navigator configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			if validateFlag {
				return validateAliases(cfg)
			}

			low, high := cfg.Navigator.ComplexityBounds()
			inRate, outRate := cfg.Navigator.Rates()
			fmt.Printf("# routing file: %s\n", cfg.RoutingPath)
			fmt.Printf("# effective: complexity %.2f..%.2f, cooldown %.1fs, slm timeout %s, pricing %g/%g per 1k\n",
				low, high, cfg.Navigator.Cooldown(), cfg.Navigator.SLMTimeout(), inRate, outRate)

			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(map[string]*config.NavigatorConfig{"navigator": cfg.Navigator})
		},
	}

	cmd.Flags().BoolVar(&validateFlag, "validate", false, "check hint and agent models against models.yaml")

	return cmd
}

func modelsCmd() *cobra.Command {
	var resolveFlag bool

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List available adapters, models, and aliases",
		Long: `Lists adapters and their available models.

	Use --resolve to show aliases and what they resolve to.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			if resolveFlag {
				return showAliases()
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tMODELS\tSTATUS")

			providers := aliases.ListProviders()
			if len(providers) == 0 {
				providers = []string{"anthropic", "deepseek", "google", "ollama", "openai"}
			}
			providers = append(providers, "mock")

			for _, provider := range providers {
				models := formatList(aliases.GetProviderModels(provider))
				status := "no key"
				if cfg.HasAdapter(provider) {
					status = "ready"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", provider, models, status)
			}

			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&resolveFlag, "resolve", false, "show aliases and what they resolve to")

	return cmd
}

func showAliases() error {
	if aliases == nil {
		fmt.Println("No model aliases configured.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ALIAS\tMODEL\tPROVIDER")

	aliasMap := aliases.ListAliases()
	var aliasNames []string
	for name := range aliasMap {
		aliasNames = append(aliasNames, name)
	}
	sort.Strings(aliasNames)

	for _, alias := range aliasNames {
		model := aliasMap[alias]
		provider := aliases.GetProviderForModel(model)
		fmt.Fprintf(w, "%s\t%s\t%s\n", alias, model, provider)
	}

	return w.Flush()
}

func validateAliases(cfg *config.Config) error {
	if aliases == nil {
		fmt.Println("No model aliases configured - nothing to validate.")
		return nil
	}

	errs := aliases.ValidateNavigatorConfig(cfg.Navigator)
	if len(errs) == 0 {
		fmt.Println("Hint and agent models are valid.")
		return nil
	}

	fmt.Fprintf(os.Stderr, "Found %d validation errors:\n", len(errs))
	for _, err := range errs {
		fmt.Fprintf(os.Stderr, "  - %s\n", err)
	}
	return fmt.Errorf("validation failed")
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error

	if configFile != "" {
		cfg, err = config.LoadWithRoutingFile(configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	aliases, err = config.LoadAliasesWithFallback("configs/models.yaml")
	if err != nil {
		logger.Warn().Err(err).Msg("failed to load model aliases, using defaults")
	}
	if aliases == nil || len(aliases.Aliases) == 0 {
		aliases = config.DefaultAliases()
	}

	return cfg, nil
}

func messageFromArgs(args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read message from stdin: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func loadHistory(path string) ([]router.HistoryEntry, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	var history []router.HistoryEntry
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, fmt.Errorf("failed to parse history %s: %w", path, err)
	}
	return history, nil
}
