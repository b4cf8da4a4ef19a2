package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/zen-systems/nanobot/pkg/agent"
	"github.com/zen-systems/nanobot/pkg/config"
	"github.com/zen-systems/nanobot/pkg/metrics"
	"github.com/zen-systems/nanobot/pkg/router"
)

func chatCmd() *cobra.Command {
	var (
		metricsAddr string
		noTelemetry bool
		noWatch     bool
		showRoute   bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat with navigator routing",
		Long: `Reads messages from stdin, one per line. Each turn is routed by the
	navigator: TEMPLATE and SLM turns may skip the full agent, FALLBACK turns call it.
	The routing file is watched and reloaded on change.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			m := metrics.NewNavigator(reg)

			providers, err := createProviders(cfg)
			if err != nil {
				return err
			}

			nav, sink, err := buildNavigator(cfg, providers, m, noTelemetry)
			if err != nil {
				return err
			}
			defer sink.Close()
			agentCfg := cfg.Navigator.Agent
			provider, ok := providers[agentCfg.Adapter]
			if !ok {
				return fmt.Errorf("agent adapter %q not available (check API keys)", agentCfg.Adapter)
			}

			loop := agent.NewLoop(nav, provider, aliases.Resolve(agentCfg.Model), cfg.Navigator,
				agent.WithLogger(logger))

			if metricsAddr != "" {
				srv := serveMetrics(metricsAddr, reg)
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
			}

			if !noWatch && cfg.RoutingPath != "" {
				err := config.Watch(ctx, cfg.RoutingPath,
					func(next *config.NavigatorConfig) {
						loop.SetConfig(next)
						logger.Info().Str("path", cfg.RoutingPath).Msg("routing config reloaded")
					},
					func(err error) {
						logger.Warn().Err(err).Str("path", cfg.RoutingPath).Msg("routing config reload failed")
					},
				)
				if err != nil {
					logger.Warn().Err(err).Msg("config watch disabled")
				}
			}

			return runChat(ctx, loop, showRoute)
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")
	cmd.Flags().BoolVar(&noTelemetry, "no-telemetry", false, "do not write telemetry events")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "do not reload the routing file on change")
	cmd.Flags().BoolVar(&showRoute, "show-route", false, "print the navigator route before each reply")

	return cmd
}

func runChat(ctx context.Context, loop *agent.Loop, showRoute bool) error {
	conversationID := uuid.NewString()
	var history []router.HistoryEntry

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	fmt.Fprint(os.Stderr, "> ")
	for {
		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr)
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(l)
		}
		if line == "" {
			fmt.Fprint(os.Stderr, "> ")
			continue
		}

		reply, err := loop.Handle(ctx, agent.Turn{
			ConversationID: conversationID,
			Message:        line,
			History:        history,
		})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			logger.Error().Err(err).Msg("turn failed")
			fmt.Fprint(os.Stderr, "> ")
			continue
		}

		if showRoute {
			fmt.Fprintf(os.Stderr, "[%s navigated=%t]\n", reply.Route, reply.Navigated)
		}
		now := time.Now()
		history = append(history, router.HistoryEntry{Role: "user", Content: line, Timestamp: &now})
		if reply.Text != "" {
			fmt.Println(reply.Text)
			history = append(history, router.HistoryEntry{Role: "assistant", Content: reply.Text, Timestamp: &now})
		}
		fmt.Fprint(os.Stderr, "> ")
	}
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("addr", addr).Msg("metrics server failed")
		}
	}()
	logger.Info().Str("addr", addr).Msg("serving metrics")
	return srv
}
