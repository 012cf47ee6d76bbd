// Package main is askyd's CLI entry point, wiring the history store, vector
// store, hook kernel, plugin manager, tool registry, preload pipeline,
// session resolver, turn orchestrator, and daemon router into one process.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/evrenesat/asky/adapters"
	"github.com/evrenesat/asky/config"
	"github.com/evrenesat/asky/corekit/metrics"
	"github.com/evrenesat/asky/corekit/sweeper"
	"github.com/evrenesat/asky/corekit/tracing"
	"github.com/evrenesat/asky/daemonrouter"
	"github.com/evrenesat/asky/historystore"
	"github.com/evrenesat/asky/hookkernel"
	"github.com/evrenesat/asky/orchestrator"
	"github.com/evrenesat/asky/pkg/models"
	"github.com/evrenesat/asky/pluginmanager"
	"github.com/evrenesat/asky/preload"
	"github.com/evrenesat/asky/sessionresolver"
	"github.com/evrenesat/asky/toolregistry"
	"github.com/evrenesat/asky/vectorstore"
)

var (
	version = "dev"
	commit  = "none"
)

var configPath string

func main() {
	root := buildRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "askyd",
		Short:        "askyd - agentic assistant core daemon",
		Version:      fmt.Sprintf("%s (commit %s)", version, commit),
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "askyd.yaml", "path to askyd's YAML config file")
	root.AddCommand(buildAskCmd(), buildServeCmd(), buildPluginsCmd())
	return root
}

// app bundles every long-lived collaborator built from one Config, so both
// the one-shot "ask" and daemon "serve" commands assemble identically.
type app struct {
	cfg          *config.Config
	logger       *slog.Logger
	store        *historystore.Store
	vectors      *vectorstore.Store
	kernel       *hookkernel.Kernel
	plugins      *pluginmanager.Manager
	resolver     *sessionresolver.Resolver
	preloadPipe  *preload.Pipeline
	orchestrator *orchestrator.Orchestrator
	metrics      *metrics.Metrics
	tracerDone   func(context.Context) error
}

func newApp(cfgPath string) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	store, err := historystore.Open(cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}

	vectors := vectorstore.New()
	kernel := hookkernel.New(logger)
	plugins := pluginmanager.New(kernel, cfg.Plugins.DataRoot, logger)

	collector := metrics.New(prometheus.DefaultRegisterer)
	registerMetricsHooks(kernel, collector)

	embedder := adapters.UnconfiguredEmbedding{}
	fetcher := orchestrator.HookedFetcher{Kernel: kernel, Base: adapters.UnconfiguredFetcher{}}
	llm := adapters.UnconfiguredLLM{}
	files := adapters.LocalFileAdapter{Roots: cfg.Preload.LocalDocumentRoots}
	chunker := adapters.NewRecursiveChunker()

	preloadCfg := preload.Config{
		LocalDocumentRoots:         cfg.Preload.LocalDocumentRoots,
		OneShotDocumentThreshold:   cfg.Preload.OneShotDocumentThreshold,
		EvidenceExtractionEnabled:  cfg.Preload.EvidenceExtractionEnabled,
		QueryClassificationEnabled: cfg.Preload.QueryClassificationEnabled,
		MaxShortlistCandidates:     cfg.Limits.MaxShortlistCandidates,
	}
	preloadPipe := preload.New(preloadCfg, vectors, embedder, chunker, files, fetcher, nil)

	resolver := sessionresolver.New(store, cfg.Session.LockDir)

	tracer, tracerDone := tracing.New(tracing.Config{
		ServiceName: "askyd",
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
	})

	orchCfg := orchestrator.DefaultConfig()
	orchCfg.DefaultMaxTurns = cfg.Limits.MaxTurns
	orchCfg.MaxLLMAttempts = cfg.Limits.MaxRetries
	orchCfg.RetryPolicy.Initial = cfg.Limits.InitialBackoff
	orchCfg.RetryPolicy.Max = cfg.Limits.MaxBackoff
	orchCfg.CompactionThreshold = cfg.Compactor.Threshold
	orchCfg.ModelContextWindow = cfg.Compactor.ContextWindow
	orchCfg.CompactionStrategy = sessionresolver.CompactionStrategy(cfg.Compactor.Strategy)
	orchCfg.SummarizationModel = cfg.LLM.SummarizationModel
	if cfg.LLM.DefaultModel != "" {
		orchCfg.DefaultModel = cfg.LLM.DefaultModel
	}

	registryOf := func(ctx context.Context, session *models.Session) (*toolregistry.Registry, error) {
		reg := toolregistry.New()
		deps := toolregistry.BuiltinDeps{
			Embedder: embedder,
			Fetcher:  fetcher,
			Store:    vectors,
			SaveMemory: func(ctx context.Context, text string) error {
				_, _, err := store.SaveMemory(ctx, text, nil)
				return err
			},
			SaveFinding: func(ctx context.Context, text, sourceID string) error {
				sessionID := ""
				if session != nil {
					sessionID = session.ID
				}
				return store.SaveFinding(ctx, sessionID, text, sourceID)
			},
		}
		if err := toolregistry.RegisterBuiltins(reg, deps); err != nil {
			return nil, fmt.Errorf("register builtin tools: %w", err)
		}
		return reg, nil
	}

	orch := orchestrator.New(orchCfg, resolver, preloadPipe, kernel, llm, store, registryOf, logger).WithTracer(tracer)

	return &app{
		cfg:          cfg,
		logger:       logger,
		store:        store,
		vectors:      vectors,
		kernel:       kernel,
		plugins:      plugins,
		resolver:     resolver,
		preloadPipe:  preloadPipe,
		orchestrator: orch,
		metrics:      collector,
		tracerDone:   tracerDone,
	}, nil
}

func (a *app) loadPlugins(ctx context.Context) {
	if strings.TrimSpace(a.cfg.Plugins.ManifestPath) == "" {
		return
	}
	manifests, err := loadManifests(a.cfg.Plugins.ManifestPath)
	if err != nil {
		a.logger.Warn("skipping plugin load", "error", err)
		return
	}
	statuses := a.plugins.LoadAll(ctx, manifests, nil)
	for _, st := range statuses {
		a.logger.Info("plugin loaded", "name", st.Name, "state", st.State, "reason", st.Reason)
	}
}

// registerMetricsHooks subscribes collector's counters to the two hooks
// that fire exactly once per event regardless of which orchestrator
// internals change underneath: TURN_COMPLETED and POST_TOOL_EXECUTE.
func registerMetricsHooks(kernel *hookkernel.Kernel, collector *metrics.Metrics) {
	kernel.Subscribe("askyd-metrics", hookkernel.TurnCompleted, 0, func(ctx context.Context, payload any) error {
		p, ok := payload.(*hookkernel.TurnCompletedPayload)
		if !ok || p.Result == nil {
			return nil
		}
		outcome := "ok"
		if p.Result.Halted {
			outcome = "halted"
		}
		collector.TurnCounter.WithLabelValues(outcome).Inc()
		return nil
	})
	kernel.Subscribe("askyd-metrics", hookkernel.PostToolExecute, 0, func(ctx context.Context, payload any) error {
		p, ok := payload.(*hookkernel.PostToolExecutePayload)
		if !ok {
			return nil
		}
		status := "ok"
		if p.Result.IsError {
			status = "error"
		}
		collector.ToolExecutionCounter.WithLabelValues(p.ToolName, status).Inc()
		collector.ToolExecutionDuration.WithLabelValues(p.ToolName).Observe(p.Elapsed.Seconds())
		return nil
	})
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func buildAskCmd() *cobra.Command {
	var sessionName string
	cmd := &cobra.Command{
		Use:   "ask [query]",
		Short: "Run one turn against the assistant core and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath)
			if err != nil {
				return err
			}
			defer a.store.Close()
			defer a.tracerDone(context.Background())

			req := models.TurnRequest{
				QueryText:   strings.Join(args, " "),
				SaveHistory: true,
			}
			if sessionName != "" {
				req.Session = models.SessionSelector{StickySessionName: sessionName}
			}
			result, err := a.orchestrator.RunTurn(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("run turn: %w", err)
			}
			if result.Halted {
				return fmt.Errorf("turn halted: %s", result.HaltReason)
			}
			fmt.Println(result.FinalAnswer)
			a.kernel.Fanout(cmd.Context(), hookkernel.PostTurnRender, &hookkernel.PostTurnRenderPayload{Result: &result})
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionName, "session", "", "sticky session name to resume or create")
	return cmd
}

func buildServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start askyd as a daemon: plugins, background sweep, and the stdio transport",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath)
			if err != nil {
				return err
			}
			defer a.store.Close()
			defer a.tracerDone(context.Background())

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a.loadPlugins(ctx)
			defer a.plugins.Shutdown(context.Background())

			router := daemonrouter.New(daemonrouter.Config{
				AllowedSenders:     a.cfg.Daemon.AllowedSenders,
				CommandPrefix:      a.cfg.Daemon.CommandPrefix,
				ResponseChunkChars: a.cfg.Daemon.ResponseChunkChars,
				Presets:            daemonrouter.PresetMap(a.cfg.Daemon.Presets),
			}, a.orchestrator, a.kernel, nil, a.logger)

			router.RegisterMetrics(a.metrics)

			transport := daemonrouter.NewStdioTransport("local", "stdio", os.Stdout)
			if err := router.RegisterTransport(transport); err != nil {
				return err
			}
			if err := router.Start(ctx); err != nil {
				return fmt.Errorf("start daemon router: %w", err)
			}

			sweep := sweeper.New(a.logger)
			if err := sweep.AddJob("session-expiry", a.cfg.Compactor.Sweep, a.expireStaleSessions); err != nil {
				return fmt.Errorf("schedule session-expiry sweep: %w", err)
			}
			sweep.Start()
			defer sweep.Stop()

			if a.cfg.Metrics.Enabled {
				metricsSrv := &http.Server{Addr: a.cfg.Metrics.Addr, Handler: promhttp.Handler()}
				go func() {
					if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						a.logger.Warn("metrics server stopped", "error", err)
					}
				}()
				defer metricsSrv.Shutdown(context.Background())
			}

			go func() {
				if err := transport.ReadLoop(ctx, os.Stdin, router.Submit); err != nil {
					a.logger.Warn("stdio read loop ended", "error", err)
				}
				router.Stop(context.Background())
			}()

			<-ctx.Done()
			return nil
		},
	}
	return cmd
}

// expireStaleSessions deletes sessions whose last activity is older than
// compactor.max_age.
func (a *app) expireStaleSessions(ctx context.Context) error {
	sessions, err := a.store.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	cutoff := time.Now().Add(-a.cfg.Compactor.MaxAge)
	var expired int
	for _, s := range sessions {
		if s.LastUsedAt.Before(cutoff) {
			if _, err := a.store.DeleteSessions(ctx, s.ID); err != nil {
				a.logger.Warn("expire session failed", "session", s.ID, "error", err)
				continue
			}
			expired++
		}
	}
	if expired > 0 {
		a.logger.Info("expired stale sessions", "count", expired)
	}
	return nil
}

func buildPluginsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "plugins", Short: "Inspect configured plugins"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Load and report the status of every configured plugin",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath)
			if err != nil {
				return err
			}
			defer a.store.Close()
			a.loadPlugins(cmd.Context())
			return nil
		},
	})
	return cmd
}

func loadManifests(path string) ([]models.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest file: %w", err)
	}
	manifests, err := decodeManifests(data)
	if err != nil {
		return nil, fmt.Errorf("parse manifest file: %w", err)
	}
	return manifests, nil
}
