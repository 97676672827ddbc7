package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/strandtools/webrelay/internal/bridge"
	"github.com/strandtools/webrelay/internal/catalog"
	"github.com/strandtools/webrelay/internal/config"
	"github.com/strandtools/webrelay/internal/observability"
	"github.com/strandtools/webrelay/internal/proxy"
	"github.com/strandtools/webrelay/internal/recovery"
	"github.com/strandtools/webrelay/internal/relay"
	"github.com/strandtools/webrelay/internal/router"
	"github.com/strandtools/webrelay/internal/workflow"
	"github.com/strandtools/webrelay/pkg/events"
)

var (
	configPath string
	flagPort   int
	flagHost   string
	withProxy  bool
)

var rootCmd = &cobra.Command{
	Use:   "webrelay",
	Short: "Browser-automation tool broker with workflow orchestration",
	Long: `Webrelay unifies two browser-automation control planes behind one
stable tool surface. It serves a JSON-RPC tool catalog over HTTP and
stdio, routes calls to the right backend with category-based fallback,
ring-buffers browser telemetry for querying and streaming, and drives
multi-stage pipeline workflows with validation gates and recovery.

Examples:
  webrelay serve                      # HTTP transport on :7777
  webrelay serve --port 8080          # custom port
  webrelay serve --with-proxy         # also start the capture proxy
  webrelay stdio                      # stdio transport for MCP clients
  webrelay tools                      # print the tool catalog`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the JSON-RPC, SSE, and websocket transports over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

var stdioCmd = &cobra.Command{
	Use:   "stdio",
	Short: "Serve the tool catalog over stdin/stdout for MCP clients",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp(true)
		if err != nil {
			return err
		}
		defer app.logger.Sync()
		return app.relay.ServeStdio()
	},
}

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Print the tool catalog grouped by category",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, desc := range catalog.Default().All() {
			fmt.Printf("%-24s %-12s %s\n", desc.Name, desc.Category, desc.Description)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to TOML config file")
	serveCmd.Flags().IntVarP(&flagPort, "port", "p", 0, "HTTP port (overrides config)")
	serveCmd.Flags().StringVar(&flagHost, "host", "", "Bind host (overrides config)")
	serveCmd.Flags().BoolVar(&withProxy, "with-proxy", false, "Start the capture proxy alongside the broker")
	rootCmd.AddCommand(serveCmd, stdioCmd, toolsCmd)
	rootCmd.Version = relay.Version
}

// app holds the wired component graph. Everything is constructed once
// here and injected; no package keeps global state.
type app struct {
	cfg         *config.Config
	logger      *zap.Logger
	bus         *events.Bus
	relay       *relay.Server
	coordinator *workflow.Coordinator
	capture     *proxy.Server
}

func buildApp(quiet bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if flagPort > 0 {
		cfg.Server.Port = flagPort
	}
	if flagHost != "" {
		cfg.Server.Host = flagHost
	}

	logCfg := cfg.Log
	if quiet && logCfg.File == "" {
		// stdout carries the protocol in stdio mode; keep console quiet.
		logCfg.Level = "error"
	}
	logger, err := observability.NewLogger(logCfg)
	if err != nil {
		return nil, err
	}

	bus := events.NewBus(cfg.Events.Capacity)

	cat := catalog.Default()
	profiles := catalog.DefaultProfiles(cfg.DefaultProfile)

	policy := router.DefaultPolicy()
	for category, backend := range cfg.RoutingOverrides() {
		rule := policy[category]
		rule.Primary = backend
		policy.Override(category, rule)
	}

	// Backend bridges register here. The broker ships transport-agnostic;
	// engine processes attach through the bridge interface.
	var bridges []bridge.Bridge
	dispatcher := router.New(cat, bridges, policy, bus, cfg.CallTimeout(), logger)

	store, err := workflow.NewStore(cfg.Workflow.StateDir)
	if err != nil {
		return nil, err
	}
	coordinator, err := workflow.NewCoordinator(workflow.NewTemplateSet(), store, bus, logger)
	if err != nil {
		return nil, err
	}

	manager, err := recovery.NewManager(coordinator, cfg.Recovery.LogFile, bus, logger)
	if err != nil {
		return nil, err
	}

	srv := relay.NewServer(relay.Options{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		Catalog:        cat,
		Profiles:       profiles,
		Router:         dispatcher,
		Coordinator:    coordinator,
		Recovery:       manager,
		Bus:            bus,
		DefaultProfile: cfg.DefaultProfile,
		Logger:         logger,
	})

	a := &app{cfg: cfg, logger: logger, bus: bus, relay: srv, coordinator: coordinator}
	if cfg.Proxy.Enabled || withProxy {
		a.capture = proxy.NewServer(cfg.Proxy.Port, bus, logger)
	}
	return a, nil
}

func runServe() error {
	app, err := buildApp(false)
	if err != nil {
		return err
	}
	defer app.logger.Sync()

	watcher, err := workflow.NewWatcher(app.coordinator.Store(), app.bus, app.logger)
	if err != nil {
		app.logger.Warn("workflow watcher unavailable", zap.Error(err))
	} else {
		defer watcher.Close()
	}

	errCh := make(chan error, 2)
	go func() { errCh <- app.relay.Start() }()
	if app.capture != nil {
		go func() { errCh <- app.capture.Start() }()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		app.logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownTimeout())
	defer cancel()
	if app.capture != nil {
		if err := app.capture.Stop(ctx); err != nil {
			app.logger.Warn("capture proxy shutdown", zap.Error(err))
		}
	}
	if err := app.relay.Stop(ctx); err != nil {
		return err
	}
	app.bus.Close()
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
