package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/route-beacon/bgp-sessiond/internal/config"
	"github.com/route-beacon/bgp-sessiond/internal/engine"
	"github.com/route-beacon/bgp-sessiond/internal/events"
	sessionhttp "github.com/route-beacon/bgp-sessiond/internal/http"
	"github.com/route-beacon/bgp-sessiond/internal/metrics"
	"github.com/route-beacon/bgp-sessiond/internal/peer"
	"github.com/route-beacon/bgp-sessiond/internal/routing"
	"github.com/route-beacon/bgp-sessiond/internal/session"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe()
	case "check-config":
		runCheckConfig()
	case "--help", "-h", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: bgp-sessiond <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve         Start the peering session daemon")
	fmt.Println("  check-config  Validate the configuration and exit")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --config <path>   Path to configuration YAML file")
	fmt.Println("  --log-level <lvl> Override log level (debug, info, warn, error)")
}

func parseFlags(args []string) (configPath string, logLevel string) {
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			if i+1 < len(args) {
				configPath = args[i+1]
				i++
			}
		case "--log-level":
			if i+1 < len(args) {
				logLevel = args[i+1]
				i++
			}
		}
	}
	return
}

func loadConfig(args []string) (*config.Config, *zap.Logger) {
	configPath, logLevelOverride := parseFlags(args)

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if logLevelOverride != "" {
		cfg.Service.LogLevel = logLevelOverride
	}

	logger := initLogger(cfg.Service.LogLevel)
	return cfg, logger
}

func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zap.DebugLevel
	case "warn":
		zapLevel = zap.WarnLevel
	case "error":
		zapLevel = zap.ErrorLevel
	default:
		zapLevel = zap.InfoLevel
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(zapLevel)
	zapCfg.EncoderConfig.TimeKey = "ts"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zapCfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

func runServe() {
	cfg, logger := loadConfig(os.Args[2:])
	defer logger.Sync()

	metrics.Register()

	logger.Info("starting bgp-sessiond",
		zap.String("instance_id", cfg.Service.InstanceID),
		zap.String("http_listen", cfg.Service.HTTPListen),
		zap.Uint32("local_as", cfg.Router.AS),
		zap.Int("peers", len(cfg.Peers)),
	)

	// The BGP engine outlives the routing engine on shutdown: it must
	// keep consuming commands while the routing engine disables every
	// session and drains the acknowledgements.
	engineCtx, engineCancel := context.WithCancel(context.Background())
	defer engineCancel()
	routingCtx, routingCancel := context.WithCancel(context.Background())
	defer routingCancel()

	// --- Event journal ---
	var journal *events.Publisher
	if len(cfg.Events.Brokers) > 0 {
		tlsCfg, err := cfg.Events.BuildTLSConfig()
		if err != nil {
			logger.Fatal("failed to build TLS config", zap.Error(err))
		}
		saslMech := cfg.Events.BuildSASLMechanism()

		journal, err = events.NewPublisher(
			cfg.Events.Brokers, cfg.Events.Topic, cfg.Events.ClientID,
			tlsCfg, saslMech, cfg.Events.CompressPayloads, logger.Named("events"),
		)
		if err != nil {
			logger.Fatal("failed to create event publisher", zap.Error(err))
		}
		defer journal.Close()
		logger.Info("event journal enabled", zap.String("topic", cfg.Events.Topic))
	}

	// --- Engines ---
	toEngine := session.NewCommandQueue()
	toRouting := session.NewNoticeQueue()

	// The TCP connection layer plugs in here; until one is wired in,
	// enabled sessions fail with tcp-open-failed and the routing engine
	// retries on the idle hold.
	var driver engine.Driver = engine.NoDriver{Delay: time.Second}
	bgpEngine := engine.New(toEngine, driver, logger.Named("engine"))

	retryWait := time.Duration(cfg.Service.RetryWaitSeconds) * time.Second
	var journalSink routing.Journal
	if journal != nil {
		journalSink = journal
	}
	routingEngine := routing.New(toRouting, toEngine, retryWait, journalSink, nil, logger.Named("routing"))

	for _, pc := range cfg.PeerConfigs() {
		p := peer.New(pc)
		routingEngine.AddPeer(p)
		routingEngine.EnablePeer(pc.Address)
	}

	shutdownTimeout := time.Duration(cfg.Service.ShutdownTimeoutSeconds) * time.Second

	engineDone := make(chan struct{})
	routingDone := make(chan struct{})
	go func() { defer close(engineDone); bgpEngine.Run(engineCtx) }()
	go func() { defer close(routingDone); routingEngine.Run(routingCtx, shutdownTimeout) }()

	logger.Info("engines started")

	// --- HTTP server ---
	httpServer := sessionhttp.NewServer(cfg.Service.HTTPListen, journalChecker(journal), routingEngine, logger.Named("http"))
	if err := httpServer.Start(); err != nil {
		logger.Fatal("failed to start HTTP server", zap.Error(err))
	}

	// Wait for shutdown signal.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting HTTP traffic first.
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// The routing engine goes first: it disables all sessions and drains
	// their final stopped events, with the BGP engine still consuming
	// the disable commands.
	routingCancel()
	select {
	case <-routingDone:
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timeout reached, routing engine still draining")
	}

	engineCancel()
	select {
	case <-engineDone:
		logger.Info("engines stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timeout reached, bgp engine still running")
	}

	logger.Info("bgp-sessiond stopped")
}

// journalChecker avoids handing the HTTP server a non-nil interface
// wrapping a nil *Publisher.
func journalChecker(j *events.Publisher) sessionhttp.JournalChecker {
	if j == nil {
		return nil
	}
	return j
}

func runCheckConfig() {
	cfg, logger := loadConfig(os.Args[2:])
	defer logger.Sync()

	logger.Info("configuration is valid",
		zap.Uint32("local_as", cfg.Router.AS),
		zap.String("router_id", cfg.Router.ID),
		zap.Int("peers", len(cfg.Peers)),
	)
}
