package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"maxrelay/internal/config"
	"maxrelay/internal/constants"
	"maxrelay/internal/models"
	"maxrelay/internal/retry"
	"maxrelay/internal/service"
	"maxrelay/internal/storage"
	"maxrelay/internal/store"
	"maxrelay/internal/tracing"
	"maxrelay/pkg/max"
	"maxrelay/pkg/media"
	"maxrelay/pkg/telegram"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    = flag.Bool("verbose", false, "Enable debug logging regardless of LOG_LEVEL")
	configPath = flag.String("config", "", "Path to a JSON or YAML configuration file (environment only when empty)")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("maxrelay %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, logFile := newLogger(cfg, *verbose)
	defer logFile.Close()

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting maxrelay")

	tracingManager := tracing.NewManager(cfg.Tracing, logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	docs, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer docs.Close()

	watermarks := store.NewWatermarkStore(docs.Watermarks, logger)
	catalog, err := store.NewCatalogStore(docs.Catalog, config.SourceChatIDs(cfg.Routes), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize catalog: %w", err)
	}
	subscriptions := store.NewSubscriptionStore(docs.Subscribers, logger)

	location, err := config.Location(cfg)
	if err != nil {
		return err
	}

	routes := service.NewRouteTable(cfg.Routes)
	source := max.NewClient(cfg.Max, logger)
	bot := telegram.NewClient(cfg.Telegram, logger)
	titles := service.NewTitleCache(source, logger)

	engine := service.NewEngine(service.EngineConfig{
		Source:          source,
		Sender:          bot,
		Fetcher:         media.NewFetcher(cfg.Media).WithHeader("User-Agent", "maxrelay/"+Version),
		Routes:          routes,
		Subs:            subscriptions,
		Watermarks:      watermarks,
		Titles:          titles,
		AttachmentDelay: time.Duration(cfg.Relay.AttachmentDelayMs) * time.Millisecond,
		Location:        location,
		Logger:          logger,
	})

	listener := service.NewSourceListener(source, engine, routes, titles, catalog,
		cfg.Max.StartupHistory, retry.NewBackoff(retry.FromRetryConfig(cfg.Retry)), logger)
	if err := listener.Start(ctx); err != nil {
		return fmt.Errorf("failed to start source listener: %w", err)
	}
	defer listener.Stop()

	if cfg.Telegram.BotPollingEnabled() {
		admin := service.NewAdminSurface(catalog, subscriptions, titles, bot, cfg.Telegram.AdminChatID, cfg.LogPath, logger)
		poller := service.NewBotPoller(bot, admin, cfg.Telegram.PollTimeoutSec,
			retry.NewBackoff(retry.FromRetryConfig(cfg.Retry)), logger)
		if err := poller.Start(ctx); err != nil {
			logger.Warnf("Failed to start bot poller: %v", err)
		}
		defer poller.Stop()
	} else {
		logger.Info("Bot polling is disabled")
	}

	scheduler := service.NewScheduler(titles, cfg.Relay.TitleRefreshMinutes, logger)
	go scheduler.Start(ctx)
	defer scheduler.Stop()

	var server *Server
	serverErrCh := make(chan error, 1)
	if cfg.Server.Enabled {
		server = NewServer(ctx, cfg.Server, engine, bot.Breaker(), logger)
		go func() {
			if err := server.Start(); err != nil {
				serverErrCh <- fmt.Errorf("server error: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		return err
	}

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown server gracefully: %w", err)
		}
		logger.Info("Server shutdown completed")
	}
	return nil
}

// newLogger writes JSON lines to stdout and to a size-rotated file, which
// the /logs admin command reads back.
func newLogger(cfg *models.Config, verbose bool) (*logrus.Logger, io.Closer) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	file := &lumberjack.Logger{
		Filename:   cfg.LogPath,
		MaxSize:    cfg.LogMaxMB,
		MaxBackups: constants.DefaultLogMaxBackups,
	}
	logger.SetOutput(io.MultiWriter(os.Stdout, file))

	if verbose {
		logger.SetLevel(logrus.DebugLevel)
		return logger, file
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Warnf("Invalid log level %q, defaulting to info", cfg.LogLevel)
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger, file
}

// openStorage retries OpenSet a few times; the SQLite file can stay locked
// while a previous instance shuts down.
func openStorage(ctx context.Context, cfg *models.Config, logger *logrus.Logger) (*storage.Set, error) {
	backoffConfig := retry.FromRetryConfig(cfg.Retry)
	backoffConfig.MaxAttempts = constants.DefaultDatabaseRetryAttempts
	backoff := retry.NewBackoff(backoffConfig)

	var docs *storage.Set
	err := backoff.Retry(ctx, func() error {
		var openErr error
		docs, openErr = storage.OpenSet(ctx, cfg.Storage)
		if openErr != nil {
			logger.Warnf("Failed to open storage: %v", openErr)
		}
		return openErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open storage after retries: %w", err)
	}
	return docs, nil
}
