package main

import (
	"context"
	"flag"
	"log"
	"math/rand/v2"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xaenox/insta-assistant/internal/api"
	"github.com/xaenox/insta-assistant/internal/bot"
	"github.com/xaenox/insta-assistant/internal/classifier"
	"github.com/xaenox/insta-assistant/internal/conversation"
	"github.com/xaenox/insta-assistant/internal/eventloop"
	"github.com/xaenox/insta-assistant/internal/knowledge"
	"github.com/xaenox/insta-assistant/internal/storage"
	"github.com/xaenox/insta-assistant/internal/typing"
	"github.com/xaenox/insta-assistant/pkg/config"
	"go.uber.org/zap"
)

var (
	configPath = flag.String("config", "", "Path to config file")
	frontend   = flag.String("frontend", "", "Override the configured frontend (console, telegram, http)")
)

func main() {
	flag.Parse()

	// Initialize logger
	logger, err := newLogger(false)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err), zap.String("path", *configPath))
	}
	if *frontend != "" {
		cfg.Frontend = *frontend
		if err := cfg.Validate(); err != nil {
			logger.Fatal("Invalid frontend", zap.Error(err), zap.String("frontend", *frontend))
		}
	}

	if cfg.Log.Development {
		dev, err := newLogger(true)
		if err != nil {
			logger.Fatal("Failed to create development logger", zap.Error(err))
		}
		logger.Sync()
		logger = dev
	}
	defer logger.Sync()

	// Load knowledge base
	var reg *knowledge.Registry
	if cfg.Knowledge.Path != "" {
		reg, err = knowledge.LoadFile(cfg.Knowledge.Path)
	} else {
		reg, err = knowledge.Default()
	}
	if err != nil {
		logger.Fatal("Failed to load knowledge base", zap.Error(err), zap.String("path", cfg.Knowledge.Path))
	}
	logger.Info("Knowledge base loaded",
		zap.Int("topics", len(reg.Topics())),
		zap.Int("entries", len(reg.Entries())),
		zap.Int("rules", len(reg.Rules())))

	// Initialize storage
	store, err := openStorage(cfg.Stats, logger)
	if err != nil {
		logger.Fatal("Failed to initialize storage", zap.Error(err))
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// the loop outlives ctx so conversations can be closed on shutdown
	loop := eventloop.New(256, logger)
	go loop.Run(context.Background())

	typingOpts := typing.Options{
		MinDelay: cfg.Typing.MinDelay,
		MaxDelay: cfg.Typing.MaxDelay,
	}
	if cfg.Typing.Seed != 0 {
		typingOpts.Rand = rand.New(rand.NewPCG(cfg.Typing.Seed, cfg.Typing.Seed))
	}

	mgr := conversation.NewManager(loop, classifier.NewKeywordClassifier(reg), conversation.Options{
		ThinkingDelay: cfg.Typing.ThinkingDelay,
		Typing:        typingOpts,
		Logger:        logger,
	})

	switch cfg.Frontend {
	case "console":
		err = bot.NewConsole(os.Stdin, os.Stdout, mgr, reg, store, logger).Run(ctx)
	case "telegram":
		var b *bot.Bot
		b, err = bot.New(cfg.Telegram.Token, mgr, reg, store, bot.Options{
			EditEvery:   cfg.Telegram.EditEvery,
			IdleTimeout: cfg.Telegram.IdleTimeout,
		}, logger)
		if err == nil {
			logger.Info("Starting Telegram bot")
			err = b.Start(ctx)
		}
	case "http":
		err = serveHTTP(ctx, cfg, api.NewHandler(mgr, reg, store, logger), logger)
	}
	if err != nil {
		logger.Error("Frontend stopped", zap.Error(err), zap.String("frontend", cfg.Frontend))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := mgr.Close(shutdownCtx); err != nil {
		logger.Warn("Failed to close conversations", zap.Error(err))
	}
	loop.Close()

	logger.Info("Assistant exited")
}

// newLogger builds the process logger. Config errors are reported through a
// production logger, so it exists before the config is read.
func newLogger(development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func openStorage(cfg config.StatsConfig, logger *zap.Logger) (storage.Storage, error) {
	switch cfg.Driver {
	case "postgres":
		logger.Info("Using PostgreSQL storage", zap.String("host", cfg.Database.Host))
		return storage.NewPostgresStorage(storage.DatabaseConfig{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
		})
	case "sqlite":
		logger.Info("Using SQLite storage", zap.String("path", cfg.Path))
		return storage.NewSQLiteStorage(cfg.Path)
	default:
		logger.Info("Using in-memory storage")
		return storage.NewMemoryStorage(), nil
	}
}

func serveHTTP(ctx context.Context, cfg *config.Config, handler *api.Handler, logger *zap.Logger) error {
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	router := api.SetupRouter(handler, api.RouterConfig{
		APIKey:       cfg.HTTP.APIKey,
		AllowOrigins: cfg.HTTP.AllowOrigins,
	})

	// no WriteTimeout: event streams stay open for the life of a conversation
	srv := &http.Server{
		Addr:        cfg.Address(),
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", zap.String("address", cfg.Address()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
