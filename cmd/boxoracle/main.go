package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rewired-gh/boxoracle/internal/api"
	"github.com/rewired-gh/boxoracle/internal/config"
	"github.com/rewired-gh/boxoracle/internal/engine"
	"github.com/rewired-gh/boxoracle/internal/logger"
	"github.com/rewired-gh/boxoracle/internal/models"
	"github.com/rewired-gh/boxoracle/internal/packfile"
	"github.com/rewired-gh/boxoracle/internal/publisher"
	"github.com/rewired-gh/boxoracle/internal/service"
	"github.com/rewired-gh/boxoracle/internal/storage"
	"github.com/rewired-gh/boxoracle/internal/telegram"
)

const usage = `usage: boxoracle <command> [flags]

commands:
  serve   run the HTTP API (and Telegram bot when enabled)
  calc    evaluate a YAML pack file offline
  load    load a YAML pack file into storage
`

// historyRotation is how often calculation history older than the retention window is dropped.
const historyRotation = time.Hour

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "serve":
		err = runServe(args)
	case "calc":
		err = runCalc(args)
	case "load":
		err = runLoad(args)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Fatal("%v", err)
	}
}

func loadConfig(path string) *config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	if path != "" {
		logger.Info("Configuration loaded from %s", path)
	}
	return cfg
}

func engineOptions(cfg *config.Config, method string) engine.Options {
	opts := engine.Options{Method: cfg.Engine.Method, MaxLattice: cfg.Engine.MaxLattice}
	if method != "" {
		opts.Method = method
	}
	return opts
}

func openStorage(cfg *config.Config) (*storage.Storage, error) {
	store, err := storage.New(cfg.Storage.Driver, cfg.Storage.DBPath, cfg.Storage.DSN, cfg.Storage.MaxHistory)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	logger.Info("Storage ready (driver: %s)", store.Driver())
	return store, nil
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "configs/config.yaml", "Path to configuration file")
	_ = fs.Parse(args)

	cfg := loadConfig(*configPath)

	store, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var pub service.Publisher
	if cfg.Redis.Enabled {
		client, err := publisher.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		defer client.Close()
		pub = publisher.NewStreamPublisher(client, cfg.Redis.Stream)
		logger.Info("Publishing calculations to redis stream %s", cfg.Redis.Stream)
	} else {
		logger.Debug("Redis publishing disabled")
	}

	svc := service.New(store, pub, engineOptions(cfg, ""))

	if cfg.Telegram.Enabled {
		bot, err := telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, svc, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			return fmt.Errorf("failed to initialize Telegram client: %w", err)
		}
		bot.ListenForCommands(ctx)
		logger.Info("Telegram bot listening for commands")
	} else {
		logger.Debug("Telegram bot disabled")
	}

	handler := api.NewHandler(svc, store)
	server := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: handler.Router(api.RouterOptions{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			RequestTimeout: cfg.Server.RequestTimeout,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go rotateHistory(ctx, store, cfg.Storage.HistoryRetention)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP API on %s (method: %s)", cfg.Server.Addr, cfg.Engine.Method)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, cleaning up...")
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	logger.Info("Service stopped")
	return nil
}

func rotateHistory(ctx context.Context, store *storage.Storage, retention time.Duration) {
	ticker := time.NewTicker(historyRotation)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.RotateCalculations(ctx, retention)
			if err != nil {
				logger.Warn("Failed to rotate calculation history: %v", err)
				continue
			}
			if n > 0 {
				logger.Debug("Dropped %d calculations older than %v", n, retention)
			}
		}
	}
}

func runCalc(args []string) error {
	fs := flag.NewFlagSet("calc", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file (optional)")
	file := fs.String("file", "", "Path to YAML pack file")
	method := fs.String("method", "", "Profit probability method: normal or exact (default from config)")
	noOverrides := fs.Bool("no-overrides", false, "Ignore price overrides in the pack file")
	detail := fs.Bool("detail", false, "Print the full calculation record")
	notify := fs.Bool("notify", false, "Post the result to the configured Telegram chat")
	_ = fs.Parse(args)

	if *file == "" {
		return errors.New("calc: -file is required")
	}
	cfg := loadConfig(*configPath)

	f, err := packfile.Load(*file)
	if err != nil {
		return err
	}
	snap := f.Snapshot()
	if *noOverrides {
		snap.Overrides = nil
	}

	svc := service.New(nil, nil, engineOptions(cfg, *method))
	calc, err := svc.CalculateSnapshot(snap, "")
	if err != nil {
		return err
	}

	var out interface{} = roundedResult(calc.Result)
	if *detail {
		out = calc
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return err
	}

	if *notify {
		if !cfg.Telegram.Enabled {
			return errors.New("calc: -notify needs telegram.enabled")
		}
		bot, err := telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, svc, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			return fmt.Errorf("failed to initialize Telegram client: %w", err)
		}
		if err := bot.Send(calc); err != nil {
			return fmt.Errorf("failed to send Telegram notification: %w", err)
		}
	}
	return nil
}

// roundedResult rounds money to currency cents for terminal output.
func roundedResult(r models.CalculationResult) models.CalculationResult {
	r.ExpectedValue = models.RoundCurrency(r.ExpectedValue, 2)
	r.BoxPrice = models.RoundCurrency(r.BoxPrice, 2)
	return r
}

func runLoad(args []string) error {
	fs := flag.NewFlagSet("load", flag.ExitOnError)
	configPath := fs.String("config", "configs/config.yaml", "Path to configuration file")
	file := fs.String("file", "", "Path to YAML pack file")
	userID := fs.String("user", "", "Store the file's price overrides for this user")
	_ = fs.Parse(args)

	if *file == "" {
		return errors.New("load: -file is required")
	}
	cfg := loadConfig(*configPath)

	f, err := packfile.Load(*file)
	if err != nil {
		return err
	}
	store, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := packfile.Import(context.Background(), store, f, *userID); err != nil {
		return fmt.Errorf("failed to load %s: %w", *file, err)
	}
	logger.Info("Loaded pack %s: %d tiers, %d cards", f.Pack.ID, len(f.Tiers), len(f.Cards))
	return nil
}
