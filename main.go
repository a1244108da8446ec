package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"whale-spot-bot/config"
	"whale-spot-bot/internal/ai/advice"
	"whale-spot-bot/internal/ai/llm"
	"whale-spot-bot/internal/api"
	"whale-spot-bot/internal/auth"
	"whale-spot-bot/internal/binance"
	"whale-spot-bot/internal/bot"
	"whale-spot-bot/internal/cache"
	"whale-spot-bot/internal/events"
	"whale-spot-bot/internal/logging"
	"whale-spot-bot/internal/market"
	"whale-spot-bot/internal/notification"
	"whale-spot-bot/internal/risk"
	"whale-spot-bot/internal/vault"
	"whale-spot-bot/internal/whale"
)

const (
	engineStopTimeout     = 10 * time.Second
	dispatcherStopTimeout = 30 * time.Second
)

func main() {
	configPath := flag.String("config", "", "path to a JSON or TOML config file (default $CONFIG_FILE or config.json)")
	sample := flag.String("generate-config", "", "write a sample config to this path and exit")
	flag.Parse()

	if *sample != "" {
		if err := config.GenerateSampleConfig(*sample); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write sample config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Sample config written to %s\n", *sample)
		return
	}

	if err := run(*configPath); err != nil {
		logger := logging.Default()
		logger.Fatal().Err(err).Msg("Whale spot bot exited with error")
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(&logging.Config{
		Level:       cfg.LoggingConfig.Level,
		Output:      cfg.LoggingConfig.Output,
		JSONFormat:  cfg.LoggingConfig.JSONFormat,
		IncludeFile: cfg.LoggingConfig.IncludeFile,
		Component:   "main",
	})
	logging.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := loadSecrets(ctx, cfg, logger); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	settings := config.NewSettingsStore(cfg.TradingConfig)
	bus := events.NewEventBus()
	bus.OnPanic(func(ev events.Event, r interface{}) {
		logger.Error().Str("event", string(ev.Type)).Interface("panic", r).Msg("Event subscriber panicked")
	})

	client := binance.NewClientSelector(cfg.BinanceConfig, settings, nil, logger)
	feed := market.NewFeed(client, settings, logger)
	whales := whale.NewGenerator(feed, settings, bus, logger)
	limiter := risk.NewLimiter(settings, client, bus, logger)

	adviceCache, closeAdvice := buildAdvice(cfg, client, settings, bus, logger)
	defer closeAdvice()

	deps := bot.Dependencies{
		Settings: settings,
		Client:   client,
		Feed:     feed,
		Whales:   whales,
		Limiter:  limiter,
		Bus:      bus,
		Logger:   logger,
	}
	if adviceCache != nil {
		deps.Advice = adviceCache
	}
	engine := bot.NewEngine(deps)

	dispatcher, telegram := buildNotifications(cfg, logger)
	if dispatcher != nil {
		notification.NewBridge(dispatcher, logger).Attach(bus)
		if err := dispatcher.Start(); err != nil {
			return fmt.Errorf("start notifications: %w", err)
		}
	}

	var server *api.Server
	if cfg.ServerConfig.Enabled {
		var authService *auth.Service
		if cfg.AuthConfig.Enabled {
			authService, err = auth.NewService(cfg.AuthConfig, logger)
			if err != nil {
				return fmt.Errorf("init auth: %w", err)
			}
		}
		server = api.NewServer(cfg.ServerConfig, engine, feed, bus, authService, logger)
	}

	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	if server != nil {
		g.Go(server.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ServerConfig.ShutdownTimeout)*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}
	if telegram != nil && cfg.NotificationConfig.Telegram.ListenCallbacks {
		router := notification.NewCallbackRouter(engine, cfg.NotificationConfig.Telegram.AdminIDs, logger)
		g.Go(func() error {
			telegram.ListenCallbacks(gctx, router)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutdown requested")
		return nil
	})

	runErr := g.Wait()

	// Engine first so its final events still reach the notification queue
	if err := engine.Stop(engineStopTimeout); err != nil && !errors.Is(err, bot.ErrNotRunning) {
		logger.Warn().Err(err).Msg("Engine did not stop cleanly")
	}
	if dispatcher != nil {
		if err := dispatcher.Stop(dispatcherStopTimeout); err != nil {
			logger.Warn().Err(err).Msg("Notification queue not drained")
		}
		st := dispatcher.Stats()
		logger.Info().Int64("sent", st.Sent).Int64("fallbacks", st.Fallbacks).Int64("failed", st.Failed).Msg("Notification totals")
	}

	logger.Info().Msg("Whale spot bot stopped")
	return runErr
}

// loadSecrets overlays Vault credentials on the file and environment config
func loadSecrets(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	if !cfg.VaultConfig.Enabled {
		return nil
	}
	client, err := vault.NewClient(cfg.VaultConfig, logger)
	if err != nil {
		return fmt.Errorf("init vault: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	creds, err := client.LoadCredentials(ctx)
	if err != nil {
		if errors.Is(err, vault.ErrSecretNotFound) {
			logger.Warn().Str("path", cfg.VaultConfig.SecretPath).Msg("No credentials in vault, using config values")
			return nil
		}
		return fmt.Errorf("load vault credentials: %w", err)
	}
	creds.ApplyTo(cfg)
	logger.Info().Msg("Credentials loaded from vault")
	return nil
}

// buildAdvice wires the LLM advisor behind the advice cache, mirrored to redis when enabled.
// It returns nil when AI is off.
func buildAdvice(cfg *config.Config, klines advice.KlineSource, settings *config.SettingsStore, bus *events.EventBus, logger zerolog.Logger) (*advice.Cache, func()) {
	noop := func() {}
	if !cfg.AIConfig.Enabled || cfg.AIConfig.APIKey == "" {
		if settings.Get().AIDynamicMode {
			logger.Warn().Msg("AI dynamic mode on without an AI provider, trades use mode parameters")
		}
		return nil, noop
	}

	model := llm.NewClient(&llm.ClientConfig{
		Provider:    llm.Provider(cfg.AIConfig.LLMProvider),
		APIKey:      cfg.AIConfig.APIKey,
		Model:       cfg.AIConfig.LLMModel,
		MaxTokens:   cfg.AIConfig.MaxTokens,
		Temperature: cfg.AIConfig.Temperature,
		Timeout:     time.Duration(cfg.AIConfig.Timeout) * time.Second,
	})
	advisor := advice.NewLLMAdvisor(klines, model, logger)

	var store advice.Store
	closeFn := noop
	if cfg.RedisConfig.Enabled {
		svc, err := cache.NewService(cfg.RedisConfig, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("Redis unavailable, advice cached in memory only")
		} else {
			store = cache.NewAdviceStore(svc, cfg.RedisConfig.KeyPrefix)
			closeFn = func() { svc.Close() }
		}
	}

	logger.Info().Str("provider", cfg.AIConfig.LLMProvider).Bool("redis", store != nil).Msg("AI advice enabled")
	return advice.NewCache(advisor, settings, store, bus, logger), closeFn
}

// buildNotifications returns the dispatcher and, when it authorized, the Telegram sender
func buildNotifications(cfg *config.Config, logger zerolog.Logger) (*notification.Dispatcher, *notification.TelegramSender) {
	tg := cfg.NotificationConfig.Telegram
	if !cfg.NotificationConfig.Enabled || !tg.Enabled || tg.BotToken == "" {
		logger.Info().Msg("Chat notifications disabled")
		return nil, nil
	}

	dcfg := notification.DefaultDispatcherConfig()
	dcfg.AdminIDs = tg.AdminIDs
	if tg.QueueSize > 0 {
		dcfg.QueueSize = tg.QueueSize
	}
	if tg.PrimaryTimeout > 0 {
		dcfg.PrimaryTimeout = time.Duration(tg.PrimaryTimeout) * time.Second
	}
	if tg.FallbackTimeout > 0 {
		dcfg.FallbackTimeout = time.Duration(tg.FallbackTimeout) * time.Second
	}

	fallback := notification.NewHTTPSender(tg.APIBaseURL, tg.BotToken, dcfg.FallbackTimeout)
	telegram, err := notification.NewTelegramSender(tg.APIBaseURL, tg.BotToken, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("Telegram client unavailable, sending through HTTP only")
		return notification.NewDispatcher(nil, fallback, dcfg, logger), nil
	}
	return notification.NewDispatcher(telegram, fallback, dcfg, logger), telegram
}
