package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"LunaPayCredit/internal/config"
	"LunaPayCredit/internal/db"
	httpapi "LunaPayCredit/internal/http"
	"LunaPayCredit/internal/logging"
	"LunaPayCredit/internal/metrics"
	"LunaPayCredit/internal/notify"
	"LunaPayCredit/internal/payments"
	"LunaPayCredit/internal/pricing"
	"LunaPayCredit/internal/services"
	"LunaPayCredit/internal/store"
	"LunaPayCredit/internal/token"
	"LunaPayCredit/internal/webhook"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := logging.New("api", "info", "console")
		bootLog.Fatal().Err(err).Msg("load config")
	}
	log := logging.New("api", cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.DB.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	m := metrics.New(registry)

	st := store.New(pool)
	catalog := pricing.NewCatalog(cfg.Packages)
	codec := token.Codec{Prefix: cfg.Provider.LabelPrefix}

	telegram := notify.NewTelegram(cfg.Telegram.APIBase, cfg.Telegram.BotToken)
	confirmer := payments.NewConfirmer(st, telegram, cfg.Provider.DryRun, log)
	intents := services.NewIntentService(st, catalog, codec,
		cfg.Provider.BaseURL, cfg.Provider.Receiver, log)

	wh := webhook.NewHandler(st, confirmer, codec, cfg.Provider.NotificationSecret, m, log)
	handler := httpapi.NewHandler(intents, catalog, wh, st, registry, cfg.Server.AdminToken, log)
	server := httpapi.NewServer(cfg.Server.Addr, handler, cfg.Provider.WebhookPath, log)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatal().Err(err).Msg("http server failed")
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown")
			os.Exit(1)
		}
		log.Info().Msg("shut down cleanly")
	}
}
