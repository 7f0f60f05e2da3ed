package main

import (
	"context"
	"flag"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"LunaPayCredit/internal/config"
	"LunaPayCredit/internal/db"
	"LunaPayCredit/internal/ledger"
	"LunaPayCredit/internal/logging"
	"LunaPayCredit/internal/matcher"
	"LunaPayCredit/internal/metrics"
	"LunaPayCredit/internal/notify"
	"LunaPayCredit/internal/payments"
	"LunaPayCredit/internal/store"
	"LunaPayCredit/internal/token"
	"LunaPayCredit/internal/worker"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	metricsAddr := flag.String("metrics-addr", "", "expose /metrics on this address")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := logging.New("worker", "info", "console")
		bootLog.Fatal().Err(err).Msg("load config")
	}
	log := logging.New("worker", cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.DB.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				log.Error().Err(err).Msg("metrics listener failed")
			}
		}()
	}

	st := store.New(pool)
	codec := token.Codec{Prefix: cfg.Provider.LabelPrefix}
	client := ledger.NewClient(cfg.Provider.BaseURL, cfg.Provider.Token, cfg.Provider.HistoryRecords)
	telegram := notify.NewTelegram(cfg.Telegram.APIBase, cfg.Telegram.BotToken)
	confirmer := payments.NewConfirmer(st, telegram, cfg.Provider.DryRun, log)

	w := &worker.Worker{
		Store:  st,
		Source: client,
		Matcher: matcher.New(codec, cfg.Worker.AmountTolerance,
			cfg.Worker.CardFeeRate, cfg.Worker.WalletFeeRate, cfg.Grace()),
		Confirmer:       confirmer,
		Metrics:         m,
		Codec:           codec,
		Log:             log,
		SweepInterval:   cfg.SweepInterval(),
		CleanupInterval: cfg.CleanupInterval(),
		Lookback:        cfg.Lookback(),
		Retention:       cfg.RetentionWindow(),
		DetailBudget:    cfg.Provider.DetailBudget,
	}
	w.Run(ctx)
}
