// Command subsvc runs the subscription reconciliation service: the billing
// webhook endpoint, the admin API and the periodic reconciliation sweep.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alipala/language-tutor-sub001/pkg/config"
	"github.com/alipala/language-tutor-sub001/pkg/httpserver"
	"github.com/alipala/language-tutor-sub001/pkg/logger"
	"github.com/alipala/language-tutor-sub001/pkg/requestid"
	"github.com/alipala/language-tutor-sub001/svc/subscriptions"
)

func main() {
	if err := run(); err != nil {
		slog.Error("subscription service stopped", logger.Error(err))
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logCfg, err := config.Load[logger.Config]()
	if err != nil {
		return err
	}
	log := logger.New(append(logger.FromConfig(logCfg),
		logger.WithContextExtractors(requestid.LoggerExtractor()),
	)...)
	logger.SetAsDefault(log)

	metrics := subscriptions.NewMetrics(prometheus.DefaultRegisterer)

	svc, err := subscriptions.Open(ctx, log, metrics)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close(context.WithoutCancel(ctx)) }()

	srvCfg, err := config.Load[httpserver.Config]()
	if err != nil {
		return err
	}
	srv := httpserver.NewFromConfig(srvCfg, httpserver.WithLogger(log))

	log.InfoContext(ctx, "subscription service starting",
		logger.Provider(svc.Provider.Name()),
		slog.String("ledger", svc.Config.Ledger()),
		slog.Duration("sweep_interval", svc.Config.SweepInterval),
	)
	return srv.Run(ctx, svc.Handler(promhttp.Handler()), svc.Sweeper.Task)
}
