package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/alipala/language-tutor-sub001/pkg/alert"
	"github.com/alipala/language-tutor-sub001/pkg/audit"
	"github.com/alipala/language-tutor-sub001/pkg/billing"
	"github.com/alipala/language-tutor-sub001/pkg/config"
	"github.com/alipala/language-tutor-sub001/pkg/httpserver"
	"github.com/alipala/language-tutor-sub001/pkg/logger"
	mongodb "github.com/alipala/language-tutor-sub001/pkg/mongo"
	redisdb "github.com/alipala/language-tutor-sub001/pkg/redis"
	"github.com/alipala/language-tutor-sub001/pkg/requestid"
	"github.com/alipala/language-tutor-sub001/pkg/subscription"
)

// Service is the fully wired subscription service shared by the server and the CLI.
type Service struct {
	Config     Config
	Provider   billing.Provider
	Store      *MongoStore
	Ledger     subscription.Ledger
	Processor  *subscription.Processor
	Reconciler *subscription.Reconciler
	Usage      *subscription.UsageTracker
	Override   *subscription.AdminOverride
	Audit      *audit.Reader
	Sweeper    *Sweeper
	Checks     []httpserver.Check

	log     *slog.Logger
	metrics *Metrics
	closers []func(context.Context) error
}

// Open loads every configuration section from the environment, connects to
// MongoDB (and Redis for the Redis ledger), builds the billing provider and
// wires the core components. metrics may be nil. Callers must Close the service.
func Open(ctx context.Context, log *slog.Logger, metrics *Metrics, opts ...config.Option) (*Service, error) {
	if log == nil {
		log = slog.Default()
	}

	cfg, err := config.Load[Config](opts...)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Service{Config: cfg, log: log, metrics: metrics}
	if err := s.open(ctx, opts); err != nil {
		_ = s.Close(context.WithoutCancel(ctx))
		return nil, err
	}
	return s, nil
}

func (s *Service) open(ctx context.Context, opts []config.Option) error {
	provider, err := loadProvider(opts)
	if err != nil {
		return err
	}
	s.Provider = provider

	alerter, err := loadAlerter(s.log, opts)
	if err != nil {
		return err
	}

	mongoCfg, err := config.Load[mongodb.Config](opts...)
	if err != nil {
		return err
	}
	db, err := mongodb.ConnectDatabase(ctx, mongoCfg)
	if err != nil {
		return err
	}
	s.closers = append(s.closers, db.Client().Disconnect)
	s.Checks = append(s.Checks, httpserver.Check{Name: "mongo", Fn: mongodb.Healthcheck(db.Client())})

	if err := s.openLedger(ctx, db, opts); err != nil {
		return err
	}

	s.Store = NewMongoStore(db)
	auditStorage := NewMongoAuditStorage(db)
	if err := s.Store.EnsureIndexes(ctx); err != nil {
		return err
	}
	if err := auditStorage.EnsureIndexes(ctx); err != nil {
		return err
	}

	core := append(s.Config.CoreOptions(),
		subscription.WithLogger(s.log),
		subscription.WithAlerter(alerter),
	)
	if path := strings.TrimSpace(s.Config.CatalogPath); path != "" {
		catalog, err := billing.LoadCatalog(path)
		if err != nil {
			return err
		}
		core = append(core, subscription.WithPlanResolver(catalog))
		s.log.InfoContext(ctx, "price catalog loaded", slog.Int("prices", catalog.Len()))
	}
	core = append(core, s.metrics.Options()...)

	s.Processor = subscription.NewProcessor(s.Store, s.Ledger, core...)
	s.Reconciler = subscription.NewReconciler(s.Store, provider, core...)
	s.Usage = subscription.NewUsageTracker(s.Store, NewMongoProgress(db), core...)
	s.Override = subscription.NewAdminOverride(s.Store,
		audit.NewLogger(auditStorage, audit.WithRequestIDExtractor(requestid.Lookup)),
		core...,
	)
	s.Audit = audit.NewReader(auditStorage)
	s.Sweeper = NewSweeper(s.Reconciler, s.Ledger, s.Config.SweepInterval, s.Config.LedgerRetention,
		WithSweeperLogger(s.log),
		WithSweeperMetrics(s.metrics),
	)
	return nil
}

func (s *Service) openLedger(ctx context.Context, db *mongo.Database, opts []config.Option) error {
	switch s.Config.Ledger() {
	case LedgerRedis:
		redisCfg, err := config.Load[redisdb.Config](opts...)
		if err != nil {
			return err
		}
		client, err := redisdb.Connect(ctx, redisCfg)
		if err != nil {
			return err
		}
		s.closers = append(s.closers, func(context.Context) error { return client.Close() })
		s.Checks = append(s.Checks, httpserver.Check{Name: "redis", Fn: redisdb.Healthcheck(client)})
		s.Ledger = NewRedisLedger(client, s.Config.LedgerRetention)
	default:
		ledger := NewMongoLedger(db, s.Config.LedgerRetention)
		if err := ledger.EnsureIndexes(ctx); err != nil {
			return err
		}
		s.Ledger = ledger
	}
	return nil
}

// Handler returns the HTTP surface of the service. metricsHandler may be nil.
func (s *Service) Handler(metricsHandler http.Handler) http.Handler {
	hopts := []HandlerOption{WithLogger(s.log), WithMetrics(s.metrics)}
	return Router(RouterOptions{
		Webhooks: NewWebhookHandler(s.Processor, []WebhookParser{s.Provider}, hopts...),
		Admin: NewAdminHandler(AdminServices{
			Records:    s.Store,
			Reconciler: s.Reconciler,
			Usage:      s.Usage,
			Override:   s.Override,
			Audit:      s.Audit,
			Token:      strings.TrimSpace(s.Config.AdminToken),
		}, hopts...),
		Health:  httpserver.HealthCheckHandler(s.log, 2*time.Second, s.Checks...),
		Metrics: metricsHandler,
	})
}

// Close releases connections in reverse order of opening.
func (s *Service) Close(ctx context.Context) error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	if err := errors.Join(errs...); err != nil {
		s.log.ErrorContext(ctx, "failed to close service connections", logger.Error(err))
		return err
	}
	return nil
}

func loadProvider(opts []config.Option) (billing.Provider, error) {
	bcfg, err := config.Load[billing.Config](opts...)
	if err != nil {
		return nil, err
	}
	switch bcfg.Name() {
	case billing.ProviderStripe:
		cfg, err := config.Load[billing.StripeConfig](opts...)
		if err != nil {
			return nil, err
		}
		return billing.NewStripeProvider(cfg)
	case billing.ProviderPaddle:
		cfg, err := config.Load[billing.PaddleConfig](opts...)
		if err != nil {
			return nil, err
		}
		return billing.NewPaddleProvider(cfg)
	}
	return nil, fmt.Errorf("%w: %q", billing.ErrUnknownProvider, bcfg.Provider)
}

func loadAlerter(log *slog.Logger, opts []config.Option) (alert.Notifier, error) {
	cfg, err := config.Load[alert.Config](opts...)
	if err != nil {
		return nil, err
	}
	return alert.FromConfig(cfg, alert.NewLogNotifier(log))
}
