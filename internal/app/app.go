package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/refunds/internal/domain"
	"github.com/vladislavdragonenkov/refunds/internal/health"
	"github.com/vladislavdragonenkov/refunds/internal/metrics"
	"github.com/vladislavdragonenkov/refunds/internal/service/refund"
	"github.com/vladislavdragonenkov/refunds/internal/storage/memory"
	"github.com/vladislavdragonenkov/refunds/internal/storage/postgres"
)

// Runtime содержит собранные зависимости: репозитории, сервис, метрики и проверки.
type Runtime struct {
	Orders   domain.OrderRepository
	Refunds  domain.RefundRepository
	Timeline domain.TimelineRepository
	Service  *refund.Service
	Metrics  *metrics.RefundMetrics
	Health   *health.Registry
	Logger   *log.Entry

	closers []func() error
}

// Open собирает Runtime по конфигурации. registerer может быть nil, тогда
// метрики регистрируются в prometheus.DefaultRegisterer.
func Open(ctx context.Context, cfg Config, registerer prometheus.Registerer, logger *log.Entry) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = NewLogger(cfg).WithField("component", "app")
	}

	rt, err := initStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	rt.Logger = logger
	rt.Metrics = metrics.NewRefundMetricsWithRegisterer(registerer)
	retry := refund.DefaultRetryConfig()
	retry.MaxAttempts = cfg.RefundMaxRetries
	rt.Service = refund.NewService(
		rt.Orders,
		rt.Refunds,
		rt.Timeline,
		rt.Metrics,
		retry,
		logger.WithField("layer", "refund"),
	)

	logger.WithFields(log.Fields{
		"storage_driver":     cfg.StorageDriver,
		"refund_max_retries": cfg.RefundMaxRetries,
	}).Info("runtime initialized")

	return rt, nil
}

// initStorage выбирает хранилище и регистрирует его health-проверку.
func initStorage(ctx context.Context, cfg Config, logger *log.Entry) (*Runtime, error) {
	rt := &Runtime{Health: health.NewRegistry()}

	switch cfg.StorageDriver {
	case StorageDriverMemory:
		orders := memory.NewOrderRepository()
		rt.Orders = orders
		rt.Refunds = memory.NewRefundRepository(orders)
		rt.Timeline = memory.NewTimelineRepository()
		rt.Health.Register("storage", health.NewSimpleChecker("memory", func(context.Context) error { return nil }))
		return rt, nil

	case StorageDriverPostgres:
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("ensure postgres schema: %w", err)
			}
			logger.Info("postgres schema is up to date")
		}
		rt.Orders = postgres.NewOrderRepository(store)
		rt.Refunds = postgres.NewRefundRepository(store)
		rt.Timeline = postgres.NewTimelineRepository(store)
		rt.Health.Register("storage", health.NewSimpleChecker("postgres", store.Ping))
		rt.closers = append(rt.closers, store.Close)
		return rt, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

// Check выполняет health-проверки компонентов.
func (rt *Runtime) Check(ctx context.Context) health.Report {
	return rt.Health.Run(ctx)
}

// Close освобождает ресурсы хранилища.
func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	if len(errs) > 0 {
		rt.Logger.WithError(errors.Join(errs...)).Warn("runtime closed with errors")
	}
	return errors.Join(errs...)
}
