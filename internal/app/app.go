package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/vladislavdragonenkov/storefront/internal/cart"
	"github.com/vladislavdragonenkov/storefront/internal/catalog"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/autosave"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
	grpcsvc "github.com/vladislavdragonenkov/storefront/internal/service/grpc"
	"github.com/vladislavdragonenkov/storefront/internal/service/httpapi"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
	"github.com/vladislavdragonenkov/storefront/internal/service/outbox"
	"github.com/vladislavdragonenkov/storefront/internal/service/payment"
	"github.com/vladislavdragonenkov/storefront/internal/service/storefront"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

// application: собранный сервис: хранилища, доменные сервисы, транспорты и воркеры.
type application struct {
	cfg    Config
	logger *log.Entry

	deps          *runtimeDependencies
	tracer        *sdktrace.TracerProvider
	kafkaProducer *kafka.Producer

	store        *cart.Store
	searcher     *catalog.Searcher
	checkout     *checkout.Service
	autosave     *autosave.Worker
	facade       *storefront.Service
	outboxWorker *outbox.Worker
	cleanup      *idempotency.CleanupWorker

	grpcServer   *grpc.Server
	healthServer *health.Server
	httpServer   *http.Server
	health       *healthcheck.Handler
}

// Run собирает сервис и обслуживает запросы до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	a, err := newApplication(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}
	httpLis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		_ = grpcLis.Close()
		return err
	}

	return a.serve(ctx, grpcLis, httpLis)
}

func newApplication(ctx context.Context, cfg Config, logger *log.Entry) (*application, error) {
	a := &application{cfg: cfg, logger: logger}

	tp, err := initTracer(ctx, cfg)
	if err != nil {
		logger.WithError(err).Warn("tracing export disabled")
	}
	a.tracer = tp

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		a.close()
		return nil, err
	}
	a.deps = deps

	m := metrics.NewStorefrontMetrics()

	a.store = cart.NewStore(cart.WithListener(cart.ListenerFunc(func(op cart.Operation, lines, units int) {
		m.RecordCartOperation(string(op), lines, units)
	})))
	a.searcher = catalog.NewSearcher(deps.catalogRepo,
		catalog.WithMaxLatency(cfg.SearchMaxLatency),
		catalog.WithSearchLogger(logger.WithField("component", "catalog-search")),
		catalog.WithSearchMetrics(m),
	)
	a.checkout = checkout.NewService(a.store,
		payment.NewSimulator(payment.WithDelay(cfg.PaymentDelay)),
		deps.outboxRepo,
		checkout.WithLogger(logger.WithField("component", "checkout")),
		checkout.WithMetrics(m),
		checkout.WithCompletionDelay(cfg.CheckoutCompletionDelay),
	)
	a.autosave = autosave.NewWorker(a.store, deps.snapshots,
		autosave.WithLogger(logger.WithField("component", "cart-autosave")),
		autosave.WithMetrics(m),
		autosave.WithInterval(cfg.AutosaveInterval),
		autosave.WithKey(cfg.SnapshotKey),
	)
	a.facade = storefront.NewService(deps.catalogRepo, a.searcher, a.store, a.checkout, a.autosave,
		storefront.WithLogger(logger.WithField("component", "storefront")),
	)

	if cfg.RestoreCartOnStart {
		restored, err := a.autosave.Restore(ctx)
		if err != nil {
			logger.WithError(err).Warn("failed to restore cart snapshot, starting with empty cart")
		} else {
			logger.WithField("lines", restored).Info("cart restored from snapshot")
		}
	}

	a.kafkaProducer, _ = initKafkaProducer(cfg.Brokers(), logger)
	publisher := kafkaOrLogPublisher(a.kafkaProducer, logger)
	outboxOpts := []outbox.Option{
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
		outbox.WithMaxRetryDelay(cfg.OutboxMaxRetryDelay),
	}
	if a.kafkaProducer != nil {
		outboxOpts = append(outboxOpts, outbox.WithDLQPublisher(kafka.NewOutboxPublisher(a.kafkaProducer, kafka.TopicDeadLetterQueue)))
	}
	a.outboxWorker = outbox.NewWorker(deps.outboxRepo, publisher, outboxOpts...)
	a.cleanup = idempotency.NewCleanupWorker(deps.idempotencyRepo,
		idempotency.WithLogger(logger.WithField("component", "idempotency-cleanup")),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
	)

	a.health = healthcheck.NewHandler(version.Get().Version)
	for name, checker := range deps.checkers {
		a.health.RegisterChecker(name, checker)
	}
	a.health.RegisterChecker("autosave", healthcheck.NewAutosaveChecker(a.autosave.LastSavedAt, 3*a.autosave.Interval()))

	a.grpcServer, a.healthServer = newGRPCServer(a.facade, deps.idempotencyRepo, logger)
	a.httpServer = &http.Server{
		Handler: httpapi.NewRouter(
			httpapi.NewHandler(a.facade, deps.idempotencyRepo, logger.WithField("layer", "http")),
			cfg.ServiceName,
		),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return a, nil
}

func kafkaOrLogPublisher(producer *kafka.Producer, logger *log.Entry) domain.OutboxPublisher {
	if producer != nil {
		return kafka.NewOutboxPublisher(producer, kafka.TopicCheckoutEvents)
	}
	return logPublisher{logger: logger.WithField("component", "outbox-log")}
}

func newGRPCServer(facade *storefront.Service, idemRepo domain.IdempotencyRepository, logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok2 := are.ExistingCollector.(*promgrpc.ServerMetrics); ok2 {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))
	grpcsvc.RegisterStorefrontServiceServer(grpcServer, grpcsvc.NewStorefrontService(facade, idemRepo, logger.WithField("layer", "grpc")))
	grpcMetrics.InitializeMetrics(grpcServer)

	// Reflection нужен grpcurl и нагрузочным инструментам.
	reflection.Register(grpcServer)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(grpcsvc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	return grpcServer, healthServer
}

// serve запускает транспорты и воркеры и ждёт отмены ctx или ошибки сервера.
func (a *application) serve(ctx context.Context, grpcLis, httpLis net.Listener) error {
	logger := a.logger

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	var workers sync.WaitGroup
	startWorker := func(run func(context.Context)) {
		workers.Add(1)
		go func() {
			defer workers.Done()
			run(workerCtx)
		}()
	}
	startWorker(a.autosave.Run)
	startWorker(a.outboxWorker.Run)
	startWorker(a.cleanup.Run)

	var consumer *kafka.Consumer
	if a.cfg.CatalogUpdatesEnabled && len(a.cfg.Brokers()) > 0 {
		c, err := startCatalogConsumer(workerCtx, a.cfg.Brokers(), a.deps.catalogRepo, a.kafkaProducer, logger)
		if err != nil {
			logger.WithError(err).Warn("catalog updates consumer is disabled")
		} else {
			consumer = c
		}
	}

	metricsSrv := startMetricsServer(ctx, a.cfg.MetricsAddr, logger, a.health)

	errCh := make(chan error, 2)
	go func() {
		logger.Infof("gRPC сервер слушает %s", grpcLis.Addr())
		errCh <- a.grpcServer.Serve(grpcLis)
	}()
	go func() {
		logger.Infof("HTTP API слушает %s", httpLis.Addr())
		if err := a.httpServer.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем серверы")
		serveErr = ctx.Err()
	case err := <-errCh:
		if !errors.Is(err, grpc.ErrServerStopped) {
			serveErr = err
		}
	}

	a.healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	a.stopGRPC()
	shutdownHTTP(a.httpServer, logger)
	shutdownHTTP(metricsSrv, logger)

	stopWorkers()
	workers.Wait()
	if consumer != nil {
		if err := consumer.Stop(); err != nil {
			logger.WithError(err).Warn("failed to stop catalog consumer")
		}
	}

	a.drain()
	return serveErr
}

func (a *application) stopGRPC() {
	stopped := make(chan struct{})
	go func() {
		a.grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(a.cfg.shutdownTimeout()):
		a.logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		a.grpcServer.Stop()
	}
}

// drain завершает фоновые задачи оформления, сохраняет корзину последний раз
// и публикует накопленные события outbox.
func (a *application) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.shutdownTimeout())
	defer cancel()

	if err := a.checkout.Shutdown(ctx); err != nil {
		a.logger.WithError(err).Warn("checkout tasks did not finish before shutdown")
	}
	a.facade.WaitSearches()
	if err := a.autosave.SaveOnce(ctx); err != nil {
		a.logger.WithError(err).Warn("final cart autosave failed")
	}
	a.outboxWorker.Drain(ctx)
}

// close освобождает внешние ресурсы. Безопасен для повторного вызова.
func (a *application) close() {
	closeKafka(a.kafkaProducer, a.logger)
	a.kafkaProducer = nil

	if a.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.shutdownTimeout())
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.WithError(err).Warn("failed to shutdown tracer provider")
		}
		cancel()
		a.tracer = nil
	}

	if a.deps != nil {
		a.deps.close(a.logger)
	}
}

// startMetricsServer запускает HTTP-обработчик /metrics и health-пробы.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/readyz, %s/livez", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
