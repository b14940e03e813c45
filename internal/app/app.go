// Package app собирает сервис корзины: HTTP API, gRPC health, метрики и фоновые воркеры.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	healthcheck "github.com/vladislavdragonenkov/shopcart/internal/health"
	"github.com/vladislavdragonenkov/shopcart/internal/httpapi"
	"github.com/vladislavdragonenkov/shopcart/internal/metrics"
	"github.com/vladislavdragonenkov/shopcart/internal/pricing"
	"github.com/vladislavdragonenkov/shopcart/internal/service/cart"
	"github.com/vladislavdragonenkov/shopcart/internal/service/catalog"
	"github.com/vladislavdragonenkov/shopcart/internal/service/reaper"
	"github.com/vladislavdragonenkov/shopcart/internal/version"
)

const (
	gracefulStopTimeout = 5 * time.Second
	workerStopTimeout   = 5 * time.Second
)

// Run поднимает все компоненты и блокируется до отмены ctx или падения сервера.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if deps.closeFn != nil {
			if err := deps.closeFn(); err != nil {
				logger.WithError(err).Warn("failed to close storage")
			}
		}
	}()

	catalogService := catalog.NewService(deps.catalog, catalog.WithLogger(logger.WithField("layer", "catalog")))
	if cfg.SeedFile != "" {
		if _, err := catalogService.LoadSeedFile(ctx, cfg.SeedFile); err != nil {
			return fmt.Errorf("load catalog seed: %w", err)
		}
	}

	cartMetrics := metrics.NewCartMetrics()
	outboxMetrics := metrics.NewOutboxMetrics()
	httpMetrics := metrics.NewHTTPMetrics()

	healthHandler := healthcheck.NewHandler(version.Current().Version)
	healthHandler.RegisterChecker("storage", deps.storageChecker)

	engine := pricing.NewEngine(deps.store)
	quoter, redisClient := initPriceCache(cfg, engine, logger)
	defer closeRedis(redisClient, logger)
	if redisClient != nil {
		healthHandler.RegisterChecker("redis", healthcheck.NewOptionalChecker("redis", redisPing(redisClient)))
	}

	cartService := cart.NewService(deps.store, engine,
		cart.WithLogger(logger.WithField("layer", "cart")),
		cart.WithMetrics(cartMetrics),
		cart.WithReservationTTL(cfg.ReservationTTL),
	)

	apiServer := httpapi.NewServer(cartService, quoter,
		httpapi.WithLogger(logger.WithField("layer", "http")),
		httpapi.WithMetrics(httpMetrics),
		httpapi.WithRequestTimeout(cfg.RequestTimeout),
		httpapi.WithHealth(healthHandler),
		httpapi.WithCatalog(catalogService),
	)

	workersCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	reaperWorker := reaper.NewWorker(deps.store,
		reaper.WithLogger(logger.WithField("layer", "reaper")),
		reaper.WithMetrics(cartMetrics),
		reaper.WithInterval(cfg.ReaperInterval),
		reaper.WithBatchSize(cfg.ReaperBatchSize),
	)
	reaperDone := make(chan struct{})
	go func() {
		defer close(reaperDone)
		reaperWorker.Run(workersCtx)
	}()

	kafkaProducer, err := initKafkaProducer(cfg, logger)
	if err != nil {
		kafkaProducer = nil
	}
	var outboxDone chan struct{}
	if kafkaProducer != nil {
		outboxWorker := newOutboxWorker(cfg, kafkaProducer, deps.outboxRepo, outboxMetrics, logger.WithField("layer", "outbox"))
		outboxDone = make(chan struct{})
		go func() {
			defer close(outboxDone)
			outboxWorker.Run(workersCtx)
		}()
	} else {
		logger.Warn("kafka is not configured, outbox messages stay pending")
	}

	grpcServer, healthServer := newGRPCServer(logger)
	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		cancelWorkers()
		shutdownHTTP(metricsSrv, logger)
		closeKafka(kafkaProducer, logger)
		return err
	}
	httpLis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		_ = grpcLis.Close()
		cancelWorkers()
		shutdownHTTP(metricsSrv, logger)
		closeKafka(kafkaProducer, logger)
		return err
	}

	apiSrv := &http.Server{Handler: apiServer.Routes(), ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 2)
	go func() {
		logger.Infof("gRPC health сервер слушает %s", cfg.GRPCAddr)
		errCh <- grpcServer.Serve(grpcLis)
	}()
	go func() {
		logger.Infof("HTTP API слушает %s", cfg.HTTPAddr)
		if err := apiSrv.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := func() {
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		shutdownHTTP(apiSrv, logger)
		stopGRPC(grpcServer, logger)
		shutdownOutboxWorker(cancelWorkers, outboxDone, logger)
		waitWorker(reaperDone, logger, "reaper")
		shutdownHTTP(metricsSrv, logger)
		closeKafka(kafkaProducer, logger)
	}

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем серверы")
		stop()
		return ctx.Err()
	case err := <-errCh:
		stop()
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}

// newGRPCServer создаёт gRPC-сервер со стандартным health-сервисом и prometheus-перехватчиком.
func newGRPCServer(logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))
	if err := prometheus.Register(grpcMetrics); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok2 := are.ExistingCollector.(*promgrpc.ServerMetrics); ok2 {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	grpcMetrics.InitializeMetrics(grpcServer)

	// grpcurl
	reflection.Register(grpcServer)

	return grpcServer, healthServer
}

func stopGRPC(grpcServer *grpc.Server, logger *log.Entry) {
	stoppedCh := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stoppedCh)
	}()
	select {
	case <-stoppedCh:
	case <-time.After(gracefulStopTimeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		grpcServer.Stop()
	}
}

func redisPing(client *redis.Client) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}

// opsMux отдаёт /metrics, /healthz (сводный JSON), /readyz и /livez.
func opsMux(healthHandler *healthcheck.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	return mux
}

// startMetricsServer запускает opsMux на addr и останавливает его по отмене ctx.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	srv := &http.Server{Addr: addr, Handler: opsMux(healthHandler), ReadHeaderTimeout: 5 * time.Second}
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
	ctx, cancel := context.WithTimeout(context.Background(), gracefulStopTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}

// shutdownOutboxWorker отменяет контекст воркеров и ждёт завершения outbox.
func shutdownOutboxWorker(cancel context.CancelFunc, done <-chan struct{}, logger *log.Entry) {
	if cancel != nil {
		cancel()
	}
	waitWorker(done, logger, "outbox")
}

func waitWorker(done <-chan struct{}, logger *log.Entry, name string) {
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(workerStopTimeout):
		logger.WithField("worker", name).Warn("worker did not stop in time")
	}
}
