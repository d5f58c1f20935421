package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"tillpoint/cmd/server/config"
	"tillpoint/internal/adapters/gatewayhttp"
	"tillpoint/internal/adapters/rest"
	"tillpoint/internal/checkout"
	"tillpoint/internal/observability"
	"tillpoint/internal/realtime"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	if err := run(ctx, logger); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

func run(ctx context.Context, logger *zap.Logger) error {
	httpCfg, err := config.LoadHTTP()
	if err != nil {
		return err
	}
	gatewayCfg, err := config.LoadGateway()
	if err != nil {
		return err
	}
	reliabilityCfg, err := checkout.LoadReliabilityConfig()
	if err != nil {
		return err
	}
	monitorCfg, err := config.LoadMonitor()
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics()

	ledger, cleanupLedger := buildLedger(ctx, config.LoadSQL().ConnectionString, logger)
	defer cleanupLedger()

	idemStore, cleanupRedis, err := buildIdempotencyStore(ctx, logger)
	if err != nil {
		return err
	}
	defer cleanupRedis()

	gateway := checkout.NewReliableGateway(
		gatewayhttp.NewClient(gatewayCfg.Endpoint, gatewayCfg.Timeout),
		checkout.NewRateLimiter(reliabilityCfg.RateLimitInterval, reliabilityCfg.RateLimitBurst),
		checkout.NewCircuitBreaker(checkout.CircuitBreakerConfig{
			MaxFailures:  reliabilityCfg.BreakerMaxFailures,
			ResetTimeout: reliabilityCfg.BreakerResetTimeout,
		}),
	)
	gateway.OnRateLimitWait = metrics.AddRateLimitWait

	hub := realtime.NewHub()
	go hub.Run()

	coordinator := checkout.NewCoordinator(ledger, gateway, logger,
		checkout.WithRetryPolicy(reliabilityCfg.RetryPolicy()),
		checkout.WithEventPublisher(hub.Publish),
	)

	monitor := checkout.NewPendingMonitor(ledger, logger,
		monitorCfg.GracePeriod, monitorCfg.ScanInterval, metrics.SetStalePending)
	go monitor.Run(ctx)

	handler := rest.NewHandler(coordinator, idemAdapter(idemStore), hub, metrics, logger)
	srv := &http.Server{
		Addr:    httpCfg.Addr,
		Handler: rest.NewRouter(handler, metrics),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", httpCfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
