package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"retrocart/internal/config"
	"retrocart/internal/events"
	"retrocart/internal/gateway"
	"retrocart/internal/http/handlers"
	"retrocart/internal/idempotency"
	applog "retrocart/internal/log"
	"retrocart/internal/metrics"
	"retrocart/internal/repos"
)

func main() {
	cfg := config.Load()
	if err := applog.Init(cfg.LogFile); err != nil {
		applog.L().Warn("log.file.unavailable", zap.String("path", cfg.LogFile), zap.Error(err))
	}
	defer applog.Sync()
	lg := applog.L()

	db, err := repos.OpenDB(cfg.DBDSN)
	if err != nil {
		lg.Fatal("db.open", zap.Error(err))
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := handlers.Options{Metrics: metrics.New(prometheus.DefaultRegisterer)}

	switch cfg.GatewayMode {
	case "http":
		if cfg.GatewayURL == "" {
			lg.Fatal("gateway.config", zap.String("reason", "GATEWAY_URL is required in http mode"))
		}
		opts.Gateway = gateway.NewHTTPGateway(cfg.GatewayURL, cfg.GatewayAPIKey, cfg.GatewayTimeout)
	default:
		opts.Gateway = gateway.NewSandbox(cfg.PublicBaseURL)
	}

	if cfg.RedisAddr != "" {
		rdb := idempotency.NewRedisClient(cfg.RedisAddr)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			lg.Fatal("redis.ping", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		opts.Locker = idempotency.NewRedisLocker(rdb, cfg.IdempotencyTTL)
	}

	var kafkaPub *events.KafkaPublisher
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPub = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, 256)
		kafkaPub.Start(ctx)
		opts.Publisher = kafkaPub
	}

	deps := handlers.NewDeps(db, cfg, opts)
	app := handlers.NewApp(deps, promhttp.Handler(), logger.New())

	go func() {
		<-ctx.Done()
		lg.Info("server.shutdown")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			lg.Error("server.shutdown", zap.Error(err))
		}
	}()

	lg.Info("server.listen", zap.String("port", cfg.Port), zap.String("gateway", opts.Gateway.Name()))
	if err := app.Listen(":" + cfg.Port); err != nil {
		lg.Error("server.listen", zap.Error(err))
	}
	if kafkaPub != nil {
		stop()
		kafkaPub.WaitClosed()
	}
}
