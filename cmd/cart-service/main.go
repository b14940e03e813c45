package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopcart/internal/app"
	"github.com/vladislavdragonenkov/shopcart/internal/version"
)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)
}

// startupFields: поля стартового лога без секретов (DSN и пароль Redis не пишем).
func startupFields(cfg app.Config) log.Fields {
	fields := version.Current().Fields()
	fields["http_addr"] = cfg.HTTPAddr
	fields["grpc_addr"] = cfg.GRPCAddr
	fields["metrics_addr"] = cfg.MetricsAddr
	fields["storage_driver"] = cfg.StorageDriver
	fields["redis_enabled"] = cfg.RedisAddr != ""
	fields["kafka_enabled"] = cfg.KafkaBrokers != ""
	fields["seed_file"] = cfg.SeedFile
	fields["reservation_ttl"] = cfg.ReservationTTL.String()
	return fields
}

func main() {
	setupLogger()

	cfg, err := app.LoadConfig()
	if err != nil {
		log.WithError(err).Fatal("не удалось прочитать конфигурацию")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(startupFields(cfg)).Info("запускаем cart-service")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("cart-service остановлен")
}
