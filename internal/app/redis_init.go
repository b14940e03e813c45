package app

import (
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopcart/internal/pricing"
)

// initPriceCache оборачивает движок цен read-through кэшем Redis, если задан адрес.
// Без Redis возвращает сам движок и nil-клиент.
func initPriceCache(cfg Config, engine pricing.Quoter, logger *log.Entry) (pricing.Quoter, *redis.Client) {
	if cfg.RedisAddr == "" {
		return engine, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	logger.WithField("addr", cfg.RedisAddr).Info("price cache enabled")

	return pricing.NewCachedQuoter(engine, client, cfg.PriceCacheTTL, logger.WithField("layer", "price-cache")), client
}

func closeRedis(client *redis.Client, logger *log.Entry) {
	if client == nil {
		return
	}
	if err := client.Close(); err != nil {
		logger.WithError(err).Warn("failed to close redis client")
	}
}
