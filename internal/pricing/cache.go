package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopcart/internal/domain"
)

const (
	defaultCacheTTL = 30 * time.Second
	cacheKeyPrefix  = "shopcart:price"
)

// Quoter считает цену по запросу.
type Quoter interface {
	ComputePrice(ctx context.Context, req domain.PriceRequest) (domain.Quote, error)
}

// CachedQuoter: read-through кэш котировок в Redis для публичного эндпоинта цены.
// Сбои Redis не ломают расчёт: котировка считается напрямую.
type CachedQuoter struct {
	next   Quoter
	client redis.Cmdable
	ttl    time.Duration
	logger *log.Entry
}

// NewCachedQuoter оборачивает next кэшем. ttl <= 0 заменяется значением по умолчанию.
func NewCachedQuoter(next Quoter, client redis.Cmdable, ttl time.Duration, logger *log.Entry) *CachedQuoter {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if logger == nil {
		logger = log.WithField("component", "price-cache")
	}
	return &CachedQuoter{next: next, client: client, ttl: ttl, logger: logger}
}

// ComputePrice возвращает котировку из кэша или считает и сохраняет её.
func (c *CachedQuoter) ComputePrice(ctx context.Context, req domain.PriceRequest) (domain.Quote, error) {
	key := CacheKey(req)

	quote, found, err := c.get(ctx, key)
	if err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("price cache read failed")
	}
	if found {
		return quote, nil
	}

	quote, err = c.next.ComputePrice(ctx, req)
	if err != nil {
		return domain.Quote{}, err
	}

	if err := c.set(ctx, key, quote); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("price cache write failed")
	}
	return quote, nil
}

func (c *CachedQuoter) get(ctx context.Context, key string) (domain.Quote, bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Quote{}, false, nil
		}
		return domain.Quote{}, false, fmt.Errorf("get key %s from redis: %w", key, err)
	}

	var quote domain.Quote
	if err := json.Unmarshal(data, &quote); err != nil {
		return domain.Quote{}, false, fmt.Errorf("unmarshal cached quote %s: %w", key, err)
	}
	return quote, true, nil
}

func (c *CachedQuoter) set(ctx context.Context, key string, quote domain.Quote) error {
	data, err := json.Marshal(quote)
	if err != nil {
		return fmt.Errorf("marshal quote %s: %w", key, err)
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("set key %s in redis: %w", key, err)
	}
	return nil
}

// CacheKey строит ключ кэша из всех полей запроса, влияющих на цену.
func CacheKey(req domain.PriceRequest) string {
	return strings.Join([]string{
		cacheKeyPrefix,
		req.ProductID,
		req.VariantID,
		strconv.Itoa(req.Quantity),
		string(req.UserTier),
		req.PromoCode,
	}, ":")
}
