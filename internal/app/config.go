package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Поддерживаемые драйверы хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// ConfigPathEnv: переменная с путём к YAML-конфигу. Переменные окружения перекрывают файл.
const ConfigPathEnv = "SHOPCART_CONFIG"

// Config описывает настройки запуска сервиса корзины.
type Config struct {
	HTTPAddr    string `yaml:"http_addr" env:"SHOPCART_HTTP_ADDR" env-default:":8080"`
	GRPCAddr    string `yaml:"grpc_addr" env:"SHOPCART_GRPC_ADDR" env-default:":50051"`
	MetricsAddr string `yaml:"metrics_addr" env:"SHOPCART_METRICS_ADDR" env-default:":9090"`

	StorageDriver       string `yaml:"storage_driver" env:"SHOPCART_STORAGE_DRIVER" env-default:"memory"`
	PostgresDSN         string `yaml:"postgres_dsn" env:"SHOPCART_POSTGRES_DSN"`
	PostgresAutoMigrate bool   `yaml:"postgres_auto_migrate" env:"SHOPCART_POSTGRES_AUTO_MIGRATE" env-default:"true"`

	RedisAddr     string        `yaml:"redis_addr" env:"SHOPCART_REDIS_ADDR"`
	RedisPassword string        `yaml:"redis_password" env:"SHOPCART_REDIS_PASSWORD"`
	RedisDB       int           `yaml:"redis_db" env:"SHOPCART_REDIS_DB" env-default:"0"`
	PriceCacheTTL time.Duration `yaml:"price_cache_ttl" env:"SHOPCART_PRICE_CACHE_TTL" env-default:"30s"`

	// KafkaBrokers: список брокеров через запятую; пусто отключает публикацию outbox.
	KafkaBrokers  string `yaml:"kafka_brokers" env:"SHOPCART_KAFKA_BROKERS"`
	KafkaDLQTopic string `yaml:"kafka_dlq_topic" env:"SHOPCART_KAFKA_DLQ_TOPIC" env-default:"shopcart.dlq"`

	ReservationTTL  time.Duration `yaml:"reservation_ttl" env:"SHOPCART_RESERVATION_TTL" env-default:"15m"`
	ReaperInterval  time.Duration `yaml:"reaper_interval" env:"SHOPCART_REAPER_INTERVAL" env-default:"60s"`
	ReaperBatchSize int           `yaml:"reaper_batch_size" env:"SHOPCART_REAPER_BATCH_SIZE" env-default:"200"`

	OutboxPollInterval time.Duration `yaml:"outbox_poll_interval" env:"SHOPCART_OUTBOX_POLL_INTERVAL" env-default:"1s"`
	OutboxBatchSize    int           `yaml:"outbox_batch_size" env:"SHOPCART_OUTBOX_BATCH_SIZE" env-default:"100"`
	OutboxMaxAttempts  int           `yaml:"outbox_max_attempts" env:"SHOPCART_OUTBOX_MAX_ATTEMPTS" env-default:"3"`
	OutboxRetryDelay   time.Duration `yaml:"outbox_retry_delay" env:"SHOPCART_OUTBOX_RETRY_DELAY" env-default:"50ms"`

	RequestTimeout time.Duration `yaml:"request_timeout" env:"SHOPCART_REQUEST_TIMEOUT" env-default:"15s"`

	// SeedFile: JSON с начальным каталогом, загружается при старте; существующие записи пропускаются.
	SeedFile string `yaml:"seed_file" env:"SHOPCART_SEED_FILE"`
}

// DefaultConfig возвращает значения по умолчанию (совпадают с env-default).
func DefaultConfig() Config {
	return Config{
		HTTPAddr:            ":8080",
		GRPCAddr:            ":50051",
		MetricsAddr:         ":9090",
		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,
		PriceCacheTTL:       30 * time.Second,
		KafkaDLQTopic:       "shopcart.dlq",
		ReservationTTL:      15 * time.Minute,
		ReaperInterval:      60 * time.Second,
		ReaperBatchSize:     200,
		OutboxPollInterval:  time.Second,
		OutboxBatchSize:     100,
		OutboxMaxAttempts:   3,
		OutboxRetryDelay:    50 * time.Millisecond,
		RequestTimeout:      15 * time.Second,
	}
}

// LoadConfig читает конфиг из файла SHOPCART_CONFIG (если задан) и переменных окружения.
func LoadConfig() (Config, error) {
	var cfg Config

	if path := strings.TrimSpace(os.Getenv(ConfigPathEnv)); path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("read config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return fmt.Errorf("postgres dsn is required for storage driver %q", c.StorageDriver)
		}
	default:
		return fmt.Errorf("unsupported storage driver: %s", c.StorageDriver)
	}
	if c.ReservationTTL <= 0 {
		return fmt.Errorf("reservation ttl must be positive, got %s", c.ReservationTTL)
	}
	return nil
}

// brokerList разбирает KafkaBrokers, отбрасывая пустые элементы.
func (c Config) brokerList() []string {
	return splitBrokers(c.KafkaBrokers)
}

func splitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
