package cmd

import (
	"os"
	"sync"
	"time"

	"pricefeed/internal/exchange"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

type Config struct {
	ServerPort int      `env:"SERVER_PORT" envDefault:"8080"`
	Exchanges  []string `env:"EXCHANGES" envDefault:"binance,kraken" envSeparator:","`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	WSConnectionMaxRetries int           `env:"WS_CONNECTION_MAX_RETRIES" envDefault:"10"`
	ReconnectBaseDelay     time.Duration `env:"RECONNECT_BASE_DELAY" envDefault:"5s"`
	LaunchStagger          time.Duration `env:"LAUNCH_STAGGER" envDefault:"2s"`
	ReadTimeout            time.Duration `env:"READ_TIMEOUT" envDefault:"90s"`

	BinanceWSURL     string `env:"BINANCE_WS_URL" envDefault:"wss://stream.binance.com:9443/ws"`
	BinanceRESTURL   string `env:"BINANCE_REST_URL" envDefault:"https://api.binance.com/api/v3/exchangeInfo"`
	BinanceChunkSize int    `env:"BINANCE_CHUNK_SIZE" envDefault:"100"`

	KrakenWSURL          string        `env:"KRAKEN_WS_URL" envDefault:"wss://ws.kraken.com"`
	KrakenRESTURL        string        `env:"KRAKEN_REST_URL" envDefault:"https://api.kraken.com/0/public/AssetPairs"`
	KrakenChunkSize      int           `env:"KRAKEN_CHUNK_SIZE" envDefault:"100"`
	KrakenSubscribeBatch int           `env:"KRAKEN_SUBSCRIBE_BATCH" envDefault:"100"`
	KrakenPingInterval   time.Duration `env:"KRAKEN_PING_INTERVAL" envDefault:"15s"`

	CatalogTimeout  time.Duration `env:"CATALOG_TIMEOUT" envDefault:"10s"`
	CatalogAttempts int           `env:"CATALOG_ATTEMPTS" envDefault:"1"`

	BroadcastBuffer  int `env:"BROADCAST_BUFFER" envDefault:"4096"`
	SubscriberBuffer int `env:"SUBSCRIBER_BUFFER" envDefault:"256"`

	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`
	RedisTTL      time.Duration `env:"REDIS_TTL" envDefault:"2m"`

	PyroscopeServer string `env:"PYROSCOPE_SERVER"`
}

var (
	instance *Config
	once     sync.Once
)

// Load reads an optional .env file and then the environment.
func (c *Config) Load() error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "load .env")
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return errors.Wrap(err, "parse env")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	*c = cfg
	return nil
}

func (c *Config) Validate() error {
	if c.WSConnectionMaxRetries < 0 {
		return errors.New("WS_CONNECTION_MAX_RETRIES must not be negative")
	}
	if c.BinanceChunkSize <= 0 || c.KrakenChunkSize <= 0 {
		return errors.New("chunk sizes must be positive")
	}
	for _, name := range c.Exchanges {
		switch exchange.ParseExchangeID(name) {
		case exchange.Binance, exchange.Kraken:
		default:
			return errors.Errorf("unknown exchange %q", name)
		}
	}
	return nil
}

// EnabledExchanges returns the configured exchange ids without duplicates.
func (c *Config) EnabledExchanges() []exchange.ExchangeID {
	seen := make(map[exchange.ExchangeID]bool, len(c.Exchanges))
	var ids []exchange.ExchangeID
	for _, name := range c.Exchanges {
		id := exchange.ParseExchangeID(name)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

func GetConfig() *Config {
	once.Do(func() {
		instance = &Config{}
		if err := instance.Load(); err != nil {
			log.Fatalf("config: %v", err)
		}
	})
	return instance
}
