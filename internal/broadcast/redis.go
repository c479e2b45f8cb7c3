package broadcast

import (
	"context"
	"fmt"
	"time"

	"pricefeed/internal/exchange"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// LatestPrice is the value stored under latest:<exchange>:<pair>.
type LatestPrice struct {
	Exchange  exchange.ExchangeID `json:"exchange"`
	Pair      string              `json:"pair"`
	Price     float64             `json:"price"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// RedisMirror copies every update into Redis with a TTL so other processes
// can read the latest prices.
type RedisMirror struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

func NewRedisMirror(client *redis.Client, ttl time.Duration) *RedisMirror {
	return &RedisMirror{client: client, ttl: ttl, now: time.Now}
}

// DialRedis connects and pings with a short timeout.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "ping redis %s", addr)
	}
	return client, nil
}

func LatestKey(ex exchange.ExchangeID, pair string) string {
	return fmt.Sprintf("latest:%s:%s", ex, pair)
}

// Run consumes sub until ctx is done. Write failures are logged and skipped.
func (m *RedisMirror) Run(ctx context.Context, sub *Subscription) {
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case update := <-sub.Updates():
			if err := m.store(ctx, update); err != nil {
				log.WithField("pair", update.Pair).Warnf("redis mirror: %v", err)
			}
		}
	}
}

func (m *RedisMirror) store(ctx context.Context, update exchange.PriceUpdate) error {
	body, err := sonic.Marshal(LatestPrice{
		Exchange:  update.Exchange,
		Pair:      update.Pair,
		Price:     update.Price,
		UpdatedAt: m.now().UTC(),
	})
	if err != nil {
		return errors.Wrap(err, "marshal")
	}
	if err := m.client.Set(ctx, LatestKey(update.Exchange, update.Pair), body, m.ttl).Err(); err != nil {
		return errors.Wrap(err, "set")
	}
	return nil
}
