package sequence

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"propdesk-affiliate/pkg/rediskey"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

var Module = fx.Module("sequence",
	fx.Provide(New),
)

// Generator issues human-readable reference numbers for payout requests.
type Generator interface {
	NextPayoutReference(ctx context.Context, category string) (string, error)
}

type RedisGenerator struct {
	rdb *redis.Client
	now func() time.Time
}

type Params struct {
	fx.In

	Redis *redis.Client `optional:"true"`
}

func New(p Params) Generator {
	if p.Redis == nil {
		return NewLocal()
	}
	return NewRedisGenerator(p.Redis)
}

func NewRedisGenerator(rdb *redis.Client) *RedisGenerator {
	return &RedisGenerator{
		rdb: rdb,
		now: time.Now,
	}
}

func prefixFor(category string) string {
	if category == "trading" {
		return "PT"
	}
	return "PO"
}

func (g *RedisGenerator) NextPayoutReference(ctx context.Context, category string) (string, error) {
	return g.nextDailyCode(ctx, prefixFor(category))
}

func (g *RedisGenerator) nextDailyCode(ctx context.Context, prefix string) (string, error) {
	now := g.now().UTC()
	today := now.Format("060102")
	key := rediskey.SequenceKey(prefix, today)

	seq, err := g.rdb.Incr(ctx, key).Result()
	if err != nil {
		return "", err
	}

	if seq == 1 {
		endOfDay := now.Truncate(24 * time.Hour).Add(24 * time.Hour)
		_ = g.rdb.ExpireAt(ctx, key, endOfDay.Add(time.Hour)).Err()
	}

	return format(prefix, today, seq), nil
}

func format(prefix, day string, seq int64) string {
	encodedSeq := strings.ToUpper(strconv.FormatInt(seq, 36))
	if n := 4 - len(encodedSeq); n > 0 {
		encodedSeq = strings.Repeat("0", n) + encodedSeq
	}
	randSuffix, _ := randomAlphaNumeric(2)
	return fmt.Sprintf("%s-%s-%s%s", prefix, day, encodedSeq, randSuffix)
}

// LocalGenerator keeps daily counters in memory. Numbers restart with the
// process, so it only suits a single instance without redis.
type LocalGenerator struct {
	mu       sync.Mutex
	counters map[string]int64
	now      func() time.Time
}

func NewLocal() *LocalGenerator {
	return &LocalGenerator{counters: map[string]int64{}, now: time.Now}
}

func (g *LocalGenerator) NextPayoutReference(_ context.Context, category string) (string, error) {
	prefix := prefixFor(category)
	today := g.now().UTC().Format("060102")
	key := rediskey.SequenceKey(prefix, today)

	g.mu.Lock()
	g.counters[key]++
	seq := g.counters[key]
	g.mu.Unlock()

	return format(prefix, today, seq), nil
}

func randomAlphaNumeric(n int) (string, error) {
	const chars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	b := make([]byte, n)
	for i := range b {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
		if err != nil {
			return "", err
		}
		b[i] = chars[num.Int64()]
	}
	return string(b), nil
}
