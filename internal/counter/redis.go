package counter

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fruitsalade/projectfiles/internal/logging"
	"github.com/fruitsalade/projectfiles/pkg/models"
)

const (
	// KeyDownloadCounts is a HASH per collection: node id -> count.
	KeyDownloadCounts = "dc"
	KeySeparator      = ":"
)

// Redis keeps counts in one hash per collection so increments are atomic
// across server instances.
type Redis struct {
	cl *redis.Client
}

var _ Counter = (*Redis)(nil)

// RedisConfig holds connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	cl := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := cl.Ping(ctx).Err(); err != nil {
		cl.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	logging.Info("download counters in redis", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB))
	return &Redis{cl: cl}, nil
}

func (r *Redis) Increment(ctx context.Context, c models.Collection, id string) (int64, error) {
	n, err := r.cl.HIncrBy(ctx, getKey(KeyDownloadCounts, c.Key()), id, 1).Result()
	if err != nil {
		return 0, fmt.Errorf("cannot increment %s counter: %w", id, err)
	}
	return n, nil
}

func (r *Redis) Counts(ctx context.Context, c models.Collection, ids []string) (map[string]int64, error) {
	out := make(map[string]int64)
	if len(ids) == 0 {
		return out, nil
	}
	vals, err := r.cl.HMGet(ctx, getKey(KeyDownloadCounts, c.Key()), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("cannot get counters: %w", err)
	}
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			logging.Warn("cannot parse counter",
				zap.String("node_id", ids[i]),
				zap.String("value", s))
			continue
		}
		out[ids[i]] = n
	}
	return out, nil
}

func (r *Redis) Forget(ctx context.Context, c models.Collection, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := r.cl.HDel(ctx, getKey(KeyDownloadCounts, c.Key()), ids...).Err(); err != nil {
		return fmt.Errorf("cannot delete counters: %w", err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.cl.Close()
}

func getKey(keys ...string) string {
	return strings.Join(keys, KeySeparator)
}
