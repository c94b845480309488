package lock

import (
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/tally/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func Provide(cfg config.Config, log *zap.Logger) Locker {
	addr := cfg.RedisAddr
	if addr == "" {
		return NewKeyedMutex()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.RedisPassword,
	})
	log.Info("using redis locker", zap.String("addr", addr))
	return NewRedisLocker(client, 30*time.Second)
}

var Module = fx.Module("lock",
	fx.Provide(Provide),
)
