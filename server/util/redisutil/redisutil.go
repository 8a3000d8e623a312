package redisutil

import (
	"context"
	"errors"
	"strings"

	"github.com/buildbuddy-io/redis-memory-usage/server/util/log"
	"github.com/buildbuddy-io/redis-memory-usage/server/util/status"
	"github.com/go-redis/redis/extra/redisotel/v8"
	"github.com/go-redis/redis/v8"
)

const (
	// DefaultPort is the port a bare host address resolves to.
	DefaultPort = 6379

	busyKeyPrefix = "BUSYKEY"
)

func isRedisURI(redisTarget string) bool {
	return strings.HasPrefix(redisTarget, "redis://") ||
		strings.HasPrefix(redisTarget, "rediss://") ||
		strings.HasPrefix(redisTarget, "unix://")
}

// TargetToOptions turns either a "host:port" address or a redis:// URI into
// client options pointing at the given database. A database encoded in a URI
// is overridden by db.
func TargetToOptions(redisTarget string, db int) *redis.Options {
	if !isRedisURI(redisTarget) {
		return &redis.Options{
			Addr: redisTarget,
			DB:   db,
		}
	}
	opt, err := redis.ParseURL(redisTarget)
	if err != nil {
		log.Warningf("Could not parse redis URI %q: %s", redisTarget, err)
		log.Warning(
			"The supported redis URI formats are:\n" +
				"redis[s]://[[USER][:PASSWORD]@][HOST][:PORT]" +
				"[/DATABASE]\nor:\nunix://[[USER][:PASSWORD]@]" +
				"SOCKET_PATH[?db=DATABASE]")
		return &redis.Options{Addr: redisTarget, DB: db}
	}
	opt.DB = db
	return opt
}

// NewClient returns a traced client. The client does not connect until the
// first command is issued; use HealthChecker to fail fast.
func NewClient(opts *redis.Options) *redis.Client {
	redisClient := redis.NewClient(opts)
	redisClient.AddHook(redisotel.NewTracingHook())
	return redisClient
}

type HealthChecker struct {
	Rdb redis.UniversalClient
}

// Check pings the store, reporting failures as Unavailable.
func (c *HealthChecker) Check(ctx context.Context) error {
	if err := c.Rdb.Ping(ctx).Err(); err != nil {
		return status.UnavailableErrorf("redis unreachable: %w", err)
	}
	return nil
}

// IsBusyKeyError returns whether err is the store's "target key name already
// exists" reply to RESTORE.
func IsBusyKeyError(err error) bool {
	if err == nil {
		return false
	}
	var redisErr redis.Error
	if errors.As(err, &redisErr) {
		return strings.HasPrefix(redisErr.Error(), busyKeyPrefix)
	}
	return strings.HasPrefix(err.Error(), busyKeyPrefix)
}

// IsNil returns whether err signals an absent value.
func IsNil(err error) bool {
	return errors.Is(err, redis.Nil)
}

// IsReplyError distinguishes per-command error replies from the store (which
// leave the connection usable) from network or protocol failures.
func IsReplyError(err error) bool {
	if err == nil || IsNil(err) {
		return false
	}
	var redisErr redis.Error
	return errors.As(err, &redisErr)
}
