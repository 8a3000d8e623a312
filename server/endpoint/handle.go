package endpoint

import (
	"context"
	"time"

	"github.com/buildbuddy-io/redis-memory-usage/server/util/log"
	"github.com/buildbuddy-io/redis-memory-usage/server/util/redisutil"
	"github.com/buildbuddy-io/redis-memory-usage/server/util/status"
	"github.com/go-redis/redis/v8"
)

const (
	// NoExpiration is the TTL reported for keys without an expiry.
	NoExpiration = time.Duration(-1)
	// KeyMissing is the TTL reported for keys that do not exist.
	KeyMissing = time.Duration(-2)
)

// KeyRecord is one key read from a source during migration. Payload is the
// DUMP serialization; Present is false when the key vanished before DUMP ran.
type KeyRecord struct {
	Key     string
	TTL     time.Duration
	Payload []byte
	Present bool
}

// RestoreReply is the raw reply to one RESTORE command. Status holds the
// simple-string reply ("OK") and Err any error reply.
type RestoreReply struct {
	Key    string
	Status string
	Err    error
}

// Handle wraps a client bound to a single database. It is not safe for
// concurrent use.
type Handle struct {
	ep  Endpoint
	rdb *redis.Client
}

// Open connects to ep and verifies it answers PING.
func Open(ctx context.Context, ep Endpoint) (*Handle, error) {
	rdb := redisutil.NewClient(redisutil.TargetToOptions(ep.Addr(), ep.Database))
	hc := redisutil.HealthChecker{Rdb: rdb}
	if err := hc.Check(ctx); err != nil {
		rdb.Close()
		return nil, status.WrapErrorf(err, "connect to %s", ep)
	}
	log.Debugf("Connected to %s", ep)
	return &Handle{ep: ep, rdb: rdb}, nil
}

// NewHandle wraps an existing client. The client must already be bound to
// ep.Database.
func NewHandle(ep Endpoint, rdb *redis.Client) *Handle {
	return &Handle{ep: ep, rdb: rdb}
}

func (h *Handle) Endpoint() Endpoint {
	return h.ep
}

func (h *Handle) Close() error {
	return h.rdb.Close()
}

func (h *Handle) wrapErr(err error, op string) error {
	if err == nil {
		return nil
	}
	if redisutil.IsReplyError(err) {
		return status.InternalErrorf("%s on %s: %w", op, h.ep, err)
	}
	return status.UnavailableErrorf("%s on %s: %w", op, h.ep, err)
}

// Scan performs one SCAN step, returning the keys of this step and the cursor
// to resume from. A returned cursor of 0 ends the iteration.
func (h *Handle) Scan(ctx context.Context, cursor uint64, count int64) ([]string, uint64, error) {
	keys, next, err := h.rdb.Scan(ctx, cursor, "", count).Result()
	if err != nil {
		return nil, 0, h.wrapErr(err, "SCAN")
	}
	return keys, next, nil
}

// ScanKeys calls fn for every key in the database. When limit > 0, iteration
// stops after limit keys. Keys may be visited more than once, per the SCAN
// contract.
func (h *Handle) ScanKeys(ctx context.Context, limit int, fn func(key string) error) error {
	iter := h.rdb.Scan(ctx, 0, "", 0).Iterator()
	n := 0
	for iter.Next(ctx) {
		if limit > 0 && n >= limit {
			return nil
		}
		n++
		if err := fn(iter.Val()); err != nil {
			return err
		}
	}
	return h.wrapErr(iter.Err(), "SCAN")
}

// ReadBatch pipelines PTTL and DUMP for every key and pairs the replies with
// their keys by position. Keys whose DUMP returns nil come back with
// Present set to false.
func (h *Handle) ReadBatch(ctx context.Context, keys []string) ([]KeyRecord, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	pipe := h.rdb.Pipeline()
	ttls := make([]*redis.DurationCmd, len(keys))
	dumps := make([]*redis.StringCmd, len(keys))
	for i, k := range keys {
		ttls[i] = pipe.PTTL(ctx, k)
		dumps[i] = pipe.Dump(ctx, k)
	}
	if _, err := pipe.Exec(ctx); err != nil && !redisutil.IsNil(err) && !redisutil.IsReplyError(err) {
		return nil, h.wrapErr(err, "PTTL/DUMP pipeline")
	}

	records := make([]KeyRecord, len(keys))
	for i, k := range keys {
		ttl, err := ttls[i].Result()
		if err != nil {
			return nil, h.wrapErr(err, "PTTL "+k)
		}
		payload, err := dumps[i].Bytes()
		if redisutil.IsNil(err) {
			records[i] = KeyRecord{Key: k, TTL: ttl}
			continue
		}
		if err != nil {
			return nil, h.wrapErr(err, "DUMP "+k)
		}
		records[i] = KeyRecord{Key: k, TTL: ttl, Payload: payload, Present: true}
	}
	return records, nil
}

// RestoreBatch pipelines RESTORE ... REPLACE for every record and returns the
// raw replies in record order. Per-key error replies are returned in the
// replies; only a failure of the pipeline itself is returned as an error.
// Record TTLs must already be non-negative.
func (h *Handle) RestoreBatch(ctx context.Context, records []KeyRecord) ([]RestoreReply, error) {
	if len(records) == 0 {
		return nil, nil
	}
	pipe := h.rdb.Pipeline()
	cmds := make([]*redis.StatusCmd, len(records))
	for i, r := range records {
		cmds[i] = pipe.RestoreReplace(ctx, r.Key, r.TTL, string(r.Payload))
	}
	if _, err := pipe.Exec(ctx); err != nil && !redisutil.IsReplyError(err) {
		return nil, h.wrapErr(err, "RESTORE pipeline")
	}
	replies := make([]RestoreReply, len(records))
	for i, c := range cmds {
		replies[i] = RestoreReply{Key: records[i].Key, Status: c.Val(), Err: c.Err()}
	}
	return replies, nil
}

// MemoryUsage returns the bytes the key and its value take in RAM. The error
// satisfies redisutil.IsNil when the key no longer exists.
func (h *Handle) MemoryUsage(ctx context.Context, key string) (int64, error) {
	n, err := h.rdb.MemoryUsage(ctx, key).Result()
	if redisutil.IsNil(err) {
		return 0, err
	}
	if err != nil {
		return 0, h.wrapErr(err, "MEMORY USAGE "+key)
	}
	return n, nil
}

// TTL returns the remaining time to live with second precision, or one of
// NoExpiration and KeyMissing.
func (h *Handle) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := h.rdb.TTL(ctx, key).Result()
	if err != nil {
		return 0, h.wrapErr(err, "TTL "+key)
	}
	return ttl, nil
}

// Keyspace returns the parsed INFO keyspace section. It describes every
// database of the instance, not only the one this handle is bound to.
func (h *Handle) Keyspace(ctx context.Context) (redisutil.Keyspace, error) {
	info, err := h.rdb.Info(ctx, "keyspace").Result()
	if err != nil {
		return nil, h.wrapErr(err, "INFO keyspace")
	}
	return redisutil.ParseKeyspace(info)
}

// TotalKeys returns the key count of this handle's database, 0 if the
// database holds no keys.
func (h *Handle) TotalKeys(ctx context.Context) (int64, error) {
	ks, err := h.Keyspace(ctx)
	if err != nil {
		return 0, err
	}
	n, _ := ks.Keys(h.ep.Database)
	return n, nil
}

// FlushDB deletes every key of this handle's database. With sync set the
// call returns once the keys are gone.
func (h *Handle) FlushDB(ctx context.Context, sync bool) error {
	var err error
	if sync {
		err = h.rdb.FlushDB(ctx).Err()
	} else {
		err = h.rdb.FlushDBAsync(ctx).Err()
	}
	return h.wrapErr(err, "FLUSHDB")
}
