// Package mockstore is an in-memory stand-in for a Redis instance that
// implements the endpoint handle methods used by migration, consistency
// checks and memory reports.
package mockstore

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/buildbuddy-io/redis-memory-usage/server/endpoint"
	"github.com/buildbuddy-io/redis-memory-usage/server/util/redisutil"
	"github.com/go-redis/redis/v8"
)

var dumpPrefix = []byte("DUMP\x00")

// ReplyError is an error reply, indistinguishable from one produced by
// go-redis for the purposes of redisutil.IsReplyError.
type ReplyError string

func (e ReplyError) Error() string { return string(e) }
func (ReplyError) RedisError()     {}

const (
	BusyKeyReply    = ReplyError("BUSYKEY Target key name already exists.")
	BadPayloadReply = ReplyError("ERR DUMP payload version or checksum are wrong")
)

type entry struct {
	value  []byte
	ttl    time.Duration
	memory int64
}

// Instance holds every database of one fake store.
type Instance struct {
	mu  sync.Mutex
	dbs map[int]map[string]*entry
	// Keys listed by SCAN whose DUMP reports them gone.
	vanishing map[int]map[string]struct{}
	rejects   map[int]map[string]error
}

func New() *Instance {
	return &Instance{
		dbs:       map[int]map[string]*entry{},
		vanishing: map[int]map[string]struct{}{},
		rejects:   map[int]map[string]error{},
	}
}

func (m *Instance) db(n int) map[string]*entry {
	d, ok := m.dbs[n]
	if !ok {
		d = map[string]*entry{}
		m.dbs[n] = d
	}
	return d
}

// Set stores key in db. A ttl <= 0 means no expiry. The reported memory usage
// defaults to the value length.
func (m *Instance) Set(db int, key string, value []byte, ttl time.Duration) {
	m.SetWithMemory(db, key, value, ttl, int64(len(value)))
}

// SetWithMemory is Set with an explicit MEMORY USAGE result.
func (m *Instance) SetWithMemory(db int, key string, value []byte, ttl time.Duration, memory int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ttl <= 0 {
		ttl = endpoint.NoExpiration
	}
	m.db(db)[key] = &entry{value: value, ttl: ttl, memory: memory}
}

// Vanish makes DUMP, MEMORY USAGE and TTL treat key as expired while SCAN and
// the keyspace summary still count it, as happens when a key expires in the
// middle of a scan.
func (m *Instance) Vanish(db int, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.vanishing[db] == nil {
		m.vanishing[db] = map[string]struct{}{}
	}
	m.vanishing[db][key] = struct{}{}
}

// Reject makes RESTORE of key into db reply with err.
func (m *Instance) Reject(db int, key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rejects[db] == nil {
		m.rejects[db] = map[string]error{}
	}
	m.rejects[db][key] = err
}

// Get returns the value and TTL of key (endpoint.KeyMissing when absent).
func (m *Instance) Get(db int, key string) ([]byte, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.dbs[db][key]
	if !ok {
		return nil, endpoint.KeyMissing
	}
	return e.value, e.ttl
}

// Len returns the number of keys in db.
func (m *Instance) Len(db int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.dbs[db])
}

// Handle returns a handle bound to one database.
func (m *Instance) Handle(db int) *Handle {
	return &Handle{m: m, db: db}
}

// Handle mirrors *endpoint.Handle.
type Handle struct {
	m      *Instance
	db     int
	Closed bool
	// ScanCalls counts SCAN steps issued through Scan.
	ScanCalls int
}

func (h *Handle) Close() error {
	h.Closed = true
	return nil
}

func (h *Handle) vanished(key string) bool {
	_, ok := h.m.vanishing[h.db][key]
	return ok
}

func (h *Handle) sortedKeys() []string {
	keys := make([]string, 0, len(h.m.dbs[h.db]))
	for k := range h.m.dbs[h.db] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Scan returns keys in lexical order; the cursor is an offset.
func (h *Handle) Scan(ctx context.Context, cursor uint64, count int64) ([]string, uint64, error) {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	h.ScanCalls++
	keys := h.sortedKeys()
	start := int(cursor)
	if start > len(keys) {
		start = len(keys)
	}
	end := start + int(count)
	if count <= 0 || end >= len(keys) {
		return append([]string{}, keys[start:]...), 0, nil
	}
	return append([]string{}, keys[start:end]...), uint64(end), nil
}

func (h *Handle) ScanKeys(ctx context.Context, limit int, fn func(key string) error) error {
	h.m.mu.Lock()
	keys := h.sortedKeys()
	h.m.mu.Unlock()
	for i, k := range keys {
		if limit > 0 && i >= limit {
			return nil
		}
		if err := fn(k); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handle) ReadBatch(ctx context.Context, keys []string) ([]endpoint.KeyRecord, error) {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	records := make([]endpoint.KeyRecord, len(keys))
	for i, k := range keys {
		e, ok := h.m.dbs[h.db][k]
		if !ok || h.vanished(k) {
			records[i] = endpoint.KeyRecord{Key: k, TTL: endpoint.KeyMissing}
			continue
		}
		payload := append(append([]byte{}, dumpPrefix...), e.value...)
		records[i] = endpoint.KeyRecord{Key: k, TTL: e.ttl.Truncate(time.Millisecond), Payload: payload, Present: true}
	}
	return records, nil
}

func (h *Handle) RestoreBatch(ctx context.Context, records []endpoint.KeyRecord) ([]endpoint.RestoreReply, error) {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	replies := make([]endpoint.RestoreReply, len(records))
	for i, r := range records {
		replies[i] = endpoint.RestoreReply{Key: r.Key}
		if err, ok := h.m.rejects[h.db][r.Key]; ok {
			replies[i].Err = err
			continue
		}
		if r.TTL < 0 {
			replies[i].Err = ReplyError("ERR Invalid TTL value, must be >= 0")
			continue
		}
		if !bytes.HasPrefix(r.Payload, dumpPrefix) {
			replies[i].Err = BadPayloadReply
			continue
		}
		ttl := r.TTL
		if ttl == 0 {
			ttl = endpoint.NoExpiration
		}
		value := append([]byte{}, r.Payload[len(dumpPrefix):]...)
		h.m.db(h.db)[r.Key] = &entry{value: value, ttl: ttl, memory: int64(len(value))}
		replies[i].Status = "OK"
	}
	return replies, nil
}

func (h *Handle) MemoryUsage(ctx context.Context, key string) (int64, error) {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	e, ok := h.m.dbs[h.db][key]
	if !ok || h.vanished(key) {
		return 0, redis.Nil
	}
	return e.memory, nil
}

func (h *Handle) TTL(ctx context.Context, key string) (time.Duration, error) {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	e, ok := h.m.dbs[h.db][key]
	if !ok || h.vanished(key) {
		return endpoint.KeyMissing, nil
	}
	if e.ttl < 0 {
		return e.ttl, nil
	}
	return e.ttl.Truncate(time.Second), nil
}

func (h *Handle) Keyspace(ctx context.Context) (redisutil.Keyspace, error) {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	ks := redisutil.Keyspace{}
	for db, keys := range h.m.dbs {
		if len(keys) == 0 {
			continue
		}
		stats := redisutil.DBStats{Keys: int64(len(keys))}
		for _, e := range keys {
			if e.ttl > 0 {
				stats.Expires++
			}
		}
		ks[db] = stats
	}
	return ks, nil
}

func (h *Handle) TotalKeys(ctx context.Context) (int64, error) {
	ks, err := h.Keyspace(ctx)
	if err != nil {
		return 0, err
	}
	n, _ := ks.Keys(h.db)
	return n, nil
}

func (h *Handle) FlushDB(ctx context.Context, sync bool) error {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	delete(h.m.dbs, h.db)
	return nil
}
