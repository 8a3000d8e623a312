// Package discovery decides which databases of an instance an operation runs
// against.
package discovery

import (
	"context"

	"github.com/buildbuddy-io/redis-memory-usage/server/endpoint"
	"github.com/buildbuddy-io/redis-memory-usage/server/util/log"
	"github.com/buildbuddy-io/redis-memory-usage/server/util/redisutil"
	"github.com/buildbuddy-io/redis-memory-usage/server/util/status"
)

// KeyspaceReader is the part of an endpoint handle discovery needs.
type KeyspaceReader interface {
	Keyspace(ctx context.Context) (redisutil.Keyspace, error)
	Close() error
}

// OpenFunc connects to a single database.
type OpenFunc func(ctx context.Context, ep endpoint.Endpoint) (KeyspaceReader, error)

// OpenHandle is the OpenFunc backed by a real connection.
func OpenHandle(ctx context.Context, ep endpoint.Endpoint) (KeyspaceReader, error) {
	h, err := endpoint.Open(ctx, ep)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Resolve returns the database indices to operate on. When every address
// names a database, the first address's database is returned without
// contacting the store. Otherwise database 0 of the first address is asked
// for its keyspace summary and every non-empty database is returned in
// ascending order. An empty summary yields an empty, non-nil slice.
func Resolve(ctx context.Context, open OpenFunc, addrs ...endpoint.Address) ([]int, error) {
	if len(addrs) == 0 {
		return nil, status.InvalidArgumentError("no address to resolve databases for")
	}
	explicit := true
	for _, a := range addrs {
		if !a.HasDB() {
			explicit = false
			break
		}
	}
	if explicit {
		return []int{addrs[0].DB}, nil
	}

	ep := addrs[0].Endpoint(0)
	h, err := open(ctx, ep)
	if err != nil {
		return nil, err
	}
	defer h.Close()
	ks, err := h.Keyspace(ctx)
	if err != nil {
		return nil, status.WrapErrorf(err, "discover databases on %s", ep.Addr())
	}
	dbs := ks.Databases()
	log.Debugf("Discovered databases %v on %s", dbs, ep.Addr())
	return dbs, nil
}
