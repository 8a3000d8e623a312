// Package consistency compares the key counts of a source and destination
// database after a migration.
package consistency

import (
	"context"
	"fmt"

	"github.com/buildbuddy-io/redis-memory-usage/server/metrics"
	"github.com/buildbuddy-io/redis-memory-usage/server/util/redisutil"
	"github.com/buildbuddy-io/redis-memory-usage/server/util/status"
	"github.com/prometheus/client_golang/prometheus"
)

// Counter reads the keyspace summary of a store.
type Counter interface {
	Keyspace(ctx context.Context) (redisutil.Keyspace, error)
}

type Status int

const (
	InSync Status = iota
	OutOfSync
	// MissingKeyspace means the destination has no entry for the database.
	MissingKeyspace
)

func (s Status) String() string {
	switch s {
	case InSync:
		return "in_sync"
	case OutOfSync:
		return "out_of_sync"
	case MissingKeyspace:
		return "missing_keyspace"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

type Result struct {
	// Database is the source database index the result is reported under.
	Database int
	Status   Status
	SrcKeys  int64
	DstKeys  int64
}

// OK returns true for InSync.
func (r *Result) OK() bool {
	return r.Status == InSync
}

func (r *Result) String() string {
	switch r.Status {
	case MissingKeyspace:
		return fmt.Sprintf("Keyspace %d does not exist in destination redis", r.Database)
	case InSync:
		return fmt.Sprintf("Keyspace %d is in sync, source redis has %d keys, destination redis has %d keys", r.Database, r.SrcKeys, r.DstKeys)
	default:
		return fmt.Sprintf("Keyspace %d is not in sync, source redis has %d keys, destination redis has %d keys", r.Database, r.SrcKeys, r.DstKeys)
	}
}

// Check compares the number of keys in srcDB of src with dstDB of dst. A
// source database absent from its keyspace summary counts as empty.
func Check(ctx context.Context, src, dst Counter, srcDB, dstDB int) (*Result, error) {
	srcKS, err := src.Keyspace(ctx)
	if err != nil {
		return nil, status.WrapError(err, "read source keyspace")
	}
	dstKS, err := dst.Keyspace(ctx)
	if err != nil {
		return nil, status.WrapError(err, "read destination keyspace")
	}

	r := &Result{Database: srcDB}
	r.SrcKeys, _ = srcKS.Keys(srcDB)
	dstKeys, ok := dstKS.Keys(dstDB)
	switch {
	case !ok:
		r.Status = MissingKeyspace
	case dstKeys == r.SrcKeys:
		r.DstKeys = dstKeys
		r.Status = InSync
	default:
		r.DstKeys = dstKeys
		r.Status = OutOfSync
	}
	metrics.ConsistencyChecks.With(prometheus.Labels{
		metrics.DatabaseLabel:   fmt.Sprintf("db%d", srcDB),
		metrics.SyncStatusLabel: r.Status.String(),
	}).Inc()
	return r, nil
}
