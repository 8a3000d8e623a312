// Package memreport walks every key of one or more databases and reports the
// largest ones along with keyspace-wide totals.
package memreport

import (
	"context"
	"fmt"
	"time"

	"github.com/buildbuddy-io/redis-memory-usage/server/endpoint"
	"github.com/buildbuddy-io/redis-memory-usage/server/metrics"
	"github.com/buildbuddy-io/redis-memory-usage/server/util/log"
	"github.com/buildbuddy-io/redis-memory-usage/server/util/progress"
	"github.com/buildbuddy-io/redis-memory-usage/server/util/redisutil"
	"github.com/buildbuddy-io/redis-memory-usage/server/util/status"
	"github.com/prometheus/client_golang/prometheus"
)

// KeyInspector is the subset of *endpoint.Handle the report needs.
type KeyInspector interface {
	TotalKeys(ctx context.Context) (int64, error)
	ScanKeys(ctx context.Context, limit int, fn func(key string) error) error
	MemoryUsage(ctx context.Context, key string) (int64, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
}

type Totals struct {
	TotalKeys        int64
	TotalMemoryBytes int64
	KeysWithoutTTL   int64
}

// Reporter accumulates a report across any number of Scan calls.
type Reporter struct {
	sample *Sample
	totals Totals
}

func NewReporter() *Reporter {
	return NewReporterWithCapacity(DefaultCapacity)
}

func NewReporterWithCapacity(capacity int) *Reporter {
	return &Reporter{sample: NewSample(capacity)}
}

// Scan inspects every key of db through h. When limit > 0 only the first
// limit keys returned by SCAN are inspected. Keys that disappear between SCAN
// and MEMORY USAGE are skipped.
func (r *Reporter) Scan(ctx context.Context, h KeyInspector, db int, limit int, p progress.Reporter) error {
	label := fmt.Sprintf("db%d", db)
	bar := progress.OrDiscard(p)
	total, err := h.TotalKeys(ctx)
	if err != nil {
		return status.WrapErrorf(err, "count keys of %s", label)
	}
	if limit > 0 && int64(limit) < total {
		total = int64(limit)
	}
	bar.Start(label, total)
	defer bar.Finish()

	keysCounter := metrics.ReportKeys.With(prometheus.Labels{metrics.DatabaseLabel: label})
	bytesCounter := metrics.ReportBytes.With(prometheus.Labels{metrics.DatabaseLabel: label})
	skipped := 0
	err = h.ScanKeys(ctx, limit, func(key string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		mem, err := h.MemoryUsage(ctx, key)
		if redisutil.IsNil(err) {
			skipped++
			bar.Add(1)
			return nil
		}
		if err != nil {
			return err
		}
		ttl, err := h.TTL(ctx, key)
		if err != nil {
			return err
		}

		r.totals.TotalKeys++
		r.totals.TotalMemoryBytes += mem
		if ttl == endpoint.NoExpiration {
			r.totals.KeysWithoutTTL++
		}
		keysCounter.Inc()
		bytesCounter.Add(float64(mem))
		r.sample.Insert(TopKeyEntry{Database: db, Key: key, TTL: ttl, MemoryBytes: mem})
		bar.Add(1)
		return nil
	})
	if skipped > 0 {
		log.Debugf("Skipped %d keys of %s that expired during the scan", skipped, label)
	}
	if err != nil {
		return status.WrapErrorf(err, "scan %s", label)
	}
	return nil
}

// Result returns the largest keys seen, largest first, and the totals.
func (r *Reporter) Result() ([]TopKeyEntry, Totals) {
	return r.sample.Entries(), r.totals
}
