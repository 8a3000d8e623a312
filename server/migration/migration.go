// Package migration copies every key of one database to another using
// DUMP/RESTORE, batch by batch, without holding the keyspace in memory.
//
// Each batch is one SCAN step followed by two pipelines: PTTL+DUMP against the
// source, then RESTORE ... REPLACE against the destination. Replies are paired
// with keys by position, so both collaborators must preserve request order.
package migration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/buildbuddy-io/redis-memory-usage/server/endpoint"
	"github.com/buildbuddy-io/redis-memory-usage/server/metrics"
	"github.com/buildbuddy-io/redis-memory-usage/server/util/log"
	"github.com/buildbuddy-io/redis-memory-usage/server/util/progress"
	"github.com/buildbuddy-io/redis-memory-usage/server/util/redisutil"
	"github.com/buildbuddy-io/redis-memory-usage/server/util/status"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc/codes"
)

const (
	// DefaultBatchSize is the SCAN COUNT hint used per batch.
	DefaultBatchSize = 1000

	okReply = "OK"
)

// Source is the read side of a migration.
type Source interface {
	TotalKeys(ctx context.Context) (int64, error)
	Scan(ctx context.Context, cursor uint64, count int64) ([]string, uint64, error)
	ReadBatch(ctx context.Context, keys []string) ([]endpoint.KeyRecord, error)
}

// Destination is the write side of a migration.
type Destination interface {
	RestoreBatch(ctx context.Context, records []endpoint.KeyRecord) ([]endpoint.RestoreReply, error)
}

type Outcome int

const (
	Applied Outcome = iota
	SkippedMissing
	SkippedExisting
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case SkippedMissing:
		return "skipped_missing"
	case SkippedExisting:
		return "skipped_existing"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Error is returned when the destination rejects a key for a reason other
// than the key already existing. Reply is the raw reply.
type Error struct {
	Key   string
	Reply string
}

func (e *Error) Error() string {
	return fmt.Sprintf("migration failed on key %q: %s", e.Key, e.Reply)
}

// IsMigrationError returns whether err (or anything it wraps) is an *Error.
func IsMigrationError(err error) bool {
	var migrationErr *Error
	return errors.As(err, &migrationErr)
}

type Options struct {
	// BatchSize is the SCAN COUNT hint; DefaultBatchSize when <= 0.
	BatchSize int
	// Label names the database in logs, metrics and progress, e.g. "db0".
	Label string
	// Progress is advanced by BatchSize per batch. May be nil.
	Progress progress.Reporter
}

// Stats describes a finished (or aborted) migration.
type Stats struct {
	Scanned         int64
	Applied         int64
	SkippedMissing  int64
	SkippedExisting int64
	Batches         int64
	Duration        time.Duration
}

func (s *Stats) record(o Outcome) {
	switch o {
	case Applied:
		s.Applied++
	case SkippedMissing:
		s.SkippedMissing++
	case SkippedExisting:
		s.SkippedExisting++
	}
}

// ClampTTL maps the store's negative PTTL sentinels (no expiry, key gone) to
// 0, which RESTORE reads as "no expiry".
func ClampTTL(ttl time.Duration) time.Duration {
	if ttl > 0 {
		return ttl
	}
	return 0
}

// Classify maps one RESTORE reply to an outcome. "OK" and BUSYKEY are both
// successes; BUSYKEY can only show up when a concurrent writer races the
// REPLACE.
func Classify(r endpoint.RestoreReply) Outcome {
	if r.Err == nil {
		if r.Status == okReply {
			return Applied
		}
		return Failed
	}
	if redisutil.IsBusyKeyError(r.Err) {
		return SkippedExisting
	}
	return Failed
}

func rawReply(r endpoint.RestoreReply) string {
	if r.Err != nil {
		return strings.TrimSpace(r.Err.Error())
	}
	return fmt.Sprintf("%q", r.Status)
}

// Migrate copies every key of src into dst, overwriting keys that already
// exist. When the destination rejects a key, the rest of that batch is still
// counted and Migrate returns an Aborted status wrapping an *Error for the
// first rejected key; no later batch is read. Keys restored before that stay
// restored. Keys that vanish between SCAN and DUMP are skipped.
func Migrate(ctx context.Context, src Source, dst Destination, opts *Options) (*Stats, error) {
	if opts == nil {
		opts = &Options{}
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	label := opts.Label
	bar := progress.OrDiscard(opts.Progress)
	start := time.Now()
	stats := &Stats{}

	total, err := src.TotalKeys(ctx)
	if err != nil {
		return stats, status.WrapError(err, "count source keys")
	}
	bar.Start(label, total)
	defer bar.Finish()
	defer func() {
		stats.Duration = time.Since(start)
		metrics.MigrationDurationUsec.With(prometheus.Labels{
			metrics.DatabaseLabel: label,
		}).Observe(float64(stats.Duration.Microseconds()))
	}()

	cursor := uint64(0)
	for {
		if err := ctx.Err(); err != nil {
			return stats, status.WrapError(err, "migration interrupted")
		}
		keys, next, err := src.Scan(ctx, cursor, int64(batchSize))
		if err != nil {
			return stats, err
		}
		if err := copyBatch(ctx, src, dst, keys, label, stats); err != nil {
			return stats, err
		}
		stats.Batches++
		metrics.MigrationBatches.With(prometheus.Labels{metrics.DatabaseLabel: label}).Inc()
		bar.Add(int64(batchSize))

		cursor = next
		if cursor == 0 {
			break
		}
	}
	log.CtxDebugf(ctx, "Migrated %s: %d scanned, %d applied, %d missing, %d existing in %d batches",
		label, stats.Scanned, stats.Applied, stats.SkippedMissing, stats.SkippedExisting, stats.Batches)
	return stats, nil
}

func copyBatch(ctx context.Context, src Source, dst Destination, keys []string, label string, stats *Stats) error {
	stats.Scanned += int64(len(keys))
	if len(keys) == 0 {
		return nil
	}
	records, err := src.ReadBatch(ctx, keys)
	if err != nil {
		return err
	}
	if len(records) != len(keys) {
		return status.InternalErrorf("read %d records for %d keys", len(records), len(keys))
	}

	present := make([]endpoint.KeyRecord, 0, len(records))
	for _, r := range records {
		if !r.Present {
			stats.record(SkippedMissing)
			countOutcome(label, SkippedMissing)
			continue
		}
		r.TTL = ClampTTL(r.TTL)
		present = append(present, r)
	}
	if len(present) == 0 {
		return nil
	}

	replies, err := dst.RestoreBatch(ctx, present)
	if err != nil {
		return err
	}
	if len(replies) != len(present) {
		return status.InternalErrorf("got %d replies for %d RESTORE commands", len(replies), len(present))
	}
	// The pipeline has already run in full, so every reply is accounted for
	// before the first rejection is reported.
	var firstErr error
	for i, reply := range replies {
		o := Classify(reply)
		countOutcome(label, o)
		if o == Failed {
			if firstErr == nil {
				firstErr = status.WrapWithCode(&Error{Key: present[i].Key, Reply: rawReply(reply)}, codes.Aborted)
			}
			continue
		}
		stats.record(o)
	}
	return firstErr
}

func countOutcome(label string, o Outcome) {
	metrics.MigrationKeys.With(prometheus.Labels{
		metrics.DatabaseLabel:         label,
		metrics.MigrationOutcomeLabel: o.String(),
	}).Inc()
}
