package memreport_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/buildbuddy-io/redis-memory-usage/server/endpoint"
	"github.com/buildbuddy-io/redis-memory-usage/server/memreport"
	"github.com/buildbuddy-io/redis-memory-usage/server/metrics"
	"github.com/buildbuddy-io/redis-memory-usage/server/testutil/mockstore"
	"github.com/buildbuddy-io/redis-memory-usage/server/testutil/testmetrics"
	"github.com/buildbuddy-io/redis-memory-usage/server/testutil/testredis"
	"github.com/buildbuddy-io/redis-memory-usage/server/util/redisutil"
	"github.com/buildbuddy-io/redis-memory-usage/server/util/status"
	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingProgress struct {
	total int64
	done  int64
}

func (p *countingProgress) Start(label string, total int64) { p.total = total }
func (p *countingProgress) Add(n int64)                     { p.done += n }
func (p *countingProgress) Finish()                         {}

func TestReportTopTen(t *testing.T) {
	m := mockstore.New()
	for i := 1; i <= 15; i++ {
		m.SetWithMemory(0, fmt.Sprintf("k%02d", i), []byte("v"), 0, int64(i))
	}

	r := memreport.NewReporter()
	p := &countingProgress{}
	require.NoError(t, r.Scan(context.Background(), m.Handle(0), 0, 0, p))

	entries, totals := r.Result()
	var want []memreport.TopKeyEntry
	for i := 15; i >= 6; i-- {
		want = append(want, memreport.TopKeyEntry{
			Database:    0,
			Key:         fmt.Sprintf("k%02d", i),
			TTL:         endpoint.NoExpiration,
			MemoryBytes: int64(i),
		})
	}
	if diff := cmp.Diff(want, entries); diff != "" {
		t.Errorf("unexpected entries (-want +got):\n%s", diff)
	}
	assert.Equal(t, memreport.Totals{TotalKeys: 15, TotalMemoryBytes: 120, KeysWithoutTTL: 15}, totals)
	assert.Equal(t, int64(15), p.total)
	assert.Equal(t, int64(15), p.done)
}

func TestReportCountsKeysWithoutTTL(t *testing.T) {
	m := mockstore.New()
	m.SetWithMemory(0, "forever", []byte("x"), 0, 10)
	m.SetWithMemory(0, "soon", []byte("x"), 90*time.Second+400*time.Millisecond, 20)

	r := memreport.NewReporter()
	require.NoError(t, r.Scan(context.Background(), m.Handle(0), 0, 0, nil))
	entries, totals := r.Result()
	assert.Equal(t, int64(1), totals.KeysWithoutTTL)
	require.Len(t, entries, 2)
	assert.Equal(t, "soon", entries[0].Key)
	assert.Equal(t, 90*time.Second, entries[0].TTL)
	assert.Equal(t, endpoint.NoExpiration, entries[1].TTL)
}

func TestReportAggregatesDatabases(t *testing.T) {
	m := mockstore.New()
	m.SetWithMemory(0, "a", []byte("x"), 0, 100)
	m.SetWithMemory(0, "b", []byte("x"), 0, 5)
	m.SetWithMemory(2, "c", []byte("x"), time.Hour, 50)

	r := memreport.NewReporterWithCapacity(2)
	ctx := context.Background()
	require.NoError(t, r.Scan(ctx, m.Handle(0), 0, 0, nil))
	require.NoError(t, r.Scan(ctx, m.Handle(2), 2, 0, nil))

	entries, totals := r.Result()
	assert.Equal(t, memreport.Totals{TotalKeys: 3, TotalMemoryBytes: 155, KeysWithoutTTL: 2}, totals)
	require.Len(t, entries, 2)
	assert.Equal(t, memreport.TopKeyEntry{Database: 0, Key: "a", TTL: endpoint.NoExpiration, MemoryBytes: 100}, entries[0])
	assert.Equal(t, memreport.TopKeyEntry{Database: 2, Key: "c", TTL: time.Hour, MemoryBytes: 50}, entries[1])
}

func TestReportLimit(t *testing.T) {
	m := mockstore.New()
	for i := 0; i < 20; i++ {
		m.Set(1, fmt.Sprintf("k%02d", i), []byte("abc"), 0)
	}
	r := memreport.NewReporter()
	p := &countingProgress{}
	require.NoError(t, r.Scan(context.Background(), m.Handle(1), 1, 4, p))
	_, totals := r.Result()
	assert.Equal(t, int64(4), totals.TotalKeys)
	assert.Equal(t, int64(12), totals.TotalMemoryBytes)
	assert.Equal(t, int64(4), p.total)
}

func TestReportSkipsVanishedKeys(t *testing.T) {
	m := mockstore.New()
	m.SetWithMemory(0, "a", []byte("x"), 0, 7)
	m.SetWithMemory(0, "gone", []byte("x"), 0, 1000)
	m.Vanish(0, "gone")

	r := memreport.NewReporter()
	p := &countingProgress{}
	require.NoError(t, r.Scan(context.Background(), m.Handle(0), 0, 0, p))
	entries, totals := r.Result()
	assert.Equal(t, memreport.Totals{TotalKeys: 1, TotalMemoryBytes: 7, KeysWithoutTTL: 1}, totals)
	assert.Equal(t, []string{"a"}, keysOf(entries))
	assert.Equal(t, int64(2), p.done)
}

func TestReportEmptyDatabase(t *testing.T) {
	r := memreport.NewReporter()
	require.NoError(t, r.Scan(context.Background(), mockstore.New().Handle(0), 0, 0, nil))
	entries, totals := r.Result()
	assert.Empty(t, entries)
	assert.Equal(t, memreport.Totals{}, totals)
}

type brokenInspector struct {
	*mockstore.Handle
}

func (brokenInspector) MemoryUsage(ctx context.Context, key string) (int64, error) {
	return 0, status.UnavailableError("connection reset")
}

func TestReportPropagatesErrors(t *testing.T) {
	m := mockstore.New()
	m.Set(0, "a", []byte("x"), 0)
	r := memreport.NewReporter()
	err := r.Scan(context.Background(), brokenInspector{m.Handle(0)}, 0, 0, nil)
	require.Error(t, err)
	assert.True(t, status.IsUnavailableError(err))
}

func TestReportRecordsMetrics(t *testing.T) {
	metrics.ReportKeys.Reset()
	metrics.ReportBytes.Reset()
	m := mockstore.New()
	m.SetWithMemory(6, "a", []byte("x"), 0, 30)
	m.SetWithMemory(6, "b", []byte("x"), 0, 12)

	r := memreport.NewReporter()
	require.NoError(t, r.Scan(context.Background(), m.Handle(6), 6, 0, nil))
	labels := prometheus.Labels{metrics.DatabaseLabel: "db6"}
	assert.Equal(t, 2.0, testmetrics.CounterVecValue(t, metrics.ReportKeys, labels))
	assert.Equal(t, 42.0, testmetrics.CounterVecValue(t, metrics.ReportBytes, labels))
}

func TestReportAgainstRedis(t *testing.T) {
	target := testredis.Start(t)
	ctx := context.Background()
	addr, err := endpoint.ParseAddress(target)
	require.NoError(t, err)
	h, err := endpoint.Open(ctx, addr.Endpoint(0))
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })

	rdb := redisutil.NewClient(redisutil.TargetToOptions(target, 0))
	defer rdb.Close()
	for i := 1; i <= 15; i++ {
		require.NoError(t, rdb.Set(ctx, fmt.Sprintf("key-%02d", i), strings.Repeat("x", i*100), 0).Err())
	}

	r := memreport.NewReporter()
	require.NoError(t, r.Scan(ctx, h, 0, 0, nil))
	entries, totals := r.Result()
	assert.Equal(t, int64(15), totals.TotalKeys)
	assert.Equal(t, int64(15), totals.KeysWithoutTTL)
	require.Len(t, entries, memreport.DefaultCapacity)
	assert.Equal(t, "key-15", entries[0].Key)
	for i := 1; i < len(entries); i++ {
		assert.GreaterOrEqual(t, entries[i-1].MemoryBytes, entries[i].MemoryBytes)
	}
}
