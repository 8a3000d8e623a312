package sync

import (
	"bytes"
	"context"
	"fmt"
	stdlog "log"
	"os"
	"testing"
	"time"

	"github.com/buildbuddy-io/redis-memory-usage/cli/terminal"
	"github.com/buildbuddy-io/redis-memory-usage/server/discovery"
	"github.com/buildbuddy-io/redis-memory-usage/server/endpoint"
	"github.com/buildbuddy-io/redis-memory-usage/server/testutil/mockstore"
	"github.com/buildbuddy-io/redis-memory-usage/server/testutil/testredis"
	"github.com/buildbuddy-io/redis-memory-usage/server/util/progress"
	"github.com/buildbuddy-io/redis-memory-usage/server/util/redisutil"
	"github.com/buildbuddy-io/redis-memory-usage/server/util/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	out := &bytes.Buffer{}
	origPrinter, origProgress := newPrinter, newProgress
	newPrinter = func() *terminal.Printer { return terminal.NewPrinterTo(out, false) }
	newProgress = progress.Discard
	t.Cleanup(func() { newPrinter, newProgress = origPrinter, origProgress })
	return out
}

func TestHandleSync(t *testing.T) {
	target := testredis.Start(t)
	out := captureOutput(t)
	ctx := context.Background()

	rdb := redisutil.NewClient(redisutil.TargetToOptions(target, 0))
	defer rdb.Close()
	for i := 0; i < 30; i++ {
		require.NoError(t, rdb.Set(ctx, fmt.Sprintf("key-%d", i), i, 0).Err())
	}
	require.NoError(t, rdb.Set(ctx, "expiring", "x", time.Hour).Err())

	dstDB := redisutil.NewClient(redisutil.TargetToOptions(target, 1))
	defer dstDB.Close()
	require.NoError(t, dstDB.Set(ctx, "stale", "x", 0).Err())

	code, err := HandleSync([]string{
		"--src=" + target + ":0",
		"--dst=" + target + ":1",
		"--batch_size=7",
		"--flush=true",
	})
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), "Syncing...\n")
	assert.Contains(t, out.String(), "Keyspace 0 is in sync, source redis has 31 keys, destination redis has 31 keys")

	n, err := dstDB.Exists(ctx, "stale").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
	ttl, err := dstDB.TTL(ctx, "expiring").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 50*time.Minute)
	v, err := dstDB.Get(ctx, "key-17").Result()
	require.NoError(t, err)
	assert.Equal(t, "17", v)
}

func TestHandleSyncUnreachableSource(t *testing.T) {
	out := captureOutput(t)
	code, err := HandleSync([]string{"--src=127.0.0.1:1:0", "--dst=127.0.0.1:1:0", "--batch_size=1000", "--flush=true"})
	require.Error(t, err)
	assert.Equal(t, -1, code)
	assert.True(t, status.IsUnavailableError(err), err)
	assert.Contains(t, status.Message(err), "sync of 127.0.0.1:1/0 into 127.0.0.1:1/0")
	assert.NotContains(t, out.String(), "failed")
}

// useStores routes every connection to the in-memory instance registered
// under the endpoint's host:port.
func useStores(t *testing.T, instances map[string]*mockstore.Instance) *[]string {
	opened := &[]string{}
	origDiscovery, origStore := openDiscovery, openStore
	openDiscovery = func(ctx context.Context, ep endpoint.Endpoint) (discovery.KeyspaceReader, error) {
		return instances[ep.Addr()].Handle(ep.Database), nil
	}
	openStore = func(ctx context.Context, ep endpoint.Endpoint) (store, error) {
		*opened = append(*opened, ep.String())
		m, ok := instances[ep.Addr()]
		if !ok {
			return nil, status.UnavailableErrorf("dial %s: connection refused", ep.Addr())
		}
		return m.Handle(ep.Database), nil
	}
	t.Cleanup(func() { openDiscovery, openStore = origDiscovery, origStore })
	return opened
}

func TestHandleSyncRejectedKeyFailsOnlyItsDatabase(t *testing.T) {
	out := captureOutput(t)
	src := mockstore.New()
	dst := mockstore.New()
	src.Set(0, "a", []byte("1"), 0)
	src.Set(0, "b", []byte("2"), 0)
	src.Set(1, "c", []byte("3"), 0)
	dst.Reject(0, "a", mockstore.ReplyError("OOM command not allowed when used memory > 'maxmemory'."))
	useStores(t, map[string]*mockstore.Instance{"src:6379": src, "dst:6379": dst})

	code, err := HandleSync([]string{"--src=src", "--dst=dst", "--batch_size=1000", "--flush=true"})
	require.NoError(t, err)
	assert.Equal(t, 1, code)
	assert.Contains(t, out.String(), "Sync of src:6379/0 into dst:6379/0 failed")
	assert.NotContains(t, out.String(), "Keyspace 0")
	assert.Contains(t, out.String(), "Keyspace 1 is in sync, source redis has 1 keys, destination redis has 1 keys")
	v, _ := dst.Get(1, "c")
	assert.Equal(t, []byte("3"), v)
}

func TestHandleSyncConnectionErrorStopsEverything(t *testing.T) {
	out := captureOutput(t)
	src := mockstore.New()
	src.Set(0, "a", []byte("1"), 0)
	src.Set(1, "b", []byte("2"), 0)
	opened := useStores(t, map[string]*mockstore.Instance{"src:6379": src})

	code, err := HandleSync([]string{"--src=src", "--dst=dst", "--batch_size=1000", "--flush=true"})
	require.Error(t, err)
	assert.Equal(t, -1, code)
	assert.True(t, status.IsUnavailableError(err), err)
	assert.Equal(t, []string{"src:6379/0", "dst:6379/0"}, *opened)
	assert.NotContains(t, out.String(), "Keyspace")
}

func TestHandleSyncInvalidFlags(t *testing.T) {
	captureOutput(t)
	_, err := HandleSync([]string{"--src=host:port:db", "--dst=127.0.0.1", "--batch_size=1000", "--flush=true"})
	assert.True(t, status.IsInvalidArgumentError(err))

	_, err = HandleSync([]string{"--src=host", "--dst=127.0.0.1", "--batch_size=0", "--flush=true"})
	assert.True(t, status.IsInvalidArgumentError(err))
}

func TestHandleSyncHelpDescribesPairing(t *testing.T) {
	var buf bytes.Buffer
	stdlog.SetOutput(&buf)
	t.Cleanup(func() { stdlog.SetOutput(os.Stderr) })

	code, err := HandleSync([]string{"--help"})
	require.NoError(t, err)
	assert.Equal(t, 1, code)
	assert.Contains(t, buf.String(), "even if --src names a database")
	assert.Contains(t, buf.String(), "A connection\nerror stops the whole sync.")
}
