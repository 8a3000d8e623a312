package testredis

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/buildbuddy-io/redis-memory-usage/server/util/log"
	"github.com/buildbuddy-io/redis-memory-usage/server/util/redisutil"
	"github.com/buildbuddy-io/redis-memory-usage/server/util/retry"
	"github.com/stretchr/testify/require"
)

const (
	redisServerBinary = "redis-server"

	startupTimeout      = 10 * time.Second
	startupPingInterval = 5 * time.Millisecond
	startupMaxBackoff   = 200 * time.Millisecond
)

// Start spawns a Redis server for the given test and returns its "host:port"
// target. The test is skipped when no redis-server binary is on $PATH.
func Start(t testing.TB) string {
	redisBinPath, err := exec.LookPath(redisServerBinary)
	if err != nil {
		t.Skipf("%s not found on $PATH", redisServerBinary)
		return ""
	}

	redisPort := freePort(t)

	ctx, cancel := context.WithCancel(context.Background())
	args := []string{"--port", strconv.Itoa(redisPort)}
	// Disable persistence, not useful for testing.
	args = append(args, "--save", "", "--appendonly", "no")
	// Set a precautionary limit, tests should not reach it...
	args = append(args, "--maxmemory", "1gb")
	// ... but do break things if we reach the limit.
	args = append(args, "--maxmemory-policy", "noeviction")
	cmd := exec.CommandContext(ctx, redisBinPath, args...)
	log.Printf("Starting redis server: %s", cmd)
	cmd.Stdout = &logWriter{}
	cmd.Stderr = &logWriter{}
	err = cmd.Start()
	require.NoError(t, err, "redis binary could not be started")
	var killed atomic.Bool
	go func() {
		if err := cmd.Wait(); err != nil && !killed.Load() {
			log.Warningf("redis server did not exit cleanly: %v", err)
		}
	}()
	t.Cleanup(func() {
		log.Info("Shutting down Redis server.")
		killed.Store(true)
		cancel()
	})
	target := fmt.Sprintf("localhost:%d", redisPort)
	waitUntilHealthy(t, target)
	return target
}

func freePort(t testing.TB) int {
	lis, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err)
	defer lis.Close()
	return lis.Addr().(*net.TCPAddr).Port
}

func waitUntilHealthy(t testing.TB, target string) {
	r := redisutil.NewClient(redisutil.TargetToOptions(target, 0))
	defer r.Close()
	hc := redisutil.HealthChecker{Rdb: r}
	err := retry.DoVoid(context.Background(), &retry.Options{
		InitialBackoff:        startupPingInterval,
		MaxBackoff:            startupMaxBackoff,
		Multiplier:            2,
		MaxElapsed:            startupTimeout,
		DontLogFailedAttempts: true,
	}, hc.Check)
	if err != nil {
		require.FailNowf(t, "Failed to connect to redis", "Health check still failing after %s: %s", startupTimeout, err)
	}
}

type logWriter struct{}

func (w *logWriter) Write(b []byte) (int, error) {
	lines := strings.Split(string(b), "\n")
	for _, line := range lines {
		if line == "" {
			continue
		}
		log.Debugf("[redis server] %s", line)
	}
	return len(b), nil
}
