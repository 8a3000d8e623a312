package check

import (
	"bytes"
	"context"
	stdlog "log"
	"os"
	"testing"

	"github.com/buildbuddy-io/redis-memory-usage/cli/terminal"
	"github.com/buildbuddy-io/redis-memory-usage/server/consistency"
	"github.com/buildbuddy-io/redis-memory-usage/server/testutil/testredis"
	"github.com/buildbuddy-io/redis-memory-usage/server/util/redisutil"
	"github.com/buildbuddy-io/redis-memory-usage/server/util/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T, containers []string, listErr error) *bytes.Buffer {
	out := &bytes.Buffer{}
	origPrinter, origList := newPrinter, listLocal
	newPrinter = func() *terminal.Printer { return terminal.NewPrinterTo(out, false) }
	listLocal = func(ctx context.Context) ([]string, error) { return containers, listErr }
	t.Cleanup(func() { newPrinter, listLocal = origPrinter, origList })
	return out
}

func TestHandleCheck(t *testing.T) {
	target := testredis.Start(t)
	out := setup(t, []string{"rmu-redis-1"}, nil)
	ctx := context.Background()

	src := redisutil.NewClient(redisutil.TargetToOptions(target, 0))
	defer src.Close()
	require.NoError(t, src.Set(ctx, "a", "1", 0).Err())
	require.NoError(t, src.Set(ctx, "b", "2", 0).Err())

	code, err := HandleCheck([]string{"--src=" + target + ":0", "--dst=" + target + ":1"})
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, "Found the following containers: [rmu-redis-1]\n"+
		"Keyspace 0 does not exist in destination redis\n", out.String())
	out.Reset()

	dst := redisutil.NewClient(redisutil.TargetToOptions(target, 1))
	defer dst.Close()
	require.NoError(t, dst.Set(ctx, "a", "1", 0).Err())

	code, err = HandleCheck([]string{"--src=" + target + ":0", "--dst=" + target + ":1"})
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), "Keyspace 0 is not in sync, source redis has 2 keys, destination redis has 1 keys\n")
}

func TestHandleCheckWithoutDocker(t *testing.T) {
	target := testredis.Start(t)
	out := setup(t, nil, status.FailedPreconditionError("docker is not available"))

	code, err := HandleCheck([]string{"--src=" + target + ":3", "--dst=" + target + ":3"})
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, "Keyspace 3 does not exist in destination redis\n", out.String())
}

func TestHandleCheckRequiresSource(t *testing.T) {
	setup(t, nil, nil)
	code, err := HandleCheck([]string{"--src=", "--dst=127.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, 1, code)
}

func TestPrint(t *testing.T) {
	var buf bytes.Buffer
	p := terminal.NewPrinterTo(&buf, true)
	Print(p, &consistency.Result{Status: consistency.InSync, SrcKeys: 1, DstKeys: 1})
	Print(p, &consistency.Result{Status: consistency.OutOfSync, SrcKeys: 2, DstKeys: 1})
	assert.Equal(t,
		"\x1b[32mKeyspace 0 is in sync, source redis has 1 keys, destination redis has 1 keys\x1b[0m\n"+
			"\x1b[31mKeyspace 0 is not in sync, source redis has 2 keys, destination redis has 1 keys\x1b[0m\n",
		buf.String())
}

func TestHandleCheckHelpDescribesPairing(t *testing.T) {
	var buf bytes.Buffer
	stdlog.SetOutput(&buf)
	t.Cleanup(func() { stdlog.SetOutput(os.Stderr) })

	code, err := HandleCheck([]string{"--help"})
	require.NoError(t, err)
	assert.Equal(t, 1, code)
	assert.Contains(t, buf.String(), "even if --src names a database")
	assert.Contains(t, buf.String(), "whether or not such a container exists")
}
