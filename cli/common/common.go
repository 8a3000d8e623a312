// Package common holds plumbing shared by the rmu commands.
package common

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/buildbuddy-io/redis-memory-usage/server/discovery"
	"github.com/buildbuddy-io/redis-memory-usage/server/endpoint"
	"github.com/buildbuddy-io/redis-memory-usage/server/util/status"
)

// DefaultDst is the default destination: the local instance started by init.
const DefaultDst = "127.0.0.1:6379"

// cliVersion is stamped at link time with
// -ldflags "-X github.com/buildbuddy-io/redis-memory-usage/cli/common.cliVersion=v1.2.3".
var cliVersion = ""

func Version() string {
	if cliVersion == "" {
		return "unknown"
	}
	return cliVersion
}

// Context returns a context canceled on SIGINT or SIGTERM.
func Context() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// ParseAddressFlag parses the value of an address flag, naming the flag in
// the error.
func ParseAddressFlag(name, value string) (endpoint.Address, error) {
	if value == "" {
		return endpoint.Address{}, status.InvalidArgumentErrorf("--%s must be set", name)
	}
	addr, err := endpoint.ParseAddress(value)
	if err != nil {
		return endpoint.Address{}, status.WrapErrorf(err, "--%s", name)
	}
	return addr, nil
}

// Pair is one source database and the destination database it maps to.
type Pair struct {
	Src endpoint.Endpoint
	Dst endpoint.Endpoint
}

// Pairs resolves the databases to operate on and pairs them up. When both
// addresses name a database those two databases are paired, otherwise every
// discovered database of src is paired with the same index on dst.
func Pairs(ctx context.Context, open discovery.OpenFunc, src, dst endpoint.Address) ([]Pair, error) {
	dbs, err := discovery.Resolve(ctx, open, src, dst)
	if err != nil {
		return nil, err
	}
	if src.HasDB() && dst.HasDB() {
		return []Pair{{Src: src.Endpoint(src.DB), Dst: dst.Endpoint(dst.DB)}}, nil
	}
	pairs := make([]Pair, 0, len(dbs))
	for _, db := range dbs {
		pairs = append(pairs, Pair{Src: src.Endpoint(db), Dst: dst.Endpoint(db)})
	}
	return pairs, nil
}

// ExitCode maps a command error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if status.IsInvalidArgumentError(err) {
		return 2
	}
	return 1
}
