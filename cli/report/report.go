package report

import (
	"context"
	"flag"

	"github.com/buildbuddy-io/redis-memory-usage/cli/arg"
	"github.com/buildbuddy-io/redis-memory-usage/cli/common"
	"github.com/buildbuddy-io/redis-memory-usage/cli/config"
	"github.com/buildbuddy-io/redis-memory-usage/cli/log"
	"github.com/buildbuddy-io/redis-memory-usage/cli/progress"
	"github.com/buildbuddy-io/redis-memory-usage/cli/terminal"
	"github.com/buildbuddy-io/redis-memory-usage/server/discovery"
	"github.com/buildbuddy-io/redis-memory-usage/server/endpoint"
	"github.com/buildbuddy-io/redis-memory-usage/server/memreport"
	"github.com/buildbuddy-io/redis-memory-usage/server/util/status"
	"github.com/docker/go-units"

	progressapi "github.com/buildbuddy-io/redis-memory-usage/server/util/progress"
)

var (
	flags = flag.NewFlagSet("report", flag.ContinueOnError)

	dst   = flags.String("dst", common.DefaultDst, "Redis address to report on, host[:port[:db]].")
	limit = flags.Int("limit", 0, "Only inspect the first N keys of each database (0 = all).")

	usage = `
usage: rmu report [--dst=127.0.0.1:6379] [--limit=0]

Walks every key of every non-empty database (or only the database named in
--dst) and prints the 10 largest keys by MEMORY USAGE along with the total
key count, total memory and number of keys without a TTL.
`

	// Overridden in tests.
	newPrinter  = terminal.NewPrinter
	newProgress = func() progressapi.Reporter { return progress.New() }
)

func HandleReport(args []string) (int, error) {
	if err := arg.ParseFlagSet(flags, args); err != nil {
		if err == flag.ErrHelp {
			log.Print(usage)
			return 1, nil
		}
		return -1, err
	}
	if err := config.Current().ApplyDefaults(flags); err != nil {
		return -1, err
	}
	addr, err := common.ParseAddressFlag("dst", *dst)
	if err != nil {
		return -1, err
	}
	if *limit < 0 {
		return -1, status.InvalidArgumentErrorf("--limit must not be negative, got %d", *limit)
	}

	ctx, cancel := common.Context()
	defer cancel()
	dbs, err := discovery.Resolve(ctx, discovery.OpenHandle, addr)
	if err != nil {
		return -1, err
	}

	p := newPrinter()
	p.Plain("Scanning...")
	r := memreport.NewReporter()
	for _, db := range dbs {
		if err := scanOne(ctx, r, addr.Endpoint(db)); err != nil {
			return -1, err
		}
	}
	Print(p, r)
	return 0, nil
}

func scanOne(ctx context.Context, r *memreport.Reporter, ep endpoint.Endpoint) error {
	h, err := endpoint.Open(ctx, ep)
	if err != nil {
		return err
	}
	defer h.Close()
	return r.Scan(ctx, h, ep.Database, *limit, newProgress())
}

// HumanSize renders a byte count with decimal units, e.g. "1.5MB".
func HumanSize(n int64) string {
	return units.HumanSize(float64(n))
}

// Print writes the top keys and the totals.
func Print(p *terminal.Printer, r *memreport.Reporter) {
	entries, totals := r.Result()
	p.Success("Top keys:")
	for _, e := range entries {
		p.Plain("%d %s %s", e.Database, e.Key, p.Red(HumanSize(e.MemoryBytes)))
	}
	p.Success("Total keys: %d, total memory: %s, keys without ttl: %d",
		totals.TotalKeys, HumanSize(totals.TotalMemoryBytes), totals.KeysWithoutTTL)
}
