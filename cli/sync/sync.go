package sync

import (
	"context"
	"flag"
	"time"

	"github.com/buildbuddy-io/redis-memory-usage/cli/arg"
	"github.com/buildbuddy-io/redis-memory-usage/cli/check"
	"github.com/buildbuddy-io/redis-memory-usage/cli/common"
	"github.com/buildbuddy-io/redis-memory-usage/cli/config"
	"github.com/buildbuddy-io/redis-memory-usage/cli/log"
	"github.com/buildbuddy-io/redis-memory-usage/cli/progress"
	"github.com/buildbuddy-io/redis-memory-usage/cli/terminal"
	"github.com/buildbuddy-io/redis-memory-usage/server/consistency"
	"github.com/buildbuddy-io/redis-memory-usage/server/discovery"
	"github.com/buildbuddy-io/redis-memory-usage/server/endpoint"
	"github.com/buildbuddy-io/redis-memory-usage/server/migration"
	"github.com/buildbuddy-io/redis-memory-usage/server/util/status"

	serverlog "github.com/buildbuddy-io/redis-memory-usage/server/util/log"
	progressapi "github.com/buildbuddy-io/redis-memory-usage/server/util/progress"
)

var (
	flags = flag.NewFlagSet("sync", flag.ContinueOnError)

	src       = flags.String("src", "", "Source redis address, host[:port[:db]].")
	dst       = flags.String("dst", common.DefaultDst, "Destination redis address, host[:port[:db]].")
	batchSize = flags.Int("batch_size", migration.DefaultBatchSize, "Keys per SCAN batch and per pipeline.")
	flush     = flags.Bool("flush", true, "Flush every destination database before copying into it.")

	usage = `
usage: rmu sync --src=host[:port[:db]] [--dst=127.0.0.1:6379] [--batch_size=1000] [--flush=true]

Copies every key of the source into the destination with DUMP/RESTORE,
keeping TTLs and overwriting existing keys, then compares key counts.
Only when both addresses name a database is that single pair copied.
Otherwise, even if --src names a database, every non-empty source database
is flushed and copied into the database with the same index on --dst.

A key rejected by the destination fails only its own database. A connection
error stops the whole sync.
`

	// Overridden in tests.
	newPrinter    = terminal.NewPrinter
	newProgress   = func() progressapi.Reporter { return progress.New() }
	openDiscovery = discovery.OpenHandle
	openStore     = func(ctx context.Context, ep endpoint.Endpoint) (store, error) {
		h, err := endpoint.Open(ctx, ep)
		if err != nil {
			return nil, err
		}
		return h, nil
	}
)

// store is one side of a database pair.
type store interface {
	migration.Source
	migration.Destination
	consistency.Counter
	FlushDB(ctx context.Context, wait bool) error
	Close() error
}

func HandleSync(args []string) (int, error) {
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
	if *src == "" {
		log.Print(usage)
		return 1, nil
	}
	srcAddr, err := common.ParseAddressFlag("src", *src)
	if err != nil {
		return -1, err
	}
	dstAddr, err := common.ParseAddressFlag("dst", *dst)
	if err != nil {
		return -1, err
	}
	if *batchSize <= 0 {
		return -1, status.InvalidArgumentErrorf("--batch_size must be positive, got %d", *batchSize)
	}

	ctx, cancel := common.Context()
	defer cancel()
	pairs, err := common.Pairs(ctx, openDiscovery, srcAddr, dstAddr)
	if err != nil {
		return -1, err
	}

	p := newPrinter()
	p.Plain("Syncing...")
	failed := 0
	for _, pair := range pairs {
		err := syncOne(ctx, p, pair)
		if err == nil {
			continue
		}
		if !migration.IsMigrationError(err) {
			return -1, status.WrapErrorf(err, "sync of %s into %s", pair.Src, pair.Dst)
		}
		failed++
		p.Failure("Sync of %s into %s failed: %s", pair.Src, pair.Dst, status.Message(err))
	}
	if failed > 0 {
		return 1, nil
	}
	return 0, nil
}

func syncOne(ctx context.Context, p *terminal.Printer, pair common.Pair) error {
	ctx = serverlog.WithDatabase(ctx, pair.Src.Label())
	srcH, err := openStore(ctx, pair.Src)
	if err != nil {
		return err
	}
	defer srcH.Close()
	dstH, err := openStore(ctx, pair.Dst)
	if err != nil {
		return err
	}
	defer dstH.Close()

	if *flush {
		if err := dstH.FlushDB(ctx, true); err != nil {
			return err
		}
	}

	start := time.Now()
	stats, err := migration.Migrate(ctx, srcH, dstH, &migration.Options{
		BatchSize: *batchSize,
		Label:     pair.Src.Label(),
		Progress:  newProgress(),
	})
	serverlog.LogOperation(ctx, "Migrate", pair.Src.String(), time.Since(start), err)
	if err != nil {
		return err
	}
	log.Debugf("%s: %d keys applied, %d vanished, %d already present", pair.Src.Label(), stats.Applied, stats.SkippedMissing, stats.SkippedExisting)

	r, err := consistency.Check(ctx, srcH, dstH, pair.Src.Database, pair.Dst.Database)
	if err != nil {
		return err
	}
	check.Print(p, r)
	return nil
}
