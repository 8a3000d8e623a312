package check

import (
	"context"
	"flag"

	"github.com/buildbuddy-io/redis-memory-usage/cli/arg"
	"github.com/buildbuddy-io/redis-memory-usage/cli/common"
	"github.com/buildbuddy-io/redis-memory-usage/cli/config"
	"github.com/buildbuddy-io/redis-memory-usage/cli/localredis"
	"github.com/buildbuddy-io/redis-memory-usage/cli/log"
	"github.com/buildbuddy-io/redis-memory-usage/cli/terminal"
	"github.com/buildbuddy-io/redis-memory-usage/server/consistency"
	"github.com/buildbuddy-io/redis-memory-usage/server/discovery"
	"github.com/buildbuddy-io/redis-memory-usage/server/endpoint"
	"github.com/buildbuddy-io/redis-memory-usage/server/ephemeral"
)

var (
	flags = flag.NewFlagSet("check", flag.ContinueOnError)

	src = flags.String("src", "", "Source redis address, host[:port[:db]].")
	dst = flags.String("dst", common.DefaultDst, "Destination redis address, host[:port[:db]].")

	usage = `
usage: rmu check --src=host[:port[:db]] [--dst=127.0.0.1:6379]

Compares the number of keys of every source database with the same database
on the destination. Only when both addresses name a database is that single
pair checked. Otherwise, even if --src names a database, every non-empty
source database is checked against the same index on --dst.

Local containers started by 'rmu init' are listed first for information.
The check runs against --dst whether or not such a container exists.
`

	// Overridden in tests.
	newPrinter = terminal.NewPrinter
	listLocal  = listLocalContainers
)

func listLocalContainers(ctx context.Context) ([]string, error) {
	m, err := ephemeral.New()
	if err != nil {
		return nil, err
	}
	defer m.Close()
	return m.List(ctx, ephemeral.Label)
}

func HandleCheck(args []string) (int, error) {
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

	ctx, cancel := common.Context()
	defer cancel()
	p := newPrinter()

	// Local containers are informational only; the destination may be any
	// reachable instance.
	if names, err := listLocal(ctx); err != nil {
		log.Debugf("Not listing local containers: %s", err)
	} else {
		localredis.PrintContainers(p, names)
	}

	pairs, err := common.Pairs(ctx, discovery.OpenHandle, srcAddr, dstAddr)
	if err != nil {
		return -1, err
	}
	for _, pair := range pairs {
		r, err := Run(ctx, pair)
		if err != nil {
			return -1, err
		}
		Print(p, r)
	}
	return 0, nil
}

// Run checks one pair of databases.
func Run(ctx context.Context, pair common.Pair) (*consistency.Result, error) {
	srcH, err := endpoint.Open(ctx, pair.Src)
	if err != nil {
		return nil, err
	}
	defer srcH.Close()
	dstH, err := endpoint.Open(ctx, pair.Dst)
	if err != nil {
		return nil, err
	}
	defer dstH.Close()
	return consistency.Check(ctx, srcH, dstH, pair.Src.Database, pair.Dst.Database)
}

// Print writes r in green when in sync, red otherwise.
func Print(p *terminal.Printer, r *consistency.Result) {
	if r.OK() {
		p.Success("%s", r)
		return
	}
	p.Failure("%s", r)
}
