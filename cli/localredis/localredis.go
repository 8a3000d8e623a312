// Package localredis implements the init, cleanup and list commands, which
// manage the local redis containers used as migration destinations.
package localredis

import (
	"flag"
	"strings"

	"github.com/buildbuddy-io/redis-memory-usage/cli/arg"
	"github.com/buildbuddy-io/redis-memory-usage/cli/common"
	"github.com/buildbuddy-io/redis-memory-usage/cli/config"
	"github.com/buildbuddy-io/redis-memory-usage/cli/log"
	"github.com/buildbuddy-io/redis-memory-usage/cli/terminal"
	"github.com/buildbuddy-io/redis-memory-usage/server/ephemeral"
	"github.com/buildbuddy-io/redis-memory-usage/server/util/redisutil"
)

var (
	initFlags = flag.NewFlagSet("init", flag.ContinueOnError)

	image = initFlags.String("image", ephemeral.DefaultImage, "Container image to run.")
	tag   = initFlags.String("tag", ephemeral.DefaultTag, "Image tag to run.")
	port  = initFlags.Int("port", redisutil.DefaultPort, "Host port (on 127.0.0.1) to publish redis on.")

	initUsage = `
usage: rmu init [--image=redis] [--tag=latest] [--port=6379]

Pulls the image and starts a labelled redis container publishing its port on
127.0.0.1. The container is removed again by 'rmu cleanup'.
`

	// Overridden in tests.
	newManager = ephemeral.New
	newPrinter = terminal.NewPrinter
)

func HandleInit(args []string) (int, error) {
	if err := arg.ParseFlagSet(initFlags, args); err != nil {
		if err == flag.ErrHelp {
			log.Print(initUsage)
			return 1, nil
		}
		return -1, err
	}
	if err := config.Current().ApplyDefaults(initFlags); err != nil {
		return -1, err
	}

	m, err := newManager()
	if err != nil {
		return -1, err
	}
	defer m.Close()

	ctx, cancel := common.Context()
	defer cancel()
	inst, err := m.Provision(ctx, ephemeral.Options{Image: *image, Tag: *tag, HostPort: *port})
	if err != nil {
		return -1, err
	}
	p := newPrinter()
	p.Success("Started local redis")
	log.Debugf("Container %s listening on %s", inst.Name, inst.Addr)
	return 0, nil
}

func HandleCleanup(args []string) (int, error) {
	m, err := newManager()
	if err != nil {
		return -1, err
	}
	defer m.Close()

	ctx, cancel := common.Context()
	defer cancel()
	removed, err := m.Teardown(ctx, ephemeral.Label)
	if err != nil {
		return -1, err
	}
	if removed {
		newPrinter().Success("Terminated local redis")
	}
	return 0, nil
}

func HandleList(args []string) (int, error) {
	m, err := newManager()
	if err != nil {
		return -1, err
	}
	defer m.Close()

	ctx, cancel := common.Context()
	defer cancel()
	names, err := m.List(ctx, ephemeral.Label)
	if err != nil {
		return -1, err
	}
	PrintContainers(newPrinter(), names)
	return 0, nil
}

// PrintContainers reports the local containers found, as shown by list and
// check.
func PrintContainers(p *terminal.Printer, names []string) {
	if len(names) == 0 {
		p.Failure("No local containers were found")
		return
	}
	p.Success("Found the following containers: [%s]", strings.Join(names, ", "))
}
