package register

import (
	"sync"

	"github.com/buildbuddy-io/redis-memory-usage/cli/check"
	"github.com/buildbuddy-io/redis-memory-usage/cli/cli_command"
	"github.com/buildbuddy-io/redis-memory-usage/cli/localredis"
	"github.com/buildbuddy-io/redis-memory-usage/cli/report"
	"github.com/buildbuddy-io/redis-memory-usage/cli/version"

	synccmd "github.com/buildbuddy-io/redis-memory-usage/cli/sync"
)

// Register registers all known cli commands in the structures laid out in
// cli/cli_command. It is meant to be called immediately on CLI startup.
//
// This indirection prevents dependency cycles from occurring when, for
// example, the help command needs to list every other command.
var Register = sync.OnceFunc(register)

func register() {
	cli_command.Commands = []*cli_command.Command{
		{
			Name:    "init",
			Help:    "Starts a local redis container to migrate into.",
			Handler: localredis.HandleInit,
		},
		{
			Name:    "cleanup",
			Help:    "Kills and removes the local redis containers started by init.",
			Handler: localredis.HandleCleanup,
		},
		{
			Name:    "list",
			Help:    "Lists the local redis containers started by init.",
			Handler: localredis.HandleList,
			Aliases: []string{"ls"},
		},
		{
			Name:    "check",
			Help:    "Compares the key counts of source and destination databases.",
			Handler: check.HandleCheck,
		},
		{
			Name:    "sync",
			Help:    "Copies every key of the source into the destination.",
			Handler: synccmd.HandleSync,
			Aliases: []string{"migrate"},
		},
		{
			Name:    "report",
			Help:    "Lists the largest keys and the total memory usage.",
			Handler: report.HandleReport,
		},
		{
			Name:    "version",
			Help:    "Prints the rmu version.",
			Handler: version.HandleVersion,
		},
		// 'help' is handled by the entrypoint to avoid a dependency cycle
		// with this package.
	}
}
