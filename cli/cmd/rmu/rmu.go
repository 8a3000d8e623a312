package main

import (
	"os"

	"github.com/buildbuddy-io/redis-memory-usage/cli/arg"
	"github.com/buildbuddy-io/redis-memory-usage/cli/cli_command"
	"github.com/buildbuddy-io/redis-memory-usage/cli/common"
	"github.com/buildbuddy-io/redis-memory-usage/cli/config"
	"github.com/buildbuddy-io/redis-memory-usage/cli/help"
	"github.com/buildbuddy-io/redis-memory-usage/cli/log"
	"github.com/buildbuddy-io/redis-memory-usage/server/metrics"
	"github.com/buildbuddy-io/redis-memory-usage/server/util/status"

	register_cli_commands "github.com/buildbuddy-io/redis-memory-usage/cli/cli_command/register"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	args = log.Configure(args)
	configPath, args := arg.Pop(args, "config")
	metricsPath, args := arg.Pop(args, "metrics_textfile")

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Printf("Error: %s", err)
		return 1
	}
	config.SetCurrent(cfg)
	register_cli_commands.Register()

	exitCode, err := dispatch(args)
	if metricsPath != "" {
		if werr := metrics.WriteTextfile(metricsPath); werr != nil {
			log.Printf("Failed to write metrics to %s: %s", metricsPath, werr)
		}
	}
	if err != nil {
		log.Printf("Error: %s", status.Message(err))
		if exitCode <= 0 {
			exitCode = common.ExitCode(err)
		}
	}
	return exitCode
}

func dispatch(args []string) (int, error) {
	name, idx := arg.Command(args)
	if name == "" || name == "help" {
		return help.HandleHelp(args)
	}
	c := cli_command.GetCommand(name)
	if c == nil {
		log.Printf("Unknown command %q, run 'rmu help' for a list of commands.", name)
		return 1, nil
	}
	cmdArgs := append(append([]string{}, args[:idx]...), args[idx+1:]...)
	log.Debugf("Running %s %v", c.Name, cmdArgs)
	return c.Handler(cmdArgs)
}
