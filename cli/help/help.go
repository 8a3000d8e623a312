package help

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/buildbuddy-io/redis-memory-usage/cli/cli_command"
	"github.com/buildbuddy-io/redis-memory-usage/cli/common"
)

const (
	cliName = "rmu"
)

// HandleHelp Valid cases to trigger help:
// * rmu (no additional command passed)
// * rmu help
// * rmu help `command name`
// * rmu --help / -h
func HandleHelp(args []string) (exitCode int, err error) {
	return printHelp(os.Stdout, args)
}

func printHelp(w io.Writer, args []string) (int, error) {
	for _, a := range args {
		if strings.HasPrefix(a, "-") || a == "help" {
			continue
		}
		c := cli_command.GetCommand(a)
		if c == nil {
			fmt.Fprintf(w, "Unknown command %q.\n\n", a)
			printUsage(w)
			return 1, nil
		}
		fmt.Fprintf(w, "Usage: %s %s [flags]\n\n%s\nRun '%s %s --help' to list its flags.\n", cliName, c.Name, c.Help, cliName, c.Name)
		return 0, nil
	}
	printUsage(w)
	return 0, nil
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, "%s %s: migrates redis databases and reports their memory usage.\n\n", cliName, common.Version())
	fmt.Fprintf(w, "Usage: %s [--verbose] [--config=PATH] [--metrics_textfile=PATH] <command> [flags]\n\n", cliName)
	fmt.Fprintln(w, "Commands:")
	for _, c := range cli_command.Commands {
		fmt.Fprintf(w, "  %-10s %s\n", c.Name, c.Help)
	}
	fmt.Fprintf(w, "  %-10s %s\n", "help", "Prints help for a command.")
}
