package log

import (
	"log"

	"github.com/buildbuddy-io/redis-memory-usage/cli/arg"
	"github.com/buildbuddy-io/redis-memory-usage/server/util/status"

	serverlog "github.com/buildbuddy-io/redis-memory-usage/server/util/log"
)

var verbose bool

// Configure consumes --verbose (also --verbose=1, --verbose=true or -v) from
// args and returns the remaining args. Verbose mode enables debug output from
// both the CLI and the server packages, and error stack traces.
func Configure(args []string) []string {
	verbose = false
	rest := make([]string, 0, len(args))
	for _, a := range args {
		if a == "--verbose" || a == "-v" {
			verbose = true
			continue
		}
		rest = append(rest, a)
	}
	if v, remaining := arg.Pop(rest, "verbose"); v != "" {
		verbose = verbose || v == "1" || v == "true"
		rest = remaining
	}
	log.SetFlags(0)
	if verbose {
		serverlog.Configure("debug")
		status.LogErrorStackTraces = true
	}
	return rest
}

func Verbose() bool {
	return verbose
}

func Debug(v ...any) {
	if !verbose {
		return
	}
	log.Print(v...)
}

func Debugf(format string, v ...interface{}) {
	if !verbose {
		return
	}
	log.Printf(format, v...)
}

func Print(v ...any) {
	log.Print(v...)
}

func Printf(format string, v ...interface{}) {
	log.Printf(format, v...)
}

func Fatalf(format string, v ...interface{}) {
	log.Fatalf(format, v...)
}

func Fatal(v ...any) {
	log.Fatal(v...)
}
