// Package arg picks rmu's global options out of a raw argument list before
// the command's own flag set sees it.
package arg

import (
	"flag"
	"io"
	"strings"
)

// Find locates the first "--name=value" or "--name value" occurrence of name.
// It returns the value, the index of the option and the number of arguments
// it spans, or an index of -1 when name is absent.
func Find(args []string, name string) (value string, index int, length int) {
	long := "--" + name
	for i, a := range args {
		if v, ok := strings.CutPrefix(a, long+"="); ok {
			return v, i, 1
		}
		if a == long && i+1 < len(args) {
			return args[i+1], i, 2
		}
	}
	return "", -1, 0
}

// Pop removes the first occurrence of name and returns its value along with
// the remaining arguments. args is not modified.
func Pop(args []string, name string) (string, []string) {
	value, i, n := Find(args, name)
	if i < 0 {
		return "", args
	}
	rest := make([]string, 0, len(args)-n)
	rest = append(rest, args[:i]...)
	rest = append(rest, args[i+n:]...)
	return value, rest
}

// Command returns the first argument that is not an option, and its index.
// The index is -1 when there is none.
func Command(args []string) (string, int) {
	for i, a := range args {
		if !strings.HasPrefix(a, "-") {
			return a, i
		}
	}
	return "", -1
}

// ParseFlagSet parses args into fs like fs.Parse, but flags may also follow
// positional arguments, e.g. "rmu help --all sync".
func ParseFlagSet(fs *flag.FlagSet, args []string) error {
	fs.SetOutput(io.Discard)
	var positional []string
	for len(args) > 0 {
		if err := fs.Parse(args); err != nil {
			return err
		}
		args = fs.Args()
		if len(args) == 0 {
			break
		}
		// fs stopped at a positional argument; set it aside and keep going.
		positional = append(positional, args[0])
		args = args[1:]
	}
	return fs.Parse(positional)
}
