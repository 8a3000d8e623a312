package version

import (
	"fmt"

	"github.com/buildbuddy-io/redis-memory-usage/cli/common"
)

// HandleVersion prints the version stamped into the binary at link time.
func HandleVersion(args []string) (exitCode int, err error) {
	fmt.Printf("rmu %s\n", common.Version())
	return 0, nil
}
