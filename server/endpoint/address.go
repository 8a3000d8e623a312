package endpoint

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/buildbuddy-io/redis-memory-usage/server/util/redisutil"
	"github.com/buildbuddy-io/redis-memory-usage/server/util/status"
)

// UnspecifiedDB marks an address whose database should be discovered.
const UnspecifiedDB = -1

// Address is a parsed "host[:port[:db]]" string.
type Address struct {
	Host string
	Port int
	DB   int
}

// ParseAddress parses host[:port[:db]]. The port defaults to 6379 and the
// database to UnspecifiedDB.
func ParseAddress(s string) (Address, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) > 3 {
		return Address{}, status.InvalidArgumentErrorf("invalid address %q: expected host[:port[:db]]", s)
	}
	addr := Address{Host: parts[0], Port: redisutil.DefaultPort, DB: UnspecifiedDB}
	if addr.Host == "" {
		return Address{}, status.InvalidArgumentErrorf("invalid address %q: missing host", s)
	}
	if len(parts) >= 2 && parts[1] != "" {
		port, err := strconv.Atoi(parts[1])
		if err != nil || port <= 0 || port > 65535 {
			return Address{}, status.InvalidArgumentErrorf("invalid address %q: bad port %q", s, parts[1])
		}
		addr.Port = port
	}
	if len(parts) == 3 && parts[2] != "" {
		db, err := strconv.Atoi(parts[2])
		if err != nil || db < 0 {
			return Address{}, status.InvalidArgumentErrorf("invalid address %q: bad database %q", s, parts[2])
		}
		addr.DB = db
	}
	return addr, nil
}

// HasDB reports whether the address names an explicit database.
func (a Address) HasDB() bool {
	return a.DB != UnspecifiedDB
}

// Endpoint returns the endpoint for database db on this address's instance.
func (a Address) Endpoint(db int) Endpoint {
	return Endpoint{Host: a.Host, Port: a.Port, Database: db}
}

func (a Address) String() string {
	if !a.HasDB() {
		return fmt.Sprintf("%s:%d", a.Host, a.Port)
	}
	return fmt.Sprintf("%s:%d:%d", a.Host, a.Port, a.DB)
}

// Endpoint identifies one database of one store instance.
type Endpoint struct {
	Host     string
	Port     int
	Database int
}

// Addr returns the dialable host:port.
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s/%d", e.Addr(), e.Database)
}

// Label is the short name used in progress bars and log lines.
func (e Endpoint) Label() string {
	return fmt.Sprintf("db%d", e.Database)
}
