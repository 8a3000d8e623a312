package redisutil

import (
	"sort"
	"strconv"
	"strings"

	"github.com/buildbuddy-io/redis-memory-usage/server/util/status"
)

// DBStats is one line of the "# Keyspace" section of INFO.
type DBStats struct {
	Keys    int64
	Expires int64
	AvgTTL  int64
}

// Keyspace maps a database index to its stats. A database only appears when
// it holds at least one key.
type Keyspace map[int]DBStats

// Databases returns the indices present, ascending.
func (k Keyspace) Databases() []int {
	dbs := make([]int, 0, len(k))
	for db := range k {
		dbs = append(dbs, db)
	}
	sort.Ints(dbs)
	return dbs
}

// Keys returns the key count of db and whether db is present.
func (k Keyspace) Keys(db int) (int64, bool) {
	s, ok := k[db]
	return s.Keys, ok
}

// ParseKeyspace parses the reply of INFO keyspace, e.g.
//
//	# Keyspace
//	db0:keys=1,expires=0,avg_ttl=0
//	db3:keys=12,expires=4,avg_ttl=36000,subexpiry=0
//
// Unknown fields are ignored.
func ParseKeyspace(info string) (Keyspace, error) {
	ks := Keyspace{}
	for _, line := range strings.Split(info, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, fields, ok := strings.Cut(line, ":")
		if !ok || !strings.HasPrefix(name, "db") {
			continue
		}
		db, err := strconv.Atoi(strings.TrimPrefix(name, "db"))
		if err != nil || db < 0 {
			return nil, status.InternalErrorf("malformed keyspace line %q", line)
		}
		var stats DBStats
		for _, field := range strings.Split(fields, ",") {
			k, v, ok := strings.Cut(field, "=")
			if !ok {
				return nil, status.InternalErrorf("malformed keyspace field %q in line %q", field, line)
			}
			var dst *int64
			switch k {
			case "keys":
				dst = &stats.Keys
			case "expires":
				dst = &stats.Expires
			case "avg_ttl":
				dst = &stats.AvgTTL
			default:
				continue
			}
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, status.InternalErrorf("malformed keyspace value %q in line %q", field, line)
			}
			*dst = n
		}
		ks[db] = stats
	}
	return ks, nil
}
