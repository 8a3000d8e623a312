package memreport

import (
	"sort"
	"time"
)

// DefaultCapacity is the number of keys listed by the report.
const DefaultCapacity = 10

// TopKeyEntry is one key ranked by the report. TTL has second precision;
// endpoint.NoExpiration marks keys without an expiry.
type TopKeyEntry struct {
	Database    int
	Key         string
	TTL         time.Duration
	MemoryBytes int64
}

// Sample keeps the largest keys seen so far, sorted by MemoryBytes
// descending. Keys of equal size keep their arrival order.
type Sample struct {
	capacity int
	entries  []TopKeyEntry
}

func NewSample(capacity int) *Sample {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Sample{
		capacity: capacity,
		entries:  make([]TopKeyEntry, 0, capacity),
	}
}

// Insert offers e to the sample. Once full, e only displaces the current
// smallest entry if it is strictly larger.
func (s *Sample) Insert(e TopKeyEntry) bool {
	if len(s.entries) >= s.capacity {
		if e.MemoryBytes <= s.entries[len(s.entries)-1].MemoryBytes {
			return false
		}
		s.entries = s.entries[:len(s.entries)-1]
	}
	// First position holding a strictly smaller entry.
	i := sort.Search(len(s.entries), func(i int) bool {
		return s.entries[i].MemoryBytes < e.MemoryBytes
	})
	s.entries = append(s.entries, TopKeyEntry{})
	copy(s.entries[i+1:], s.entries[i:])
	s.entries[i] = e
	return true
}

func (s *Sample) Len() int {
	return len(s.entries)
}

// Entries returns a copy of the sample, largest first.
func (s *Sample) Entries() []TopKeyEntry {
	return append([]TopKeyEntry(nil), s.entries...)
}
