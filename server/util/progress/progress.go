// Package progress defines the advisory progress side channel used by long
// scans. Reporters never influence control flow.
package progress

type Reporter interface {
	// Start begins a new unit of work (usually one database) with an
	// estimated total. A total of 0 means unknown.
	Start(label string, total int64)
	// Add advances the current unit by n.
	Add(n int64)
	// Finish ends the current unit.
	Finish()
}

type discard struct{}

func (discard) Start(string, int64) {}
func (discard) Add(int64)           {}
func (discard) Finish()             {}

// Discard returns a Reporter that drops every update.
func Discard() Reporter {
	return discard{}
}

// OrDiscard returns r, or Discard() when r is nil.
func OrDiscard(r Reporter) Reporter {
	if r == nil {
		return Discard()
	}
	return r
}
