// Package progress renders per-database progress for long scans: a redrawn
// bar on terminals, a log line every 10% otherwise.
package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/buildbuddy-io/redis-memory-usage/cli/log"
	"github.com/buildbuddy-io/redis-memory-usage/cli/terminal"
	"github.com/jonboulle/clockwork"

	barview "github.com/charmbracelet/bubbles/progress"
)

const (
	barWidth       = 40
	redrawInterval = 100 * time.Millisecond
)

// The bubbles model is only used to render frames, never run as a program.
var view = barview.New(
	barview.WithWidth(barWidth),
	barview.WithoutPercentage(),
	barview.WithSolidFill("2"),
)

// Bar implements the server/util/progress Reporter interface.
type Bar struct {
	mu          sync.Mutex
	out         io.Writer
	clock       clockwork.Clock
	interactive bool

	label    string
	total    int64
	done     int64
	lastDraw time.Time
	logged   int64
}

// New returns a Bar writing to stderr, interactive if stderr is a terminal.
func New() *Bar {
	tty, _ := terminal.IsTTY(os.Stderr)
	return NewWithClock(os.Stderr, tty, clockwork.NewRealClock())
}

func NewWithClock(out io.Writer, interactive bool, clock clockwork.Clock) *Bar {
	return &Bar{out: out, interactive: interactive, clock: clock}
}

func (b *Bar) Start(label string, total int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.label = label
	b.total = total
	b.done = 0
	b.logged = 0
	if b.interactive {
		b.draw()
	}
}

func (b *Bar) Add(n int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.done += n
	if b.interactive {
		if b.clock.Since(b.lastDraw) >= redrawInterval {
			b.draw()
		}
		return
	}
	if b.total <= 0 {
		return
	}
	decile := b.clamped() * 10 / b.total
	if decile > b.logged {
		b.logged = decile
		log.Printf("%s: %d%% (%d/%d)", b.label, decile*10, b.clamped(), b.total)
	}
}

func (b *Bar) Finish() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.interactive {
		b.done = max(b.done, b.total)
		b.draw()
		fmt.Fprintln(b.out)
		return
	}
	log.Debugf("%s: done", b.label)
}

// clamped is done capped at total; callers advance by the requested batch
// size, which overshoots on the last batch.
func (b *Bar) clamped() int64 {
	if b.total > 0 && b.done > b.total {
		return b.total
	}
	return b.done
}

func (b *Bar) draw() {
	b.lastDraw = b.clock.Now()
	fmt.Fprintf(b.out, "\r%s", Render(b.label, b.clamped(), b.total))
}

// Render formats one line of the bar, e.g. "db0 [████░░░░]  50% 5/10".
func Render(label string, done, total int64) string {
	if total <= 0 {
		return fmt.Sprintf("%s %d", label, done)
	}
	ratio := float64(done) / float64(total)
	if ratio > 1 {
		ratio = 1
	}
	return fmt.Sprintf("%s [%s] %3d%% %d/%d", label, view.ViewAs(ratio), int(ratio*100), done, total)
}
