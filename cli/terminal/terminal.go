package terminal

import (
	"fmt"
	"io"
	"os"

	"github.com/logrusorgru/aurora"
	"github.com/mattn/go-isatty"
)

// IsTTY returns whether the given file descriptor is connected to a terminal.
func IsTTY(f *os.File) (bool, error) {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()), nil
}

// Printer writes status lines, green for success and red for failure. Colors
// are only emitted when enabled.
type Printer struct {
	out io.Writer
	au  aurora.Aurora
}

// NewPrinter returns a Printer for stdout, colored when stdout is a terminal
// and NO_COLOR is unset.
func NewPrinter() *Printer {
	tty, _ := IsTTY(os.Stdout)
	_, noColor := os.LookupEnv("NO_COLOR")
	return NewPrinterTo(os.Stdout, tty && !noColor)
}

func NewPrinterTo(out io.Writer, colors bool) *Printer {
	return &Printer{out: out, au: aurora.NewAurora(colors)}
}

func (p *Printer) Success(format string, args ...interface{}) {
	fmt.Fprintln(p.out, p.au.Green(fmt.Sprintf(format, args...)))
}

func (p *Printer) Failure(format string, args ...interface{}) {
	fmt.Fprintln(p.out, p.au.Red(fmt.Sprintf(format, args...)))
}

func (p *Printer) Plain(format string, args ...interface{}) {
	fmt.Fprintf(p.out, format+"\n", args...)
}

// Red colors a fragment for use inside a Plain line.
func (p *Printer) Red(s string) string {
	return p.au.Red(s).String()
}
