package rewards

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
)

// ConsoleReporter prints the stats block after each refresh.
type ConsoleReporter struct {
	out   io.Writer
	title func(a ...any) string
	value func(a ...any) string
}

// NewConsoleReporter writes to out, or stdout when out is nil. Colour follows
// fatih/color's terminal detection.
func NewConsoleReporter(out io.Writer) *ConsoleReporter {
	if out == nil {
		out = os.Stdout
	}
	return &ConsoleReporter{
		out:   out,
		title: color.New(color.Bold).SprintFunc(),
		value: color.New(color.FgGreen).SprintFunc(),
	}
}

func (r *ConsoleReporter) Report(s Snapshot) {
	fmt.Fprintf(r.out, "\n%s\nDaily Points: %s\nTotal Points: %s\nCompleted Tasks: %s\n",
		r.title("Current Stats:"), r.value(s.DailyPoints), r.value(s.TotalPoints), r.value(s.CompletedCount))
}
