package ui

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/chriserin/ftplan/internal/events"
)

// Reporter prints one line per finished executable and a summary when the
// run finishes.
type Reporter struct {
	mu sync.Mutex
	w  io.Writer
}

var _ events.Listener = (*Reporter)(nil)

func NewReporter(w io.Writer) *Reporter {
	return &Reporter{w: w}
}

func (r *Reporter) OnEvent(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch e.Kind {
	case events.ExecutableFinished:
		line := fmt.Sprintf("%-7s  %s  %s", Status(e.Status), e.URI, e.Title)
		if e.Duration > 0 {
			line += fmt.Sprintf(" (%s)", e.Duration.Round(time.Millisecond))
		}
		fmt.Fprintln(r.w, line)
		if e.Err != nil {
			fmt.Fprintf(r.w, "         %s\n", errStyle.Render(e.Err.Error()))
		}
	case events.HookFailed:
		fmt.Fprintf(r.w, "%s  %s hook %s at %s: %v\n", errStyle.Render("hook"), e.HookPhase, e.HookName, e.ScopePath, e.Err)
	case events.RunFinished:
		total := 0
		for _, n := range e.Counts {
			total += n
		}
		fmt.Fprintf(r.w, "\n%d executables: %d passed, %d failed, %d skipped, %d pending\n",
			total, e.Counts["passed"], e.Counts["failed"], e.Counts["skipped"], e.Counts["pending"])
	}
}
