package progress

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/trebuchet-org/txm/internal/usecase"
)

// SpinnerProgressReporter shows a spinner while a stage is running
type SpinnerProgressReporter struct {
	spinner    *spinner.Spinner
	out        io.Writer
	stage      string
	stageStart time.Time
}

// NewSpinnerProgressReporter creates a spinner writing to stderr
func NewSpinnerProgressReporter() *SpinnerProgressReporter {
	return newSpinnerProgressReporter(os.Stderr)
}

func newSpinnerProgressReporter(out io.Writer) *SpinnerProgressReporter {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(out))
	s.HideCursor = false
	return &SpinnerProgressReporter{spinner: s, out: out}
}

// OnProgress starts, updates or stops the spinner
func (r *SpinnerProgressReporter) OnProgress(ctx context.Context, event usecase.ProgressEvent) {
	if event.Stage != r.stage {
		r.stage = event.Stage
		r.stageStart = time.Now()
	}

	if !event.Spinner {
		if r.spinner.Active() {
			r.spinner.Stop()
		}
		return
	}

	r.spinner.Suffix = " " + r.suffix(event)
	if !r.spinner.Active() {
		r.spinner.Start()
	}
}

func (r *SpinnerProgressReporter) suffix(event usecase.ProgressEvent) string {
	elapsed := time.Since(r.stageStart).Round(time.Second)
	msg := color.New(color.FgYellow).Sprint(event.Message)
	if event.Total > 0 {
		return fmt.Sprintf("%s %s", msg, color.New(color.Faint).Sprintf("(%s)", elapsed))
	}
	return msg
}

// Info prints an info message
func (r *SpinnerProgressReporter) Info(message string) {
	r.pause(func() { color.New(color.FgCyan).Fprintln(r.out, message) })
}

// Error prints an error message
func (r *SpinnerProgressReporter) Error(message string) {
	r.pause(func() { color.New(color.FgRed).Fprintln(r.out, message) })
}

// pause stops the spinner around fn so output lines are not interleaved
func (r *SpinnerProgressReporter) pause(fn func()) {
	wasActive := r.spinner.Active()
	if wasActive {
		r.spinner.Stop()
	}
	fn()
	if wasActive {
		r.spinner.Start()
	}
}

var _ usecase.ProgressSink = (*SpinnerProgressReporter)(nil)
