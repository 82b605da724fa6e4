// Package progress provides terminal progress indicators for long-running
// repository operations (gc, push/pull, fsck).
package progress

import (
	"os"

	"github.com/pterm/pterm"
)

// Spinner displays an animated spinner on stderr while a long-running
// operation is in progress. It is only displayed when stderr is a TTY;
// pterm detects this itself and falls silent in non-interactive
// environments (piped output, CI, E2E tests).
type Spinner struct {
	msg string
	p   *pterm.SpinnerPrinter
}

// New creates a Spinner that will display msg alongside the animation.
func New(msg string) *Spinner {
	return &Spinner{msg: msg}
}

// Start begins the spinner animation.
func (s *Spinner) Start() {
	printer := pterm.DefaultSpinner.WithWriter(os.Stderr)
	p, err := printer.Start(s.msg)
	if err != nil {
		return
	}
	s.p = p
}

// Stop halts the spinner animation and clears the line.
func (s *Spinner) Stop() {
	if s.p != nil {
		_ = s.p.Stop()
	}
}

// UpdateMessage changes the text shown beside the spinner while it runs,
// used to report progress through a multi-step operation (e.g. each
// object fetched during a pull).
func (s *Spinner) UpdateMessage(msg string) {
	s.msg = msg
	if s.p != nil {
		s.p.UpdateText(msg)
	}
}
