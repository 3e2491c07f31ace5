package cli

import (
	"io"
	"time"

	"github.com/briandowns/spinner"
)

// Progress shows a spinner on w while a slow call runs. It is a no-op when
// quiet is set or w is not a terminal.
type Progress struct {
	s *spinner.Spinner
}

// StartProgress starts a spinner with the given message.
func StartProgress(w io.Writer, message string, quiet bool) *Progress {
	if quiet || !isTerminal(w) {
		return &Progress{}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(w))
	s.Suffix = " " + message
	s.Start()
	return &Progress{s: s}
}

// Stop removes the spinner.
func (p *Progress) Stop() {
	if p.s != nil {
		p.s.Stop()
	}
}
