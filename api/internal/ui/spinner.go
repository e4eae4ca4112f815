// Package ui renders essay reviews in a terminal.
package ui

import (
	"io"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
)

// Spinner wraps a terminal spinner for loading states.
type Spinner struct {
	s *spinner.Spinner
	w io.Writer
}

func NewSpinner(w io.Writer, msg string) *Spinner {
	s := spinner.New(spinner.CharSets[14], 80*time.Millisecond, spinner.WithWriter(w))
	s.Suffix = "  " + msg
	_ = s.Color("cyan")
	return &Spinner{s: s, w: w}
}

func (sp *Spinner) Start() { sp.s.Start() }

// Stop halts the spinner and clears the line. Safe to call more than once.
func (sp *Spinner) Stop() { sp.s.Stop() }

// Fail stops the spinner and prints a red cross.
func (sp *Spinner) Fail(msg string) {
	sp.s.Stop()
	color.New(color.FgRed).Fprintf(sp.w, "  ✗ %s\n", msg)
}
