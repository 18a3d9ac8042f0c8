// Package progress renders step-by-step feedback for interactive
// commands: a live spinner on a terminal, plain lines everywhere else.
package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
)

var (
	okColor   = color.New(color.FgGreen, color.Bold)
	failColor = color.New(color.FgRed, color.Bold)
)

// Indicator shows one step of a command to the user. Start begins a
// step, Complete and Fail end it; Stop ends it silently.
type Indicator interface {
	Start(message string)
	Update(message string)
	Complete(message string)
	Fail(message string)
	Stop()
}

// NewIndicator picks an indicator for the environment. Non-interactive
// runs (logs, cron) get plain lines; interactive runs get the named
// kind, defaulting to plain lines for anything unknown.
func NewIndicator(interactive bool, kind string) Indicator {
	if !interactive {
		return NewLine(os.Stdout)
	}
	switch kind {
	case "spinner":
		return NewSpinner(os.Stdout)
	case "none":
		return Null{}
	default:
		return NewLine(os.Stdout)
	}
}

// Spinner animates a step on a terminal, redrawing in place.
type Spinner struct {
	w        io.Writer
	interval time.Duration
	frames   []string

	mu      sync.Mutex
	message string
	active  bool
	stop    chan struct{}
}

func NewSpinner(w io.Writer) *Spinner {
	return &Spinner{
		w:        w,
		interval: 80 * time.Millisecond,
		frames:   []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
	}
}

func (s *Spinner) Start(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		s.message = message
		return
	}
	s.message = message
	s.active = true
	s.stop = make(chan struct{})

	go func(stop chan struct{}) {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.mu.Lock()
				msg := s.message
				s.mu.Unlock()
				fmt.Fprintf(s.w, "\r\033[K%s %s", s.frames[i%len(s.frames)], msg)
			}
		}
	}(s.stop)
}

func (s *Spinner) Update(message string) {
	s.mu.Lock()
	s.message = message
	s.mu.Unlock()
}

func (s *Spinner) Complete(message string) {
	s.halt()
	okColor.Fprint(s.w, "[OK] ")
	fmt.Fprintln(s.w, message)
}

func (s *Spinner) Fail(message string) {
	s.halt()
	failColor.Fprint(s.w, "[FAIL] ")
	fmt.Fprintln(s.w, message)
}

func (s *Spinner) Stop() {
	s.halt()
}

// halt stops the animation and clears the spinner line.
func (s *Spinner) halt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	s.active = false
	close(s.stop)
	fmt.Fprint(s.w, "\r\033[K")
}

// Line prints each step as its own line, safe for logs and pipes.
type Line struct {
	w io.Writer
}

func NewLine(w io.Writer) *Line {
	return &Line{w: w}
}

func (l *Line) Start(message string) {
	fmt.Fprintf(l.w, "%s...\n", message)
}

func (l *Line) Update(message string) {
	fmt.Fprintf(l.w, "  %s\n", message)
}

func (l *Line) Complete(message string) {
	fmt.Fprintf(l.w, "[OK] %s\n", message)
}

func (l *Line) Fail(message string) {
	fmt.Fprintf(l.w, "[FAIL] %s\n", message)
}

func (l *Line) Stop() {}

// Null discards everything; for callers that want the Indicator shape
// without the output.
type Null struct{}

func (Null) Start(string)    {}
func (Null) Update(string)   {}
func (Null) Complete(string) {}
func (Null) Fail(string)     {}
func (Null) Stop()           {}
