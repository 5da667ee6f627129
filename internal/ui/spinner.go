package ui

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
)

// SimpleSpinner draws a one-line spinner while a blocking call runs. It is
// safe to update and stop from any goroutine.
type SimpleSpinner struct {
	out    io.Writer
	frames []string
	every  time.Duration

	mu      sync.Mutex
	message string

	started  atomic.Bool
	quit     chan struct{}
	finished chan struct{}
	stop     sync.Once
}

func newSpinner(style spinner.Spinner, message string) *SimpleSpinner {
	return &SimpleSpinner{
		out:      os.Stdout,
		frames:   style.Frames,
		every:    style.FPS,
		message:  message,
		quit:     make(chan struct{}),
		finished: make(chan struct{}),
	}
}

// NewSimpleSpinner creates a spinner for general loading operations (Dot style)
func NewSimpleSpinner(message string) *SimpleSpinner {
	return newSpinner(spinner.Dot, message)
}

// NewConnectionSpinner creates a spinner for network/connection operations (Globe style)
func NewConnectionSpinner(message string) *SimpleSpinner {
	return newSpinner(spinner.Globe, message)
}

func (s *SimpleSpinner) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(s.finished)
		ticker := time.NewTicker(s.every)
		defer ticker.Stop()

		for i := 0; ; i++ {
			s.mu.Lock()
			msg := s.message
			s.mu.Unlock()
			fmt.Fprintf(s.out, "\r%s %s", SpinnerStyle.Render(s.frames[i%len(s.frames)]), msg)

			select {
			case <-s.quit:
				fmt.Fprint(s.out, "\r\033[K") // Clear the line
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop clears the spinner line. It is idempotent.
func (s *SimpleSpinner) Stop() {
	s.stop.Do(func() {
		close(s.quit)
		if s.started.Load() {
			<-s.finished
		}
	})
}

func (s *SimpleSpinner) Success(message string) {
	s.Stop()
	fmt.Fprintf(s.out, "%s %s\n", SuccessStyle.Render(IconSuccess), message)
}

func (s *SimpleSpinner) Error(message string) {
	s.Stop()
	fmt.Fprintf(s.out, "%s %s\n", ErrorStyle.Render(IconError), message)
}

func (s *SimpleSpinner) UpdateMessage(message string) {
	s.mu.Lock()
	s.message = message
	s.mu.Unlock()
}

// RunSpinner starts a loading spinner and returns a stop function
func RunSpinner(message string) func() {
	sp := NewSimpleSpinner(message)
	sp.Start()
	return sp.Stop
}

// RunConnectionSpinner starts a connection spinner and returns a stop function
func RunConnectionSpinner(message string) func() {
	sp := NewConnectionSpinner(message)
	sp.Start()
	return sp.Stop
}
