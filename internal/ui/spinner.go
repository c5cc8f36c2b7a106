// spinner.go draws per-step progress on a terminal while a release run executes.
package ui

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/example/semrel/internal/pipeline"
)

// StartSpinner prints a lightweight ASCII spinner until the returned
// stop function is called. The stop function prints either "[done]"
// or "[fail]" depending on the success flag.
func StartSpinner(w io.Writer, message string) func(success bool) {
	frames := []rune{'|', '/', '-', '\\'}
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		ticker := time.NewTicker(120 * time.Millisecond)
		defer ticker.Stop()
		idx := 0
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				fmt.Fprintf(w, "\r%s %c", message, frames[idx])
				idx = (idx + 1) % len(frames)
			}
		}
	}()
	var once sync.Once
	return func(success bool) {
		once.Do(func() {
			close(done)
			<-exited
			status := "[done]"
			if !success {
				status = "[fail]"
			}
			fmt.Fprintf(w, "\r%s %s\n", message, status)
		})
	}
}

// StepProgress is a pipeline observer that shows a spinner for the running step.
type StepProgress struct {
	w    io.Writer
	mu   sync.Mutex
	stop func(bool)
}

func NewStepProgress(w io.Writer) *StepProgress {
	return &StepProgress{w: w}
}

func (p *StepProgress) Observe(ev pipeline.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch ev.Type {
	case pipeline.StepStarted:
		p.finishLocked(false)
		p.stop = StartSpinner(p.w, fmt.Sprintf("%-8s %s", ev.Phase, ev.Step))
	case pipeline.StepSucceeded:
		p.finishLocked(true)
	case pipeline.StepFailed:
		p.finishLocked(false)
	case pipeline.RunCompleted:
		p.finishLocked(false)
	}
}

func (p *StepProgress) finishLocked(success bool) {
	if p.stop == nil {
		return
	}
	p.stop(success)
	p.stop = nil
}
