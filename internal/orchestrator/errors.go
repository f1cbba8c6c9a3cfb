package orchestrator

import (
	"errors"
	"fmt"
	"time"
)

// ErrAlreadyRunning matches any *AlreadyRunningError via errors.Is.
var ErrAlreadyRunning = errors.New("crawl already running")

// AlreadyRunningError rejects a crawl while another one is in flight.
type AlreadyRunningError struct {
	Author  string
	Elapsed time.Duration
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("crawl already running for %s (%s elapsed)", e.Author, e.Elapsed.Round(time.Second))
}

// Is reports whether target is ErrAlreadyRunning.
func (e *AlreadyRunningError) Is(target error) bool {
	return target == ErrAlreadyRunning
}
