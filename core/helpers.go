package orchestration

import (
	"fmt"
	"runtime/debug"
)

// runGuarded runs fn and turns a panic into an error so that a single bad
// event cannot take down the event loop.
func runGuarded(name string, fn func() error) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("%s panicked: %v\n%s", name, recovered, debug.Stack())
		}
	}()

	if err = fn(); err != nil {
		return fmt.Errorf("failed to %s: %w", name, err)
	}

	return nil
}
