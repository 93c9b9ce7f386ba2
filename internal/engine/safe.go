package engine

import (
	"fmt"
)

// runSafely executes fn and converts panics into returned errors tagged with scope.
// Listener hooks and subscriber handlers run through it so one faulty hook
// cannot take down the dispatch loop.
func runSafely(scope string, fn func() error) (err error) {
	defer func() {
		recovered := recover()
		if recovered == nil {
			return
		}
		err = fmt.Errorf("%s: panic recovered: %v", scope, recovered)
	}()

	if err := fn(); err != nil {
		return fmt.Errorf("%s: %w", scope, err)
	}

	return nil
}
