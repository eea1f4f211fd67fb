package merging

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const compensationTimeout = 30 * time.Second

type compensation struct {
	step string
	undo func(ctx context.Context) error
}

// saga records an undo for every applied step so a failed merge can be reversed
// in LIFO order on stores without multi-statement transactions.
type saga struct {
	applied []compensation
}

// do runs apply and, when it succeeds, remembers undo.
func (s *saga) do(step string, apply func() error, undo func(ctx context.Context) error) error {
	if err := apply(); err != nil {
		return fmt.Errorf("%s: %w", step, err)
	}
	if undo != nil {
		s.applied = append(s.applied, compensation{step: step, undo: undo})
	}
	return nil
}

// compensate undoes every applied step, newest first, and reports the steps it
// could not undo. It keeps going after a failed undo.
func (s *saga) compensate(ctx context.Context) (failed []string, err error) {
	// the merge deadline may already have passed; undo gets its own timeout
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	var errs []error
	for i := len(s.applied) - 1; i >= 0; i-- {
		c := s.applied[i]
		if undoErr := c.undo(ctx); undoErr != nil {
			failed = append(failed, c.step)
			errs = append(errs, fmt.Errorf("undo %s: %w", c.step, undoErr))
		}
	}
	s.applied = nil
	return failed, errors.Join(errs...)
}
