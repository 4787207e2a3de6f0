package evaluation

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrConflict          = errors.New("concurrent modification")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAlreadySubmitted  = errors.New("evaluation already submitted")
)

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func notFound(what, id string) error {
	return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
}

// retryOnConflict re-runs fn while it reports ErrConflict. fn must re-read
// the state it writes on every attempt.
func retryOnConflict(ctx context.Context, counters Counters, fn func() error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = fn()
		if !errors.Is(err, ErrConflict) {
			return err
		}
		counters.ConflictRetried()
	}
	return err
}
