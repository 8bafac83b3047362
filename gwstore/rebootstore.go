package gwstore

import (
	"context"
	"time"
)

type RebootStore interface {
	SaveNextRebootAttempt(ctx context.Context, at time.Time) error

	// LoadNextRebootAttempt returns the most recently saved attempt time,
	// or [ErrStoreUninitialized] if none was ever saved.
	LoadNextRebootAttempt(ctx context.Context) (time.Time, error)
}
