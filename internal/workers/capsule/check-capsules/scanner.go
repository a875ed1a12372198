// internal/workers/capsule/check-capsules/scanner.go
package checkcapsules

import (
	"context"
	"time"

	apperrors "capsule-notifier/internal/common/errors"
)

// Scanner finds capsules that are due for an unlock notification.
type Scanner struct {
	store        Store
	queryTimeout time.Duration
}

func NewScanner(store Store, queryTimeout time.Duration) *Scanner {
	return &Scanner{store: store, queryTimeout: queryTimeout}
}

// Scan returns the due capsules ordered by unlock time, at most limit of
// them when limit is positive. Any failure is CAPSULE_SCAN_FAILED.
func (s *Scanner) Scan(ctx context.Context, now time.Time, limit int) ([]DueCapsule, error) {
	if s.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.queryTimeout)
		defer cancel()
	}

	capsules, err := s.store.DueCapsules(ctx, now, limit)
	if err != nil {
		return nil, apperrors.NewCapsuleScanFailedError(err)
	}
	return capsules, nil
}
