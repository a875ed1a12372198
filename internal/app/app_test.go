package app

import (
	"errors"
	"testing"
	"time"

	"capsule-notifier/internal/common/logger"

	"github.com/stretchr/testify/assert"
)

func TestRetryWithBackoff(t *testing.T) {
	t.Run("succeeds after transient failures", func(t *testing.T) {
		attempts := 0
		err := retryWithBackoff(func() error {
			attempts++
			if attempts < 3 {
				return errors.New("connection refused")
			}
			return nil
		}, 5, time.Millisecond, logger.NewTestLogger(t), "test connection")

		assert.NoError(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		attempts := 0
		cause := errors.New("no route to host")
		err := retryWithBackoff(func() error {
			attempts++
			return cause
		}, 3, time.Millisecond, logger.NewTestLogger(t), "test connection")

		assert.ErrorIs(t, err, cause)
		assert.Contains(t, err.Error(), "test connection failed after 3 attempts")
		assert.Equal(t, 3, attempts)
	})
}
