package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archestra-ai/gateway/pkg/config"
	"github.com/archestra-ai/gateway/pkg/errors"
)

func TestRetryUnary_RetriesRetryableErrorsUntilSuccess(t *testing.T) {
	t.Parallel()
	rc := config.RetryConfig{BaseMs: 1, MaxMs: 5, MaxRetries: 3}

	attempts := 0
	result, err := retryUnary(t.Context(), rc, func() (string, error) {
		attempts++
		if attempts < 3 {
			return "", errors.NewServerError("upstream 503", nil)
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, attempts)
}

func TestRetryUnary_NonRetryableFailsImmediately(t *testing.T) {
	t.Parallel()
	rc := config.RetryConfig{BaseMs: 1, MaxMs: 5, MaxRetries: 3}

	attempts := 0
	_, err := retryUnary(t.Context(), rc, func() (string, error) {
		attempts++
		return "", errors.NewInvalidRequestError("bad request", nil)
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryUnary_ExhaustsMaxRetries(t *testing.T) {
	t.Parallel()
	rc := config.RetryConfig{BaseMs: 1, MaxMs: 5, MaxRetries: 2}

	attempts := 0
	_, err := retryUnary(t.Context(), rc, func() (string, error) {
		attempts++
		return "", errors.NewNetworkError("connection reset", nil)
	})
	require.Error(t, err)
	assert.Equal(t, 3, attempts) // initial attempt + 2 retries
}
