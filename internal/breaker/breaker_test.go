package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Aman-CERP/hybridrag/internal/errors"
)

func testConfig() Config {
	return Config{MaxRequests: 1, Timeout: time.Hour, MinRequests: 2, FailureRatio: 0.5}
}

func TestDo_PassesThroughResults(t *testing.T) {
	b := New("graph", testConfig())

	got, err := Do(b, func() (int, error) { return 42, nil })

	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, "closed", b.State())
}

func TestDo_OpensAfterFailures(t *testing.T) {
	// Given: a breaker that trips after two failed calls
	b := New("graph", testConfig())
	boom := errors.New("boom")

	for i := 0; i < 2; i++ {
		_, err := Do(b, func() (string, error) { return "", boom })
		assert.ErrorIs(t, err, boom)
	}

	// When: calling again
	called := false
	_, err := Do(b, func() (string, error) {
		called = true
		return "ok", nil
	})

	// Then: the call is short-circuited as unavailable
	assert.False(t, called)
	assert.ErrorIs(t, err, apperrors.ErrBackendUnavailable)
	assert.Equal(t, "open", b.State())
}

func TestDo_CancellationDoesNotTrip(t *testing.T) {
	b := New("synth", testConfig())

	for i := 0; i < 5; i++ {
		_, _ = Do(b, func() (int, error) { return 0, context.Canceled })
	}

	assert.Equal(t, "closed", b.State())
}
