package mcp

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Aman-CERP/hybridrag/internal/errors"
)

func TestMapError_NilError(t *testing.T) {
	assert.Nil(t, MapError(nil))
}

func TestMapError_ContextErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"deadline", context.DeadlineExceeded, "timed out"},
		{"canceled", context.Canceled, "canceled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := MapError(tt.err)

			require.NotNil(t, result)
			assert.Equal(t, ErrCodeTimeout, result.Code)
			assert.Contains(t, result.Message, tt.want)
		})
	}
}

func TestMapError_AppErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"dimension mismatch", apperrors.DimensionMismatch(768, 384), ErrCodeConfigMismatch},
		{"payload too large", apperrors.PayloadTooLarge(10, 5), ErrCodePayloadTooLarge},
		{"extraction failed", apperrors.ExtractionFailed("no text", nil), ErrCodeExtractionFailed},
		{"document not found", apperrors.New(apperrors.ErrCodeDocumentNotFound, "document not found: a.txt", nil), ErrCodeNotFound},
		{"backend timeout", apperrors.BackendTimeout("graph", context.DeadlineExceeded), ErrCodeTimeout},
		{"backend unavailable", apperrors.BackendUnavailable("graph", errors.New("refused")), ErrCodeBackendUnavailable},
		{"empty query", apperrors.New(apperrors.ErrCodeQueryEmpty, "query is empty", nil), ErrCodeInvalidParams},
		{"internal", apperrors.InternalError("boom", nil), ErrCodeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := MapError(tt.err)

			require.NotNil(t, result)
			assert.Equal(t, tt.code, result.Code)
		})
	}
}

func TestMapError_WrappedAppErrorKeepsSuggestion(t *testing.T) {
	// Given: a wrapped AppError with a suggestion
	inner := apperrors.PayloadTooLarge(100, 10)
	err := fmt.Errorf("ingest: %w", inner)

	// When: mapping
	result := MapError(err)

	// Then: the suggestion is part of the message
	require.NotNil(t, result)
	assert.Equal(t, ErrCodePayloadTooLarge, result.Code)
	assert.Contains(t, result.Message, "ingest.max_bytes")
}

func TestMapError_PassesThroughMCPError(t *testing.T) {
	orig := NewInvalidParamsError("query is required")

	result := MapError(fmt.Errorf("wrapped: %w", orig))

	assert.Same(t, orig, result)
}

func TestMapError_UnknownIsInternal(t *testing.T) {
	result := MapError(errors.New("something odd"))

	require.NotNil(t, result)
	assert.Equal(t, ErrCodeInternalError, result.Code)
	assert.Equal(t, "Internal server error.", result.Message)
}

func TestMCPError_Error(t *testing.T) {
	err := NewMethodNotFoundError("search_code")

	assert.Equal(t, "MCP error -32601: Tool 'search_code' not found.", err.Error())
}
