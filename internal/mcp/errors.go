// Package mcp implements the Model Context Protocol server for hybridrag:
// search, ingestion, document listing and backend status as MCP tools.
package mcp

import (
	"context"
	"errors"
	"fmt"

	apperrors "github.com/Aman-CERP/hybridrag/internal/errors"
)

// Custom MCP error codes.
const (
	// ErrCodeBackendUnavailable indicates a backend could not be reached.
	ErrCodeBackendUnavailable = -32002

	// ErrCodeTimeout indicates the request timed out.
	ErrCodeTimeout = -32003

	// ErrCodeNotFound indicates a document or file does not exist.
	ErrCodeNotFound = -32004

	// ErrCodePayloadTooLarge indicates a file is over the ingest limit.
	ErrCodePayloadTooLarge = -32005

	// ErrCodeConfigMismatch indicates the index and embedder disagree.
	ErrCodeConfigMismatch = -32006

	// ErrCodeExtractionFailed indicates no text could be extracted.
	ErrCodeExtractionFailed = -32007

	// Standard JSON-RPC error codes.
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// MCPError is an MCP protocol error with code and message.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts internal errors to MCP errors.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var mcpErr *MCPError
	if errors.As(err, &mcpErr) {
		return mcpErr
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return mapAppError(appErr)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: "Internal server error."}
	}
}

// NewInvalidParamsError creates an error for invalid parameters.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

// NewMethodNotFoundError creates an error for unknown tools.
func NewMethodNotFoundError(name string) *MCPError {
	return &MCPError{Code: ErrCodeMethodNotFound, Message: fmt.Sprintf("Tool '%s' not found.", name)}
}

// NewNotFoundError creates an error for a missing document or resource.
func NewNotFoundError(what string) *MCPError {
	return &MCPError{Code: ErrCodeNotFound, Message: fmt.Sprintf("%s not found.", what)}
}

func mapAppError(ae *apperrors.AppError) *MCPError {
	message := ae.Message
	if ae.Suggestion != "" {
		message = fmt.Sprintf("%s. %s", ae.Message, ae.Suggestion)
	}

	switch ae.Code {
	case apperrors.ErrCodeDimensionMismatch:
		return &MCPError{Code: ErrCodeConfigMismatch, Message: message}
	case apperrors.ErrCodePayloadTooLarge:
		return &MCPError{Code: ErrCodePayloadTooLarge, Message: message}
	case apperrors.ErrCodeExtractionFailed:
		return &MCPError{Code: ErrCodeExtractionFailed, Message: message}
	case apperrors.ErrCodeDocumentNotFound, apperrors.ErrCodeFileNotFound, apperrors.ErrCodeNodeNotFound:
		return &MCPError{Code: ErrCodeNotFound, Message: message}
	case apperrors.ErrCodeBackendTimeout:
		return &MCPError{Code: ErrCodeTimeout, Message: message}
	}

	switch ae.Category {
	case apperrors.CategoryValidation:
		return &MCPError{Code: ErrCodeInvalidParams, Message: message}
	case apperrors.CategoryNetwork:
		return &MCPError{Code: ErrCodeBackendUnavailable, Message: message}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: message}
	}
}
