package errors

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// FormatForCLI renders err for the terminal: message, hint, details in key
// order and code. With debug set the wrapped cause is shown too.
func FormatForCLI(err error, debug bool) string {
	if err == nil {
		return ""
	}

	var ae *AppError
	if !stderrors.As(err, &ae) {
		ae = Wrap(ErrCodeInternal, err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Error: %s\n", ae.Message)
	if ae.Suggestion != "" {
		fmt.Fprintf(&sb, "  Hint: %s\n", ae.Suggestion)
	}

	keys := make([]string, 0, len(ae.Details))
	for k := range ae.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, "  %s: %s\n", k, ae.Details[k])
	}

	if debug && ae.Cause != nil {
		fmt.Fprintf(&sb, "  Cause: %s\n", ae.Cause)
	}
	fmt.Fprintf(&sb, "  Code: %s\n", ae.Code)
	return sb.String()
}

// LogAttr returns err as an "error" group for slog. Coded errors carry
// their code, category and retryability; others only the message.
func LogAttr(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}

	var ae *AppError
	if !stderrors.As(err, &ae) {
		return slog.String("error", err.Error())
	}

	attrs := []any{
		slog.String("code", ae.Code),
		slog.String("message", err.Error()),
		slog.String("category", string(ae.Category)),
		slog.Bool("retryable", ae.Retryable),
	}
	for k, v := range ae.Details {
		attrs = append(attrs, slog.String(k, v))
	}
	return slog.Group("error", attrs...)
}
