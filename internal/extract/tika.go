package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/Aman-CERP/hybridrag/internal/errors"
)

// TikaConfig configures a TikaClient.
type TikaConfig struct {
	URL     string
	Timeout time.Duration
	Retry   apperrors.RetryConfig
}

// TikaClient extracts text through an Apache Tika server.
type TikaClient struct {
	baseURL string
	client  *http.Client
	retry   apperrors.RetryConfig
}

// Ensure TikaClient implements Extractor.
var _ Extractor = (*TikaClient)(nil)

// NewTikaClient returns a client for the Tika server at cfg.URL.
func NewTikaClient(cfg TikaConfig) *TikaClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry = apperrors.RetryConfig{MaxRetries: 2, InitialDelay: 500 * time.Millisecond, MaxDelay: 2 * time.Second, Multiplier: 2}
	}
	return &TikaClient{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		client:  &http.Client{Timeout: cfg.Timeout},
		retry:   cfg.Retry,
	}
}

// Extract sends the document to PUT /tika and returns the plain text body.
// Connection errors and 5xx responses are retried; 4xx is terminal.
func (t *TikaClient) Extract(ctx context.Context, src Source) (string, error) {
	start := time.Now()
	text, err := apperrors.RetryWithResult(ctx, t.retry, func() (string, error) {
		return t.put(ctx, src)
	})
	if err != nil {
		slog.Warn("tika_extract_failed",
			slog.String("document", src.Name),
			slog.String("mime", src.MIMEType),
			slog.String("error", err.Error()))
		return "", err
	}
	slog.Debug("tika_extract_complete",
		slog.String("document", src.Name),
		slog.Int("chars", len(text)),
		slog.Duration("elapsed", time.Since(start)))
	return text, nil
}

func (t *TikaClient) put(ctx context.Context, src Source) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, t.baseURL+"/tika", bytes.NewReader(src.Content))
	if err != nil {
		return "", apperrors.ExtractionFailed("build tika request", err)
	}
	req.Header.Set("Accept", "text/plain")
	if src.MIMEType != "" {
		req.Header.Set("Content-Type", src.MIMEType)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return "", apperrors.BackendUnavailable("tika", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", apperrors.BackendUnavailable("tika", err)
	}

	switch {
	case resp.StatusCode >= 500:
		return "", apperrors.BackendUnavailable("tika", fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return "", apperrors.ExtractionFailed(
			fmt.Sprintf("tika rejected %s with status %d", src.Name, resp.StatusCode), nil).
			WithDetail("document", src.Name)
	}
	return decodeText(body), nil
}

// Version returns the Tika server version string; it doubles as a health probe.
func (t *TikaClient) Version(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/version", nil)
	if err != nil {
		return "", err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return "", apperrors.BackendUnavailable("tika", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", apperrors.BackendUnavailable("tika", fmt.Errorf("status %d", resp.StatusCode))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}
