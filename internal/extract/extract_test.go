package extract

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Aman-CERP/hybridrag/internal/errors"
)

func TestDetectMIME(t *testing.T) {
	tests := []struct {
		name, hint string
		content    []byte
		want       string
	}{
		{"notes.md", "", nil, "text/markdown"},
		{"page.HTML", "", nil, "text/html"},
		{"report.pdf", "application/octet-stream", nil, "application/pdf"},
		{"x.bin", "text/plain; charset=utf-8", nil, "text/plain"},
		{"noext", "", []byte("plain words"), "text/plain"},
		{"noext", "", []byte("%PDF-1.7\n"), "application/pdf"},
	}
	for _, tt := range tests {
		t.Run(tt.name+"/"+tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectMIME(tt.name, tt.hint, tt.content))
		})
	}
}

func TestMarkdown_StripsMarkup(t *testing.T) {
	src := Source{Content: []byte("# Title\n\nSome **bold** and [a link](http://x).\n\n- item one\n1. first\n\n```go\nfmt.Println()\n```\n\nkeep snake_case_name")}

	got, err := Markdown{}.Extract(context.Background(), src)

	require.NoError(t, err)
	assert.Contains(t, got, "Title")
	assert.Contains(t, got, "Some bold and a link.")
	assert.Contains(t, got, "item one")
	assert.Contains(t, got, "first")
	assert.Contains(t, got, "fmt.Println()")
	assert.Contains(t, got, "snake_case_name")
	assert.NotContains(t, got, "**")
	assert.NotContains(t, got, "```")
}

func TestHTML_StripsTagsAndScripts(t *testing.T) {
	src := Source{Content: []byte(`<html><head><title>T</title></head><body>
<script>alert(1)</script><style>p{}</style>
<h1>Acme&nbsp;Logistics</h1><p>Supplier   delays &amp; risks</p><!-- hidden --></body></html>`)}

	got, err := HTML{}.Extract(context.Background(), src)

	require.NoError(t, err)
	assert.Equal(t, "Acme Logistics\nSupplier delays & risks", got)
}

func TestHTML_ParsesAwkwardMarkup(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"angle bracket in attribute", `<p><a title="x>y" href="/a?b>c">Acme</a> ships</p>`, "Acme ships"},
		{"unclosed script", `<p>Visible</p><script>var hidden = "<p>nope</p>";`, "Visible"},
		{"svg and noscript", `<div>Keep<svg><text>drop</text></svg><noscript>drop too</noscript></div>`, "Keep"},
		{"list items on their own lines", `<ul><li>one</li><li>two</li></ul>`, "one\ntwo"},
		{"inline elements join", `<p>sup<b>plier</b> <i>risk</i></p>`, "supplier risk"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := HTML{}.Extract(context.Background(), Source{Content: []byte(tt.in)})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPlainText_NormalisesInput(t *testing.T) {
	got, err := PlainText{}.Extract(context.Background(), Source{Content: []byte("\xef\xbb\xbfline1\r\nline2")})
	require.NoError(t, err)
	assert.Equal(t, "line1\nline2", got)
}

func TestRegistry_EmptyTextIsExtractionFailed(t *testing.T) {
	r := NewRegistry(nil)

	_, err := r.Extract(context.Background(), Source{Name: "blank.txt", Content: []byte("   \n ")})

	assert.ErrorIs(t, err, apperrors.ErrExtractionFailed)
}

func TestRegistry_UnknownTypeWithoutFallback(t *testing.T) {
	r := NewRegistry(nil)

	_, err := r.Extract(context.Background(), Source{Name: "scan.pdf", Content: []byte("%PDF")})

	assert.ErrorIs(t, err, apperrors.ErrExtractionFailed)
}

func TestRegistry_InvalidJSONIsExtractionFailed(t *testing.T) {
	r := NewRegistry(nil)

	_, err := r.Extract(context.Background(), Source{Name: "x.json", Content: []byte("{nope")})

	assert.ErrorIs(t, err, apperrors.ErrExtractionFailed)
}

func TestTikaClient_ExtractsThroughServer(t *testing.T) {
	// Given: a Tika server that echoes a fixed text
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/tika", r.URL.Path)
		assert.Equal(t, "text/plain", r.Header.Get("Accept"))
		assert.Equal(t, "application/pdf", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "%PDF-bytes", string(body))
		_, _ = w.Write([]byte("Quarterly supplier report\r\n"))
	}))
	defer srv.Close()

	// When: a PDF goes through the registry fallback
	r := NewRegistry(NewTikaClient(TikaConfig{URL: srv.URL}))
	got, err := r.Extract(context.Background(), Source{Name: "q3.pdf", Content: []byte("%PDF-bytes")})

	// Then: the server text is returned
	require.NoError(t, err)
	assert.Equal(t, "Quarterly supplier report\n", got)
}

func TestTikaClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok text"))
	}))
	defer srv.Close()

	c := NewTikaClient(TikaConfig{URL: srv.URL, Retry: apperrors.RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}})
	got, err := c.Extract(context.Background(), Source{Name: "a.pdf"})

	require.NoError(t, err)
	assert.Equal(t, "ok text", got)
	assert.Equal(t, int32(2), calls.Load())
}

func TestTikaClient_UnprocessableIsTerminal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := NewTikaClient(TikaConfig{URL: srv.URL})
	_, err := c.Extract(context.Background(), Source{Name: "broken.pdf"})

	assert.ErrorIs(t, err, apperrors.ErrExtractionFailed)
	assert.Equal(t, int32(1), calls.Load())
}

func TestTikaClient_Version(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/version", r.URL.Path)
		_, _ = w.Write([]byte("Apache Tika 2.9.1\n"))
	}))
	defer srv.Close()

	v, err := NewTikaClient(TikaConfig{URL: srv.URL + "/"}).Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Apache Tika 2.9.1", v)
}
