// Package backend holds the HTTP clients for the AI completion service and
// the browser automation service.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultTimeout bounds a single backend call.
const DefaultTimeout = 30 * time.Second

// ErrUnavailable covers network failures, non-2xx replies and bodies that
// cannot be decoded. Callers treat it as retryable.
var ErrUnavailable = errors.New("backend unavailable")

// maxErrorBody caps how much of an error response ends up in the error message.
const maxErrorBody = 512

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

func endpoint(base, path string) string {
	return strings.TrimRight(base, "/") + path
}

// postJSON sends body as JSON and returns the raw 2xx response body.
func postJSON(ctx context.Context, client *http.Client, url string, body interface{}) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "encode request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(ErrUnavailable, "POST %s: %v", url, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, errors.Wrapf(ErrUnavailable, "read %s response: %v", url, err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg := Truncate(string(raw), maxErrorBody)
		return nil, errors.Wrapf(ErrUnavailable, "POST %s: status %d: %s", url, res.StatusCode, strings.TrimSpace(msg))
	}
	return raw, nil
}

// Truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
