package tftp

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPBackend streams file contents from an HTTP origin instead of the
// local filesystem — supplemented over PyPXE's filesystem-only backend
// per SPEC_FULL.md's domain-stack expansion; the origin is probed with
// a HEAD request (2s timeout per spec.md's resource-limits table) and
// served with a streaming GET.
type HTTPBackend struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPBackend(baseURL string) *HTTPBackend {
	return &HTTPBackend{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		Client:  &http.Client{Timeout: 2 * time.Second},
	}
}

func (b *HTTPBackend) resolve(name string) (string, error) {
	u, err := url.Parse(b.BaseURL + "/" + strings.TrimPrefix(name, "/"))
	if err != nil {
		return "", fmt.Errorf("tftp: http backend: %w", err)
	}
	return u.String(), nil
}

// Probe issues a HEAD request. When the origin doesn't report
// Content-Length (chunked transfer), size is returned as -1; the
// transfer then does not compute its last block up front but sets it
// when the first short read from the origin reveals the end.
func (b *HTTPBackend) Probe(name string) (bool, int64, error) {
	target, err := b.resolve(name)
	if err != nil {
		return false, 0, err
	}
	resp, err := b.Client.Head(target)
	if err != nil {
		return false, 0, nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, 0, nil
	}
	if resp.ContentLength < 0 {
		return true, -1, nil
	}
	return true, resp.ContentLength, nil
}

func (b *HTTPBackend) Open(name string) (io.ReadCloser, error) {
	target, err := b.resolve(name)
	if err != nil {
		return nil, err
	}
	resp, err := b.Client.Get(target)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("tftp: http backend: %s returned %d", target, resp.StatusCode)
	}
	return resp.Body, nil
}
