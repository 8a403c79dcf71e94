// Package httpclient sends the WebDAV requests the DAV client needs and maps
// HTTP failures to StatusError.
package httpclient

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/beevik/etree"
	"github.com/cyp0633/libcaldora-sync/internal/xml"
)

// HttpClientWrapper wraps http.Client with WebDAV-specific functionality
type HttpClientWrapper interface {
	DoPROPFIND(ctx context.Context, url string, depth int, props ...xml.Name) (*xml.MultistatusResponse, error)
	DoREPORT(ctx context.Context, url string, depth int, query *etree.Document) (*xml.MultistatusResponse, error)
	DoPUT(ctx context.Context, url string, cond Precondition, contentType string, data []byte) (etag string, err error)
	DoDELETE(ctx context.Context, url string, etag string) error
	DoPROPPATCH(ctx context.Context, url string, update *etree.Document) (*xml.MultistatusResponse, error)
	// Resolve makes ref absolute against the base URL.
	Resolve(ref string) (string, error)
}

type httpClientWrapper struct {
	client  *http.Client
	baseURL url.URL
	logger  *slog.Logger
}

// NewHttpClientWrapper creates a new client wrapper. A nil logger discards
// output.
func NewHttpClientWrapper(client *http.Client, baseURL url.URL, logger *slog.Logger) (HttpClientWrapper, error) {
	if client == nil {
		return nil, fmt.Errorf("http client is required")
	}
	if baseURL.Scheme == "" || baseURL.Host == "" {
		return nil, fmt.Errorf("base URL %q is not absolute", baseURL.String())
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &httpClientWrapper{client: client, baseURL: baseURL, logger: logger}, nil
}

func (c *httpClientWrapper) Resolve(ref string) (string, error) {
	u, err := c.resolveURL(ref)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// resolveURL resolves a URL string against the base URL
func (c *httpClientWrapper) resolveURL(urlStr string) (*url.URL, error) {
	ref, err := url.Parse(urlStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL %q: %w", urlStr, err)
	}
	return c.baseURL.ResolveReference(ref), nil
}

// do sends a request and returns the response if its status is one of ok.
// Otherwise the body is drained and a StatusError returned.
func (c *httpClientWrapper) do(ctx context.Context, method, urlStr string, body io.Reader, header http.Header, ok ...int) (*http.Response, error) {
	resolved, err := c.resolveURL(urlStr)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, resolved.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", method, err)
	}
	for k, v := range header {
		req.Header[k] = v
	}

	c.logger.Debug("sending request", "method", method, "url", resolved.String())
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, resolved.String(), err)
	}
	c.logger.Debug("received response", "method", method, "url", resolved.String(), "status", resp.Status)

	for _, code := range ok {
		if resp.StatusCode == code {
			return resp, nil
		}
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
	return nil, &StatusError{Method: method, URL: resolved.String(), StatusCode: resp.StatusCode, Status: resp.Status}
}

func xmlHeader(depth int) http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/xml; charset=utf-8")
	if depth >= 0 {
		h.Set("Depth", strconv.Itoa(depth))
	}
	return h
}

func readMultistatus(resp *http.Response) (*xml.MultistatusResponse, error) {
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return xml.ParseMultistatus(data)
}
