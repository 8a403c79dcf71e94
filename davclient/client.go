// Package davclient talks CalDAV and CardDAV to a remote server. It is the
// network half of the sync engine: every method maps to one or a few HTTP
// requests and reports version mismatches as *resource.ConflictError.
package davclient

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cyp0633/libcaldora-sync/internal/httpclient"
	"github.com/cyp0633/libcaldora-sync/resource"
)

// DefaultTimeout bounds each HTTP request when Config.HTTPClient is nil.
const DefaultTimeout = 30 * time.Second

// Config holds the connection settings.
type Config struct {
	// URL is the server root, a principal or a home set. Discovery starts
	// there and falls back to the well-known URIs.
	URL      string
	Username string
	Password string
	// UserAgent is sent with every request when set.
	UserAgent string
	// HTTPClient is used as the base client. Its transport is wrapped to add
	// authentication.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client implements the sync engine's ResourceClient.
type Client struct {
	http   httpclient.HttpClientWrapper
	base   *url.URL
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	homes map[resource.CollectionKind]string
}

// New validates cfg and builds a client. No request is sent until the first
// call.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("davclient: URL is required")
	}
	base, err := url.Parse(cfg.URL)
	if err != nil || base.Host == "" || (base.Scheme != "http" && base.Scheme != "https") {
		return nil, fmt.Errorf("davclient: invalid URL %q", cfg.URL)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	hc := &http.Client{Timeout: DefaultTimeout}
	if cfg.HTTPClient != nil {
		copied := *cfg.HTTPClient
		hc = &copied
	}
	if cfg.Username != "" {
		tr := httpclient.NewBasicAuthTransport(cfg.Username, cfg.Password, hc.Transport, logger)
		tr.UserAgent = cfg.UserAgent
		hc.Transport = tr
	}

	wrapper, err := httpclient.NewHttpClientWrapper(hc, *base, logger)
	if err != nil {
		return nil, fmt.Errorf("davclient: %w", err)
	}
	return &Client{
		http:   wrapper,
		base:   base,
		logger: logger,
		now:    time.Now,
		homes:  make(map[resource.CollectionKind]string),
	}, nil
}

// mapWriteError turns a 412 into a ConflictError. Other errors pass through.
func mapWriteError(href, etag string, err error) error {
	if httpclient.HasStatus(err, http.StatusPreconditionFailed) {
		return &resource.ConflictError{Href: href, ETag: etag, Err: err}
	}
	return err
}

// resolve makes href absolute against ref.
func resolve(ref, href string) string {
	r, err := url.Parse(ref)
	if err != nil {
		return href
	}
	h, err := url.Parse(href)
	if err != nil {
		return href
	}
	return r.ResolveReference(h).String()
}
