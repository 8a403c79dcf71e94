package httpclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/cyp0633/libcaldora-sync/internal/xml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWrapper(t *testing.T, h http.HandlerFunc) HttpClientWrapper {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	base, err := url.Parse(srv.URL)
	require.NoError(t, err)
	client := &http.Client{Transport: NewBasicAuthTransport("alice", "secret", nil, nil)}
	w, err := NewHttpClientWrapper(client, *base, nil)
	require.NoError(t, err)
	return w
}

func TestNewHttpClientWrapperValidates(t *testing.T) {
	_, err := NewHttpClientWrapper(nil, url.URL{Scheme: "https", Host: "dav.example.com"}, nil)
	assert.Error(t, err)
	_, err = NewHttpClientWrapper(http.DefaultClient, url.URL{Path: "/dav/"}, nil)
	assert.Error(t, err)
}

func TestDoPROPFIND(t *testing.T) {
	w := newWrapper(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "PROPFIND", r.Method)
		assert.Equal(t, "/calendars/alice/", r.URL.Path)
		assert.Equal(t, "1", r.Header.Get("Depth"))
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "alice", user)
		assert.Equal(t, "secret", pass)

		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), "displayname")

		w.WriteHeader(http.StatusMultiStatus)
		_, _ = io.WriteString(w, `<D:multistatus xmlns:D="DAV:">
  <D:response>
    <D:href>/calendars/alice/work/</D:href>
    <D:propstat>
      <D:prop><D:displayname>Work</D:displayname></D:prop>
      <D:status>HTTP/1.1 200 OK</D:status>
    </D:propstat>
  </D:response>
</D:multistatus>`)
	})

	ms, err := w.DoPROPFIND(context.Background(), "/calendars/alice/", 1, xml.DisplayName)
	require.NoError(t, err)
	require.Len(t, ms.Responses, 1)
	assert.Equal(t, "Work", ms.Responses[0].Text(xml.DisplayName))
}

func TestDoPROPFINDUnexpectedStatus(t *testing.T) {
	w := newWrapper(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	})

	_, err := w.DoPROPFIND(context.Background(), "/", 0, xml.CurrentUserPrincipal)
	require.Error(t, err)
	assert.True(t, HasStatus(err, http.StatusUnauthorized))
	assert.Contains(t, err.Error(), "PROPFIND")
}

func TestDoPUT(t *testing.T) {
	tests := []struct {
		name        string
		cond        Precondition
		status      int
		wantIfMatch string
		wantINM     string
		wantETag    string
		wantStatus  int
	}{
		{name: "create", cond: Precondition{IfNoneMatch: true}, status: http.StatusCreated, wantINM: "*", wantETag: `"1"`},
		{name: "update", cond: Precondition{IfMatch: `"1"`}, status: http.StatusNoContent, wantIfMatch: `"1"`, wantETag: `"1"`},
		{name: "precondition failed", cond: Precondition{IfMatch: `"0"`}, status: http.StatusPreconditionFailed, wantIfMatch: `"0"`, wantStatus: http.StatusPreconditionFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newWrapper(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPut, r.Method)
				assert.Equal(t, tt.wantIfMatch, r.Header.Get("If-Match"))
				assert.Equal(t, tt.wantINM, r.Header.Get("If-None-Match"))
				assert.Equal(t, "text/calendar; charset=utf-8", r.Header.Get("Content-Type"))
				if tt.status < 300 {
					w.Header().Set("ETag", `"1"`)
				}
				w.WriteHeader(tt.status)
			})

			etag, err := w.DoPUT(context.Background(), "/calendars/alice/work/e1.ics", tt.cond, "text/calendar; charset=utf-8", []byte("BEGIN:VCALENDAR"))
			if tt.wantStatus != 0 {
				assert.True(t, HasStatus(err, tt.wantStatus))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantETag, etag)
		})
	}
}

func TestDoDELETE(t *testing.T) {
	w := newWrapper(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		if r.Header.Get("If-Match") != `"2"` {
			w.WriteHeader(http.StatusPreconditionFailed)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	assert.NoError(t, w.DoDELETE(context.Background(), "/e1.ics", `"2"`))
	err := w.DoDELETE(context.Background(), "/e1.ics", `"1"`)
	assert.True(t, HasStatus(err, http.StatusPreconditionFailed))
}

func TestDoPROPPATCH(t *testing.T) {
	tests := []struct {
		name    string
		status  string
		wantErr bool
	}{
		{"applied", "HTTP/1.1 200 OK", false},
		{"forbidden", "HTTP/1.1 403 Forbidden", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newWrapper(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "PROPPATCH", r.Method)
				w.WriteHeader(http.StatusMultiStatus)
				_, _ = io.WriteString(w, `<D:multistatus xmlns:D="DAV:"><D:response><D:href>/cal/</D:href>
<D:propstat><D:prop><D:displayname/></D:prop><D:status>`+tt.status+`</D:status></D:propstat>
</D:response></D:multistatus>`)
			})

			_, err := w.DoPROPPATCH(context.Background(), "/cal/", xml.Proppatch(map[xml.Name]string{xml.DisplayName: "Home"}))
			if tt.wantErr {
				assert.True(t, HasStatus(err, http.StatusForbidden))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	base, _ := url.Parse("https://dav.example.com/dav/")
	w, err := NewHttpClientWrapper(http.DefaultClient, *base, nil)
	require.NoError(t, err)

	got, err := w.Resolve("calendars/alice/")
	require.NoError(t, err)
	assert.Equal(t, "https://dav.example.com/dav/calendars/alice/", got)

	got, err = w.Resolve("https://other.example.com/x")
	require.NoError(t, err)
	assert.Equal(t, "https://other.example.com/x", got)
}

func TestBasicAuthTransportRequiresUsername(t *testing.T) {
	tr := NewBasicAuthTransport("", "", nil, nil)
	req := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)
	_, err := tr.RoundTrip(req)
	assert.Error(t, err)
}
