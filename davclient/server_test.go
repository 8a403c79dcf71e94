package davclient

import (
	"fmt"
	"html"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/beevik/etree"
)

const (
	principalPath = "/principals/alice/"
	calendarHome  = "/calendars/alice/"
	contactHome   = "/addressbooks/alice/"
)

type object struct {
	etag string
	data string
}

type collection struct {
	name    string
	color   string
	card    bool
	objects map[string]*object
}

// davServer is a minimal CalDAV/CardDAV server for client tests.
type davServer struct {
	t *testing.T

	mu          sync.Mutex
	collections map[string]*collection
	seq         int
	// omitETag drops the ETag header from PUT responses.
	omitETag bool
	// wellKnownOnly makes the root reject PROPFIND so discovery must use the
	// well-known URI.
	wellKnownOnly bool
	requests      []string
}

func newDAVServer(t *testing.T) (*davServer, *httptest.Server) {
	s := &davServer{
		t: t,
		collections: map[string]*collection{
			calendarHome + "work/":   {name: "Work", color: "#FF9500FF", objects: map[string]*object{}},
			calendarHome + "home/":   {name: "", objects: map[string]*object{}},
			contactHome + "personal/": {name: "Personal", card: true, objects: map[string]*object{}},
		},
	}
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	return s, srv
}

func (s *davServer) put(path, data string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putLocked(path, data)
}

func (s *davServer) putLocked(path, data string) string {
	col := s.collections[path[:strings.LastIndex(path, "/")+1]]
	s.seq++
	etag := fmt.Sprintf(`"%d"`, s.seq)
	col.objects[path] = &object{etag: etag, data: data}
	return etag
}

func (s *davServer) object(path string) (*object, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	col, ok := s.collections[path[:strings.LastIndex(path, "/")+1]]
	if !ok {
		return nil, false
	}
	o, ok := col.objects[path]
	return o, ok
}

func (s *davServer) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

func (s *davServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if user, pass, ok := r.BasicAuth(); !ok || user != "alice" || pass != "secret" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	body, _ := io.ReadAll(r.Body)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, r.Method+" "+r.URL.Path)

	switch r.Method {
	case "PROPFIND":
		s.propfind(w, r.URL.Path, r.Header.Get("Depth"))
	case "REPORT":
		s.report(w, r.URL.Path)
	case http.MethodPut:
		s.handlePut(w, r, string(body))
	case http.MethodDelete:
		s.handleDelete(w, r)
	case "PROPPATCH":
		s.proppatch(w, r.URL.Path, body)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func multistatus(w http.ResponseWriter, responses ...string) {
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(http.StatusMultiStatus)
	fmt.Fprintf(w, `<?xml version="1.0" encoding="utf-8"?>
<d:multistatus xmlns:d="DAV:" xmlns:cal="urn:ietf:params:xml:ns:caldav" xmlns:card="urn:ietf:params:xml:ns:carddav" xmlns:ical="http://apple.com/ns/ical/">%s</d:multistatus>`,
		strings.Join(responses, ""))
}

func response(href, props string) string {
	return fmt.Sprintf(`<d:response><d:href>%s</d:href><d:propstat><d:prop>%s</d:prop><d:status>HTTP/1.1 200 OK</d:status></d:propstat></d:response>`, href, props)
}

func (s *davServer) propfind(w http.ResponseWriter, path, depth string) {
	switch {
	case path == "/" && s.wellKnownOnly:
		w.WriteHeader(http.StatusForbidden)
	case path == "/" || strings.HasPrefix(path, "/.well-known/"):
		multistatus(w, response(path, `<d:current-user-principal><d:href>`+principalPath+`</d:href></d:current-user-principal>`))
	case path == principalPath:
		multistatus(w, response(path,
			`<cal:calendar-home-set><d:href>`+calendarHome+`</d:href></cal:calendar-home-set>`+
				`<card:addressbook-home-set><d:href>`+contactHome+`</d:href></card:addressbook-home-set>`))
	case path == calendarHome || path == contactHome:
		resps := []string{response(path, `<d:resourcetype><d:collection/></d:resourcetype>`)}
		if depth == "1" {
			for p, col := range s.collections {
				if !strings.HasPrefix(p, path) {
					continue
				}
				kind := `<cal:calendar/>`
				if col.card {
					kind = `<card:addressbook/>`
				}
				props := `<d:resourcetype><d:collection/>` + kind + `</d:resourcetype>`
				if col.name != "" {
					props += `<d:displayname>` + html.EscapeString(col.name) + `</d:displayname>`
				}
				if col.color != "" {
					props += `<ical:calendar-color>` + col.color + `</ical:calendar-color>`
				}
				resps = append(resps, response(p, props))
			}
		}
		multistatus(w, resps...)
	default:
		col, ok := s.collections[path[:strings.LastIndex(path, "/")+1]]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		o, ok := col.objects[path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		multistatus(w, response(path, `<d:getetag>`+html.EscapeString(o.etag)+`</d:getetag>`))
	}
}

func (s *davServer) report(w http.ResponseWriter, path string) {
	col, ok := s.collections[path]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	tag := "cal:calendar-data"
	if col.card {
		tag = "card:address-data"
	}
	var resps []string
	for href, o := range col.objects {
		resps = append(resps, response(href,
			`<d:getetag>`+html.EscapeString(o.etag)+`</d:getetag><`+tag+`>`+html.EscapeString(o.data)+`</`+tag+`>`))
	}
	multistatus(w, resps...)
}

func (s *davServer) handlePut(w http.ResponseWriter, r *http.Request, data string) {
	path := r.URL.Path
	col, ok := s.collections[path[:strings.LastIndex(path, "/")+1]]
	if !ok {
		w.WriteHeader(http.StatusConflict)
		return
	}
	existing, exists := col.objects[path]
	if r.Header.Get("If-None-Match") == "*" && exists {
		w.WriteHeader(http.StatusPreconditionFailed)
		return
	}
	if m := r.Header.Get("If-Match"); m != "" && (!exists || existing.etag != m) {
		w.WriteHeader(http.StatusPreconditionFailed)
		return
	}

	etag := s.putLocked(path, data)
	if !s.omitETag {
		w.Header().Set("ETag", etag)
	}
	if exists {
		w.WriteHeader(http.StatusNoContent)
	} else {
		w.WriteHeader(http.StatusCreated)
	}
}

func (s *davServer) handleDelete(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	col, ok := s.collections[path[:strings.LastIndex(path, "/")+1]]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	o, ok := col.objects[path]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if m := r.Header.Get("If-Match"); m != "" && o.etag != m {
		w.WriteHeader(http.StatusPreconditionFailed)
		return
	}
	delete(col.objects, path)
	w.WriteHeader(http.StatusNoContent)
}

func (s *davServer) proppatch(w http.ResponseWriter, path string, body []byte) {
	col, ok := s.collections[path]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	for _, prop := range doc.FindElements("//prop/*") {
		switch prop.Tag {
		case "displayname":
			col.name = prop.Text()
		case "calendar-color":
			col.color = prop.Text()
		}
	}
	multistatus(w, response(path, `<d:displayname/>`))
}
