package xml

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/beevik/etree"
)

// MultistatusResponse represents a multistatus response
type MultistatusResponse struct {
	Responses []Response
}

// Response represents a single response within a multistatus
type Response struct {
	Href      string
	PropStats []PropStat
	// Status is set when the response carries a status instead of propstats.
	Status string
}

// PropStat represents property status in a response
type PropStat struct {
	Props  []Property
	Status string
}

// ParseMultistatus parses a multistatus body. Elements are matched by
// namespace URI, so any prefix the server picks is accepted.
func ParseMultistatus(data []byte) (*MultistatusResponse, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("failed to parse multistatus: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("empty document")
	}
	if !is(root, DAV, "multistatus") {
		return nil, fmt.Errorf("invalid root tag: %s", root.FullTag())
	}

	var m MultistatusResponse
	for _, respElem := range children(root, DAV, "response") {
		var resp Response
		if href := child(respElem, DAV, "href"); href != nil {
			resp.Href = strings.TrimSpace(href.Text())
		}
		if status := child(respElem, DAV, "status"); status != nil {
			resp.Status = strings.TrimSpace(status.Text())
		}
		for _, psElem := range children(respElem, DAV, "propstat") {
			var ps PropStat
			if prop := child(psElem, DAV, "prop"); prop != nil {
				for _, p := range prop.ChildElements() {
					ps.Props = append(ps.Props, propertyFromElement(p))
				}
			}
			if status := child(psElem, DAV, "status"); status != nil {
				ps.Status = strings.TrimSpace(status.Text())
			}
			resp.PropStats = append(resp.PropStats, ps)
		}
		m.Responses = append(m.Responses, resp)
	}
	return &m, nil
}

// Prop returns property n from the first successful propstat.
func (r Response) Prop(n Name) (Property, bool) {
	for _, ps := range r.PropStats {
		if StatusCode(ps.Status) != 200 {
			continue
		}
		for _, p := range ps.Props {
			if p.Name == n {
				return p, true
			}
		}
	}
	return Property{}, false
}

// Text returns the trimmed text of property n, or "".
func (r Response) Text(n Name) string {
	p, ok := r.Prop(n)
	if !ok {
		return ""
	}
	return strings.TrimSpace(p.Text)
}

// OK reports whether the response as a whole succeeded. A response with only
// propstats is judged by those.
func (r Response) OK() bool {
	if r.Status != "" {
		code := StatusCode(r.Status)
		return code >= 200 && code < 300
	}
	for _, ps := range r.PropStats {
		if StatusCode(ps.Status) == 200 {
			return true
		}
	}
	return false
}

// StatusCode extracts the code from a status line such as
// "HTTP/1.1 404 Not Found". It returns 0 when none is found.
func StatusCode(status string) int {
	fields := strings.Fields(status)
	if len(fields) < 2 {
		return 0
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0
	}
	return code
}

func is(elem *etree.Element, ns, tag string) bool {
	return elem.Tag == tag && elem.NamespaceURI() == ns
}

func child(elem *etree.Element, ns, tag string) *etree.Element {
	for _, c := range elem.ChildElements() {
		if is(c, ns, tag) {
			return c
		}
	}
	return nil
}

func children(elem *etree.Element, ns, tag string) []*etree.Element {
	var out []*etree.Element
	for _, c := range elem.ChildElements() {
		if is(c, ns, tag) {
			out = append(out, c)
		}
	}
	return out
}
