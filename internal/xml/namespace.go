package xml

import "github.com/beevik/etree"

// Namespace definitions for WebDAV, CalDAV and CardDAV
const (
	// DAV is the WebDAV namespace
	DAV = "DAV:"
	// CalDAV is the CalDAV namespace
	CalDAV = "urn:ietf:params:xml:ns:caldav"
	// CardDAV is the CardDAV namespace
	CardDAV = "urn:ietf:params:xml:ns:carddav"
	// CalendarServer is the Calendar Server namespace (used by some implementations)
	CalendarServer = "http://calendarserver.org/ns/"
	// AppleICal carries calendar-color and calendar-order
	AppleICal = "http://apple.com/ns/ical/"
)

var prefixes = map[string]string{
	DAV:            "D",
	CalDAV:         "C",
	CardDAV:        "CR",
	CalendarServer: "CS",
	AppleICal:      "A",
}

// Prefix returns the prefix used for ns in generated documents.
func Prefix(ns string) string {
	return prefixes[ns]
}

// newDocument creates a document whose root is ns:tag and declares every
// known namespace on it.
func newDocument(ns, tag string) (*etree.Document, *etree.Element) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := doc.CreateElement(tag)
	root.Space = Prefix(ns)
	for _, uri := range []string{DAV, CalDAV, CardDAV, CalendarServer, AppleICal} {
		root.CreateAttr("xmlns:"+Prefix(uri), uri)
	}
	return doc, root
}

// createElement adds a child element in namespace ns.
func createElement(parent *etree.Element, n Name) *etree.Element {
	elem := parent.CreateElement(n.Local)
	elem.Space = Prefix(n.Space)
	return elem
}
