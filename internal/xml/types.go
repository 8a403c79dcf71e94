package xml

import (
	"strings"

	"github.com/beevik/etree"
)

// Name is a namespaced element name.
type Name struct {
	Space string
	Local string
}

// Properties used by the sync client
var (
	ResourceType            = Name{DAV, "resourcetype"}
	DisplayName             = Name{DAV, "displayname"}
	GetETag                 = Name{DAV, "getetag"}
	CurrentUserPrincipal    = Name{DAV, "current-user-principal"}
	CurrentUserPrivilegeSet = Name{DAV, "current-user-privilege-set"}
	Href                    = Name{DAV, "href"}
	Collection              = Name{DAV, "collection"}

	CalendarHomeSet = Name{CalDAV, "calendar-home-set"}
	Calendar        = Name{CalDAV, "calendar"}
	CalendarData    = Name{CalDAV, "calendar-data"}

	AddressbookHomeSet = Name{CardDAV, "addressbook-home-set"}
	Addressbook        = Name{CardDAV, "addressbook"}
	AddressData        = Name{CardDAV, "address-data"}

	CalendarColor = Name{AppleICal, "calendar-color"}
	GetCTag       = Name{CalendarServer, "getctag"}
)

// Property is a parsed XML property with its children.
type Property struct {
	Name     Name
	Text     string
	Children []Property
}

// Child returns the first direct child named n.
func (p Property) Child(n Name) (Property, bool) {
	for _, c := range p.Children {
		if c.Name == n {
			return c, true
		}
	}
	return Property{}, false
}

// Has reports whether p has a direct child named n.
func (p Property) Has(n Name) bool {
	_, ok := p.Child(n)
	return ok
}

// HrefText returns the text of the href child, as used by
// current-user-principal and the home-set properties.
func (p Property) HrefText() string {
	if h, ok := p.Child(Href); ok {
		return strings.TrimSpace(h.Text)
	}
	return ""
}

func propertyFromElement(elem *etree.Element) Property {
	p := Property{
		Name: Name{Space: elem.NamespaceURI(), Local: elem.Tag},
		Text: elem.Text(),
	}
	for _, child := range elem.ChildElements() {
		p.Children = append(p.Children, propertyFromElement(child))
	}
	return p
}
