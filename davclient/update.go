package davclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/cyp0633/libcaldora-sync/internal/httpclient"
	"github.com/cyp0633/libcaldora-sync/internal/xml"
	"github.com/cyp0633/libcaldora-sync/resource"
)

// objectURL returns href if known, else the URL a new object named after uid
// gets inside the collection.
func objectURL(collectionURL, href, uid, ext string) string {
	if href != "" {
		return resolve(collectionURL, href)
	}
	if !strings.HasSuffix(collectionURL, "/") {
		collectionURL += "/"
	}
	return resolve(collectionURL, "./"+url.PathEscape(uid)+ext)
}

// put uploads data and returns the new version. When the server omits the
// ETag header it is fetched with a PROPFIND; failing that the version only
// carries the href.
func (c *Client) put(ctx context.Context, href string, cond httpclient.Precondition, contentType string, data []byte) (resource.Version, error) {
	etag, err := c.http.DoPUT(ctx, href, cond, contentType, data)
	if err != nil {
		return resource.Version{}, mapWriteError(href, cond.IfMatch, err)
	}

	if etag == "" {
		ms, err := c.http.DoPROPFIND(ctx, href, 0, xml.GetETag)
		if err != nil {
			c.logger.Debug("failed to get new etag", "href", href, "error", err)
		} else {
			for _, r := range ms.Responses {
				if e := r.Text(xml.GetETag); e != "" {
					etag = e
					break
				}
			}
		}
	}
	return resource.Version{Href: href, ETag: etag}, nil
}

// CreateEvent uploads a new event. It fails with a conflict if an object with
// the same name already exists.
func (c *Client) CreateEvent(ctx context.Context, cal resource.Collection, ev resource.Event) (resource.Version, error) {
	data, err := encodeEvent(ev, c.now())
	if err != nil {
		return resource.Version{}, err
	}
	href := objectURL(cal.URL, ev.Href, ev.UID, ".ics")
	v, err := c.put(ctx, href, httpclient.Precondition{IfNoneMatch: true}, calendarContentType, data)
	if err != nil {
		return resource.Version{}, fmt.Errorf("failed to create calendar object: %w", err)
	}
	return v, nil
}

// UpdateEvent overwrites the event if the server still holds ev.ETag.
func (c *Client) UpdateEvent(ctx context.Context, cal resource.Collection, ev resource.Event) (resource.Version, error) {
	data, err := encodeEvent(ev, c.now())
	if err != nil {
		return resource.Version{}, err
	}
	href := objectURL(cal.URL, ev.Href, ev.UID, ".ics")
	v, err := c.put(ctx, href, httpclient.Precondition{IfMatch: ev.ETag}, calendarContentType, data)
	if err != nil {
		return resource.Version{}, fmt.Errorf("failed to update calendar object: %w", err)
	}
	return v, nil
}

// DeleteEvent removes the event. An object that is already gone counts as
// deleted.
func (c *Client) DeleteEvent(ctx context.Context, cal resource.Collection, ev resource.Event) error {
	href := objectURL(cal.URL, ev.Href, ev.UID, ".ics")
	if err := c.delete(ctx, href, ev.ETag); err != nil {
		return fmt.Errorf("failed to delete calendar object: %w", err)
	}
	return nil
}

func (c *Client) CreateContact(ctx context.Context, book resource.Collection, ct resource.Contact) (resource.Version, error) {
	data, err := encodeContact(ct)
	if err != nil {
		return resource.Version{}, err
	}
	href := objectURL(book.URL, ct.Href, ct.UID, ".vcf")
	v, err := c.put(ctx, href, httpclient.Precondition{IfNoneMatch: true}, vcardContentType, data)
	if err != nil {
		return resource.Version{}, fmt.Errorf("failed to create contact: %w", err)
	}
	return v, nil
}

func (c *Client) UpdateContact(ctx context.Context, book resource.Collection, ct resource.Contact) (resource.Version, error) {
	data, err := encodeContact(ct)
	if err != nil {
		return resource.Version{}, err
	}
	href := objectURL(book.URL, ct.Href, ct.UID, ".vcf")
	v, err := c.put(ctx, href, httpclient.Precondition{IfMatch: ct.ETag}, vcardContentType, data)
	if err != nil {
		return resource.Version{}, fmt.Errorf("failed to update contact: %w", err)
	}
	return v, nil
}

func (c *Client) DeleteContact(ctx context.Context, book resource.Collection, ct resource.Contact) error {
	href := objectURL(book.URL, ct.Href, ct.UID, ".vcf")
	if err := c.delete(ctx, href, ct.ETag); err != nil {
		return fmt.Errorf("failed to delete contact: %w", err)
	}
	return nil
}

func (c *Client) delete(ctx context.Context, href, etag string) error {
	err := c.http.DoDELETE(ctx, href, etag)
	if httpclient.HasStatus(err, http.StatusNotFound) {
		c.logger.Debug("object already deleted", "href", href)
		return nil
	}
	return mapWriteError(href, etag, err)
}

// UpdateCollectionProperties sets the display name and, for calendars, the
// color of col.
func (c *Client) UpdateCollectionProperties(ctx context.Context, col resource.Collection, changes resource.CollectionChanges) error {
	set := make(map[xml.Name]string)
	if changes.DisplayName != nil {
		set[xml.DisplayName] = *changes.DisplayName
	}
	if changes.Color != nil && col.Kind != resource.KindAddressBook {
		set[xml.CalendarColor] = *changes.Color
	}
	if len(set) == 0 {
		return nil
	}
	if _, err := c.http.DoPROPPATCH(ctx, col.URL, xml.Proppatch(set)); err != nil {
		return fmt.Errorf("failed to update properties of %s: %w", col.URL, err)
	}
	return nil
}
