package davclient

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/cyp0633/libcaldora-sync/internal/xml"
	"github.com/cyp0633/libcaldora-sync/resource"
)

type kindInfo struct {
	wellKnown    string
	homeSet      xml.Name
	resourceType xml.Name
}

var kinds = map[resource.CollectionKind]kindInfo{
	resource.KindCalendar:    {wellKnown: "caldav", homeSet: xml.CalendarHomeSet, resourceType: xml.Calendar},
	resource.KindAddressBook: {wellKnown: "carddav", homeSet: xml.AddressbookHomeSet, resourceType: xml.Addressbook},
}

// DiscoverCollections lists the calendars or address books in the user's
// home set.
func (c *Client) DiscoverCollections(ctx context.Context, kind resource.CollectionKind) ([]resource.Collection, error) {
	info, ok := kinds[kind]
	if !ok {
		return nil, fmt.Errorf("unknown collection kind %q", kind)
	}
	home, err := c.homeSet(ctx, kind, info)
	if err != nil {
		return nil, err
	}

	props := []xml.Name{xml.ResourceType, xml.DisplayName}
	if kind == resource.KindCalendar {
		props = append(props, xml.CalendarColor)
	}
	ms, err := c.http.DoPROPFIND(ctx, home, 1, props...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s collections: %w", kind, err)
	}

	collections := make([]resource.Collection, 0, len(ms.Responses))
	for _, r := range ms.Responses {
		if !r.OK() {
			continue
		}
		rt, ok := r.Prop(xml.ResourceType)
		if !ok || !rt.Has(info.resourceType) {
			continue
		}

		col := resource.Collection{
			URL:         resolve(home, r.Href),
			Kind:        kind,
			DisplayName: r.Text(xml.DisplayName),
		}
		if col.DisplayName == "" {
			col.DisplayName = path.Base(strings.TrimSuffix(r.Href, "/"))
		}
		if kind == resource.KindCalendar {
			col.Color = normalizeColor(r.Text(xml.CalendarColor))
		}
		collections = append(collections, col)
	}

	c.logger.Debug("discovered collections", "kind", kind, "home", home, "count", len(collections))
	return collections, nil
}

// homeSet finds the home set URL for kind, following the usual chain: the
// configured URL or the well-known URI, then the principal, then its home
// set property. The result is remembered.
func (c *Client) homeSet(ctx context.Context, kind resource.CollectionKind, info kindInfo) (string, error) {
	c.mu.Lock()
	home, ok := c.homes[kind]
	c.mu.Unlock()
	if ok {
		return home, nil
	}

	var principal string
	var lastErr error
	for _, loc := range c.candidates(info) {
		ms, err := c.http.DoPROPFIND(ctx, loc, 0, xml.CurrentUserPrincipal, info.homeSet)
		if err != nil {
			var ue *url.Error
			if errors.As(err, &ue) || ctx.Err() != nil {
				return "", fmt.Errorf("failed to discover %s home: %w", kind, err)
			}
			c.logger.Debug("discovery candidate rejected", "url", loc, "error", err)
			lastErr = err
			continue
		}

		for _, r := range ms.Responses {
			if p, ok := r.Prop(info.homeSet); ok && p.HrefText() != "" {
				home = resolve(loc, p.HrefText())
				break
			}
			if p, ok := r.Prop(xml.CurrentUserPrincipal); ok && p.HrefText() != "" && principal == "" {
				principal = resolve(loc, p.HrefText())
			}
		}
		if home != "" || principal != "" {
			break
		}
	}

	if home == "" {
		if principal == "" {
			if lastErr != nil {
				return "", fmt.Errorf("could not find current-user-principal: %w", lastErr)
			}
			return "", errors.New("could not find current-user-principal")
		}

		ms, err := c.http.DoPROPFIND(ctx, principal, 0, info.homeSet)
		if err != nil {
			return "", fmt.Errorf("failed to get %s: %w", info.homeSet.Local, err)
		}
		for _, r := range ms.Responses {
			if p, ok := r.Prop(info.homeSet); ok && p.HrefText() != "" {
				home = resolve(principal, p.HrefText())
				break
			}
		}
		if home == "" {
			return "", fmt.Errorf("no %s found", info.homeSet.Local)
		}
	}

	c.mu.Lock()
	c.homes[kind] = home
	c.mu.Unlock()
	c.logger.Info("discovered home set", "kind", kind, "url", home)
	return home, nil
}

// candidates lists where to look for the principal: the configured URL if it
// has a path, the well-known URI and the server root.
func (c *Client) candidates(info kindInfo) []string {
	var out []string
	if c.base.Path != "" && c.base.Path != "/" {
		out = append(out, c.base.String())
	}
	out = append(out,
		c.base.ResolveReference(&url.URL{Path: "/.well-known/" + info.wellKnown}).String(),
		c.base.ResolveReference(&url.URL{Path: "/"}).String(),
	)
	return out
}

// normalizeColor trims the alpha channel some servers append ("#RRGGBBAA").
func normalizeColor(s string) string {
	if len(s) == 9 && strings.HasPrefix(s, "#") {
		return s[:7]
	}
	return s
}
