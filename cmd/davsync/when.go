package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/cyp0633/libcaldora-sync/internal/config"
	"github.com/cyp0633/libcaldora-sync/resource"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

var naturalTime = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

var dateLayouts = []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02"}

// parseTime accepts RFC 3339, a plain date, or English phrases such as
// "next monday" or "in 2 weeks", all relative to now.
func parseTime(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time")
	}
	switch strings.ToLower(s) {
	case "now":
		return now, nil
	case "today":
		y, m, d := now.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, now.Location()), nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, now.Location()); err == nil {
			return t, nil
		}
	}

	r, err := naturalTime.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse time %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("unrecognized time %q", s)
	}
	return r.Time, nil
}

// parseWindow resolves --from/--to. Empty bounds fall back to the
// configured window around now.
func parseWindow(from, to string, cfg *config.Config, now time.Time) (resource.DateRange, error) {
	window := cfg.Window(now)
	if from != "" {
		t, err := parseTime(from, now)
		if err != nil {
			return resource.DateRange{}, err
		}
		window.Start = t
	}
	if to != "" {
		t, err := parseTime(to, now)
		if err != nil {
			return resource.DateRange{}, err
		}
		window.End = t
	}
	if !window.End.After(window.Start) {
		return resource.DateRange{}, fmt.Errorf("window end %s is not after start %s",
			window.End.Format(time.RFC3339), window.Start.Format(time.RFC3339))
	}
	return window, nil
}
