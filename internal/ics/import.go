package ics

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "keydates/internal/log"
	"keydates/internal/model"
)

// Import reads every VEVENT of an ICS payload into events.
//
//   - UID becomes the event id; a VEVENT without UID gets a new id.
//   - DTSTART in UTC or with a TZID is converted to loc; floating values
//     and all-day dates are read as wall-clock time in loc (all-day → 00:00).
//   - SUMMARY and DESCRIPTION map to title and description.
//
// A VEVENT that cannot be read is logged and skipped; the others are kept.
// RRULE and other recurrence properties are ignored.
func Import(r io.Reader, loc *time.Location) ([]model.Event, error) {
	if loc == nil {
		loc = time.Local
	}

	cal, err := ical.ParseCalendar(r)
	if err != nil {
		appLog.Error("ics parse failed", err)
		return nil, fmt.Errorf("parse calendar: %w", err)
	}

	events := make([]model.Event, 0)
	for _, ve := range cal.Events() {
		ev, perr := parseVEvent(ve, loc)
		if perr != nil {
			appLog.Error("ics vevent skipped", perr, "uid", propValue(ve, ical.ComponentPropertyUniqueId))
			continue
		}
		events = append(events, ev)
	}

	appLog.Info("ics import parsed", "event_count", len(events))
	return events, nil
}

func parseVEvent(ve *ical.VEvent, loc *time.Location) (model.Event, error) {
	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil || strings.TrimSpace(dtStart.Value) == "" {
		return model.Event{}, errors.New("missing DTSTART")
	}

	zone := loc
	if params := dtStart.ICalParameters; params != nil {
		if tzs, ok := params["TZID"]; ok && len(tzs) > 0 {
			tz, err := time.LoadLocation(tzs[0])
			if err != nil {
				return model.Event{}, fmt.Errorf("DTSTART TZID %q: %w", tzs[0], err)
			}
			zone = tz
		}
	}

	start, err := parseICSTime(dtStart.Value, zone)
	if err != nil {
		return model.Event{}, fmt.Errorf("DTSTART: %w", err)
	}

	id := propValue(ve, ical.ComponentPropertyUniqueId)
	if id == "" {
		id = model.NewID()
	}

	ev := model.Event{
		ID:          id,
		Title:       unescapeText(propValue(ve, ical.ComponentPropertySummary)),
		Description: unescapeText(propValue(ve, ical.ComponentPropertyDescription)),
	}
	ev.SetTime(start.In(loc))
	return ev, nil
}

func propValue(ve *ical.VEvent, p ical.ComponentProperty) string {
	if prop := ve.GetProperty(p); prop != nil {
		return prop.Value
	}
	return ""
}

// parseICSTime parses a DATE or DATE-TIME value. UTC values keep their
// instant; floating and date-only values are wall-clock time in loc.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}

	// UTC form, e.g., 20250101T090000Z
	if strings.HasSuffix(v, "Z") {
		const layout = "20060102T150405Z"
		return time.Parse(layout, v)
	}

	if strings.Contains(v, "T") {
		return time.ParseInLocation(floatingLayout, v, loc)
	}

	// Date-only (all-day), e.g., 20250101
	const layoutDate = "20060102"
	return time.ParseInLocation(layoutDate, v, loc)
}

var textUnescaper = strings.NewReplacer(`\\`, `\`, `\,`, `,`, `\;`, `;`, `\n`, "\n", `\N`, "\n")

// unescapeText undoes RFC 5545 TEXT escaping left in property values.
func unescapeText(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	return textUnescaper.Replace(s)
}
