package ics

import (
	"io"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "keydates/internal/log"
	"keydates/internal/model"
)

const productID = "-//keydates//Event Reminder//EN"

// Floating local date-time, e.g. 20250101T090000.
const floatingLayout = "20060102T150405"

// Export writes events as one VCALENDAR with a VEVENT per event.
//
// UID is the event id. DTSTART is written as floating local time, the same
// wall-clock fields the event stores, so it fires at that local time
// wherever the calendar is opened. stamp becomes every DTSTAMP.
func Export(w io.Writer, events []model.Event, stamp time.Time) error {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)

	for _, ev := range events {
		ve := cal.AddEvent(ev.ID)
		ve.SetDtStampTime(stamp)
		ve.SetProperty(ical.ComponentPropertyDtStart, wallClock(ev).Format(floatingLayout))
		ve.SetSummary(ev.Title)
		if ev.Description != "" {
			ve.SetDescription(ev.Description)
		}
	}

	if _, err := io.WriteString(w, cal.Serialize()); err != nil {
		return err
	}
	appLog.Debug("ics export completed", "event_count", len(events))
	return nil
}

// wallClock carries the event's fields in a time.Time without a zone
// conversion; only the fields matter to the floating layout.
func wallClock(ev model.Event) time.Time {
	return time.Date(ev.Year, time.Month(ev.Month), ev.Day, ev.Hour, ev.Minute, 0, 0, time.UTC)
}
