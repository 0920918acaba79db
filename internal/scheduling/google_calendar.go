package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// bookingRefProperty keys the appointment ID inside the event's private
// extended properties.
const bookingRefProperty = "atendeai_booking_ref"

// GoogleCalendar implements CalendarAPI against the Google Calendar v3
// API using a service account.
type GoogleCalendar struct {
	svc        *calendar.Service
	calendarID string
	tz         string
}

// NewGoogleCalendar builds the client from a service account
// credentials file.
func NewGoogleCalendar(ctx context.Context, calendarID, credentialsFile string, loc *time.Location) (*GoogleCalendar, error) {
	if calendarID == "" {
		return nil, errors.New("scheduling: calendar ID required")
	}
	svc, err := calendar.NewService(ctx, option.WithCredentialsFile(credentialsFile), option.WithScopes(calendar.CalendarEventsScope))
	if err != nil {
		return nil, fmt.Errorf("scheduling: create calendar service: %w", err)
	}
	tz := "UTC"
	if loc != nil {
		tz = loc.String()
	}
	return &GoogleCalendar{svc: svc, calendarID: calendarID, tz: tz}, nil
}

var _ CalendarAPI = (*GoogleCalendar)(nil)

// CreateEvent inserts the event and returns its remote ID.
func (g *GoogleCalendar) CreateEvent(ctx context.Context, event CalendarEvent) (string, error) {
	ev := &calendar.Event{
		Summary:     event.Summary,
		Description: event.Description,
		Start: &calendar.EventDateTime{
			DateTime: event.Start.Format(time.RFC3339),
			TimeZone: g.tz,
		},
		End: &calendar.EventDateTime{
			DateTime: event.End.Format(time.RFC3339),
			TimeZone: g.tz,
		},
	}
	if event.BookingRef != "" {
		ev.ExtendedProperties = &calendar.EventExtendedProperties{
			Private: map[string]string{bookingRefProperty: event.BookingRef},
		}
	}

	created, err := g.svc.Events.Insert(g.calendarID, ev).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("scheduling: insert calendar event: %w", err)
	}
	return created.Id, nil
}

// DeleteEvent removes the event. Already-deleted events are tolerated.
func (g *GoogleCalendar) DeleteEvent(ctx context.Context, eventID string) error {
	err := g.svc.Events.Delete(g.calendarID, eventID).Context(ctx).Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && (gerr.Code == 404 || gerr.Code == 410) {
			return nil
		}
		return fmt.Errorf("scheduling: delete calendar event: %w", err)
	}
	return nil
}

// ListEvents returns the non-cancelled events overlapping [from, to).
func (g *GoogleCalendar) ListEvents(ctx context.Context, from, to time.Time) ([]CalendarEvent, error) {
	call := g.svc.Events.List(g.calendarID).
		TimeMin(from.Format(time.RFC3339)).
		TimeMax(to.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx)

	var out []CalendarEvent
	err := call.Pages(ctx, func(page *calendar.Events) error {
		for _, item := range page.Items {
			if item.Status == "cancelled" {
				continue
			}
			ev, err := fromGoogleEvent(item)
			if err != nil {
				continue
			}
			out = append(out, ev)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scheduling: list calendar events: %w", err)
	}
	return out, nil
}

func fromGoogleEvent(item *calendar.Event) (CalendarEvent, error) {
	start, err := parseEventTime(item.Start)
	if err != nil {
		return CalendarEvent{}, err
	}
	end, err := parseEventTime(item.End)
	if err != nil {
		return CalendarEvent{}, err
	}
	ev := CalendarEvent{
		ID:          item.Id,
		Summary:     item.Summary,
		Description: item.Description,
		Start:       start,
		End:         end,
	}
	if item.ExtendedProperties != nil {
		ev.BookingRef = item.ExtendedProperties.Private[bookingRefProperty]
	}
	return ev, nil
}

func parseEventTime(edt *calendar.EventDateTime) (time.Time, error) {
	if edt == nil {
		return time.Time{}, errors.New("scheduling: event missing time")
	}
	if edt.DateTime != "" {
		return time.Parse(time.RFC3339, edt.DateTime)
	}
	// All-day events carry only a date; treat midnight as the boundary.
	return time.Parse("2006-01-02", edt.Date)
}
