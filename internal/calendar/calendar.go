package calendar

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"elena/agent/internal/types"
)

// Client mirrors a committed booking into an external calendar and returns
// the external event reference.
type Client interface {
	Sync(ctx context.Context, b types.Booking) (string, error)
}

// Google writes one event per booking into a single calendar.
type Google struct {
	events     *gcal.EventsService
	calendarID string
	loc        *time.Location
}

func NewGoogle(ctx context.Context, credentialsFile, calendarID string, loc *time.Location) (*Google, error) {
	svc, err := gcal.NewService(ctx,
		option.WithCredentialsFile(credentialsFile),
		option.WithScopes(gcal.CalendarEventsScope),
	)
	if err != nil {
		return nil, fmt.Errorf("calendar service: %w", err)
	}
	return &Google{events: svc.Events, calendarID: calendarID, loc: loc}, nil
}

func (g *Google) Sync(ctx context.Context, b types.Booking) (string, error) {
	ev, err := eventFor(b, g.loc)
	if err != nil {
		return "", err
	}
	out, err := g.events.Insert(g.calendarID, ev).Context(ctx).Do()
	if err != nil {
		return "", err
	}
	return out.Id, nil
}

func eventFor(b types.Booking, loc *time.Location) (*gcal.Event, error) {
	day, err := types.ParseDate(b.Fecha, loc)
	if err != nil {
		return nil, err
	}
	start, end, err := b.Span()
	if err != nil {
		return nil, err
	}
	from := day.Add(time.Duration(start) * time.Minute)
	to := day.Add(time.Duration(end) * time.Minute)

	summary := b.Motivo
	if summary == "" {
		summary = b.Servicio
	}
	return &gcal.Event{
		Summary:     fmt.Sprintf("%s · %s", summary, b.Nombre),
		Description: fmt.Sprintf("Cita %s\nNombre: %s\nEmail: %s\nTeléfono: %s", b.ID, b.Nombre, b.Email, b.Telefono),
		Start:       &gcal.EventDateTime{DateTime: from.Format(time.RFC3339), TimeZone: loc.String()},
		End:         &gcal.EventDateTime{DateTime: to.Format(time.RFC3339), TimeZone: loc.String()},
	}, nil
}

// Retrying retries transient failures with exponential backoff, bounded by
// MaxRetries and the caller's context.
type Retrying struct {
	Next       Client
	MaxRetries uint64
	Initial    time.Duration
}

func (r Retrying) Sync(ctx context.Context, b types.Booking) (string, error) {
	bo := backoff.NewExponentialBackOff()
	if r.Initial > 0 {
		bo.InitialInterval = r.Initial
	}
	var ref string
	err := backoff.Retry(func() error {
		id, err := r.Next.Sync(ctx, b)
		if err != nil {
			if !retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		ref = id
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, r.MaxRetries), ctx))
	return ref, err
}

// retryable treats 4xx responses other than 408/429 as permanent.
func retryable(err error) bool {
	if gerr, ok := err.(*googleapi.Error); ok {
		if gerr.Code >= 400 && gerr.Code < 500 {
			return gerr.Code == 408 || gerr.Code == 429
		}
	}
	return true
}
