package calendar

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"elena/agent/internal/types"
)

type flakyClient struct {
	failures int
	err      error
	calls    int
}

func (f *flakyClient) Sync(context.Context, types.Booking) (string, error) {
	f.calls++
	if f.calls <= f.failures {
		return "", f.err
	}
	return "evt-42", nil
}

var sample = types.Booking{
	ID: "b1", Fecha: "2025-11-18", Hora: "15:00", Duracion: 2,
	Nombre: "Juan", Email: "juan@x.com", Servicio: "Perifoneo", Motivo: "Perifoneo - 2h",
}

func TestRetryingRecoversFromTransientErrors(t *testing.T) {
	f := &flakyClient{failures: 2, err: errors.New("503")}
	r := Retrying{Next: f, MaxRetries: 3, Initial: time.Millisecond}

	ref, err := r.Sync(context.Background(), sample)
	require.NoError(t, err)
	assert.Equal(t, "evt-42", ref)
	assert.Equal(t, 3, f.calls)
}

func TestRetryingGivesUpOnPermanentErrors(t *testing.T) {
	f := &flakyClient{failures: 10, err: &googleapi.Error{Code: 403}}
	r := Retrying{Next: f, MaxRetries: 5, Initial: time.Millisecond}

	_, err := r.Sync(context.Background(), sample)
	require.Error(t, err)
	assert.Equal(t, 1, f.calls)
}

func TestRetryingIsBounded(t *testing.T) {
	f := &flakyClient{failures: 10, err: errors.New("timeout")}
	r := Retrying{Next: f, MaxRetries: 2, Initial: time.Millisecond}

	_, err := r.Sync(context.Background(), sample)
	require.Error(t, err)
	assert.Equal(t, 3, f.calls)
}

func TestEventForUsesBookingSpan(t *testing.T) {
	loc := time.FixedZone("CST", -6*3600)
	ev, err := eventFor(sample, loc)
	require.NoError(t, err)
	assert.Equal(t, "2025-11-18T15:00:00-06:00", ev.Start.DateTime)
	assert.Equal(t, "2025-11-18T17:00:00-06:00", ev.End.DateTime)
	assert.Contains(t, ev.Summary, "Perifoneo - 2h")
	assert.Contains(t, ev.Summary, "Juan")
}
