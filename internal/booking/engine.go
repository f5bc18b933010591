package booking

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"elena/agent/internal/availability"
	"elena/agent/internal/store"
	"elena/agent/internal/types"
)

// Availability is what the engine needs from the availability service.
type Availability interface {
	Query(ctx context.Context, fecha string) (types.AvailabilityWindow, error)
	Remember(ctx context.Context, b types.Booking)
	Forget(ctx context.Context, b types.Booking)
	Hours() availability.Hours
}

// Syncer mirrors a booking into a secondary calendar.
type Syncer interface {
	Sync(ctx context.Context, b types.Booking) (string, error)
}

type Options struct {
	DefaultService  string
	DefaultDuration int
	MaxDuration     int
	WindowDays      int
	Location        *time.Location
	SyncTimeout     time.Duration
	Now             func() time.Time
}

type Engine struct {
	store store.Store
	avail Availability
	sync  Syncer
	opts  Options
	log   *zap.Logger

	wg sync.WaitGroup
}

// New builds the engine. sync may be nil.
func New(st store.Store, av Availability, sy Syncer, opts Options, log *zap.Logger) *Engine {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.DefaultDuration < 1 {
		opts.DefaultDuration = 1
	}
	if opts.MaxDuration < opts.DefaultDuration {
		opts.MaxDuration = opts.DefaultDuration
	}
	if opts.SyncTimeout <= 0 {
		opts.SyncTimeout = 20 * time.Second
	}
	return &Engine{store: st, avail: av, sync: sy, opts: opts, log: log}
}

// Commit validates the intent, checks the slot, and writes a pending booking.
// It returns *types.ValidationError, *types.ConflictError, or an error
// wrapping types.ErrStorage.
func (e *Engine) Commit(ctx context.Context, in types.BookingIntent) (types.Booking, error) {
	b, err := e.normalize(in)
	if err != nil {
		metricCommits.WithLabelValues("invalid").Inc()
		return types.Booking{}, err
	}

	w, err := e.avail.Query(ctx, b.Fecha)
	switch {
	case err == nil:
		start, _, _ := b.Span()
		for i := 0; i < b.Duracion*60; i += e.avail.Hours().Slot {
			if !w.IsFree(types.FormatClock(start + i)) {
				metricCommits.WithLabelValues("conflict").Inc()
				return types.Booking{}, &types.ConflictError{Fecha: b.Fecha, Hora: b.Hora}
			}
		}
	case errors.Is(err, availability.ErrUnavailable):
		// the store constraint still decides
		e.log.Warn("committing without availability pre-check", zap.String("fecha", b.Fecha), zap.Error(err))
	default:
		return types.Booking{}, err
	}

	b.ID = uuid.NewString()
	b.Estado = types.EstadoPending
	b.CreatedAt = e.opts.Now().UTC()

	if err := e.store.Insert(ctx, b); err != nil {
		if errors.Is(err, store.ErrOverlap) {
			metricCommits.WithLabelValues("conflict").Inc()
			return types.Booking{}, &types.ConflictError{Fecha: b.Fecha, Hora: b.Hora}
		}
		metricCommits.WithLabelValues("storage_error").Inc()
		e.log.Error("booking insert failed", zap.String("fecha", b.Fecha), zap.String("hora", b.Hora), zap.Error(err))
		return types.Booking{}, fmt.Errorf("%w: %v", types.ErrStorage, err)
	}
	metricCommits.WithLabelValues("committed").Inc()
	e.log.Info("booking committed",
		zap.String("booking_id", b.ID), zap.String("fecha", b.Fecha), zap.String("hora", b.Hora), zap.Int("duracion", b.Duracion))

	e.avail.Remember(ctx, b)
	e.syncAsync(b)
	return b, nil
}

func (e *Engine) Get(ctx context.Context, id string) (types.Booking, error) {
	return e.store.Get(ctx, id)
}

// Confirm is the external confirmation hook.
func (e *Engine) Confirm(ctx context.Context, id string) (types.Booking, error) {
	b, err := e.store.Transition(ctx, id, types.EstadoConfirmed)
	if err != nil {
		return b, err
	}
	metricTransitions.WithLabelValues(string(types.EstadoConfirmed)).Inc()
	return b, nil
}

func (e *Engine) Cancel(ctx context.Context, id string) (types.Booking, error) {
	b, err := e.store.Transition(ctx, id, types.EstadoCancelled)
	if err != nil {
		return b, err
	}
	metricTransitions.WithLabelValues(string(types.EstadoCancelled)).Inc()
	e.avail.Forget(ctx, b)
	return b, nil
}

// Wait blocks until in-flight calendar syncs finish.
func (e *Engine) Wait() { e.wg.Wait() }

func (e *Engine) syncAsync(b types.Booking) {
	if e.sync == nil {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), e.opts.SyncTimeout)
		defer cancel()

		ref, err := e.sync.Sync(ctx, b)
		if err != nil {
			metricSyncFailures.Inc()
			e.log.Warn("secondary calendar sync failed",
				zap.String("booking_id", b.ID), zap.Error(fmt.Errorf("%w: %v", types.ErrSecondarySync, err)))
			return
		}
		if err := e.store.SetExternalRef(ctx, b.ID, ref); err != nil {
			e.log.Warn("storing external ref failed", zap.String("booking_id", b.ID), zap.Error(err))
			return
		}
		e.log.Debug("booking mirrored", zap.String("booking_id", b.ID), zap.String("external_ref", ref))
	}()
}

// normalize re-validates the intent independently of the extractor and fills
// defaults.
func (e *Engine) normalize(in types.BookingIntent) (types.Booking, error) {
	if !in.Agendar {
		return types.Booking{}, &types.ValidationError{Fields: []string{"agendar"}, Reason: "not a booking request"}
	}
	b := types.Booking{
		Nombre:   strings.TrimSpace(in.Nombre),
		Email:    strings.TrimSpace(in.Email),
		Telefono: strings.TrimSpace(in.Telefono),
		Fecha:    strings.TrimSpace(in.Fecha),
		Servicio: strings.TrimSpace(in.Servicio),
		Duracion: in.Duracion,
	}
	var missing []string
	if b.Nombre == "" {
		missing = append(missing, "nombre")
	}
	if b.Fecha == "" {
		missing = append(missing, "fecha")
	}
	if strings.TrimSpace(in.Hora) == "" {
		missing = append(missing, "hora")
	}
	if len(missing) > 0 {
		return b, &types.ValidationError{Fields: missing, Reason: "missing"}
	}

	day, err := types.ParseDate(b.Fecha, e.opts.Location)
	if err != nil {
		return b, &types.ValidationError{Fields: []string{"fecha"}, Reason: "malformed"}
	}
	start, err := types.ParseClock(in.Hora)
	if err != nil {
		return b, &types.ValidationError{Fields: []string{"hora"}, Reason: "malformed"}
	}
	b.Hora = types.FormatClock(start)

	if b.Email != "" {
		if _, err := mail.ParseAddress(b.Email); err != nil {
			return b, &types.ValidationError{Fields: []string{"email"}, Reason: "malformed"}
		}
	}
	if b.Servicio == "" {
		b.Servicio = e.opts.DefaultService
	}
	if b.Duracion == 0 {
		b.Duracion = e.opts.DefaultDuration
	}
	if b.Duracion < 1 || b.Duracion > e.opts.MaxDuration {
		return b, &types.ValidationError{Fields: []string{"duracion"}, Reason: fmt.Sprintf("must be 1-%d hours", e.opts.MaxDuration)}
	}

	h := e.avail.Hours()
	if !h.Aligned(start) {
		return b, &types.ValidationError{Fields: []string{"hora"}, Reason: "outside business hours"}
	}
	if start+b.Duracion*60 > h.Close {
		return b, &types.ValidationError{Fields: []string{"duracion"}, Reason: "ends after closing time"}
	}

	now := e.opts.Now().In(e.opts.Location)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, e.opts.Location)
	if day.Before(today) {
		return b, &types.ValidationError{Fields: []string{"fecha"}, Reason: "in the past"}
	}
	if e.opts.WindowDays > 0 && day.After(today.AddDate(0, 0, e.opts.WindowDays)) {
		return b, &types.ValidationError{Fields: []string{"fecha"}, Reason: "beyond booking window"}
	}
	if day.Equal(today) && start <= now.Hour()*60+now.Minute() {
		return b, &types.ValidationError{Fields: []string{"hora"}, Reason: "in the past"}
	}

	b.Motivo = fmt.Sprintf("%s - %dh", b.Servicio, b.Duracion)
	return b, nil
}
