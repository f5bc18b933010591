package availability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"elena/agent/internal/types"
)

// ErrUnavailable means the store could not be read and no snapshot exists
// for the date. Callers must not treat any slot as free.
var ErrUnavailable = errors.New("availability unavailable")

const (
	SourceStore    = "store"
	SourceSnapshot = "snapshot"
)

var (
	metricQueries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "availability_queries_total",
		Help: "Availability queries by answer source",
	}, []string{"source"})

	metricSnapshotErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "availability_snapshot_errors_total",
		Help: "Snapshot read/write failures",
	})
)

// Reader is the slice of the booking store availability needs.
type Reader interface {
	ActiveOn(ctx context.Context, fecha string) ([]types.Booking, error)
}

// Hours is the business day grid in minutes since midnight: [Open, Close)
// stepped by Slot.
type Hours struct {
	Open  int
	Close int
	Slot  int
}

func HoursFrom(openHour, closeHour, slotMinutes int) Hours {
	return Hours{Open: openHour * 60, Close: closeHour * 60, Slot: slotMinutes}
}

// Grid lists every slot start.
func (h Hours) Grid() []int {
	var out []int
	for t := h.Open; t+h.Slot <= h.Close; t += h.Slot {
		out = append(out, t)
	}
	return out
}

// Aligned reports whether minute m is a slot start.
func (h Hours) Aligned(m int) bool {
	return m >= h.Open && m < h.Close && (m-h.Open)%h.Slot == 0
}

type Service struct {
	store Reader
	snap  Snapshot
	hours Hours
	log   *zap.Logger

	// reads tracks dates with a store read in flight. Snapshot changes made
	// while a read is in flight are replayed onto its refresh so the refresh
	// cannot erase them.
	mu    sync.Mutex
	reads map[string]*pendingRead
}

type pendingRead struct {
	version uint64
	readers int
	changes map[string]change
}

type change struct {
	version uint64
	span    Span
	removed bool
}

// New wires the service. snap may be nil, in which case a store failure always
// fails closed.
func New(r Reader, snap Snapshot, h Hours, log *zap.Logger) *Service {
	return &Service{store: r, snap: snap, hours: h, log: log, reads: make(map[string]*pendingRead)}
}

func (s *Service) Hours() Hours { return s.hours }

// Query answers from the store and refreshes the snapshot. When the store
// read fails the answer comes from the snapshot flagged Degraded, or the call
// fails with ErrUnavailable.
func (s *Service) Query(ctx context.Context, fecha string) (types.AvailabilityWindow, error) {
	if _, err := types.ParseDate(fecha, nil); err != nil {
		return types.AvailabilityWindow{}, &types.ValidationError{Fields: []string{"fecha"}, Reason: "malformed"}
	}

	since := s.beginRead(fecha)
	bookings, err := s.store.ActiveOn(ctx, fecha)
	if err == nil {
		spans := spansOf(bookings)
		s.refresh(ctx, fecha, spans, since)
		s.endRead(fecha)
		metricQueries.WithLabelValues(SourceStore).Inc()
		return s.window(fecha, spans, false, SourceStore), nil
	}
	s.endRead(fecha)

	s.log.Warn("booking store read failed", zap.String("fecha", fecha), zap.Error(err))
	if s.snap != nil {
		spans, ok, serr := s.snap.Load(ctx, fecha)
		if serr != nil {
			metricSnapshotErrors.Inc()
			s.log.Warn("snapshot read failed", zap.String("fecha", fecha), zap.Error(serr))
		} else if ok {
			metricQueries.WithLabelValues(SourceSnapshot).Inc()
			return s.window(fecha, spans, true, SourceSnapshot), nil
		}
	}
	metricQueries.WithLabelValues("unavailable").Inc()
	return types.AvailabilityWindow{Fecha: fecha, Degraded: true}, fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// Remember records a committed booking in the snapshot.
func (s *Service) Remember(ctx context.Context, b types.Booking) {
	span, ok := spanOf(b)
	if s.snap == nil || !ok {
		return
	}
	s.record(b.Fecha, change{span: span})
	err := s.snap.Update(ctx, b.Fecha, func(cur []Span) []Span {
		for _, sp := range cur {
			if sp.ID == span.ID {
				return cur
			}
		}
		return append(cur, span)
	})
	if err != nil {
		metricSnapshotErrors.Inc()
		s.log.Warn("snapshot update failed", zap.String("booking_id", b.ID), zap.Error(err))
	}
}

// Forget drops a cancelled booking from the snapshot.
func (s *Service) Forget(ctx context.Context, b types.Booking) {
	if s.snap == nil {
		return
	}
	s.record(b.Fecha, change{span: Span{ID: b.ID}, removed: true})
	err := s.snap.Update(ctx, b.Fecha, func(cur []Span) []Span {
		out := cur[:0]
		for _, sp := range cur {
			if sp.ID != b.ID {
				out = append(out, sp)
			}
		}
		return out
	})
	if err != nil {
		metricSnapshotErrors.Inc()
		s.log.Warn("snapshot update failed", zap.String("booking_id", b.ID), zap.Error(err))
	}
}

// refresh replaces the date's snapshot with the store's answer, then replays
// every Remember/Forget recorded since the read began.
func (s *Service) refresh(ctx context.Context, fecha string, spans []Span, since uint64) {
	if s.snap == nil {
		return
	}
	err := s.snap.Update(ctx, fecha, func([]Span) []Span {
		return replay(append([]Span(nil), spans...), s.changesSince(fecha, since))
	})
	if err != nil {
		metricSnapshotErrors.Inc()
		s.log.Debug("snapshot refresh failed", zap.String("fecha", fecha), zap.Error(err))
	}
}

func (s *Service) beginRead(fecha string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.reads[fecha]
	if r == nil {
		r = &pendingRead{changes: make(map[string]change)}
		s.reads[fecha] = r
	}
	r.readers++
	return r.version
}

func (s *Service) endRead(fecha string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.reads[fecha]
	if r == nil {
		return
	}
	if r.readers--; r.readers <= 0 {
		delete(s.reads, fecha)
	}
}

// record notes a snapshot change for reads in flight. With none in flight
// there is nothing to protect: a later read sees the store after the change.
func (s *Service) record(fecha string, c change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.reads[fecha]
	if r == nil {
		return
	}
	r.version++
	c.version = r.version
	r.changes[c.span.ID] = c
}

func (s *Service) changesSince(fecha string, since uint64) []change {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.reads[fecha]
	if r == nil {
		return nil
	}
	var out []change
	for _, c := range r.changes {
		if c.version > since {
			out = append(out, c)
		}
	}
	return out
}

func replay(spans []Span, changes []change) []Span {
	for _, c := range changes {
		out := spans[:0]
		for _, sp := range spans {
			if sp.ID != c.span.ID {
				out = append(out, sp)
			}
		}
		spans = out
		if !c.removed {
			spans = append(spans, c.span)
		}
	}
	return spans
}

func (s *Service) window(fecha string, spans []Span, degraded bool, source string) types.AvailabilityWindow {
	sort.Slice(spans, func(i, j int) bool { return spans[i].Start < spans[j].Start })

	w := types.AvailabilityWindow{
		Fecha:    fecha,
		Open:     types.FormatClock(s.hours.Open),
		Close:    types.FormatClock(s.hours.Close),
		Booked:   make([]types.Interval, 0, len(spans)),
		Free:     []string{},
		Degraded: degraded,
		Source:   source,
	}
	for _, sp := range spans {
		w.Booked = append(w.Booked, types.Interval{
			Inicio: types.FormatClock(sp.Start),
			Fin:    types.FormatClock(sp.End),
			Titulo: sp.Titulo,
		})
	}
	for _, t := range s.hours.Grid() {
		if !overlapsAny(t, t+s.hours.Slot, spans) {
			w.Free = append(w.Free, types.FormatClock(t))
		}
	}
	return w
}

func overlapsAny(start, end int, spans []Span) bool {
	for _, sp := range spans {
		if start < sp.End && sp.Start < end {
			return true
		}
	}
	return false
}

func spansOf(bs []types.Booking) []Span {
	out := make([]Span, 0, len(bs))
	for _, b := range bs {
		if sp, ok := spanOf(b); ok {
			out = append(out, sp)
		}
	}
	return out
}

func spanOf(b types.Booking) (Span, bool) {
	start, end, err := b.Span()
	if err != nil {
		return Span{}, false
	}
	titulo := b.Motivo
	if titulo == "" {
		titulo = b.Servicio
	}
	return Span{ID: b.ID, Start: start, End: end, Titulo: titulo}, true
}
