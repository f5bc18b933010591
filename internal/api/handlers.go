package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"elena/agent/internal/auth"
	"elena/agent/internal/availability"
	"elena/agent/internal/events"
	"elena/agent/internal/health"
	"elena/agent/internal/orchestrator"
	"elena/agent/internal/sessions"
	"elena/agent/internal/store"
	"elena/agent/internal/types"
)

type Bookings interface {
	Commit(ctx context.Context, in types.BookingIntent) (types.Booking, error)
	Get(ctx context.Context, id string) (types.Booking, error)
	Confirm(ctx context.Context, id string) (types.Booking, error)
	Cancel(ctx context.Context, id string) (types.Booking, error)
}

type Availability interface {
	Query(ctx context.Context, fecha string) (types.AvailabilityWindow, error)
}

type Deps struct {
	Bookings     Bookings
	Availability Availability
	Sessions     *sessions.Store
	Journal      *events.Store
	Health       *health.Checker
	TokenSecret  string
	TokenTTL     time.Duration
	Log          *zap.Logger
}

type Handlers struct {
	d Deps
}

func NewHandlers(d Deps) *Handlers {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	return &Handlers{d: d}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeStatus answers with the user-facing status for err. Raw error text
// stays in the logs.
func writeStatus(w http.ResponseWriter, code int, err error) {
	st := orchestrator.StatusFor(err)
	writeJSON(w, code, map[string]any{"success": false, "status": st, "message": st.Message()})
}

// GET /api/disponibilidad?fecha=YYYY-MM-DD
func (h *Handlers) HandleAvailability(w http.ResponseWriter, r *http.Request) {
	fecha := r.URL.Query().Get("fecha")
	win, err := h.d.Availability.Query(r.Context(), fecha)
	switch {
	case errors.Is(err, types.ErrValidation):
		writeStatus(w, http.StatusBadRequest, err)
		return
	case err != nil:
		h.d.Log.Warn("availability query failed", zap.String("fecha", fecha), zap.Error(err))
		writeStatus(w, http.StatusServiceUnavailable, availability.ErrUnavailable)
		return
	}
	ocupados := win.Booked
	if ocupados == nil {
		ocupados = []types.Interval{}
	}
	libres := win.Free
	if libres == nil {
		libres = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"fecha":       win.Fecha,
		"disponibles": libres,
		"ocupados":    ocupados,
		"degraded":    win.Degraded,
	})
}

// citaRequest is the contact-form payload.
type citaRequest struct {
	Nombre   string `json:"nombre"`
	Email    string `json:"email"`
	Telefono string `json:"telefono"`
	Fecha    string `json:"fecha"`
	Hora     string `json:"hora"`
	Servicio string `json:"servicio"`
	Duracion int    `json:"duracion"`
}

// POST /api/citas
func (h *Handlers) HandleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var req citaRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "JSON inválido"})
		return
	}
	b, err := h.d.Bookings.Commit(r.Context(), types.BookingIntent{
		Agendar:  true,
		Nombre:   strings.TrimSpace(req.Nombre),
		Email:    strings.TrimSpace(req.Email),
		Telefono: strings.TrimSpace(req.Telefono),
		Fecha:    strings.TrimSpace(req.Fecha),
		Hora:     strings.TrimSpace(req.Hora),
		Servicio: strings.TrimSpace(req.Servicio),
		Duracion: req.Duracion,
	})
	if err != nil {
		var ve *types.ValidationError
		switch {
		case errors.Is(err, types.ErrConflict):
			writeStatus(w, http.StatusConflict, err)
		case errors.As(err, &ve):
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"success": false,
				"status":  orchestrator.StatusBookingIncomplete,
				"message": orchestrator.StatusBookingIncomplete.Message(),
				"campos":  ve.Fields,
			})
		default:
			h.d.Log.Error("booking via form failed", zap.Error(err))
			writeStatus(w, http.StatusServiceUnavailable, err)
		}
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"cita":    b,
		"message": orchestrator.Confirmation(b),
	})
}

// GET /api/citas/{id}
func (h *Handlers) HandleGetBooking(w http.ResponseWriter, r *http.Request) {
	b, err := h.d.Bookings.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.bookingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "cita": b})
}

// POST /api/citas/{id}/confirmar and /cancelar
func (h *Handlers) HandleTransition(to types.Estado) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		var (
			b   types.Booking
			err error
		)
		if to == types.EstadoConfirmed {
			b, err = h.d.Bookings.Confirm(r.Context(), id)
		} else {
			b, err = h.d.Bookings.Cancel(r.Context(), id)
		}
		if err != nil {
			h.bookingError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "cita": b})
	}
}

func (h *Handlers) bookingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "Cita no encontrada."})
	case errors.Is(err, store.ErrTransition):
		writeJSON(w, http.StatusConflict, map[string]any{"success": false, "message": "La cita no admite ese cambio de estado."})
	default:
		h.d.Log.Error("booking lookup failed", zap.Error(err))
		writeStatus(w, http.StatusServiceUnavailable, types.ErrStorage)
	}
}

// POST /sessions
func (h *Handlers) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	c, err := h.d.Sessions.Create()
	if err != nil {
		writeJSON(w, http.StatusTooManyRequests, map[string]any{"ok": false, "message": "Demasiadas sesiones activas."})
		return
	}
	exp := time.Now().Add(h.d.TokenTTL)
	token, err := auth.Mint(h.d.TokenSecret, c.Key(), exp)
	if err != nil {
		h.d.Sessions.End(r.Context(), c.Key())
		h.d.Log.Error("mint widget token", zap.Error(err))
		writeStatus(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"session_id": c.Key(),
		"token":      token,
		"expires_at": exp.UTC(),
		"ws_path":    "/ws/client?session=" + c.Key(),
	})
}

func (h *Handlers) controller(w http.ResponseWriter, r *http.Request) *orchestrator.Controller {
	c := h.d.Sessions.Get(mux.Vars(r)["id"])
	if c == nil {
		http.NotFound(w, r)
	}
	return c
}

// GET /sessions/{id}
func (h *Handlers) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	if c := h.controller(w, r); c != nil {
		writeJSON(w, http.StatusOK, c.Snapshot())
	}
}

// POST /sessions/{id}/start
func (h *Handlers) HandleStartSession(w http.ResponseWriter, r *http.Request) {
	c := h.controller(w, r)
	if c == nil {
		return
	}
	h.lifecycle(w, c, c.Start(r.Context()))
}

// POST /sessions/{id}/restart
func (h *Handlers) HandleRestartSession(w http.ResponseWriter, r *http.Request) {
	c := h.controller(w, r)
	if c == nil {
		return
	}
	err := c.Restart(r.Context())
	if errors.Is(err, orchestrator.ErrRestartUnavailable) {
		snap := c.Snapshot()
		writeJSON(w, http.StatusConflict, map[string]any{
			"ok":                false,
			"restart_available": false,
			"session":           snap,
		})
		return
	}
	h.lifecycle(w, c, err)
}

func (h *Handlers) lifecycle(w http.ResponseWriter, c *orchestrator.Controller, err error) {
	snap := c.Snapshot()
	if err == nil {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "session": snap})
		return
	}
	code := http.StatusBadGateway
	var te *orchestrator.TransitionError
	switch {
	case errors.As(err, &te), errors.Is(err, orchestrator.ErrSessionStopped):
		code = http.StatusConflict
	case errors.Is(err, types.ErrPermissionDenied):
		code = http.StatusForbidden
	}
	h.d.Log.Info("session lifecycle request failed", zap.String("session", c.Key()), zap.Error(err))
	writeJSON(w, code, map[string]any{"ok": false, "session": snap})
}

// POST /sessions/{id}/end
func (h *Handlers) HandleEndSession(w http.ResponseWriter, r *http.Request) {
	if !h.d.Sessions.End(r.Context(), mux.Vars(r)["id"]) {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// GET /sessions/{id}/events
func (h *Handlers) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !h.d.Sessions.Exists(id) {
		http.NotFound(w, r)
		return
	}
	evs := h.d.Journal.List(id)
	if evs == nil {
		evs = []events.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "events": evs})
}

func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	st := h.d.Health.CheckAll(r.Context())
	code := http.StatusOK
	if !st.OK {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, st)
}
