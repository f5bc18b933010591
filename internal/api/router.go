package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"elena/agent/internal/types"
)

type RouterOptions struct {
	AllowedOrigins []string
	FormPerMinute  int // per-IP limit on POST /api/citas; zero disables
	Widget         http.HandlerFunc
}

func NewRouter(h *Handlers, opts RouterOptions) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", h.HandleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", h.HandleReadyz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/disponibilidad", h.HandleAvailability).Methods(http.MethodGet)
	create := http.Handler(http.HandlerFunc(h.HandleCreateBooking))
	if opts.FormPerMinute > 0 {
		create = newIPLimiter(opts.FormPerMinute, h.d.Log).Wrap(create)
	}
	api.Handle("/citas", create).Methods(http.MethodPost)
	api.HandleFunc("/citas/{id}", h.HandleGetBooking).Methods(http.MethodGet)
	api.HandleFunc("/citas/{id}/confirmar", h.HandleTransition(types.EstadoConfirmed)).Methods(http.MethodPost)
	api.HandleFunc("/citas/{id}/cancelar", h.HandleTransition(types.EstadoCancelled)).Methods(http.MethodPost)

	r.HandleFunc("/sessions", h.HandleCreateSession).Methods(http.MethodPost)
	s := r.PathPrefix("/sessions/{id}").Subrouter()
	s.HandleFunc("", h.HandleGetSession).Methods(http.MethodGet)
	s.HandleFunc("/start", h.HandleStartSession).Methods(http.MethodPost)
	s.HandleFunc("/restart", h.HandleRestartSession).Methods(http.MethodPost)
	s.HandleFunc("/end", h.HandleEndSession).Methods(http.MethodPost)
	s.HandleFunc("/events", h.HandleListEvents).Methods(http.MethodGet)

	if opts.Widget != nil {
		r.HandleFunc("/ws/client", opts.Widget).Methods(http.MethodGet)
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
	})
	return c.Handler(r)
}
