package clientws

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	ws "nhooyr.io/websocket"

	"elena/agent/internal/auth"
	"elena/agent/internal/events"
)

// Sessions reports whether a session key exists.
type Sessions interface {
	Exists(key string) bool
}

type Options struct {
	TokenSecret    string
	TokenSkew      time.Duration
	AllowedOrigins []string // full origins, e.g. https://labs.heygen.com
	InboundPerSec  float64
	InboundBurst   int
	AckTimeout     time.Duration
}

type Server struct {
	opts     Options
	patterns []string
	reg      *Registry
	sessions Sessions
	journal  *events.Store
	log      *zap.Logger
}

func NewServer(opts Options, reg *Registry, sessions Sessions, journal *events.Store, log *zap.Logger) *Server {
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = 5 * time.Second
	}
	if opts.InboundPerSec <= 0 {
		opts.InboundPerSec = 20
	}
	if opts.InboundBurst <= 0 {
		opts.InboundBurst = 40
	}
	return &Server{
		opts:     opts,
		patterns: OriginHosts(opts.AllowedOrigins),
		reg:      reg,
		sessions: sessions,
		journal:  journal,
		log:      log,
	}
}

// OriginHosts turns full origins into the host patterns the websocket
// handshake matches against. Entries that are already bare hosts pass through.
func OriginHosts(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
			continue
		}
		out = append(out, o)
	}
	return out
}

// HandleClientWS serves GET /ws/client?session=<key>&token=<token>. The token
// may also come as a bearer header.
func (s *Server) HandleClientWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key := q.Get("session")
	if key == "" {
		http.Error(w, "missing session", http.StatusBadRequest)
		return
	}
	token := q.Get("token")
	if token == "" {
		token, _ = auth.Bearer(r.Header.Get("Authorization"))
	}
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	if _, err := auth.Verify(s.opts.TokenSecret, token, key, time.Now(), s.opts.TokenSkew); err != nil {
		s.log.Debug("widget token rejected", zap.String("session", key), zap.Error(err))
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	if !s.sessions.Exists(key) {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	c, err := ws.Accept(w, r, &ws.AcceptOptions{OriginPatterns: s.patterns})
	if err != nil {
		s.log.Warn("ws accept", zap.String("session", key), zap.Error(err))
		return
	}
	c.SetReadLimit(maxMessageBytes)

	conn := newConn(key, c, s.opts.AckTimeout, s.log.With(zap.String("session", key)))
	if s.reg.Replace(key, conn) {
		s.journal.Append(key, "widget_replaced", nil)
	}
	s.journal.Append(key, "widget_connected", nil)
	metricConnections.Inc()
	defer metricConnections.Dec()

	limiter := rate.NewLimiter(rate.Limit(s.opts.InboundPerSec), s.opts.InboundBurst)
	ctx := r.Context()
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			if ws.CloseStatus(err) == -1 && ctx.Err() == nil {
				s.log.Debug("widget read ended", zap.String("session", key), zap.Error(err))
			}
			break
		}
		if typ != ws.MessageText {
			metricInboundDropped.WithLabelValues("binary").Inc()
			continue
		}
		if !limiter.Allow() {
			metricInboundDropped.WithLabelValues("rate_limited").Inc()
			continue
		}
		in, err := decodeInbound(data)
		if err != nil {
			metricInboundDropped.WithLabelValues("invalid").Inc()
			s.journal.Append(key, "widget_msg_invalid", map[string]any{"error": err.Error()})
			continue
		}
		conn.deliver(in)
	}

	conn.shutdown("done")
	s.reg.Remove(key, conn)
	s.journal.Append(key, "widget_disconnected", nil)
}
