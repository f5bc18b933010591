package types

import "time"

// Session is the externally visible view of one SessionController.
type Session struct {
	Key       string    `json:"session_id"`
	Instance  string    `json:"instance_id,omitempty"`
	State     string    `json:"state"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// ConversationTurn is immutable once finalized. Instance ties it to the
// session instance that produced it.
type ConversationTurn struct {
	Instance string    `json:"instance_id"`
	Seq      uint64    `json:"seq"`
	Speaker  Speaker   `json:"speaker"`
	Text     string    `json:"text"`
	At       time.Time `json:"timestamp"`
}

// BookingIntent is the scheduling payload the assistant embeds in a reply.
type BookingIntent struct {
	Agendar  bool   `json:"agendar"`
	Nombre   string `json:"nombre,omitempty"`
	Email    string `json:"email,omitempty"`
	Telefono string `json:"telefono,omitempty"`
	Fecha    string `json:"fecha,omitempty"`
	Hora     string `json:"hora,omitempty"`
	Servicio string `json:"servicio,omitempty"`
	Duracion int    `json:"duracion,omitempty"`
}

type Estado string

const (
	EstadoPending   Estado = "pending"
	EstadoConfirmed Estado = "confirmed"
	EstadoCancelled Estado = "cancelled"
)

// Active reports whether a booking in this state occupies its slot.
func (e Estado) Active() bool { return e == EstadoPending || e == EstadoConfirmed }

func (e Estado) Valid() bool { return e.Active() || e == EstadoCancelled }

// Booking is never deleted; cancellation is a transition.
type Booking struct {
	ID          string    `json:"id"`
	Fecha       string    `json:"fecha"`
	Hora        string    `json:"hora"`
	Duracion    int       `json:"duracion"`
	Nombre      string    `json:"nombre"`
	Email       string    `json:"email"`
	Telefono    string    `json:"telefono"`
	Servicio    string    `json:"servicio"`
	Motivo      string    `json:"motivo"`
	Estado      Estado    `json:"estado"`
	ExternalRef string    `json:"external_ref,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Span returns the booking's [start, end) in minutes since midnight.
func (b Booking) Span() (start, end int, err error) {
	start, err = ParseClock(b.Hora)
	if err != nil {
		return 0, 0, err
	}
	return start, start + b.Duracion*60, nil
}

// Interval is one occupied range in an availability answer.
type Interval struct {
	Inicio string `json:"inicio"`
	Fin    string `json:"fin"`
	Titulo string `json:"titulo,omitempty"`
}

// AvailabilityWindow is derived per query and never mutated in place.
type AvailabilityWindow struct {
	Fecha    string     `json:"fecha"`
	Open     string     `json:"apertura"`
	Close    string     `json:"cierre"`
	Booked   []Interval `json:"ocupados"`
	Free     []string   `json:"disponibles"`
	Degraded bool       `json:"degraded"`
	Source   string     `json:"source"`
}

// IsFree reports whether hora is listed as a free slot.
func (w AvailabilityWindow) IsFree(hora string) bool {
	for _, f := range w.Free {
		if f == hora {
			return true
		}
	}
	return false
}
