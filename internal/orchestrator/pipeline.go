package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"elena/agent/internal/types"
)

type Extractor interface {
	Extract(text string) (*types.BookingIntent, error)
}

type Committer interface {
	Commit(ctx context.Context, in types.BookingIntent) (types.Booking, error)
}

type Availability interface {
	Query(ctx context.Context, fecha string) (types.AvailabilityWindow, error)
}

type Outcome string

const (
	OutcomeNone      Outcome = "none"
	OutcomeNoop      Outcome = "noop"
	OutcomeRejected  Outcome = "rejected"
	OutcomeBooked    Outcome = "booked"
	OutcomeConflict  Outcome = "conflict"
	OutcomeFailed    Outcome = "failed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeDisabled  Outcome = "disabled"
)

type Result struct {
	Outcome Outcome
	Booking *types.Booking
	Say     string
	Err     error
}

// Pipeline turns one assembled assistant reply into at most one booking.
type Pipeline struct {
	extract Extractor
	commit  Committer
	avail   Availability
	log     *zap.Logger

	mu   sync.Mutex
	seen bool
	last uint64
}

func NewPipeline(x Extractor, c Committer, a Availability, log *zap.Logger) *Pipeline {
	return &Pipeline{extract: x, commit: c, avail: a, log: log}
}

// Handle is idempotent per turn sequence: a repeated or older seq is ignored.
func (p *Pipeline) Handle(ctx context.Context, turn types.ConversationTurn) Result {
	r := p.handle(ctx, turn)
	metricIntents.WithLabelValues(string(r.Outcome)).Inc()
	return r
}

func (p *Pipeline) handle(ctx context.Context, turn types.ConversationTurn) Result {
	p.mu.Lock()
	if p.seen && turn.Seq <= p.last {
		p.mu.Unlock()
		return Result{Outcome: OutcomeDuplicate}
	}
	p.seen, p.last = true, turn.Seq
	p.mu.Unlock()

	in, err := p.extract.Extract(turn.Text)
	if err != nil {
		return Result{Outcome: OutcomeRejected, Err: err, Say: clarify(err)}
	}
	if in == nil {
		return Result{Outcome: OutcomeNone}
	}
	if !in.Agendar {
		return Result{Outcome: OutcomeNoop}
	}
	if p.commit == nil {
		return Result{Outcome: OutcomeDisabled}
	}

	b, err := p.commit.Commit(ctx, *in)
	var ce *types.ConflictError
	switch {
	case err == nil:
		return Result{Outcome: OutcomeBooked, Booking: &b, Say: Confirmation(b)}
	case errors.As(err, &ce):
		return Result{Outcome: OutcomeConflict, Err: err, Say: p.conflictPrompt(ctx, ce)}
	case errors.Is(err, types.ErrValidation):
		return Result{Outcome: OutcomeRejected, Err: err, Say: clarify(err)}
	default:
		p.log.Error("booking commit failed", zap.Uint64("seq", turn.Seq), zap.Error(err))
		return Result{Outcome: OutcomeFailed, Err: err, Say: StatusFor(err).Message()}
	}
}

// Confirmation is the spoken line after a successful commit.
func Confirmation(b types.Booking) string {
	return fmt.Sprintf("¡Perfecto! He agendado tu cita para el %s a las %s. Recibirás una confirmación pronto.", b.Fecha, b.Hora)
}

var fieldNames = map[string]string{
	"nombre":   "tu nombre",
	"fecha":    "la fecha",
	"hora":     "la hora",
	"email":    "tu correo",
	"duracion": "la duración",
	"agendar":  "que quieres agendar",
}

func clarify(err error) string {
	var ve *types.ValidationError
	if !errors.As(err, &ve) || len(ve.Fields) == 0 {
		return StatusBookingIncomplete.Message()
	}
	parts := make([]string, 0, len(ve.Fields))
	for _, f := range ve.Fields {
		if n, ok := fieldNames[f]; ok {
			parts = append(parts, n)
		} else {
			parts = append(parts, f)
		}
	}
	return "Para agendar tu cita necesito que me confirmes " + strings.Join(parts, ", ") + "."
}

func (p *Pipeline) conflictPrompt(ctx context.Context, ce *types.ConflictError) string {
	msg := "Lo siento, el horario de las " + ce.Hora + " ya está ocupado."
	if p.avail == nil {
		return msg
	}
	w, err := p.avail.Query(ctx, ce.Fecha)
	if err != nil || w.Degraded || len(w.Free) == 0 {
		return msg + " ¿Te gustaría otro día?"
	}
	alt := w.Free
	if len(alt) > 3 {
		alt = alt[:3]
	}
	return msg + " Tengo disponible: " + strings.Join(alt, ", ") + ". ¿Cuál prefieres?"
}
