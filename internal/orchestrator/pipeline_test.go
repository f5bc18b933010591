package orchestrator

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"elena/agent/internal/availability"
	"elena/agent/internal/intent"
	"elena/agent/internal/types"
)

const bookJuan = `{"agendar": true, "nombre": "Juan", "email": "juan@x.com", "fecha": "2025-11-18", "hora": "15:00"}`

func newPipeline(c Committer, a Availability) *Pipeline {
	return NewPipeline(intent.New(intent.Defaults{Servicio: "Consultoría Marketing", Duracion: 1}), c, a, zap.NewNop())
}

func turn(seq uint64, text string) types.ConversationTurn {
	return types.ConversationTurn{Instance: "i-1", Seq: seq, Speaker: types.SpeakerAssistant, Text: text}
}

func TestPipelineOutcomes(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Outcome
	}{
		{"plain text", "Hola, ¿en qué te ayudo?", OutcomeNone},
		{"malformed json", `Listo {"agendar": true, "nombre": }`, OutcomeNone},
		{"declined", `Claro {"agendar": false}`, OutcomeNoop},
		{"missing hora", `{"agendar": true, "nombre": "Juan", "fecha": "2025-11-18"}`, OutcomeRejected},
		{"booked", "Perfecto " + bookJuan, OutcomeBooked},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &fakeCommitter{}
			r := newPipeline(c, nil).Handle(context.Background(), turn(1, tt.text))
			assert.Equal(t, tt.want, r.Outcome)
			if tt.want == OutcomeBooked {
				assert.Equal(t, 1, c.Calls())
			} else {
				assert.Zero(t, c.Calls())
			}
		})
	}
}

func TestPipelineRejectsAskForMissingFields(t *testing.T) {
	r := newPipeline(&fakeCommitter{}, nil).Handle(context.Background(),
		turn(1, `{"agendar": true, "nombre": "Juan"}`))
	require.Equal(t, OutcomeRejected, r.Outcome)
	assert.ErrorIs(t, r.Err, types.ErrValidation)
	assert.Contains(t, r.Say, "la fecha")
	assert.Contains(t, r.Say, "la hora")
}

func TestPipelineIgnoresRepeatedTurn(t *testing.T) {
	c := &fakeCommitter{}
	p := newPipeline(c, nil)

	assert.Equal(t, OutcomeBooked, p.Handle(context.Background(), turn(4, bookJuan)).Outcome)
	assert.Equal(t, OutcomeDuplicate, p.Handle(context.Background(), turn(4, bookJuan)).Outcome)
	assert.Equal(t, OutcomeDuplicate, p.Handle(context.Background(), turn(2, bookJuan)).Outcome)
	assert.Equal(t, 1, c.Calls())
}

func TestPipelineWithoutBookerIsDisabled(t *testing.T) {
	r := newPipeline(nil, nil).Handle(context.Background(), turn(1, bookJuan))
	assert.Equal(t, OutcomeDisabled, r.Outcome)
	assert.Empty(t, r.Say)
}

func TestPipelineConflictOffersAlternatives(t *testing.T) {
	c := &fakeCommitter{err: &types.ConflictError{Fecha: "2025-11-18", Hora: "15:00"}}
	a := fakeAvailability{w: types.AvailabilityWindow{
		Fecha: "2025-11-18",
		Free:  []string{"09:00", "10:00", "11:00", "12:00"},
	}}

	r := newPipeline(c, a).Handle(context.Background(), turn(1, bookJuan))
	require.Equal(t, OutcomeConflict, r.Outcome)
	assert.ErrorIs(t, r.Err, types.ErrConflict)
	assert.Contains(t, r.Say, "15:00")
	assert.Contains(t, r.Say, "09:00, 10:00, 11:00")
	assert.NotContains(t, r.Say, "12:00")
}

func TestPipelineConflictWithoutAvailability(t *testing.T) {
	c := &fakeCommitter{err: &types.ConflictError{Fecha: "2025-11-18", Hora: "15:00"}}
	a := fakeAvailability{err: availability.ErrUnavailable}

	r := newPipeline(c, a).Handle(context.Background(), turn(1, bookJuan))
	require.Equal(t, OutcomeConflict, r.Outcome)
	assert.Contains(t, r.Say, "¿Te gustaría otro día?")
}

func TestPipelineStorageFailureUsesStatusMessage(t *testing.T) {
	c := &fakeCommitter{err: fmt.Errorf("%w: connection reset", types.ErrStorage)}

	r := newPipeline(c, nil).Handle(context.Background(), turn(1, bookJuan))
	assert.Equal(t, OutcomeFailed, r.Outcome)
	assert.Equal(t, StatusBookingFailed.Message(), r.Say)
	assert.NotContains(t, r.Say, "connection reset")
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, StatusPermissionDenied, StatusFor(fmt.Errorf("%w: x", types.ErrPermissionDenied)))
	assert.Equal(t, StatusSlotTaken, StatusFor(&types.ConflictError{}))
	assert.Equal(t, StatusBookingIncomplete, StatusFor(&types.ValidationError{Fields: []string{"hora"}}))
	assert.Equal(t, StatusUnavailable, StatusFor(availability.ErrUnavailable))
	assert.Equal(t, StatusUnexpected, StatusFor(errBoom))
	assert.Equal(t, Status(""), StatusFor(nil))
	assert.Equal(t, messages[StatusUnexpected], Status("nope").Message())
}

func TestSpeechFilter(t *testing.T) {
	var f speechFilter
	got := f.Filter("Claro Juan. ```json\n{\"agendar\": true, ") +
		f.Filter("\"nombre\": \"a}b\"}\n``` Hasta pronto.")
	assert.Equal(t, "Claro Juan. \n\n Hasta pronto.", got)

	var g speechFilter
	assert.Equal(t, "sin json", g.Filter("sin json"))
}

func TestSpeechFilterFenceSplitAcrossChunks(t *testing.T) {
	var f speechFilter
	got := f.Filter("Listo ``") + f.Filter("`js") + f.Filter("on\n") +
		f.Filter(`{"agendar": false}`) + f.Filter("\n`") + f.Filter("``") + f.Flush()
	assert.Equal(t, "Listo \n\n", got)
	assert.NotContains(t, got, "`")
	assert.NotContains(t, got, "json")

	var g speechFilter
	assert.Equal(t, "precio: ", g.Filter("precio: `"))
	assert.Equal(t, "`", g.Flush())
}

func TestTransitions(t *testing.T) {
	assert.True(t, canTransition(StateIdle, StateRequestingPermissions))
	assert.True(t, canTransition(StateListening, StateSpeaking))
	assert.True(t, canTransition(StateClosed, StateConnecting))
	assert.False(t, canTransition(StateIdle, StateListening))
	assert.False(t, canTransition(StateClosed, StateListening))
	assert.True(t, StateSpeaking.Active())
	assert.True(t, StateError.Terminal())
}
