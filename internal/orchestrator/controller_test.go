package orchestrator

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"elena/agent/internal/avatar"
	"elena/agent/internal/events"
	"elena/agent/internal/intent"
	"elena/agent/internal/types"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

type harness struct {
	c       *Controller
	mic     *fakeMic
	prov    *fakeProvider
	backend *fakeBackend
	booker  *fakeCommitter
	journal *events.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		mic:     &fakeMic{},
		prov:    &fakeProvider{},
		backend: &fakeBackend{},
		booker:  &fakeCommitter{},
		journal: events.NewStore(events.DefaultCap),
	}
	h.c = New("s-1", Deps{
		Microphone: h.mic,
		Avatar:     h.prov,
		Chat:       h.backend,
		Extractor:  intent.New(intent.Defaults{Servicio: "Consultoría Marketing", Duracion: 1}),
		Booker:     h.booker,
		Journal:    h.journal,
		Log:        zap.NewNop(),
	}, Options{SystemPrompt: "test"})
	t.Cleanup(func() { h.c.Close(context.Background()) })
	return h
}

func (h *harness) waitState(t *testing.T, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return h.c.State() == want }, waitFor, tick, "state never reached %s, at %s", want, h.c.State())
}

// live starts the controller and drives it to listening.
func (h *harness) live(t *testing.T) started {
	t.Helper()
	require.NoError(t, h.c.Start(context.Background()))
	s := h.prov.last()
	s.emit(avatar.EventStreamReady, "")
	h.waitState(t, StateListening)
	return s
}

func (h *harness) pendingSeq() uint64 {
	b := h.c.bridge
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending == nil {
		return 0
	}
	return b.pending.Seq
}

func say(s started, text string) {
	s.emit(avatar.EventUserStartTalking, "")
	s.emit(avatar.EventUserStopTalking, text)
}

func TestStartReachesListening(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, StateIdle, h.c.State())

	require.NoError(t, h.c.Start(context.Background()))
	assert.Equal(t, StateConnecting, h.c.State())

	s := h.prov.last()
	assert.NotEmpty(t, s.instance)
	s.emit(avatar.EventStreamReady, "")
	h.waitState(t, StateListening)

	snap := h.c.Snapshot()
	assert.Equal(t, s.instance, snap.Instance)
	assert.Equal(t, string(StatusListening), snap.Status)
}

func TestStartTwiceIsRejected(t *testing.T) {
	h := newHarness(t)
	h.live(t)

	var te *TransitionError
	assert.ErrorAs(t, h.c.Start(context.Background()), &te)
	assert.Len(t, h.prov.calls, 1)
}

func TestAvatarTalkingTogglesSpeaking(t *testing.T) {
	h := newHarness(t)
	s := h.live(t)

	s.emit(avatar.EventAvatarStartTalking, "")
	h.waitState(t, StateSpeaking)
	s.emit(avatar.EventAvatarStopTalking, "")
	h.waitState(t, StateListening)
}

func TestPermissionDenied(t *testing.T) {
	h := newHarness(t)
	h.mic.err = avatar.ErrPermissionDenied

	err := h.c.Start(context.Background())
	require.ErrorIs(t, err, types.ErrPermissionDenied)
	assert.Equal(t, StateError, h.c.State())
	assert.Equal(t, string(StatusPermissionDenied), h.c.Snapshot().Status)
	assert.Empty(t, h.prov.calls)

	assert.ErrorIs(t, h.c.Restart(context.Background()), ErrRestartUnavailable)
}

func TestUnreachableMicrophoneIsConnectionError(t *testing.T) {
	h := newHarness(t)
	h.mic.err = errBoom

	err := h.c.Start(context.Background())
	require.ErrorIs(t, err, types.ErrConnection)
	assert.Equal(t, string(StatusConnectionError), h.c.Snapshot().Status)
	assert.ErrorIs(t, h.c.Restart(context.Background()), ErrRestartUnavailable)
}

func TestConnectionErrorThenRestart(t *testing.T) {
	h := newHarness(t)
	h.prov.err = errBoom

	err := h.c.Start(context.Background())
	require.ErrorIs(t, err, types.ErrConnection)
	assert.Equal(t, StateError, h.c.State())
	assert.Equal(t, StatusConnectionError, StatusFor(err))

	h.prov.err = nil
	require.NoError(t, h.c.Restart(context.Background()))
	assert.Equal(t, StateConnecting, h.c.State())
	h.prov.last().emit(avatar.EventStreamReady, "")
	h.waitState(t, StateListening)
}

func TestStopIsIdempotent(t *testing.T) {
	h := newHarness(t)
	s := h.live(t)

	h.c.Stop(context.Background())
	h.c.Stop(context.Background())

	assert.Equal(t, StateClosed, h.c.State())
	assert.True(t, s.stream.Stopped())
	assert.False(t, h.mic.media.Valid())
	assert.ErrorIs(t, h.c.Restart(context.Background()), ErrRestartUnavailable)
}

func TestStopBeforeStart(t *testing.T) {
	h := newHarness(t)
	h.c.Stop(context.Background())
	assert.Equal(t, StateClosed, h.c.State())
}

func TestRestartOnlyFromTerminalStates(t *testing.T) {
	h := newHarness(t)
	h.live(t)

	var te *TransitionError
	assert.ErrorAs(t, h.c.Restart(context.Background()), &te)
}

func TestStaleEventsFromPreviousInstanceAreDropped(t *testing.T) {
	h := newHarness(t)
	first := h.live(t)

	first.emit(avatar.EventDisconnected, "")
	h.waitState(t, StateClosed)
	require.Eventually(t, first.stream.Stopped, waitFor, tick)
	assert.True(t, h.mic.media.Valid(), "disconnect keeps the media handle")

	require.NoError(t, h.c.Restart(context.Background()))
	second := h.prov.last()
	require.NotEqual(t, first.instance, second.instance)
	second.emit(avatar.EventStreamReady, "")
	h.waitState(t, StateListening)

	say(first, "hola desde la sesión vieja")
	first.emit(avatar.EventError, "")
	say(second, "hola")

	require.Eventually(t, func() bool { return len(h.backend.Prompts()) == 1 }, waitFor, tick)
	h.c.Wait()
	assert.Equal(t, []string{"hola"}, h.backend.Prompts())
	assert.Equal(t, StateListening, h.c.State())

	var dropped int
	for _, e := range h.journal.List("s-1") {
		if e.Type == "stale_event_dropped" {
			dropped++
		}
	}
	assert.GreaterOrEqual(t, dropped, 3)
}

func TestEventsAfterCloseAreIgnored(t *testing.T) {
	h := newHarness(t)
	s := h.live(t)
	h.c.Stop(context.Background())

	s.emit(avatar.EventStreamReady, "")
	say(s, "hola")
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, StateClosed, h.c.State())
	assert.Empty(t, h.backend.Prompts())
}

func TestTurnBooksAppointment(t *testing.T) {
	h := newHarness(t)
	h.backend.script = func(string) reply {
		return reply{chunks: []string{
			"Claro Juan, ",
			`te agendo. {"agendar": true, "nombre": "Juan", `,
			`"email": "juan@x.com", "fecha": "2025-11-18", "hora": "15:00"}`,
		}}
	}
	s := h.live(t)

	say(s, "Soy Juan, quiero una cita el 18 a las 3")
	require.Eventually(t, func() bool { return h.booker.Calls() == 1 }, waitFor, tick)
	h.c.Wait()

	in := h.booker.intents[0]
	assert.Equal(t, "Juan", in.Nombre)
	assert.Equal(t, "Consultoría Marketing", in.Servicio)

	spoken := s.stream.Spoken()
	require.Len(t, spoken, 3)
	assert.Equal(t, "Claro Juan, ", spoken[0])
	assert.Equal(t, "te agendo. ", spoken[1])
	assert.Equal(t, Confirmation(types.Booking{Fecha: "2025-11-18", Hora: "15:00"}), spoken[2])
	for _, line := range spoken {
		assert.NotContains(t, line, "{")
	}
}

func TestNoopIntentDoesNotBook(t *testing.T) {
	h := newHarness(t)
	h.backend.script = func(string) reply {
		return reply{chunks: []string{`¿Qué día prefieres? {"agendar": false}`}}
	}
	s := h.live(t)

	say(s, "quiero información")
	require.Eventually(t, func() bool { return len(h.backend.Prompts()) == 1 }, waitFor, tick)
	h.c.Wait()

	assert.Zero(t, h.booker.Calls())
	assert.Equal(t, []string{"¿Qué día prefieres? "}, s.stream.Spoken())
}

func TestSingleGenerationLatestWins(t *testing.T) {
	h := newHarness(t)
	h.backend.gate = make(chan struct{})
	s := h.live(t)

	say(s, "uno")
	require.Eventually(t, func() bool { return len(h.backend.Prompts()) == 1 }, waitFor, tick)

	say(s, "dos")
	say(s, "tres")
	require.Eventually(t, func() bool { return h.pendingSeq() == 3 }, waitFor, tick)
	assert.Len(t, h.backend.Prompts(), 1, "only one generation in flight")

	close(h.backend.gate)
	h.c.Wait()

	assert.Equal(t, []string{"uno", "tres"}, h.backend.Prompts())
	assert.Equal(t, 1, h.backend.sessions)
}

func TestCloseDuringGenerationDropsResult(t *testing.T) {
	h := newHarness(t)
	h.backend.gate = make(chan struct{})
	h.backend.script = func(string) reply {
		return reply{chunks: []string{
			`Listo. {"agendar": true, "nombre": "Ana", "email": "ana@x.com", "fecha": "2025-11-18", "hora": "10:00"}`,
		}}
	}
	s := h.live(t)

	say(s, "agenda a Ana")
	require.Eventually(t, func() bool { return len(h.backend.Prompts()) == 1 }, waitFor, tick)

	h.c.Stop(context.Background())
	close(h.backend.gate)
	h.c.Wait()

	assert.Empty(t, s.stream.Spoken())
	assert.Zero(t, h.booker.Calls())
}

func TestGenerationErrorSpeaksApology(t *testing.T) {
	h := newHarness(t)
	h.backend.script = func(string) reply { return reply{err: errBoom} }
	s := h.live(t)

	say(s, "hola")
	require.Eventually(t, func() bool { return len(s.stream.Spoken()) == 1 }, waitFor, tick)
	h.c.Wait()

	assert.Equal(t, []string{Apology}, s.stream.Spoken())
	assert.Equal(t, StateListening, h.c.State())
}

func TestMidStreamErrorSpeaksApologyWithoutBooking(t *testing.T) {
	h := newHarness(t)
	h.backend.script = func(string) reply {
		return reply{chunks: []string{`Claro. {"agendar": true, "nombre": "Juan", `}, err: errBoom}
	}
	s := h.live(t)

	say(s, "hola")
	require.Eventually(t, func() bool { return len(s.stream.Spoken()) == 2 }, waitFor, tick)
	h.c.Wait()

	assert.Equal(t, []string{"Claro. ", Apology}, s.stream.Spoken())
	assert.Zero(t, h.booker.Calls())
}

func TestStreamFailureFallsBackToOneShot(t *testing.T) {
	h := newHarness(t)
	h.backend.script = func(string) reply { return reply{err: errBoom} }
	h.backend.oneShot = func(text string) (string, error) { return "Hola, soy Elena.", nil }
	s := h.live(t)

	say(s, "hola")
	require.Eventually(t, func() bool { return len(s.stream.Spoken()) == 1 }, waitFor, tick)
	h.c.Wait()

	assert.Equal(t, []string{"Hola, soy Elena."}, s.stream.Spoken())
}

func TestBlankUtteranceIsNotSubmitted(t *testing.T) {
	h := newHarness(t)
	s := h.live(t)

	s.emit(avatar.EventUserStartTalking, "")
	s.emit(avatar.EventUserStopTalking, "   ")
	s.emit(avatar.EventUserStartTalking, "")
	s.emit(avatar.EventUserTranscript, "buenas")
	s.emit(avatar.EventUserStopTalking, "")

	require.Eventually(t, func() bool { return len(h.backend.Prompts()) == 1 }, waitFor, tick)
	h.c.Wait()
	assert.Equal(t, []string{"buenas"}, h.backend.Prompts())
}

func TestJournalRecordsTurns(t *testing.T) {
	h := newHarness(t)
	s := h.live(t)

	say(s, "hola")
	require.Eventually(t, func() bool { return len(h.backend.Prompts()) == 1 }, waitFor, tick)
	h.c.Wait()

	var kinds []string
	for _, e := range h.journal.List("s-1") {
		kinds = append(kinds, e.Type)
	}
	joined := strings.Join(kinds, ",")
	assert.Contains(t, joined, "user_turn")
	assert.Contains(t, joined, "assistant_turn")
}

func TestDeadOnlyWhenMediaIsGone(t *testing.T) {
	h := newHarness(t)
	assert.False(t, h.c.Dead())

	s := h.live(t)
	s.emit(avatar.EventDisconnected, "")
	h.waitState(t, StateClosed)
	assert.False(t, h.c.Dead(), "a disconnect with valid media can restart")

	h.mic.media.Release()
	assert.True(t, h.c.Dead())
}

func TestDeadAfterPermissionDenied(t *testing.T) {
	h := newHarness(t)
	h.mic.err = avatar.ErrPermissionDenied
	require.Error(t, h.c.Start(context.Background()))
	assert.True(t, h.c.Dead())
}
