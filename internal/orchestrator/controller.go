package orchestrator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"elena/agent/internal/avatar"
	"elena/agent/internal/events"
	"elena/agent/internal/floor"
	"elena/agent/internal/llm"
	"elena/agent/internal/types"
)

// Deps are the swappable adapters behind one controller.
type Deps struct {
	Microphone   avatar.Microphone
	Avatar       avatar.Provider
	Chat         llm.Backend
	Extractor    Extractor
	Booker       Committer    // nil disables booking
	Availability Availability // optional, used for conflict alternatives
	Journal      *events.Store
	Log          *zap.Logger
}

type Options struct {
	SystemPrompt string
	SpeakTimeout time.Duration
	InboxSize    int
}

// Controller owns one avatar session across restarts. Provider events are
// queued to a single loop goroutine and handled in arrival order.
type Controller struct {
	key     string
	deps    Deps
	opts    Options
	log     *zap.Logger
	created time.Time

	ctx      context.Context
	cancel   context.CancelFunc
	inbox    chan avatar.Event
	loopDone chan struct{}

	mu       sync.Mutex
	state    State
	status   Status
	instance string
	media    avatar.MediaHandle
	stream   avatar.Stream
	floor    *floor.Manager
	seq      uint64

	bridge   *Bridge
	pipeline *Pipeline
}

func New(key string, deps Deps, opts Options) *Controller {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if opts.SpeakTimeout <= 0 {
		opts.SpeakTimeout = 15 * time.Second
	}
	if opts.InboxSize <= 0 {
		opts.InboxSize = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		key:      key,
		deps:     deps,
		opts:     opts,
		log:      deps.Log.With(zap.String("session", key)),
		created:  time.Now().UTC(),
		ctx:      ctx,
		cancel:   cancel,
		inbox:    make(chan avatar.Event, opts.InboxSize),
		loopDone: make(chan struct{}),
		state:    StateIdle,
		status:   StatusIdle,
		floor:    floor.New(),
	}
	c.bridge = newBridge(ctx, deps.Chat, opts.SystemPrompt, bridgeHooks{
		alive: c.alive,
		speak: c.speak,
		reply: c.onReply,
	}, c.log)
	c.pipeline = NewPipeline(deps.Extractor, deps.Booker, deps.Availability, c.log)
	go c.loop()
	return c
}

func (c *Controller) Key() string { return c.key }

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Snapshot() types.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return types.Session{
		Key:       c.key,
		Instance:  c.instance,
		State:     string(c.state),
		Status:    string(c.status),
		Message:   c.status.Message(),
		CreatedAt: c.created,
	}
}

// Dispatch is the provider's event handler. It never blocks; if the inbox is
// full the event is dropped and counted.
func (c *Controller) Dispatch(ev avatar.Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	select {
	case c.inbox <- ev:
	case <-c.ctx.Done():
	default:
		metricInboxOverflow.Inc()
		c.log.Warn("controller inbox full, event dropped", zap.String("kind", string(ev.Kind)))
	}
}

// Close stops the session and the event loop. The controller cannot be used
// afterwards.
func (c *Controller) Close(ctx context.Context) {
	c.Stop(ctx)
	c.cancel()
	<-c.loopDone
}

// Wait blocks until queued generations finish. Used by shutdown and tests.
func (c *Controller) Wait() { c.bridge.Wait() }

func (c *Controller) loop() {
	defer close(c.loopDone)
	for {
		select {
		case ev := <-c.inbox:
			c.handle(ev)
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Controller) handle(ev avatar.Event) {
	c.mu.Lock()
	if ev.Instance == "" || ev.Instance != c.instance || c.state.Terminal() {
		c.mu.Unlock()
		metricStaleEvents.Inc()
		c.journal("stale_event_dropped", map[string]any{"kind": string(ev.Kind), "instance": ev.Instance})
		return
	}

	var submit *types.ConversationTurn
	switch ev.Kind {
	case avatar.EventStreamReady:
		if c.state == StateConnecting {
			c.setState(StateListening)
		}
	case avatar.EventUserStartTalking:
		c.floor.OnUserStart()
	case avatar.EventUserTranscript:
		c.floor.OnUserTranscript(ev.Text)
	case avatar.EventUserStopTalking:
		d := c.floor.OnUserStop(ev.Text)
		if d.Finalize && c.state.Active() {
			c.seq++
			submit = &types.ConversationTurn{
				Instance: c.instance,
				Seq:      c.seq,
				Speaker:  types.SpeakerUser,
				Text:     d.Text,
				At:       ev.At.UTC(),
			}
		}
	case avatar.EventAvatarStartTalking:
		c.applyMode(c.floor.OnAvatarStart().Mode)
	case avatar.EventAvatarStopTalking:
		c.applyMode(c.floor.OnAvatarStop().Mode)
	case avatar.EventDisconnected:
		c.log.Info("avatar disconnected", zap.String("instance", ev.Instance))
		c.teardownLocked(StateClosed)
	case avatar.EventError:
		c.log.Warn("avatar error", zap.String("instance", ev.Instance), zap.Error(ev.Err))
		c.teardownLocked(StateError)
	default:
		c.log.Debug("unknown event ignored", zap.String("kind", string(ev.Kind)))
	}
	c.mu.Unlock()

	if submit != nil {
		metricTurns.Inc()
		c.journal("user_turn", map[string]any{"seq": submit.Seq, "text": submit.Text})
		c.bridge.Submit(*submit)
	}
}

// applyMode maps the floor's presentation mode onto the active sub-state.
// mu must be held.
func (c *Controller) applyMode(m floor.Mode) {
	if !c.state.Active() {
		return
	}
	switch m {
	case floor.Speaking:
		c.setState(StateSpeaking)
	case floor.Listening:
		c.setState(StateListening)
	}
}

// alive is the session-liveness guard for async results.
func (c *Controller) alive(instance string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return instance != "" && instance == c.instance && c.state.Active()
}

// speak sends text to the avatar only if instance is still the live one.
func (c *Controller) speak(ctx context.Context, instance, text string) error {
	c.mu.Lock()
	if instance == "" || instance != c.instance || !c.state.Active() || c.stream == nil {
		c.mu.Unlock()
		return errStale
	}
	stream := c.stream
	c.mu.Unlock()

	sctx, cancel := context.WithTimeout(ctx, c.opts.SpeakTimeout)
	defer cancel()
	return stream.Speak(sctx, text)
}

func (c *Controller) onReply(ctx context.Context, turn types.ConversationTurn) {
	c.journal("assistant_turn", map[string]any{"seq": turn.Seq, "text": turn.Text})
	r := c.pipeline.Handle(ctx, turn)
	if r.Outcome != OutcomeNone && r.Outcome != OutcomeNoop {
		payload := map[string]any{"seq": turn.Seq, "outcome": string(r.Outcome)}
		if r.Booking != nil {
			payload["booking_id"] = r.Booking.ID
			payload["fecha"] = r.Booking.Fecha
			payload["hora"] = r.Booking.Hora
		}
		if r.Err != nil {
			payload["status"] = string(StatusFor(r.Err))
		}
		c.journal("booking_outcome", payload)
	}
	if r.Say == "" {
		return
	}
	if err := c.speak(ctx, turn.Instance, r.Say); err != nil && err != errStale {
		c.log.Warn("follow-up not spoken", zap.Uint64("seq", turn.Seq), zap.Error(err))
	}
}

// setState must be called with mu held.
func (c *Controller) setState(to State) error {
	from := c.state
	if from == to {
		return nil
	}
	if !canTransition(from, to) {
		return &TransitionError{From: from, To: to}
	}
	metricStateTransitions.WithLabelValues(string(from), string(to)).Inc()
	c.state = to
	c.status = statusForState(to)
	c.journal("state", map[string]any{"from": string(from), "to": string(to), "instance": c.instance})
	c.log.Debug("state", zap.String("from", string(from)), zap.String("to", string(to)))
	return nil
}

func (c *Controller) journal(typ string, payload map[string]any) {
	if c.deps.Journal != nil {
		c.deps.Journal.Append(c.key, typ, payload)
	}
}
