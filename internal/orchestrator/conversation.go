package orchestrator

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"elena/agent/internal/llm"
	"elena/agent/internal/types"
)

// Apology is spoken when a generation fails.
const Apology = "Estoy teniendo un pequeño problema ahora mismo."

// errStale is returned by the speak hook when the turn's session instance is
// no longer active.
var errStale = errors.New("session instance no longer active")

type bridgeHooks struct {
	alive func(instance string) bool
	speak func(ctx context.Context, instance, text string) error
	reply func(ctx context.Context, turn types.ConversationTurn)
}

// Bridge serializes turns against one chat session. At most one generation
// runs at a time; while busy, one turn waits and a newer turn replaces it.
type Bridge struct {
	ctx     context.Context
	backend llm.Backend
	prompt  string
	hooks   bridgeHooks
	log     *zap.Logger

	chatMu sync.Mutex
	chat   llm.Chat

	mu      sync.Mutex
	busy    bool
	pending *types.ConversationTurn
	wg      sync.WaitGroup
}

func newBridge(ctx context.Context, backend llm.Backend, prompt string, hooks bridgeHooks, log *zap.Logger) *Bridge {
	return &Bridge{ctx: ctx, backend: backend, prompt: prompt, hooks: hooks, log: log}
}

// Submit never blocks.
func (b *Bridge) Submit(turn types.ConversationTurn) {
	b.mu.Lock()
	if b.busy {
		if b.pending != nil {
			metricTurnsSuperseded.Inc()
			b.log.Debug("queued turn superseded", zap.Uint64("dropped_seq", b.pending.Seq), zap.Uint64("seq", turn.Seq))
		}
		t := turn
		b.pending = &t
		b.mu.Unlock()
		return
	}
	b.busy = true
	b.wg.Add(1)
	b.mu.Unlock()
	go b.run(turn)
}

// Wait blocks until no generation is running or queued.
func (b *Bridge) Wait() { b.wg.Wait() }

func (b *Bridge) run(turn types.ConversationTurn) {
	defer b.wg.Done()
	for {
		b.generate(turn)

		b.mu.Lock()
		if b.pending == nil {
			b.busy = false
			b.mu.Unlock()
			return
		}
		turn = *b.pending
		b.pending = nil
		b.mu.Unlock()
	}
}

func (b *Bridge) session() (llm.Chat, error) {
	b.chatMu.Lock()
	defer b.chatMu.Unlock()
	if b.chat != nil {
		return b.chat, nil
	}
	chat, err := b.backend.CreateSession(b.ctx, b.prompt)
	if err != nil {
		return nil, err
	}
	b.chat = chat
	return chat, nil
}

func (b *Bridge) generate(turn types.ConversationTurn) {
	if !b.hooks.alive(turn.Instance) {
		metricStaleResults.Inc()
		return
	}
	lg := b.log.With(zap.String("instance", turn.Instance), zap.Uint64("seq", turn.Seq))

	chat, err := b.session()
	if err != nil {
		b.fail(turn, lg, err)
		return
	}

	metricGenerationsInFlight.Inc()
	defer metricGenerationsInFlight.Dec()

	started := time.Now()
	var filter speechFilter
	var reply strings.Builder
	chunks := 0

	say := func(spoken string) bool {
		if strings.TrimSpace(spoken) == "" {
			return true
		}
		err := b.hooks.speak(b.ctx, turn.Instance, spoken)
		if errors.Is(err, errStale) {
			metricStaleResults.Inc()
			return false
		}
		if err != nil {
			lg.Warn("speak failed", zap.Error(err))
		}
		return true
	}
	emit := func(chunk string) bool {
		if chunks == 0 {
			metricFirstChunk.Observe(float64(time.Since(started).Milliseconds()))
		}
		chunks++
		reply.WriteString(chunk)
		return say(filter.Filter(chunk))
	}

	stream := chat.SendMessageStream(b.ctx, turn.Text)
	for {
		chunk, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if chunks == 0 {
				if text, ok := b.oneShot(chat, turn, lg, err); ok {
					if !emit(text) {
						return
					}
					break
				}
			}
			b.fail(turn, lg, err)
			return
		}
		if chunk == "" {
			continue
		}
		if !emit(chunk) {
			return
		}
	}
	if !say(filter.Flush()) {
		return
	}

	if !b.hooks.alive(turn.Instance) {
		metricStaleResults.Inc()
		return
	}
	b.hooks.reply(b.ctx, types.ConversationTurn{
		Instance: turn.Instance,
		Seq:      turn.Seq,
		Speaker:  types.SpeakerAssistant,
		Text:     reply.String(),
		At:       time.Now().UTC(),
	})
}

// oneShot is the degraded path when the stream fails before its first chunk.
func (b *Bridge) oneShot(chat llm.Chat, turn types.ConversationTurn, lg *zap.Logger, streamErr error) (string, bool) {
	one, ok := chat.(llm.OneShot)
	if !ok {
		return "", false
	}
	lg.Warn("stream failed before first chunk, falling back to one-shot", zap.Error(streamErr))
	text, err := one.SendMessage(b.ctx, turn.Text)
	if err != nil || text == "" {
		return "", false
	}
	metricGenerationFallbacks.Inc()
	return text, true
}

func (b *Bridge) fail(turn types.ConversationTurn, lg *zap.Logger, err error) {
	metricGenerationErrors.Inc()
	lg.Error("generation failed", zap.Error(errors.Join(types.ErrGeneration, err)))
	if err := b.hooks.speak(b.ctx, turn.Instance, Apology); err != nil && !errors.Is(err, errStale) {
		lg.Warn("apology not spoken", zap.Error(err))
	}
}
