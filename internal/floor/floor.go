package floor

import "strings"

// Mode is the presentation sub-state of an active session.
type Mode string

const (
	Listening Mode = "listening"
	Speaking  Mode = "speaking"
)

// Decision represents what the controller should do after a talking event.
type Decision struct {
	Mode     Mode
	Finalize bool   // a user utterance just ended
	Text     string // final utterance text when Finalize is set
}

// Manager tracks who holds the floor and accumulates the in-progress user
// utterance. Interim events only change presentation; only OnUserStop can
// finalize.
type Manager struct {
	avatarSpeaking bool
	partial        string
}

func New() *Manager { return &Manager{} }

// Reset is called for every new session instance.
func (m *Manager) Reset() { *m = Manager{} }

func (m *Manager) mode() Mode {
	if m.avatarSpeaking {
		return Speaking
	}
	return Listening
}

func (m *Manager) OnAvatarStart() Decision {
	m.avatarSpeaking = true
	return Decision{Mode: m.mode()}
}

func (m *Manager) OnAvatarStop() Decision {
	m.avatarSpeaking = false
	return Decision{Mode: m.mode()}
}

func (m *Manager) OnUserStart() Decision {
	m.partial = ""
	return Decision{Mode: m.mode()}
}

// OnUserTranscript replaces the interim text; providers send the running
// transcript, not deltas.
func (m *Manager) OnUserTranscript(text string) Decision {
	m.partial = text
	return Decision{Mode: m.mode()}
}

// OnUserStop finalizes the utterance. The stop event's own text wins over the
// interim transcript. Blank utterances are not finalized.
func (m *Manager) OnUserStop(text string) Decision {
	final := strings.TrimSpace(text)
	if final == "" {
		final = strings.TrimSpace(m.partial)
	}
	m.partial = ""
	return Decision{Mode: m.mode(), Finalize: final != "", Text: final}
}
