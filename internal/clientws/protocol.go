package clientws

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"elena/agent/internal/avatar"
)

// Server to client commands.
const (
	cmdRequestMedia = "request_media"
	cmdStartAvatar  = "start_avatar"
	cmdSpeak        = "speak"
	cmdStopAvatar   = "stop_avatar"
	cmdReleaseMedia = "release_media"
)

const typeAck = "cmd_ack"

// MaxTextRunes bounds transcript and speak text.
const MaxTextRunes = 2000

// maxMessageBytes is the websocket read limit.
const maxMessageBytes = 16 << 10

type outbound struct {
	Type      string `json:"type"`
	CommandID string `json:"command_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Text      string `json:"text,omitempty"`
	TsMs      int64  `json:"ts_ms"`
}

// inbound is the only accepted client message shape. Unknown fields reject
// the whole message.
type inbound struct {
	Type      string `json:"type"`
	CommandID string `json:"command_id,omitempty"`
	OK        *bool  `json:"ok,omitempty"`
	Error     string `json:"error,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Text      string `json:"text,omitempty"`
	Message   string `json:"message,omitempty"`
	TsMs      int64  `json:"ts_ms,omitempty"`
}

var (
	errUnknownType = errors.New("unknown message type")
	errTooLong     = errors.New("text too long")
	errNoInstance  = errors.New("missing session_id")
	errNoCommandID = errors.New("ack without command_id")
)

func decodeInbound(data []byte) (inbound, error) {
	var in inbound
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		return inbound{}, fmt.Errorf("decode: %w", err)
	}
	if dec.More() {
		return inbound{}, errors.New("decode: trailing data")
	}
	if utf8.RuneCountInString(in.Text) > MaxTextRunes || utf8.RuneCountInString(in.Message) > MaxTextRunes {
		return inbound{}, errTooLong
	}
	if in.Type == typeAck {
		if in.CommandID == "" || in.OK == nil {
			return inbound{}, errNoCommandID
		}
		return in, nil
	}
	if !avatar.EventKind(in.Type).Valid() {
		return inbound{}, errUnknownType
	}
	if in.SessionID == "" {
		return inbound{}, errNoInstance
	}
	return in, nil
}

func (in inbound) event() avatar.Event {
	ev := avatar.Event{
		Kind:     avatar.EventKind(in.Type),
		Instance: in.SessionID,
		Text:     in.Text,
	}
	if ev.Kind == avatar.EventError {
		msg := in.Message
		if msg == "" {
			msg = "widget error"
		}
		ev.Err = errors.New(msg)
	}
	return ev
}

// CommandError is a negative ack from the widget.
type CommandError struct {
	Command string
	Message string
}

func (e *CommandError) Error() string {
	if e.Message == "" {
		return e.Command + " rejected by client"
	}
	return e.Command + " rejected by client: " + e.Message
}
