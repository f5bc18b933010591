package llm

import "context"

// Backend opens chat sessions. A session keeps its own history.
type Backend interface {
	CreateSession(ctx context.Context, systemInstruction string) (Chat, error)
}

type Chat interface {
	// SendMessageStream starts a reply. The stream is finite; Next returns
	// io.EOF after the last chunk.
	SendMessageStream(ctx context.Context, text string) Stream
}

type Stream interface {
	Next() (string, error)
}

// OneShot is implemented by chats that can also return a whole reply in one
// call. It is the degraded path when streaming cannot start.
type OneShot interface {
	SendMessage(ctx context.Context, text string) (string, error)
}
