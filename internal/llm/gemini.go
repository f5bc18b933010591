package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

type GeminiConfig struct {
	APIKey          string
	Model           string
	Temperature     float32
	MaxOutputTokens int32
}

// Gemini is the chat backend. One client is shared by every session.
type Gemini struct {
	client *genai.Client
	cfg    GeminiConfig
}

func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &Gemini{client: client, cfg: cfg}, nil
}

func (g *Gemini) Close() error { return g.client.Close() }

func (g *Gemini) CreateSession(_ context.Context, systemInstruction string) (Chat, error) {
	m := g.client.GenerativeModel(g.cfg.Model)
	if systemInstruction != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemInstruction)}}
	}
	if g.cfg.Temperature > 0 {
		m.SetTemperature(g.cfg.Temperature)
	}
	if g.cfg.MaxOutputTokens > 0 {
		m.SetMaxOutputTokens(g.cfg.MaxOutputTokens)
	}
	return &geminiChat{cs: m.StartChat()}, nil
}

type geminiChat struct {
	cs *genai.ChatSession
}

func (c *geminiChat) SendMessageStream(ctx context.Context, text string) Stream {
	return &geminiStream{it: c.cs.SendMessageStream(ctx, genai.Text(text))}
}

func (c *geminiChat) SendMessage(ctx context.Context, text string) (string, error) {
	resp, err := c.cs.SendMessage(ctx, genai.Text(text))
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	return textOf(resp), nil
}

type geminiStream struct {
	it *genai.GenerateContentResponseIterator
}

// Next skips responses that carry no text (safety or usage frames).
func (s *geminiStream) Next() (string, error) {
	for {
		resp, err := s.it.Next()
		if errors.Is(err, iterator.Done) {
			return "", io.EOF
		}
		if err != nil {
			return "", err
		}
		if t := textOf(resp); t != "" {
			return t, nil
		}
	}
}

func textOf(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				sb.WriteString(string(t))
			}
		}
		// first candidate only
		break
	}
	return sb.String()
}
