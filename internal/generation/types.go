package generation

import (
	"context"
	"errors"
)

var (
	// ErrUpstream marks failures of the external generation service:
	// transport errors, non-2xx responses and an open circuit.
	ErrUpstream = errors.New("generation service failed")

	// ErrMalformedResponse means the service answered but nothing in the
	// answer matched the expected recommendation schema.
	ErrMalformedResponse = errors.New("malformed generation response")
)

// Request is a single generation call.
type Request struct {
	System      string
	Prompt      string
	Model       string
	Temperature float64
	MaxTokens   int
}

// Generator turns a prompt into raw model text.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// chatMessage and the types below mirror the OpenAI-compatible wire format.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}
