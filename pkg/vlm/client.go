// Package vlm classifies garments with a vision language model served by
// Ollama or a llama.cpp server, as an alternative to the local CNN.
package vlm

import (
	"context"
	"fmt"
	"strings"
)

// Client sends one prompt with one base64 image and returns the model's text
type Client interface {
	Query(ctx context.Context, model, prompt, imgB64 string) (string, error)
}

// NewClient creates the client for a backend name: ollama or llamacpp
func NewClient(backend, serverURL string) (Client, error) {
	switch strings.ToLower(backend) {
	case "ollama":
		return NewOllamaClient(serverURL)
	case "llamacpp", "llama.cpp":
		return NewLlamaCppClient(serverURL)
	default:
		return nil, fmt.Errorf("unknown vision backend %q", backend)
	}
}
