package vlm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"resty.dev/v3"
)

// LlamaCppClient talks to the OpenAI compatible API of a llama.cpp server
type LlamaCppClient struct {
	client *resty.Client
}

// Message is an OpenAI chat message. Content is a string or a list of parts.
type Message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// ContentPart is one text or image part of a message
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
}

// ChatCompletionRequest is the OpenAI chat completion request body
type ChatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream"`
}

// ChatCompletionResponse is the OpenAI chat completion response body
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
}

type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason,omitempty"`
}

// NewLlamaCppClient creates a client for the server at serverURL
func NewLlamaCppClient(serverURL string) (*LlamaCppClient, error) {
	if serverURL == "" {
		serverURL = "http://localhost:8080"
	}

	client := resty.New().
		SetBaseURL(strings.TrimSuffix(serverURL, "/")).
		SetTimeout(5*time.Minute).
		SetRetryCount(1).
		SetHeader("Content-Type", "application/json")
	return &LlamaCppClient{client: client}, nil
}

// Close releases the HTTP client
func (c *LlamaCppClient) Close() error {
	return c.client.Close()
}

// Query sends the prompt and a jpeg data URL in one user message
func (c *LlamaCppClient) Query(ctx context.Context, model, prompt, imgB64 string) (string, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 300*time.Second)
		defer cancel()
	}

	content := []ContentPart{{Type: "text", Text: prompt}}
	if imgB64 != "" {
		content = append(content, ContentPart{
			Type:     "image_url",
			ImageURL: &ImageURL{URL: "data:image/jpeg;base64," + imgB64},
		})
	}

	req := ChatCompletionRequest{
		Model:     model,
		Messages:  []Message{{Role: "user", Content: content}},
		MaxTokens: 256,
	}

	var result ChatCompletionResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&result).
		Post("/v1/chat/completions")
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("server returned status %d: %s", resp.StatusCode(), resp.String())
	}

	if len(result.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}

	switch content := result.Choices[0].Message.Content.(type) {
	case string:
		if content != "" {
			return content, nil
		}
	case []any:
		for _, item := range content {
			if part, ok := item.(map[string]any); ok {
				if text, ok := part["text"].(string); ok && text != "" {
					return text, nil
				}
			}
		}
	}

	return "", fmt.Errorf("no text content in response")
}
