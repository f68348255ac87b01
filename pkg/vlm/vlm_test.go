package vlm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	log "github.com/sirupsen/logrus"

	"github.com/menta2k/logo-placer/pkg/garment"
	"github.com/menta2k/logo-placer/pkg/processing"
)

type fakeClient struct {
	answer string
	err    error
	prompt string
	image  string
}

func (f *fakeClient) Query(ctx context.Context, model, prompt, imgB64 string) (string, error) {
	f.prompt = prompt
	f.image = imgB64
	return f.answer, f.err
}

func createTestImage(width, height int) image.Image {
	return imaging.New(width, height, color.NRGBA{R: 30, G: 60, B: 90, A: 255})
}

func testClassifier(t *testing.T, client Client) *Classifier {
	t.Helper()
	catalog, err := garment.NewCatalog([]string{"tshirt", "hoodie", "hat"})
	if err != nil {
		t.Fatal(err)
	}
	logger := log.New()
	logger.SetOutput(io.Discard)
	return NewClassifier(client, catalog, processing.NewProcessor(), Config{Model: "llava", MaxDim: 64, Logger: logger})
}

func TestClassifyImage(t *testing.T) {
	tests := []struct {
		name     string
		answer   string
		expected string
	}{
		{"plain json", `{"category": "hoodie", "confidence": 0.9}`, "hoodie"},
		{"case insensitive", `{"category": "HAT"}`, "hat"},
		{"fenced json", "```json\n{\"category\": \"tshirt\", // sure\n}\n```", "tshirt"},
		{"free text", "This looks like a Hoodie, maybe a hat.", "hoodie"},
		{"unknown json falls back to text", `{"category": "sweater", "note": "close to a tshirt"}`, "tshirt"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			fake := &fakeClient{answer: test.answer}
			got, err := testClassifier(t, fake).ClassifyImage(context.Background(), createTestImage(200, 100))
			if err != nil {
				t.Fatalf("ClassifyImage failed: %v", err)
			}
			if got != test.expected {
				t.Errorf("Expected %s, got %s", test.expected, got)
			}
		})
	}
}

func TestClassifyImagePrompt(t *testing.T) {
	fake := &fakeClient{answer: `{"category":"hat"}`}
	if _, err := testClassifier(t, fake).ClassifyImage(context.Background(), createTestImage(200, 100)); err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(fake.prompt, "tshirt, hoodie, hat") {
		t.Errorf("Prompt should list the categories, got %q", fake.prompt)
	}

	data, err := base64.StdEncoding.DecodeString(fake.image)
	if err != nil {
		t.Fatalf("Image is not base64: %v", err)
	}
	img, err := imaging.Decode(strings.NewReader(string(data)))
	if err != nil {
		t.Fatalf("Image is not decodable: %v", err)
	}
	if img.Bounds().Dx() != 64 || img.Bounds().Dy() != 32 {
		t.Errorf("Expected image scaled to 64x32, got %v", img.Bounds())
	}
}

func TestClassifyImageErrors(t *testing.T) {
	fake := &fakeClient{answer: "I cannot tell."}
	c := testClassifier(t, fake)
	if _, err := c.ClassifyImage(context.Background(), createTestImage(10, 10)); !errors.Is(err, ErrNoCategory) {
		t.Errorf("Expected ErrNoCategory, got %v", err)
	}

	fake.err = errors.New("connection refused")
	if _, err := c.ClassifyImage(context.Background(), createTestImage(10, 10)); err == nil {
		t.Error("Expected client error to propagate")
	}

	if _, err := c.ClassifyImage(context.Background(), nil); err == nil {
		t.Error("Expected error for nil image")
	}
}

type blockingClient struct{}

func (blockingClient) Query(ctx context.Context, model, prompt, imgB64 string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestClassifyImageTimeout(t *testing.T) {
	c := testClassifier(t, blockingClient{})
	c.config.Timeout = 20 * time.Millisecond

	_, err := c.ClassifyImage(context.Background(), createTestImage(32, 32))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}

func TestSanitizeModelJSON(t *testing.T) {
	tests := map[string]string{
		`{"a":1}`:                              `{"a":1}`,
		"```json\n{\"a\":1,}\n```":             `{"a":1}`,
		`Sure! {"a": /* x */ 1} hope it helps`: `{"a":  1}`,
	}
	for in, expected := range tests {
		if got := sanitizeModelJSON(in); got != expected {
			t.Errorf("sanitizeModelJSON(%q) = %q, expected %q", in, got, expected)
		}
	}
}

func TestOllamaClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req["model"] != "llava" {
			http.Error(w, "wrong model", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"model":"llava","message":{"role":"assistant","content":"{\"category\":\"hat\"}"},"done":true}`)
	}))
	defer server.Close()

	client, err := NewOllamaClient(server.URL + "/api/chat")
	if err != nil {
		t.Fatalf("NewOllamaClient failed: %v", err)
	}
	got, err := client.Query(context.Background(), "llava", "what is it", base64.StdEncoding.EncodeToString([]byte("img")))
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if got != `{"category":"hat"}` {
		t.Errorf("Unexpected answer %q", got)
	}

	if _, err := client.Query(context.Background(), "llava", "x", "%%%"); err == nil {
		t.Error("Expected error for invalid base64")
	}
	if _, err := NewOllamaClient("not a url"); err == nil {
		t.Error("Expected error for URL without scheme")
	}
}

func TestLlamaCppClient(t *testing.T) {
	var got ChatCompletionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"1","model":"m","choices":[{"index":0,"message":{"role":"assistant","content":"hoodie"}}]}`)
	}))
	defer server.Close()

	client, err := NewLlamaCppClient(server.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	answer, err := client.Query(context.Background(), "m", "classify", "aGVsbG8=")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if answer != "hoodie" {
		t.Errorf("Expected hoodie, got %q", answer)
	}
	if len(got.Messages) != 1 || got.Model != "m" {
		t.Fatalf("Unexpected request %+v", got)
	}
	parts, ok := got.Messages[0].Content.([]any)
	if !ok || len(parts) != 2 {
		t.Fatalf("Expected text and image parts, got %#v", got.Messages[0].Content)
	}
}

func TestLlamaCppClientError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client, _ := NewLlamaCppClient(server.URL)
	defer client.Close()
	if _, err := client.Query(context.Background(), "m", "x", ""); err == nil {
		t.Error("Expected error for 503 response")
	}
}

func TestNewClient(t *testing.T) {
	if _, err := NewClient("ollama", "http://localhost:11434"); err != nil {
		t.Errorf("Expected ollama client, got %v", err)
	}
	if _, err := NewClient("llamacpp", "http://localhost:8080"); err != nil {
		t.Errorf("Expected llamacpp client, got %v", err)
	}
	if _, err := NewClient("cnn", ""); err == nil {
		t.Error("Expected error for unknown backend")
	}
}
