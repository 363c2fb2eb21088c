package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/seantiz/ragserve/internal/backend"
)

func TestOllamaGenerate(t *testing.T) {
	var got generateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"response": "[FROM_KNOWLEDGE] Hello there!",
			"done":     true,
		})
	}))
	defer server.Close()

	g := New(backend.Settings{BaseURL: server.URL, Model: "test-model"})
	resp, err := g.Generate(context.Background(), backend.Prompt{System: "sys", Question: "Hi"})
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if resp != "[FROM_KNOWLEDGE] Hello there!" {
		t.Errorf("unexpected response: %s", resp)
	}
	if got.Model != "test-model" || got.System != "sys" || got.Prompt != "Hi" || got.Stream {
		t.Errorf("request = %+v", got)
	}
}

func TestOllamaServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, err := New(backend.Settings{BaseURL: server.URL}).Generate(context.Background(), backend.Prompt{Question: "test"})
	if err == nil {
		t.Error("should error on 404")
	}
}

func TestOllamaDefaultValues(t *testing.T) {
	g := New(backend.Settings{})
	if g.baseURL != defaultBaseURL {
		t.Errorf("baseURL = %q, want %q", g.baseURL, defaultBaseURL)
	}
	if g.Info().Model != defaultModel {
		t.Errorf("model = %q, want %q", g.Info().Model, defaultModel)
	}
}
