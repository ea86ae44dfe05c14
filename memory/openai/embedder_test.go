package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/aschepis/backscratcher/recall/memory"
)

func TestEmbedder_Embed(t *testing.T) {
	var gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotModel = req.Model
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  req.Model,
			"data": []map[string]any{
				{"object": "embedding", "index": 0, "embedding": []float32{0.5, -0.5}},
			},
		})
	}))
	defer srv.Close()

	emb, err := NewEmbedder("test-key", srv.URL+"/v1", "", 0, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEmbedder: %v", err)
	}
	vec, err := emb.Embed(context.Background(), "plays bass", memory.EmbedDocument)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 2 || vec[0] != 0.5 {
		t.Fatalf("vec = %v", vec)
	}
	if gotModel != string(DefaultModel) {
		t.Fatalf("model = %q, want %q", gotModel, DefaultModel)
	}
}

func TestEmbedder_UnauthorizedIsPermanent(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	emb, err := NewEmbedder("test-key", srv.URL+"/v1", "", 0, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEmbedder: %v", err)
	}
	if _, err := emb.Embed(context.Background(), "plays bass", memory.EmbedQuery); err == nil {
		t.Fatalf("expected error")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestNewEmbedder_RequiresKey(t *testing.T) {
	if _, err := NewEmbedder("", "", "", 0, zerolog.Nop()); err == nil {
		t.Fatalf("expected error for missing api key")
	}
}
