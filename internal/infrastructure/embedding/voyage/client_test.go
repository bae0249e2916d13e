package voyage

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bme3412/clarity/internal/core/domain"
	"github.com/bme3412/clarity/internal/infrastructure/cache"
)

func newTestServer(t *testing.T, calls *int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		var req struct {
			Input     []string `json:"input"`
			InputType string   `json:"input_type"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		type item struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		data := make([]item, len(req.Input))
		for i := range req.Input {
			data[i] = item{Embedding: []float32{1, 2, 3}, Index: i}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
}

func TestEmbedQueryUsesCache(t *testing.T) {
	calls := 0
	server := newTestServer(t, &calls)
	defer server.Close()

	client, err := New(Options{
		BaseURL:    server.URL,
		APIKey:     "test-key",
		QueryCache: cache.NewFIFO(8, time.Minute, nil),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	for i := 0; i < 3; i++ {
		vec, err := client.EmbedQuery(context.Background(), "AAPL revenue")
		if err != nil {
			t.Fatalf("embed query: %v", err)
		}
		if len(vec) != 3 {
			t.Fatalf("expected 3-dim vector, got %d", len(vec))
		}
	}
	if calls != 1 {
		t.Fatalf("expected a single remote call for repeated query, got %d", calls)
	}
}

func TestEmbedQueryEmptyInputShortCircuits(t *testing.T) {
	calls := 0
	server := newTestServer(t, &calls)
	defer server.Close()

	client, err := New(Options{BaseURL: server.URL, APIKey: "test-key"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	vec, err := client.EmbedQuery(context.Background(), "   ")
	if err != nil {
		t.Fatalf("embed query: %v", err)
	}
	if vec != nil {
		t.Fatalf("expected nil vector for whitespace input")
	}
	if calls != 0 {
		t.Fatalf("expected no remote call, got %d", calls)
	}
}

func TestEmbedAuthFailureIsFatal(t *testing.T) {
	calls := 0
	server := newTestServer(t, &calls)
	defer server.Close()

	client, err := New(Options{BaseURL: server.URL, APIKey: "wrong-key"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = client.EmbedQuery(context.Background(), "AAPL revenue")
	if err == nil {
		t.Fatalf("expected auth error")
	}
	if !domain.IsKind(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized kind, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected auth failure without retries, got %d calls", calls)
	}
}

func TestNewRequiresAPIKey(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatalf("expected error for missing api key")
	}
}
