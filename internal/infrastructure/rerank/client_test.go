package rerank

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRerankReturnsModelOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rerank" {
			http.NotFound(w, r)
			return
		}
		var request rerankRequest
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if request.Query != "churn" || len(request.Texts) != 3 {
			t.Errorf("unexpected request: %+v", request)
		}
		_, _ = w.Write([]byte(`[{"index":2,"score":0.95},{"index":0,"score":0.4}]`))
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL})
	ranked, err := client.Rerank(context.Background(), "churn", []string{"a", "b", "c"}, 5)
	if err != nil {
		t.Fatalf("Rerank() error = %v", err)
	}
	if len(ranked) != 2 || ranked[0].Index != 2 || ranked[0].Score != 0.95 {
		t.Fatalf("unexpected ranking: %+v", ranked)
	}
}

func TestRerankTruncatesToTopK(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"index":0,"score":0.9},{"index":1,"score":0.8},{"index":2,"score":0.7}]`))
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL})
	ranked, err := client.Rerank(context.Background(), "q", []string{"a", "b", "c"}, 2)
	if err != nil {
		t.Fatalf("Rerank() error = %v", err)
	}
	if len(ranked) != 2 {
		t.Fatalf("expected top-2 truncation, got %d", len(ranked))
	}
}

func TestRerankRejectsOutOfRangeIndex(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"index":7,"score":0.9}]`))
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL})
	_, err := client.Rerank(context.Background(), "q", []string{"a"}, 1)
	if err == nil || !strings.Contains(err.Error(), "out of range") {
		t.Fatalf("expected out-of-range error, got %v", err)
	}
}

func TestRerankEmptyDocumentsSkipsRequest(t *testing.T) {
	client := New(Config{BaseURL: "http://127.0.0.1:1"})
	ranked, err := client.Rerank(context.Background(), "q", nil, 3)
	if err != nil || ranked != nil {
		t.Fatalf("empty documents must be a no-op, got (%v, %v)", ranked, err)
	}
}
