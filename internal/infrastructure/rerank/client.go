package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/docuseek/qa-engine/internal/core/domain"
	"github.com/docuseek/qa-engine/internal/infrastructure/resilience"
)

type Config struct {
	BaseURL    string
	Model      string
	Timeout    time.Duration
	Resilience resilience.Config
}

// Client scores candidate documents against a query through a
// text-embeddings-inference style /rerank endpoint. Callers fall back to
// lexical rescoring when this service is down, so errors stay plain.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: timeout},
		executor:   resilience.NewExecutor(cfg.Resilience),
	}
}

type rerankRequest struct {
	Model string   `json:"model,omitempty"`
	Query string   `json:"query"`
	Texts []string `json:"texts"`
	TopK  int      `json:"top_k,omitempty"`
}

type rerankItem struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

func (c *Client) Rerank(ctx context.Context, query string, documents []string, topK int) ([]domain.RankedDocument, error) {
	if len(documents) == 0 {
		return nil, nil
	}

	var ranked []domain.RankedDocument
	err := c.executor.Execute(ctx, "rerank", func(ctx context.Context) error {
		items, err := c.post(ctx, rerankRequest{
			Model: c.model,
			Query: query,
			Texts: documents,
			TopK:  topK,
		})
		if err != nil {
			return err
		}
		ranked = make([]domain.RankedDocument, 0, len(items))
		for _, item := range items {
			if item.Index < 0 || item.Index >= len(documents) {
				return fmt.Errorf("rerank index %d out of range", item.Index)
			}
			ranked = append(ranked, domain.RankedDocument{Index: item.Index, Score: item.Score})
		}
		return nil
	}, nil)
	if err != nil {
		return nil, err
	}
	if topK > 0 && len(ranked) > topK {
		ranked = ranked[:topK]
	}
	return ranked, nil
}

func (c *Client) post(ctx context.Context, payload rerankRequest) ([]rerankItem, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		msg := strings.TrimSpace(string(raw))
		if msg == "" {
			return nil, fmt.Errorf("rerank status: %s", resp.Status)
		}
		return nil, fmt.Errorf("rerank status: %s: %s", resp.Status, msg)
	}

	var items []rerankItem
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}
	return items, nil
}
