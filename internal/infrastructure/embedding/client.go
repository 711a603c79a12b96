package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/docuseek/qa-engine/internal/infrastructure/resilience"
)

type Config struct {
	BaseURL    string
	Model      string
	Timeout    time.Duration
	Resilience resilience.Config
}

// Client encodes queries through an OpenAI-compatible /v1/embeddings
// endpoint. Retrieval treats a failure here as a degradation signal, so
// the client keeps errors descriptive instead of wrapping them.
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

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (c *Client) Encode(ctx context.Context, queries []string) ([][]float32, error) {
	if len(queries) == 0 {
		return nil, nil
	}

	var vectors [][]float32
	err := c.executor.Execute(ctx, "encode", func(ctx context.Context) error {
		response, err := c.post(ctx, embedRequest{Model: c.model, Input: queries})
		if err != nil {
			return err
		}
		if len(response.Data) != len(queries) {
			return fmt.Errorf("embedding count mismatch: %d queries, %d vectors", len(queries), len(response.Data))
		}
		// The API may return vectors out of order.
		sort.Slice(response.Data, func(i, j int) bool {
			return response.Data[i].Index < response.Data[j].Index
		})
		vectors = make([][]float32, len(response.Data))
		for i, item := range response.Data {
			vectors[i] = item.Embedding
		}
		return nil
	}, nil)
	if err != nil {
		return nil, err
	}
	return vectors, nil
}

func (c *Client) post(ctx context.Context, payload embedRequest) (*embedResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		msg := strings.TrimSpace(string(raw))
		if msg == "" {
			return nil, fmt.Errorf("embed status: %s", resp.Status)
		}
		return nil, fmt.Errorf("embed status: %s: %s", resp.Status, msg)
	}

	var response embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	return &response, nil
}
