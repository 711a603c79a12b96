package qdrant

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
)

// Client queries a Qdrant collection of chunk embeddings. The engine
// only reads from the collection; the ingestion pipeline that fills it
// lives elsewhere.
type Client struct {
	baseURL    string
	collection string
	httpClient *http.Client
}

func New(baseURL, collection string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *Client) Search(ctx context.Context, queryVector []float32, limit int, fileIDs []string) ([]domain.Hit, error) {
	reqBody := map[string]any{
		"vector":       queryVector,
		"limit":        limit,
		"with_payload": true,
	}
	if len(fileIDs) > 0 {
		reqBody["filter"] = map[string]any{
			"must": []map[string]any{
				{
					"key": "file_id",
					"match": map[string]any{
						"any": fileIDs,
					},
				},
			},
		}
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal search body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s/points/search", c.baseURL, c.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("qdrant search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		if msg := strings.TrimSpace(string(raw)); msg != "" {
			return nil, fmt.Errorf("qdrant search status: %s: %s", resp.Status, msg)
		}
		return nil, fmt.Errorf("qdrant search status: %s", resp.Status)
	}

	var searchResp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	out := make([]domain.Hit, 0, len(searchResp.Result))
	for _, r := range searchResp.Result {
		out = append(out, hitFromPayload(r.Payload, r.Score))
	}
	return out, nil
}

// hitFromPayload maps a point payload onto a Hit. Provenance fields are
// optional: older points carry only file_id, chunk_id and snippet.
func hitFromPayload(payload map[string]any, score float64) domain.Hit {
	hit := domain.Hit{
		FileID:  getStringPayload(payload, "file_id"),
		ChunkID: getStringPayload(payload, "chunk_id"),
		Snippet: getStringPayload(payload, "snippet"),
		Summary: getStringPayload(payload, "summary"),
		Score:   score,
		Provenance: domain.Provenance{
			Name:            getStringPayload(payload, "source_name"),
			Kind:            domain.ProvenanceKind(getStringPayload(payload, "source_kind")),
			PageStart:       getIntPayload(payload, "page_start"),
			PageEnd:         getIntPayload(payload, "page_end"),
			SegmentCaption:  getStringPayload(payload, "segment_caption"),
			SegmentStartSec: getIntPayload(payload, "start_sec"),
			SegmentEndSec:   getIntPayload(payload, "end_sec"),
		},
	}
	return hit
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func getIntPayload(payload map[string]any, key string) int {
	v, ok := payload[key]
	if !ok {
		return 0
	}
	// JSON numbers decode as float64.
	f, ok := v.(float64)
	if !ok {
		return 0
	}
	return int(f)
}
