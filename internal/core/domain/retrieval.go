package domain

import "strings"

type Strategy string

const (
	StrategyVector                Strategy = "vector"
	StrategyLexical               Strategy = "lexical"
	StrategyHybrid                Strategy = "hybrid"
	StrategyMandatoryKeywords     Strategy = "mandatory_keywords"
	StrategyMandatoryKeywordsOnly Strategy = "mandatory_keywords_only"
	StrategyMandatoryPlusVector   Strategy = "mandatory_plus_vector"
	StrategyMultiPath             Strategy = "multi_path"
	StrategyError                 Strategy = "error"
)

// Hit is a scored retrieval candidate. Hits are treated as values: score
// adjustments during rerank/fusion replace the hit instead of mutating a
// shared instance.
type Hit struct {
	FileID     string            `json:"file_id"`
	ChunkID    string            `json:"chunk_id,omitempty"`
	Score      float64           `json:"score"`
	Snippet    string            `json:"snippet,omitempty"`
	Summary    string            `json:"summary,omitempty"`
	Provenance Provenance        `json:"provenance"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// Key is the deduplication key: chunk id when present, file id otherwise.
func (h Hit) Key() string {
	if h.ChunkID != "" {
		return h.ChunkID
	}
	return h.FileID
}

func (h Hit) WithScore(score float64) Hit {
	h.Score = score
	return h
}

type FileRecord struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Path          string `json:"path"`
	Kind          string `json:"kind"`
	Extension     string `json:"extension"`
	Size          int64  `json:"size"`
	HasEmbeddings bool   `json:"has_embeddings"`
}

type ChunkRecord struct {
	ID             string `json:"id"`
	FileID         string `json:"file_id"`
	Index          int    `json:"index"`
	Snippet        string `json:"snippet"`
	Summary        string `json:"summary"`
	PageStart      int    `json:"page_start"`
	PageEnd        int    `json:"page_end"`
	SegmentCaption string `json:"segment_caption"`
}

// SnippetQuery parameterizes a lexical snippet search against storage.
type SnippetQuery struct {
	Query           string
	Limit           int
	RequireAllTerms bool
	FileIDs         []string
}

type RewriteResult struct {
	Original   string   `json:"original"`
	Effective  string   `json:"effective"`
	Alternates []string `json:"alternates,omitempty"`
	Applied    bool     `json:"applied"`
}

// Variants returns the ordered, case-insensitively deduplicated list of
// query phrasings to retrieve with: effective first, then alternates,
// then the original, capped at limit (4 when limit <= 0).
func (r RewriteResult) Variants(limit int) []string {
	if limit <= 0 {
		limit = 4
	}
	seen := make(map[string]struct{}, limit)
	out := make([]string, 0, limit)
	add := func(q string) {
		q = strings.TrimSpace(q)
		if q == "" || len(out) >= limit {
			return
		}
		key := strings.ToLower(q)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		out = append(out, q)
	}
	add(r.Effective)
	for _, alt := range r.Alternates {
		add(alt)
	}
	add(r.Original)
	return out
}

type SubQueryResult struct {
	SubQuery string   `json:"sub_query"`
	Hits     []Hit    `json:"hits"`
	Strategy Strategy `json:"strategy"`
}

type SearchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

type SearchResponse struct {
	Query           string           `json:"query"`
	Hits            []Hit            `json:"hits"`
	Strategy        Strategy         `json:"strategy"`
	RewrittenQuery  string           `json:"rewritten_query,omitempty"`
	QueryVariants   []string         `json:"query_variants,omitempty"`
	LatencyMs       int64            `json:"latency_ms"`
	Diagnostics     *Diagnostics     `json:"diagnostics,omitempty"`
	SubQueries      []string         `json:"sub_queries,omitempty"`
	SubQueryResults []SubQueryResult `json:"sub_query_results,omitempty"`
}

type AnswerRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
	// Mode selects the pipeline: "auto" routes by intent, "chat" skips
	// retrieval, "document" forces retrieval.
	Mode string `json:"mode,omitempty"`
}

type AnswerResult struct {
	Query       string       `json:"query"`
	Answer      string       `json:"answer"`
	Hits        []Hit        `json:"hits"`
	Strategy    Strategy     `json:"strategy"`
	Intent      Intent       `json:"intent"`
	LatencyMs   int64        `json:"latency_ms"`
	Diagnostics *Diagnostics `json:"diagnostics,omitempty"`
}

// AnswerAudit is the record published after a completed answer request.
type AnswerAudit struct {
	RequestID string   `json:"request_id"`
	Query     string   `json:"query"`
	Intent    Intent   `json:"intent"`
	Strategy  Strategy `json:"strategy"`
	HitCount  int      `json:"hit_count"`
	Answered  bool     `json:"answered"`
	LatencyMs int64    `json:"latency_ms"`
}
