package domain

type EventType string

const (
	EventStatus             EventType = "status"
	EventThinkingStep       EventType = "thinking_step"
	EventHits               EventType = "hits"
	EventChunkProgress      EventType = "chunk_progress"
	EventChunkAnalysis      EventType = "chunk_analysis"
	EventToken              EventType = "token"
	EventSubQueryHits       EventType = "subquery_hits"
	EventMultiPathStart     EventType = "multi_path_start"
	EventMultiPathEnd       EventType = "multi_path_end"
	EventFallbackToStandard EventType = "fallback_to_standard"
	EventError              EventType = "error"
	EventDone               EventType = "done"
)

// StreamEvent is one NDJSON line of the answer stream. Only the fields
// relevant to the Type discriminator are populated. Consumers must treat
// the stream as append-only and terminate on done or error.
type StreamEvent struct {
	Type          EventType       `json:"type"`
	Message       string          `json:"message,omitempty"`
	Step          *DiagnosticStep `json:"step,omitempty"`
	Hits          []Hit           `json:"hits,omitempty"`
	Progress      *VerifyProgress `json:"progress,omitempty"`
	Verdicts      []ChunkVerdict  `json:"verdicts,omitempty"`
	Token         string          `json:"token,omitempty"`
	SubQueryIndex int             `json:"sub_query_index,omitempty"`
	SubQuery      string          `json:"sub_query,omitempty"`
	SubQueries    []string        `json:"sub_queries,omitempty"`
	Answer        *AnswerResult   `json:"answer,omitempty"`
}

// EventSink receives stream events in emission order. Implementations
// must be safe for calls from concurrent sub-query goroutines.
type EventSink func(StreamEvent) error

// SearchStage identifies one layer of the progressive search stream.
// Layers run cheapest first and each emits only hits the earlier
// layers have not already produced.
type SearchStage string

const (
	StageFilename SearchStage = "filename"
	StageSummary  SearchStage = "summary"
	StageMetadata SearchStage = "metadata"
	StageHybrid   SearchStage = "hybrid"
	StageComplete SearchStage = "complete"
)

// StageResult is one NDJSON line of the progressive search stream. The
// complete stage carries no hits and marks the stream done.
type StageResult struct {
	Stage     SearchStage `json:"stage"`
	Hits      []Hit       `json:"hits,omitempty"`
	TotalHits int         `json:"total_hits"`
	Done      bool        `json:"done"`
	LatencyMs int64       `json:"latency_ms"`
}

// StageSink receives progressive search stages in emission order.
type StageSink func(StageResult) error
