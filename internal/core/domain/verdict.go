package domain

// Confidence levels produced by chunk verification. The model reports a
// coarse HIGH/MEDIUM/LOW signal which is discretized here.
const (
	ConfidenceHigh        = 0.9
	ConfidenceMedium      = 0.7
	ConfidenceLow         = 0.4
	ConfidenceUnspecified = 0.5
	ConfidenceNone        = 0.0
)

// ChunkVerdict is the map-phase result of verifying one context chunk
// against the question. Verdicts are request-scoped and never persisted.
type ChunkVerdict struct {
	Index      int     `json:"index"`
	HasAnswer  bool    `json:"has_answer"`
	Content    string  `json:"content,omitempty"`
	Source     string  `json:"source,omitempty"`
	Confidence float64 `json:"confidence"`
	FileID     string  `json:"file_id,omitempty"`
	ChunkID    string  `json:"chunk_id,omitempty"`
}

// HighQuality reports whether a verdict counts toward the early-stop
// threshold of the verification pass.
func (v ChunkVerdict) HighQuality() bool {
	return v.HasAnswer && v.Confidence >= 0.8
}

// ContextPart is one chunk of retrieved content handed to the verifier.
type ContextPart struct {
	Index   int     `json:"index"`
	Source  string  `json:"source"`
	Content string  `json:"content"`
	FileID  string  `json:"file_id,omitempty"`
	ChunkID string  `json:"chunk_id,omitempty"`
	Score   float64 `json:"score"`
}

// VerifyProgress reports one completed verification within a batch run.
type VerifyProgress struct {
	Processed   int          `json:"processed"`
	Total       int          `json:"total"`
	Source      string       `json:"source"`
	Verdict     ChunkVerdict `json:"verdict"`
	HighQuality int          `json:"high_quality"`
}
