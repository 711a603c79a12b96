package domain

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatOptions struct {
	MaxTokens     int
	Temperature   float64
	RepeatPenalty float64
}

// RankedDocument is one rerank result: the index of the document in the
// submitted batch and its model-assigned relevance score.
type RankedDocument struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

type Intent string

const (
	IntentGreeting    Intent = "greeting"
	IntentGeneralChat Intent = "general_chat"
	IntentDocument    Intent = "document"
)

type IntentDecision struct {
	Intent     Intent  `json:"intent"`
	Confidence float64 `json:"confidence"`
}
