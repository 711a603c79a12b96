package httpadapter

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// ndjsonStream writes one JSON object per line and flushes after every
// event so clients see progress as it happens.
type ndjsonStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
	encoder *json.Encoder
}

func newNDJSONStream(w http.ResponseWriter) (*ndjsonStream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &ndjsonStream{
		w:       w,
		flusher: flusher,
		encoder: json.NewEncoder(w),
	}, nil
}

func (s *ndjsonStream) write(payload any) error {
	if err := s.encoder.Encode(payload); err != nil {
		return fmt.Errorf("write stream event: %w", err)
	}
	s.flusher.Flush()
	return nil
}
