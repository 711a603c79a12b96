package domain

import "fmt"

type ProvenanceKind string

const (
	ProvenanceTextPage     ProvenanceKind = "text_page"
	ProvenanceImage        ProvenanceKind = "image"
	ProvenanceVideoSegment ProvenanceKind = "video_segment"
	ProvenanceGeneric      ProvenanceKind = "generic"
)

// Provenance describes where a hit's content came from. The Kind
// discriminator selects which of the optional fields are meaningful.
type Provenance struct {
	Kind      ProvenanceKind `json:"kind"`
	Name      string         `json:"name,omitempty"`
	Path      string         `json:"path,omitempty"`
	Extension string         `json:"extension,omitempty"`
	Size      int64          `json:"size,omitempty"`

	// text_page
	PageStart   int   `json:"page_start,omitempty"`
	PageEnd     int   `json:"page_end,omitempty"`
	PageNumbers []int `json:"page_numbers,omitempty"`

	// video_segment
	SegmentCaption  string `json:"segment_caption,omitempty"`
	SegmentStartSec int    `json:"segment_start_sec,omitempty"`
	SegmentEndSec   int    `json:"segment_end_sec,omitempty"`
}

// KindForFile maps a stored file kind onto the provenance discriminator.
func KindForFile(fileKind string) ProvenanceKind {
	switch fileKind {
	case "text", "pdf", "document":
		return ProvenanceTextPage
	case "image":
		return ProvenanceImage
	case "video":
		return ProvenanceVideoSegment
	default:
		return ProvenanceGeneric
	}
}

// CitationSuffix renders the kind-specific location part of a citation,
// e.g. ", Page 3" or ", 01:10-01:45". Empty when the kind carries no
// location information.
func (p Provenance) CitationSuffix() string {
	switch p.Kind {
	case ProvenanceTextPage:
		switch {
		case p.PageStart > 0 && p.PageEnd > p.PageStart:
			return fmt.Sprintf(", Page %d-%d", p.PageStart, p.PageEnd)
		case p.PageStart > 0:
			return fmt.Sprintf(", Page %d", p.PageStart)
		case len(p.PageNumbers) == 1:
			return fmt.Sprintf(", Page %d", p.PageNumbers[0])
		case len(p.PageNumbers) > 1:
			return fmt.Sprintf(", Page %d-%d", p.PageNumbers[0], p.PageNumbers[len(p.PageNumbers)-1])
		}
		return ""
	case ProvenanceVideoSegment:
		if p.SegmentEndSec > 0 {
			return fmt.Sprintf(", %s-%s", formatTimestamp(p.SegmentStartSec), formatTimestamp(p.SegmentEndSec))
		}
		if p.SegmentStartSec > 0 {
			return ", " + formatTimestamp(p.SegmentStartSec)
		}
		return ""
	default:
		return ""
	}
}

// CitationLabel is the human-readable source label used in answers.
func (p Provenance) CitationLabel() string {
	name := p.Name
	if name == "" {
		name = p.Path
	}
	if name == "" {
		name = "unknown source"
	}
	return name + p.CitationSuffix()
}

func formatTimestamp(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
