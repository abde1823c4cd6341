package models

// ExtractionResult is the output of converting one document to markdown.
type ExtractionResult struct {
	Content               string         `json:"content"`
	PageCount             int            `json:"page_count"`
	Metadata              map[string]any `json:"metadata"`
	ProcessingTimeSeconds float64        `json:"processing_time_seconds"`
}
