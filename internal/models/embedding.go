package models

// Chunk represents a piece of a document ready to be embedded.
// Metadata carries the heading path the chunk was found under.
type Chunk struct {
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
}

// SearchResult is a single nearest-neighbour match.
type SearchResult struct {
	ID         string            `json:"id"`
	Content    string            `json:"content"`
	Metadata   map[string]string `json:"metadata"`
	Similarity float32           `json:"similarity"`
}

// VectorRecord is one entry as written to a vector store.
type VectorRecord struct {
	ID       string
	Content  string
	Metadata map[string]string
}
