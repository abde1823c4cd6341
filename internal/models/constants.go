package models

const (
	HeaderKey1 = "Header 1"
	HeaderKey2 = "Header 2"
	HeaderKey3 = "Header 3"

	SourceKey     = "source"
	SourceFileKey = "source_file"

	DefaultDocumentName = "document.pdf"
	SafeNameMaxLen      = 200

	// chunk budget and overlap, in runes
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 100

	DefaultSearchLimit = 3

	UploadAcceptedMessage = "File uploaded successfully. Processing has started in the background."
	InvalidFileTypeDetail = "Invalid file type."
	EmptyQueryDetail      = "Query cannot be empty."
	InvalidLimitDetail    = "Limit must be a positive integer."
	JobNotFoundDetail     = "Job not found."
)

// HeaderKeys maps markdown heading levels to chunk metadata keys.
var HeaderKeys = map[int]string{
	1: HeaderKey1,
	2: HeaderKey2,
	3: HeaderKey3,
}
