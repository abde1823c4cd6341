package chunker

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/textsplitter"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"knowledge-api/internal/models"
)

const maxHeadingLevel = 3

// Service splits markdown in two stages: first by heading (levels 1-3),
// then by size with overlap. Each chunk keeps the heading path it sat under.
type Service struct {
	md       goldmark.Markdown
	splitter textsplitter.TextSplitter
}

type Option func(*options)

type options struct {
	chunkSize    int
	chunkOverlap int
}

func WithChunkSize(n int) Option {
	return func(o *options) { o.chunkSize = n }
}

func WithChunkOverlap(n int) Option {
	return func(o *options) { o.chunkOverlap = n }
}

func NewService(opts ...Option) *Service {
	o := options{
		chunkSize:    models.DefaultChunkSize,
		chunkOverlap: models.DefaultChunkOverlap,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Service{
		md: goldmark.New(),
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(o.chunkSize),
			textsplitter.WithChunkOverlap(o.chunkOverlap),
		),
	}
}

// CreateChunks returns the chunks for one markdown document. Empty input
// yields an empty slice and no error.
func (s *Service) CreateChunks(markdown string) ([]models.Chunk, error) {
	if strings.TrimSpace(markdown) == "" {
		return []models.Chunk{}, nil
	}

	sections := s.splitByHeadings([]byte(markdown))
	docs := make([]schema.Document, 0, len(sections))
	for _, sec := range sections {
		docs = append(docs, schema.Document{PageContent: sec.text, Metadata: sec.metadata})
	}

	split, err := textsplitter.SplitDocuments(s.splitter, docs)
	if err != nil {
		log.Error().Err(err).Msg("Error during chunking")
		return nil, fmt.Errorf("failed to split text: %w", err)
	}

	chunks := make([]models.Chunk, 0, len(split))
	for _, d := range split {
		if strings.TrimSpace(d.PageContent) == "" {
			continue
		}
		meta := make(map[string]string, len(d.Metadata))
		for k, v := range d.Metadata {
			meta[k] = fmt.Sprint(v)
		}
		chunks = append(chunks, models.Chunk{Content: d.PageContent, Metadata: meta})
	}

	log.Debug().Int("sections", len(sections)).Int("chunks", len(chunks)).Msg("Chunking complete")
	return chunks, nil
}

type section struct {
	text     string
	metadata map[string]any
}

// splitByHeadings partitions src at top-level headings. Heading lines are
// dropped from the section text; sections without text are skipped.
func (s *Service) splitByHeadings(src []byte) []section {
	doc := s.md.Parser().Parse(text.NewReader(src))

	headers := map[int]string{}
	var sections []section
	pos := 0
	emit := func(end int) {
		body := strings.TrimSpace(string(src[pos:end]))
		if body == "" {
			return
		}
		meta := make(map[string]any, len(headers))
		for level, title := range headers {
			meta[models.HeaderKeys[level]] = title
		}
		sections = append(sections, section{text: body, metadata: meta})
	}

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		h, ok := n.(*ast.Heading)
		if !ok || h.Level > maxHeadingLevel || h.Lines().Len() == 0 {
			continue
		}
		first := h.Lines().At(0)
		start := lineStart(src, first.Start)
		if !isATX(src[start:]) {
			// underlined (setext) headings stay body text; only # markers split
			continue
		}
		end := lineEnd(src, first.Start)

		emit(start)

		for level := h.Level; level <= maxHeadingLevel; level++ {
			delete(headers, level)
		}
		headers[h.Level] = strings.Join(strings.Fields(string(h.Lines().Value(src))), " ")
		pos = end
	}
	emit(len(src))

	return sections
}

func lineStart(src []byte, i int) int {
	return bytes.LastIndexByte(src[:i], '\n') + 1
}

// lineEnd returns the offset just past the newline ending the line holding i.
func lineEnd(src []byte, i int) int {
	if i >= len(src) {
		return len(src)
	}
	if j := bytes.IndexByte(src[i:], '\n'); j >= 0 {
		return i + j + 1
	}
	return len(src)
}

func isATX(line []byte) bool {
	trimmed := bytes.TrimLeft(line, " ")
	return len(line)-len(trimmed) <= 3 && len(trimmed) > 0 && trimmed[0] == '#'
}
