package parser

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"knowledge-api/internal/config"
	"knowledge-api/internal/models"
)

var (
	ErrProcessing        = errors.New("document processing failed")
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrTooManyPages      = errors.New("document exceeds page limit")
	ErrFileTooLarge      = errors.New("document exceeds size limit")
)

// Document is what a converter hands back: markdown plus whatever the
// format exposes about itself.
type Document struct {
	Markdown string
	Pages    int
	Metadata map[string]any
}

// Converter turns one file into markdown. Implementations block; callers run
// them off the request path.
type Converter interface {
	Convert(ctx context.Context, path string) (*Document, error)
}

// Processor wraps the converters and measures each run.
type Processor struct {
	pdf     Converter
	byExt   map[string]Converter
	timeout time.Duration
}

// NewProcessor builds a processor whose PDF converter enforces the
// configured page and size caps.
func NewProcessor(cfg config.PDFConfig) *Processor {
	pdfConv := &PDFConverter{
		MaxPages:    cfg.MaxPages,
		MaxFileSize: int64(cfg.MaxFileSizeMB) * 1024 * 1024,
	}
	return &Processor{
		pdf:     pdfConv,
		timeout: cfg.ConversionTimeout,
		byExt: map[string]Converter{
			".pdf":  pdfConv,
			".docx": DOCXConverter{},
			".xlsx": XLSXConverter{},
			".txt":  TextConverter{},
			".md":   TextConverter{},
		},
	}
}

// NewProcessorWith is used by tests to swap the PDF converter.
func NewProcessorWith(pdf Converter, timeout time.Duration) *Processor {
	return &Processor{
		pdf:     pdf,
		timeout: timeout,
		byExt:   map[string]Converter{".pdf": pdf},
	}
}

// ProcessPDF converts the PDF at path to markdown.
func (p *Processor) ProcessPDF(ctx context.Context, path string) (*models.ExtractionResult, error) {
	return p.run(ctx, path, p.pdf)
}

// ProcessFile picks a converter by file extension.
func (p *Processor) ProcessFile(ctx context.Context, path string) (*models.ExtractionResult, error) {
	ext := strings.ToLower(filepath.Ext(path))
	conv, ok := p.byExt[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
	return p.run(ctx, path, conv)
}

// SupportedExtensions lists what ProcessFile accepts.
func (p *Processor) SupportedExtensions() []string {
	exts := make([]string, 0, len(p.byExt))
	for ext := range p.byExt {
		exts = append(exts, ext)
	}
	return exts
}

func (p *Processor) run(ctx context.Context, path string, conv Converter) (*models.ExtractionResult, error) {
	name := filepath.Base(path)
	logger := log.With().Str("filename", name).Logger()

	logger.Info().Msgf("Starting extraction for: %s", name)
	start := time.Now()

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	doc, err := conv.Convert(ctx, path)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to process document")
		return nil, fmt.Errorf("%w: %s: %w", ErrProcessing, name, err)
	}

	duration := time.Since(start).Seconds()
	pageCount := doc.Pages
	if pageCount <= 0 {
		pageCount = 1
	}
	avgPerPage := duration / float64(pageCount)

	logger.Info().
		Int("pages", pageCount).
		Float64("total_seconds", round2(duration)).
		Float64("avg_seconds_per_page", round2(avgPerPage)).
		Msgf("Extraction complete for %s", name)

	metadata := doc.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	return &models.ExtractionResult{
		Content:               doc.Markdown,
		PageCount:             pageCount,
		Metadata:              metadata,
		ProcessingTimeSeconds: round2(duration),
	}, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
