package parser

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/rs/zerolog/log"

	"knowledge-api/internal/models"
)

// heading thresholds, as multiples of the body font size
const (
	h1Ratio = 1.6
	h2Ratio = 1.3
	h3Ratio = 1.15

	maxHeadingRunes = 120
)

// PDFConverter extracts text with ledongthuc/pdf and renders it as markdown.
// Lines set noticeably larger than the body text become headings.
type PDFConverter struct {
	// MaxPages rejects longer documents when > 0.
	MaxPages int
	// MaxFileSize rejects larger files (bytes) when > 0.
	MaxFileSize int64
}

type pdfLine struct {
	text string
	size float64
}

func (c *PDFConverter) Convert(ctx context.Context, path string) (doc *Document, err error) {
	if c.MaxFileSize > 0 {
		stat, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if stat.Size() > c.MaxFileSize {
			return nil, fmt.Errorf("%w: %d bytes > %d", ErrFileTooLarge, stat.Size(), c.MaxFileSize)
		}
	}

	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer f.Close()

	// the reader panics on some malformed content streams
	defer func() {
		if r := recover(); r != nil {
			doc = nil
			err = fmt.Errorf("malformed PDF: %v", r)
		}
	}()

	numPages := reader.NumPage()
	if c.MaxPages > 0 && numPages > c.MaxPages {
		return nil, fmt.Errorf("%w: %d pages > %d", ErrTooManyPages, numPages, c.MaxPages)
	}

	pages := make([][]pdfLine, 0, numPages)
	sizes := map[float64]int{}
	for i := 1; i <= numPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		lines := pageLines(page.Content().Text)
		if len(lines) == 0 {
			log.Debug().Int("page", i).Str("file", filepath.Base(path)).Msg("No text on page")
		}
		for _, l := range lines {
			sizes[roundHalf(l.size)] += len([]rune(l.text))
		}
		pages = append(pages, lines)
	}

	body := bodyFontSize(sizes)
	var sb strings.Builder
	for _, lines := range pages {
		if len(lines) == 0 {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		writePageMarkdown(&sb, lines, body)
	}

	return &Document{
		Markdown: sb.String(),
		Pages:    numPages,
		Metadata: pdfMetadata(reader, path),
	}, nil
}

// pageLines groups glyphs into lines in content-stream order.
func pageLines(texts []pdf.Text) []pdfLine {
	var (
		lines   []pdfLine
		cur     strings.Builder
		curSize float64
		lineY   float64
		lastEnd float64
		started bool
	)
	flush := func() {
		text := strings.TrimSpace(cur.String())
		if text != "" {
			lines = append(lines, pdfLine{text: text, size: curSize})
		}
		cur.Reset()
		curSize = 0
	}

	for _, t := range texts {
		if t.S == "" {
			continue
		}
		// TJ arrays end with a synthetic newline glyph
		if t.S == "\n" || t.S == "\r" {
			if started && !strings.HasSuffix(cur.String(), " ") {
				cur.WriteByte(' ')
			}
			continue
		}
		tol := math.Max(t.FontSize, 1) * 0.5
		if started && math.Abs(t.Y-lineY) > tol {
			flush()
			started = false
		}
		if started && t.X-lastEnd > math.Max(t.FontSize, 1)*0.25 && !strings.HasSuffix(cur.String(), " ") && t.S != " " {
			cur.WriteByte(' ')
		}
		if !started {
			lineY = t.Y
			started = true
		}
		cur.WriteString(t.S)
		if t.FontSize > curSize {
			curSize = t.FontSize
		}
		lastEnd = t.X + t.W
	}
	flush()
	return lines
}

// bodyFontSize is the size carrying the most characters.
func bodyFontSize(sizes map[float64]int) float64 {
	best, bestCount := 0.0, -1
	for size, count := range sizes {
		if count > bestCount || (count == bestCount && size < best) {
			best, bestCount = size, count
		}
	}
	return best
}

func headingLevel(line pdfLine, body float64) int {
	if body <= 0 || len([]rune(line.text)) > maxHeadingRunes {
		return 0
	}
	ratio := line.size / body
	switch {
	case ratio >= h1Ratio:
		return 1
	case ratio >= h2Ratio:
		return 2
	case ratio >= h3Ratio:
		return 3
	}
	return 0
}

func writePageMarkdown(sb *strings.Builder, lines []pdfLine, body float64) {
	prevHeading := false
	for i, l := range lines {
		level := headingLevel(l, body)
		switch {
		case i == 0:
		case level > 0 || prevHeading:
			sb.WriteString("\n\n")
		default:
			sb.WriteString("\n")
		}
		if level > 0 {
			sb.WriteString(strings.Repeat("#", level))
			sb.WriteByte(' ')
		}
		sb.WriteString(l.text)
		prevHeading = level > 0
	}
}

func pdfMetadata(reader *pdf.Reader, path string) map[string]any {
	meta := map[string]any{
		models.SourceFileKey: filepath.Base(path),
	}
	info := reader.Trailer().Key("Info")
	if info.IsNull() {
		return meta
	}
	for _, key := range info.Keys() {
		v := info.Key(key)
		if v.Kind() != pdf.String {
			continue
		}
		if text := strings.TrimSpace(v.Text()); text != "" {
			meta[strings.ToLower(key)] = text
		}
	}
	return meta
}

func roundHalf(v float64) float64 {
	return math.Round(v*2) / 2
}
