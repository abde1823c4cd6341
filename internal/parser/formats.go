package parser

import (
	"context"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"

	"knowledge-api/internal/models"
)

var (
	docxParagraphRe = regexp.MustCompile(`(?s)<w:p[ >].*?</w:p>`)
	docxTextRe      = regexp.MustCompile(`(?s)<w:t(?:\s[^>]*)?>(.*?)</w:t>`)
	docxHeadingRe   = regexp.MustCompile(`<w:pStyle w:val="(?i:heading)\s?([1-9])"`)
)

// DOCXConverter renders paragraphs as markdown; Heading1..3 styles become
// headings. DOCX has no page numbers, so Pages stays 0.
type DOCXConverter struct{}

func (DOCXConverter) Convert(ctx context.Context, path string) (*Document, error) {
	r, err := docx.ReadDocxFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open DOCX: %w", err)
	}
	defer r.Close()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	content := r.Editable().GetContent()
	return &Document{
		Markdown: docxToMarkdown(content),
		Metadata: map[string]any{models.SourceFileKey: filepath.Base(path)},
	}, nil
}

func docxToMarkdown(xml string) string {
	var paragraphs []string
	for _, p := range docxParagraphRe.FindAllString(xml, -1) {
		var text strings.Builder
		for _, m := range docxTextRe.FindAllStringSubmatch(p, -1) {
			text.WriteString(html.UnescapeString(m[1]))
		}
		line := strings.TrimSpace(text.String())
		if line == "" {
			continue
		}
		if m := docxHeadingRe.FindStringSubmatch(p); m != nil {
			if level, _ := strconv.Atoi(m[1]); level >= 1 && level <= 3 {
				line = strings.Repeat("#", level) + " " + line
			}
		}
		paragraphs = append(paragraphs, line)
	}
	return strings.Join(paragraphs, "\n\n")
}

// XLSXConverter renders every sheet as a markdown table under a level-2
// heading. Each sheet counts as a page.
type XLSXConverter struct{}

func (XLSXConverter) Convert(ctx context.Context, path string) (*Document, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open XLSX: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	var sections []string
	for _, sheet := range sheets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("reading sheet %s: %w", sheet, err)
		}
		if table := markdownTable(rows); table != "" {
			sections = append(sections, fmt.Sprintf("## Sheet: %s\n\n%s", sheet, table))
		}
	}

	meta := map[string]any{models.SourceFileKey: filepath.Base(path)}
	if props, err := f.GetDocProps(); err == nil && props != nil {
		if props.Title != "" {
			meta["title"] = props.Title
		}
		if props.Creator != "" {
			meta["author"] = props.Creator
		}
	}

	return &Document{
		Markdown: strings.Join(sections, "\n\n"),
		Pages:    len(sheets),
		Metadata: meta,
	}, nil
}

func markdownTable(rows [][]string) string {
	width := 0
	for _, row := range rows {
		if len(row) > width {
			width = len(row)
		}
	}
	if width == 0 {
		return ""
	}

	var sb strings.Builder
	writeRow := func(cells []string) {
		sb.WriteString("|")
		for i := 0; i < width; i++ {
			cell := ""
			if i < len(cells) {
				cell = strings.ReplaceAll(strings.TrimSpace(cells[i]), "|", `\|`)
				cell = strings.ReplaceAll(cell, "\n", " ")
			}
			sb.WriteString(" " + cell + " |")
		}
		sb.WriteString("\n")
	}

	writeRow(rows[0])
	sb.WriteString("|" + strings.Repeat(" --- |", width) + "\n")
	for _, row := range rows[1:] {
		writeRow(row)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// TextConverter passes plain text and markdown through unchanged.
type TextConverter struct{}

func (TextConverter) Convert(_ context.Context, path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &Document{
		Markdown: string(data),
		Pages:    1,
		Metadata: map[string]any{models.SourceFileKey: filepath.Base(path)},
	}, nil
}
