package extractor

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/xhad/ragsync/pkg/processor"
)

// textBearingSamplePages and textBearingThreshold decide whether a PDF gets
// the richer link-preserving path: the first pages are sampled and must
// yield more than the threshold in non-whitespace characters. Image-only
// PDFs always take the plain path.
const (
	textBearingSamplePages = 3
	textBearingThreshold   = 100
)

var pdfURIPattern = regexp.MustCompile(`/URI\s*\(([^)]+)\)`)

// extractPDF extracts text from a PDF, preferring the markdown path with
// hyperlink annotations for text-bearing files.
func extractPDF(data []byte) string {
	if isTextBearingPDF(data) {
		if markdown := pdfToMarkdown(data); markdown != "" {
			return markdown
		}
	}
	return extractPDFText(data)
}

// extractPDFText concatenates per-page text with a single space separator.
func extractPDFText(data []byte) (text string) {
	// The pdf library panics on some malformed files.
	defer func() {
		if r := recover(); r != nil {
			text = ""
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return ""
	}

	var pages []string
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil || pageText == "" {
			continue
		}
		pages = append(pages, pageText)
	}

	return processor.Sanitize(strings.Join(pages, " "))
}

// isTextBearingPDF samples the first pages and reports whether they carry
// enough extractable text to bother with the richer conversion path.
func isTextBearingPDF(data []byte) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return false
	}
	if reader.NumPage() == 0 {
		return false
	}

	pages := reader.NumPage()
	if pages > textBearingSamplePages {
		pages = textBearingSamplePages
	}

	var sample strings.Builder
	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		if pageText, err := page.GetPlainText(nil); err == nil {
			sample.WriteString(pageText)
		}
	}

	nonWhitespace := 0
	for _, r := range sample.String() {
		if !strings.ContainsRune(" \t\n\r", r) {
			nonWhitespace++
		}
	}

	return nonWhitespace > textBearingThreshold
}

// pdfToMarkdown is the richer extraction path: full page text plus any URI
// annotations harvested from the raw object stream, appended as link lines.
// Returns "" when the result is too short to be useful, so the caller can
// fall back to plain extraction.
func pdfToMarkdown(data []byte) string {
	text := extractPDFText(data)

	var links []string
	seen := make(map[string]bool)
	for _, match := range pdfURIPattern.FindAllSubmatch(data, -1) {
		uri := string(match[1])
		if !seen[uri] {
			seen[uri] = true
			links = append(links, "Link: "+uri)
		}
	}

	if len(links) > 0 {
		text = text + "\n\n" + strings.Join(links, "\n")
	}

	if len(strings.TrimSpace(text)) < minMarkdownLength {
		return ""
	}

	return processor.Sanitize(text)
}
