package extractor

import (
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"github.com/xhad/ragsync/pkg/processor"
)

// Google Workspace MIME types. These are export-only: the Drive API cannot
// serve their native bytes, so they are fetched via export conversion.
const (
	MimeTypeGoogleDoc    = "application/vnd.google-apps.document"
	MimeTypeGoogleSheet  = "application/vnd.google-apps.spreadsheet"
	MimeTypeGoogleSlides = "application/vnd.google-apps.presentation"
	MimeTypeFolder       = "application/vnd.google-apps.folder"

	MimeTypeDocx = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimeTypeXlsx = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	MimeTypePptx = "application/vnd.openxmlformats-officedocument.presentationml.presentation"
)

// ExportMimeTypes maps Workspace types to the interchange format they are
// exported as before extraction.
var ExportMimeTypes = map[string]string{
	MimeTypeGoogleDoc:    "text/html",
	MimeTypeGoogleSheet:  "text/csv",
	MimeTypeGoogleSlides: "text/html",
}

// SupportedMimeTypes are the prefixes the pipeline will process. Anything
// else is skipped without touching storage.
var SupportedMimeTypes = []string{
	"application/pdf",
	"text/plain",
	"text/html",
	"text/csv",
	"text/markdown",
	"text/x-markdown",
	"image",
	MimeTypeDocx,
	MimeTypeXlsx,
	MimeTypePptx,
	MimeTypeGoogleDoc,
	MimeTypeGoogleSheet,
	MimeTypeGoogleSlides,
}

var tabularMimeTypes = []string{
	"text/csv",
	MimeTypeXlsx,
	MimeTypeGoogleSheet,
}

// IsSupported reports whether the pipeline has an extraction branch for the
// MIME type.
func IsSupported(mimeType string) bool {
	for _, t := range SupportedMimeTypes {
		if strings.HasPrefix(mimeType, t) {
			return true
		}
	}
	return false
}

// IsTabular reports whether the file should also feed the document_rows
// table.
func IsTabular(mimeType string) bool {
	for _, t := range tabularMimeTypes {
		if strings.HasPrefix(mimeType, t) {
			return true
		}
	}
	return false
}

// minMarkdownLength is the threshold below which a markdown conversion is
// considered to have produced nothing useful and the fallback path runs.
const minMarkdownLength = 50

var htmlTags = regexp.MustCompile(`<[^>]+>`)

var mdConverter = md.NewConverter("", true, &md.Options{HeadingStyle: "atx"})

// Extract converts raw file bytes into sanitized text, dispatching on the
// declared MIME type with a filename-extension fallback. It never fails for
// a single file: any branch that cannot produce content degrades to the
// empty string.
func Extract(data []byte, mimeType, fileName string) string {
	var text string

	switch {
	case strings.Contains(mimeType, "application/pdf") || strings.HasSuffix(fileName, ".pdf"):
		text = extractPDF(data)

	case mimeType == MimeTypeDocx || strings.HasSuffix(fileName, ".docx"):
		markdown := docxToMarkdown(data)
		if len(strings.TrimSpace(markdown)) > minMarkdownLength {
			text = markdown
		} else {
			text = extractDocxText(data)
		}

	case mimeType == "text/html" || strings.HasSuffix(fileName, ".html"):
		text = htmlToText(data)

	case mimeType == MimeTypeGoogleDoc || mimeType == MimeTypeGoogleSlides:
		// Exported as HTML by the source.
		text = htmlToText(data)

	case mimeType == "text/csv" || strings.HasSuffix(fileName, ".csv"),
		mimeType == MimeTypeGoogleSheet || mimeType == MimeTypeXlsx:
		text = decodeUTF8(data)

	case mimeType == "text/markdown" || mimeType == "text/x-markdown" || strings.HasSuffix(fileName, ".md"):
		text = decodeUTF8(data)

	case strings.HasPrefix(mimeType, "text/") || strings.HasSuffix(fileName, ".txt"):
		text = decodeUTF8(data)

	case strings.HasPrefix(mimeType, "image"):
		// Images are indexed by display name only.
		text = fileName

	default:
		text = decodeUTF8(data)
	}

	return processor.Sanitize(text)
}

// htmlToText converts HTML to markdown to preserve hyperlinks, falling back
// to tag stripping when conversion yields nothing. Payloads at or below the
// threshold are decoded as-is.
func htmlToText(data []byte) string {
	html := decodeUTF8(data)
	if len(strings.TrimSpace(html)) <= minMarkdownLength {
		return html
	}

	markdown, err := mdConverter.ConvertString(html)
	if err == nil && strings.TrimSpace(markdown) != "" {
		return markdown
	}

	if doc, qerr := goquery.NewDocumentFromReader(strings.NewReader(html)); qerr == nil {
		return doc.Text()
	}

	return htmlTags.ReplaceAllString(html, " ")
}

// decodeUTF8 decodes bytes as UTF-8, replacing invalid sequences instead of
// failing.
func decodeUTF8(data []byte) string {
	return strings.ToValidUTF8(string(data), "�")
}
