package extractor

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"html"
	"io"
	"strings"

	"github.com/xhad/ragsync/pkg/processor"
)

const (
	docxDocumentPart = "word/document.xml"
	docxRelsPart     = "word/_rels/document.xml.rels"
)

// docxToMarkdown converts a DOCX container to markdown, preserving
// hyperlinks. Inline image data is never retained: embedded image payloads
// corrupt downstream vector quality. Returns "" when conversion yields
// nothing so the caller can fall back to raw XML extraction.
func docxToMarkdown(data []byte) string {
	document := readZipPart(data, docxDocumentPart)
	if document == nil {
		return ""
	}

	relTargets := parseDocxRels(readZipPart(data, docxRelsPart))

	htmlDoc := docxToHTML(document, relTargets)
	if len(strings.TrimSpace(htmlDoc)) < minMarkdownLength {
		return ""
	}

	markdown, err := mdConverter.ConvertString(htmlDoc)
	if err != nil {
		return ""
	}

	return processor.Sanitize(markdown)
}

// docxToHTML walks the main document part and emits minimal HTML: paragraphs
// and anchors, with drawing/picture/object subtrees skipped entirely.
func docxToHTML(document []byte, relTargets map[string]string) string {
	decoder := xml.NewDecoder(bytes.NewReader(document))

	var out strings.Builder
	inText := false
	openLink := false

	for {
		token, err := decoder.Token()
		if err != nil {
			break
		}

		switch t := token.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				out.WriteString("<p>")
			case "hyperlink":
				if target := relTargets[attrValue(t, "id")]; target != "" {
					out.WriteString(`<a href="` + html.EscapeString(target) + `">`)
					openLink = true
				}
			case "t":
				inText = true
			case "br", "cr":
				out.WriteString("<br/>")
			case "tab":
				out.WriteString(" ")
			case "drawing", "pict", "object":
				// Strip embedded images and OLE payloads.
				if err := decoder.Skip(); err != nil {
					return out.String()
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "p":
				out.WriteString("</p>")
			case "hyperlink":
				if openLink {
					out.WriteString("</a>")
					openLink = false
				}
			case "t":
				inText = false
			}
		case xml.CharData:
			if inText {
				out.WriteString(html.EscapeString(string(t)))
			}
		}
	}

	return out.String()
}

// extractDocxText is the fallback path: unzip the container and concatenate
// every text-run node of the main document part with single spaces.
func extractDocxText(data []byte) string {
	document := readZipPart(data, docxDocumentPart)
	if document == nil {
		// Not a readable container; best-effort decode like any other blob.
		return processor.Sanitize(decodeUTF8(data))
	}

	decoder := xml.NewDecoder(bytes.NewReader(document))

	var texts []string
	inText := false

	for {
		token, err := decoder.Token()
		if err != nil {
			break
		}

		switch t := token.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				inText = true
			}
		case xml.EndElement:
			if t.Name.Local == "t" {
				inText = false
			}
		case xml.CharData:
			if inText {
				texts = append(texts, string(t))
			}
		}
	}

	return processor.Sanitize(strings.Join(texts, " "))
}

// parseDocxRels maps relationship ids to their targets so hyperlink runs can
// be resolved to URLs.
func parseDocxRels(rels []byte) map[string]string {
	targets := make(map[string]string)
	if rels == nil {
		return targets
	}

	var parsed struct {
		Relationships []struct {
			ID     string `xml:"Id,attr"`
			Target string `xml:"Target,attr"`
		} `xml:"Relationship"`
	}
	if err := xml.Unmarshal(rels, &parsed); err != nil {
		return targets
	}

	for _, rel := range parsed.Relationships {
		targets[rel.ID] = rel.Target
	}
	return targets
}

func readZipPart(data []byte, name string) []byte {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil
	}

	for _, f := range reader.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil
		}
		defer rc.Close()

		content, err := io.ReadAll(rc)
		if err != nil {
			return nil
		}
		return content
	}

	return nil
}

func attrValue(el xml.StartElement, local string) string {
	for _, attr := range el.Attr {
		if attr.Name.Local == local {
			return attr.Value
		}
	}
	return ""
}
