package ingest

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ExtractionError reports a PDF that could not be read or carried no text.
type ExtractionError struct {
	Reason string
	Err    error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pdf extraction failed: %s: %v", e.Reason, e.Err)
	}
	return "pdf extraction failed: " + e.Reason
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// ExtractText returns the normalized plain text of every page, pages
// separated by a blank line. Pages whose text cannot be decoded are skipped.
func ExtractText(data []byte) (text string, err error) {
	if len(data) == 0 {
		return "", &ExtractionError{Reason: "empty file"}
	}
	// The pdf reader panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = &ExtractionError{Reason: "malformed pdf", Err: fmt.Errorf("%v", r)}
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", &ExtractionError{Reason: "open pdf", Err: err}
	}
	pages := make([]string, 0, reader.NumPage())
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		raw, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if normalized := normalizeText(raw); normalized != "" {
			pages = append(pages, normalized)
		}
	}
	if len(pages) == 0 {
		return "", &ExtractionError{Reason: "no extractable text"}
	}
	return strings.Join(pages, "\n\n"), nil
}

// LooksLikePDF reports whether data starts with the PDF magic bytes.
func LooksLikePDF(data []byte) bool {
	return bytes.HasPrefix(data, []byte("%PDF-"))
}

func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\x00", " ")
	text = strings.ToValidUTF8(text, "")
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	return strings.Join(strings.Fields(text), " ")
}
