package document

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gen2brain/go-fitz"
)

// ErrUnsupportedContentType is returned for documents with no text renderer
var ErrUnsupportedContentType = errors.New("unsupported content type")

// PDFText returns the text of every page, joined with newlines. Pages
// without text are skipped.
func PDFText(pdfData []byte) (string, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return "", fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	pages := make([]string, 0, doc.NumPage())
	for n := 0; n < doc.NumPage(); n++ {
		text, err := doc.Text(n)
		if err != nil {
			return "", fmt.Errorf("extracting text from page %d: %w", n+1, err)
		}
		text = strings.TrimRight(text, "\n")
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, text)
	}

	return strings.Join(pages, "\n"), nil
}

// Text renders a document of the given content type into plain text
func Text(data []byte, contentType string) (string, error) {
	switch NormalizeContentType(contentType) {
	case "application/pdf":
		return PDFText(data)
	case "text/plain":
		return string(data), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedContentType, contentType)
	}
}

// NormalizeContentType lowercases a MIME type and drops its parameters
func NormalizeContentType(contentType string) string {
	mimeType, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(mimeType))
}

// ContentTypeFromFilename guesses a MIME type from the file extension
func ContentTypeFromFilename(filename string) string {
	lower := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(lower, ".pdf"):
		return "application/pdf"
	case strings.HasSuffix(lower, ".txt"):
		return "text/plain"
	case strings.HasSuffix(lower, ".eml"):
		return "message/rfc822"
	default:
		return "application/octet-stream"
	}
}
