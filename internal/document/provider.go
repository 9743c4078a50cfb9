// Package document provides the source-document boundary: the reading-order
// text layout consumed by extraction, and the raw bytes embedded in the
// outgoing message.
package document

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
)

// TextProvider supplies the reading-order plain text of a document,
// concatenated across pages and newline-separated.
type TextProvider interface {
	ExtractText(path string) (string, error)
}

// BytesTextProvider supplies the text layout of an in-memory document.
type BytesTextProvider interface {
	ExtractTextBytes(data []byte) (string, error)
}

// PDFProvider extracts the text layout from PDF documents.
type PDFProvider struct{}

// ExtractText returns the plain text of every page in reading order.
func (PDFProvider) ExtractText(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	return readPages(r)
}

// ExtractTextBytes is ExtractText for a document already held in memory,
// as received by the intake API.
func (PDFProvider) ExtractTextBytes(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	return readPages(r)
}

func readPages(r *pdf.Reader) (string, error) {
	var b strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("page %d text: %w", i, err)
		}
		b.WriteString(text)
		b.WriteByte('\n')
	}
	return b.String(), nil
}

// ReadAll reads the raw document content in full for embedding.
func ReadAll(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	return data, nil
}
