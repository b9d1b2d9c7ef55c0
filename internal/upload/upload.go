// Package upload validates and encodes the documents selected for analysis.
package upload

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
)

// PDFMediaType is the only accepted media type.
const PDFMediaType = "application/pdf"

// ErrNotPDF rejects a selection containing any non-PDF file.
var ErrNotPDF = errors.New("Only PDF files are accepted")

// Document is one selected file held in memory.
type Document struct {
	Name      string
	Size      int64
	MediaType string
	Data      []byte
}

// HumanSize formats the document size for display.
func (d Document) HumanSize() string {
	return humanize.Bytes(uint64(d.Size))
}

// Select accepts the selection only if every document is a PDF. A mixed
// selection is rejected as a whole rather than filtered.
func Select(docs []Document) ([]Document, error) {
	for _, d := range docs {
		if d.MediaType != PDFMediaType {
			return nil, ErrNotPDF
		}
	}
	return docs, nil
}

// Encode returns the document bytes as standard base64.
func Encode(d Document) string {
	return base64.StdEncoding.EncodeToString(d.Data)
}

// FromMultipart reads uploaded form files. The media type is the one declared
// by the client for each part.
func FromMultipart(headers []*multipart.FileHeader) ([]Document, error) {
	docs := make([]Document, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", fh.Filename, err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", fh.Filename, err)
		}
		docs = append(docs, Document{
			Name:      fh.Filename,
			Size:      fh.Size,
			MediaType: mediaTypeOf(fh.Header.Get("Content-Type")),
			Data:      data,
		})
	}
	return docs, nil
}

// FromPaths reads files from disk, sniffing their media type.
func FromPaths(paths []string) ([]Document, error) {
	docs := make([]Document, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", p, err)
		}
		docs = append(docs, Document{
			Name:      filepath.Base(p),
			Size:      int64(len(data)),
			MediaType: sniff(p, data),
			Data:      data,
		})
	}
	return docs, nil
}

func sniff(path string, data []byte) string {
	mt := mediaTypeOf(http.DetectContentType(data))
	if mt == PDFMediaType {
		return mt
	}
	// Content sniffing needs the %PDF- magic; trust the extension for empty files.
	if len(data) == 0 && strings.EqualFold(filepath.Ext(path), ".pdf") {
		return PDFMediaType
	}
	return mt
}

// mediaTypeOf strips parameters such as charset from a Content-Type value.
func mediaTypeOf(contentType string) string {
	mt, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}
