package extract

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"

	"github.com/cloo-solutions/kbchat/internal/domain"
	"github.com/ledongthuc/pdf"
)

var pdfMagic = []byte("%PDF-")

// LooksLikePDF reports whether a body is a PDF, by content type or by the
// file signature.
func LooksLikePDF(contentType string, body []byte) bool {
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil && mediaType == "application/pdf" {
		return true
	}
	return bytes.HasPrefix(body, pdfMagic)
}

// PDFText returns the plain text of a PDF document.
func PDFText(data []byte) (text string, err error) {
	if !bytes.HasPrefix(data, pdfMagic) {
		return "", domain.InvalidInput("file is not a PDF")
	}

	// the parser panics on some malformed documents
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = domain.ExtractionFailure("could not parse PDF", fmt.Errorf("pdf parser panic: %v", r))
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", domain.ExtractionFailure("could not parse PDF", err)
	}

	plain, err := reader.GetPlainText()
	if err != nil {
		return "", domain.ExtractionFailure("could not read PDF text", err)
	}

	raw, err := io.ReadAll(plain)
	if err != nil {
		return "", domain.ExtractionFailure("could not read PDF text", err)
	}

	text = strings.TrimSpace(string(raw))
	if text == "" {
		return "", domain.InvalidInput("no text content found in PDF")
	}
	return text, nil
}

// TitleFromFilename strips directories and the extension from a file name.
func TitleFromFilename(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	stem := strings.TrimSpace(strings.TrimSuffix(base, filepath.Ext(base)))
	if stem == "" || stem == "." || stem == "/" {
		return domain.DefaultTitle
	}
	return stem
}
