// Package extract converts decision PDF bytes to plain text.
package extract

import (
	"bytes"
	"fmt"
	"strings"

	ltpdf "github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/uzadolat/courtharvest/internal/harvest"
)

// MinTextLength is the smallest extraction considered usable. Scanned
// documents produce less; those need OCR, which this pipeline does not do.
const MinTextLength = 50

// PDFExtractor extracts plain text from PDF bytes. It is stateless and safe
// for concurrent use.
type PDFExtractor struct {
	conf *model.Configuration
}

// NewPDF builds a PDFExtractor with relaxed validation, matching the mix of
// generator software seen in published decisions.
func NewPDF() *PDFExtractor {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &PDFExtractor{conf: conf}
}

// Extract returns the document's text, page texts joined by blank lines with
// whitespace runs collapsed. Failures come back as *harvest.ExtractionError;
// the caller records them on the outcome without failing the record.
func (e *PDFExtractor) Extract(data []byte) (string, error) {
	if len(data) == 0 {
		return "", &harvest.ExtractionError{Reason: "empty document"}
	}
	if err := api.Validate(bytes.NewReader(data), e.conf); err != nil {
		return "", &harvest.ExtractionError{Reason: "invalid pdf", Err: err}
	}

	reader, err := ltpdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", &harvest.ExtractionError{Reason: "open pdf", Err: err}
	}

	var pages []string
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := pageText(page)
		if err != nil {
			// A single unreadable page does not void the document.
			continue
		}
		if cleaned := strings.Join(strings.Fields(text), " "); cleaned != "" {
			pages = append(pages, cleaned)
		}
	}

	full := strings.TrimSpace(strings.Join(pages, "\n\n"))
	if len(full) < MinTextLength {
		return "", &harvest.ExtractionError{
			Reason: fmt.Sprintf("too little text (%d chars), document likely needs OCR", len(full)),
		}
	}
	return full, nil
}

// pageText guards against panics inside the PDF content parser, which does
// not handle every malformed content stream gracefully.
func pageText(page ltpdf.Page) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("content parse panic: %v", r)
		}
	}()
	return page.GetPlainText(nil)
}
