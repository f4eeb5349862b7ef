package pdf

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/ledongthuc/pdf"
	"github.com/xhad/docchat/internal/models"
	"github.com/xhad/docchat/internal/types"
	"github.com/xhad/docchat/pkg/logging"
)

// MediaType is the only content type accepted for upload.
const MediaType = "application/pdf"

// Extractor pulls plain text out of PDF pages.
type Extractor struct {
	logger *slog.Logger
}

func NewExtractor() *Extractor {
	return &Extractor{logger: logging.NewModuleLogger("ingest", "pdf")}
}

// Extract returns the text of every page in order. A page whose content
// stream cannot be decoded contributes empty text rather than failing the
// whole document; an unreadable file is a validation error.
func (e *Extractor) Extract(ctx context.Context, data []byte) (pages []types.Page, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = fmt.Errorf("%w: malformed pdf: %v", models.ErrValidation, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open pdf: %v", models.ErrValidation, err)
	}

	total := reader.NumPage()
	pages = make([]types.Page, 0, total)
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			e.logger.Warn("skipping undecodable page", "page", i, "error", err)
			text = ""
		}
		pages = append(pages, types.Page{Number: i, Text: text})
	}

	return pages, nil
}
