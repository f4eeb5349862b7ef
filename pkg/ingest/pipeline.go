package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"time"

	"github.com/xhad/docchat/internal/models"
	"github.com/xhad/docchat/internal/types"
	"github.com/xhad/docchat/pkg/logging"
	"github.com/xhad/docchat/pkg/metrics"
	"github.com/xhad/docchat/pkg/pdf"
	"github.com/xhad/docchat/pkg/processor"
)

const (
	DefaultMaxUploadBytes = 20 << 20
	DefaultMaxChunks      = 500
)

// Stage names a step of a single upload, in the order they are reached.
type Stage string

const (
	StageReceived Stage = "received"
	StageParsed   Stage = "parsed"
	StageChunked  Stage = "chunked"
	StageEmbedded Stage = "embedded"
	StageRecorded Stage = "recorded"
	StageIndexed  Stage = "indexed"
)

type PipelineConfig struct {
	MaxUploadBytes int64
	MaxChunks      int
	Processor      processor.ProcessorConfig
}

type Upload struct {
	UserID      string
	Filename    string
	ContentType string
	Data        []byte
	// OnStage, when set, is called after each completed stage.
	OnStage func(Stage)
}

type Result struct {
	Document models.Document `json:"document"`
	// ChunksProcessed is the number of chunks indexed.
	ChunksProcessed int `json:"chunksProcessed"`
	// ChunksDiscovered is the raw count before the per-document cap.
	ChunksDiscovered int  `json:"chunksDiscovered"`
	Truncated        bool `json:"truncated"`
}

// Mismatch is a document whose recorded chunk count disagrees with the index.
type Mismatch struct {
	Document models.Document `json:"document"`
	Indexed  int             `json:"indexed"`
}

type Pipeline struct {
	config    PipelineConfig
	processor processor.Processor
	extractor types.TextExtractor
	embedder  types.Embedder
	index     types.VectorIndex
	documents types.DocumentStore
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func NewWithConfig(
	config PipelineConfig,
	extractor types.TextExtractor,
	embedder types.Embedder,
	index types.VectorIndex,
	documents types.DocumentStore,
	m *metrics.Metrics,
) *Pipeline {
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if config.MaxChunks <= 0 {
		config.MaxChunks = DefaultMaxChunks
	}

	return &Pipeline{
		config:    config,
		processor: processor.NewWithConfig(config.Processor),
		extractor: extractor,
		embedder:  embedder,
		index:     index,
		documents: documents,
		metrics:   m,
		logger:    logging.NewModuleLogger("ingest", "pipeline"),
	}
}

// Validate checks an upload's media type and size without parsing it.
func (p *Pipeline) Validate(contentType string, size int64) error {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType != pdf.MediaType {
		return fmt.Errorf("%w: only PDF files are allowed", models.ErrValidation)
	}
	if size > p.config.MaxUploadBytes {
		return fmt.Errorf("%w: file size exceeds %dMB limit", models.ErrValidation, p.config.MaxUploadBytes>>20)
	}
	if size == 0 {
		return fmt.Errorf("%w: file is empty", models.ErrValidation)
	}
	return nil
}

// Ingest turns one PDF upload into a recorded document with indexed chunks.
// A failure after the document row exists removes what was written.
func (p *Pipeline) Ingest(ctx context.Context, up Upload) (*Result, error) {
	started := time.Now()
	logger := p.logger.With("filename", up.Filename, "user_id", up.UserID)

	res, err := p.ingest(ctx, up, logger)
	switch {
	case err == nil:
		p.metrics.Ingest(metrics.OutcomeDone)
		logger.Info("document ingested",
			"document_id", res.Document.ID,
			"chunks", res.ChunksProcessed,
			"truncated", res.Truncated,
			"duration", time.Since(started))
	case models.IsCanceled(err):
		p.metrics.Ingest(metrics.OutcomeAborted)
		logger.Info("ingestion aborted", "outcome", metrics.OutcomeAborted)
	default:
		p.metrics.Ingest(metrics.OutcomeErrored)
		logger.Error("ingestion failed", "kind", models.Kind(err), "error", err)
	}
	return res, err
}

func (p *Pipeline) ingest(ctx context.Context, up Upload, logger *slog.Logger) (*Result, error) {
	stage := func(s Stage, attrs ...any) {
		logger.Info("ingest stage", append([]any{"stage", s}, attrs...)...)
		if up.OnStage != nil {
			up.OnStage(s)
		}
	}

	if err := p.Validate(up.ContentType, int64(len(up.Data))); err != nil {
		return nil, err
	}
	stage(StageReceived, "bytes", len(up.Data))

	pages, err := p.extractor.Extract(ctx, up.Data)
	if err != nil {
		return nil, err
	}
	stage(StageParsed, "pages", len(pages))

	texts := make([]string, len(pages))
	for i, pg := range pages {
		texts[i] = pg.Text
	}
	text, starts := processor.JoinPages(texts)
	chunks := p.processor.Split(text)

	res := &Result{ChunksDiscovered: len(chunks)}
	if len(chunks) > p.config.MaxChunks {
		chunks = chunks[:p.config.MaxChunks]
		res.Truncated = true
		p.metrics.IngestTruncated()
	}
	res.ChunksProcessed = len(chunks)
	positions := processor.LocatePages(text, starts, chunks)
	stage(StageChunked, "chunks", len(chunks), "discovered", res.ChunksDiscovered)

	var vectors [][]float32
	if len(chunks) > 0 {
		if vectors, err = p.embedder.EmbedBatch(ctx, chunks); err != nil {
			return nil, fmt.Errorf("failed to embed chunks: %w", err)
		}
	}
	stage(StageEmbedded)

	doc := &models.Document{
		UserID:     up.UserID,
		Filename:   up.Filename,
		ChunkCount: len(chunks),
	}
	if err := p.documents.CreateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to record document: %w", err)
	}
	res.Document = *doc
	stage(StageRecorded, "document_id", doc.ID)

	if len(chunks) > 0 {
		indexed := make([]models.IndexedChunk, len(chunks))
		for i, content := range chunks {
			meta := models.ChunkMetadata{
				DocumentID: doc.ID,
				Filename:   doc.Filename,
				ChunkIndex: i,
			}
			// Extractors may skip pages, so cite the page's own number.
			if pos := positions[i]; pos > 0 && pages[pos-1].Number > 0 {
				page := pages[pos-1].Number
				meta.PageNumber = &page
			}
			indexed[i] = models.IndexedChunk{
				ID:        models.ChunkID(doc.ID, i),
				Content:   content,
				Metadata:  meta,
				Embedding: vectors[i],
			}
		}
		if err := p.index.AddChunks(ctx, indexed); err != nil {
			err = fmt.Errorf("failed to index chunks: %w", err)
			return nil, p.compensate(doc, err)
		}
	}
	p.metrics.ChunksIndexed(len(chunks))
	stage(StageIndexed)

	return res, nil
}

// compensate removes a half-written document. The cleanup runs detached from
// the request so a canceled upload is still rolled back.
func (p *Pipeline) compensate(doc *models.Document, cause error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	indexErr := p.index.DeleteByDocument(ctx, doc.ID)
	rowErr := p.documents.DeleteDocument(ctx, doc.UserID, doc.ID)
	if indexErr == nil && rowErr == nil {
		return cause
	}

	p.logger.Error("failed to roll back partial document",
		"document_id", doc.ID,
		"index_error", indexErr,
		"record_error", rowErr)
	return fmt.Errorf("%w: document %s left partially written: %w", models.ErrConsistency, doc.ID,
		errors.Join(cause, indexErr, rowErr))
}

// DeleteDocument removes the owner's record and then the document's chunks.
// Index cleanup failing after the record is gone is a consistency error.
func (p *Pipeline) DeleteDocument(ctx context.Context, userID, documentID string) error {
	if err := p.documents.DeleteDocument(ctx, userID, documentID); err != nil {
		return err
	}

	if err := p.index.DeleteByDocument(context.WithoutCancel(ctx), documentID); err != nil {
		p.logger.Error("document deleted but its chunks remain indexed",
			"document_id", documentID,
			"error", err)
		return fmt.Errorf("%w: chunks of document %s were not removed: %w", models.ErrConsistency, documentID, err)
	}

	p.logger.Info("document deleted", "document_id", documentID, "user_id", userID)
	return nil
}

// Check compares each document's recorded chunk count with the index.
func (p *Pipeline) Check(ctx context.Context) ([]Mismatch, error) {
	docs, err := p.documents.AllDocuments(ctx)
	if err != nil {
		return nil, err
	}

	mismatches := []Mismatch{}
	for _, doc := range docs {
		n, err := p.index.CountByDocument(ctx, doc.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to count chunks of %s: %w", doc.ID, err)
		}
		if n != doc.ChunkCount {
			p.logger.Warn("chunk count mismatch",
				"document_id", doc.ID,
				"recorded", doc.ChunkCount,
				"indexed", n)
			mismatches = append(mismatches, Mismatch{Document: doc, Indexed: n})
		}
	}
	return mismatches, nil
}
