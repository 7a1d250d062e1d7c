package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dvloznov/ledgerbook/internal/domain"
	"github.com/dvloznov/ledgerbook/internal/logger"
	"github.com/dvloznov/ledgerbook/internal/objectstore"
)

// Extractor turns a stored statement file into candidate records.
type Extractor struct {
	objects    objectstore.Store
	pdfTimeout time.Duration
	pdfText    func(data []byte) ([]string, error)
	now        func() time.Time

	// pdfSlots caps PDF reads in flight, counting reads abandoned after a timeout.
	pdfSlots chan struct{}
}

// NewExtractor returns an Extractor that runs at most maxPDF PDF reads at once.
func NewExtractor(objects objectstore.Store, pdfTimeout time.Duration, maxPDF int) *Extractor {
	if pdfTimeout <= 0 {
		pdfTimeout = DefaultExtractTimeout
	}
	if maxPDF <= 0 {
		maxPDF = DefaultPDFExtractions
	}
	return &Extractor{
		objects:    objects,
		pdfTimeout: pdfTimeout,
		pdfText:    PDFTextLines,
		now:        time.Now,
		pdfSlots:   make(chan struct{}, maxPDF),
	}
}

// Extract returns the statement's records. A payload persisted by an earlier
// run is reused, so a retry never re-reads the file; reused reports that case.
func (e *Extractor) Extract(ctx context.Context, st *domain.Statement) (result *domain.ExtractionResult, reused bool, err error) {
	if len(st.RawPayload) > 0 {
		var cached domain.ExtractionResult
		uerr := json.Unmarshal(st.RawPayload, &cached)
		if uerr == nil {
			return &cached, true, nil
		}
		log := logger.FromContext(ctx)
		log.Warn().Err(uerr).Str("statement_id", st.ID).Msg("Stored extraction payload unreadable, extracting again")
	}

	data, err := e.objects.Fetch(ctx, st.StoragePath)
	if err != nil {
		return nil, false, &domain.ExtractionError{Code: domain.ExtractionFetch, Message: "fetching " + st.StoragePath, Cause: err}
	}

	switch st.SourceType {
	case domain.SourceCSV:
		result, err = ParseCSV(data, st.Mapping)
	case domain.SourcePDF:
		result, err = e.extractPDF(ctx, data)
	default:
		err = &domain.ExtractionError{Code: domain.ExtractionUnreadable, Message: fmt.Sprintf("unsupported source type %q", st.SourceType)}
	}
	if err != nil {
		return nil, false, err
	}
	return result, false, nil
}

// extractPDF bounds text extraction by pdfTimeout, including the wait for a
// free slot. The reader offers no cancellation, so on timeout its goroutine is
// abandoned and keeps its slot until it finishes.
func (e *Extractor) extractPDF(ctx context.Context, data []byte) (*domain.ExtractionResult, error) {
	timer := time.NewTimer(e.pdfTimeout)
	defer timer.Stop()

	select {
	case e.pdfSlots <- struct{}{}:
	case <-timer.C:
		return nil, e.timeoutError()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	type outcome struct {
		lines []string
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() { <-e.pdfSlots }()
		lines, err := e.pdfText(data)
		done <- outcome{lines, err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return nil, &domain.ExtractionError{Code: domain.ExtractionUnreadable, Message: "PDF could not be read", Cause: out.err}
		}
		if len(out.lines) == 0 {
			return nil, &domain.ExtractionError{Code: domain.ExtractionUnreadable, Message: "PDF contains no extractable text"}
		}
		return ParseStatementText(out.lines, e.now().Year()), nil
	case <-timer.C:
		return nil, e.timeoutError()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *Extractor) timeoutError() error {
	return &domain.ExtractionError{Code: domain.ExtractionTimeout, Message: fmt.Sprintf("PDF extraction exceeded %s", e.pdfTimeout)}
}
