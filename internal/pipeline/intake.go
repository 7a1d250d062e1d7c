package pipeline

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dvloznov/ledgerbook/internal/domain"
	"github.com/dvloznov/ledgerbook/internal/objectstore"
	"github.com/dvloznov/ledgerbook/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// UploadRequest is a validated multipart upload.
type UploadRequest struct {
	UserID    string
	ProfileID string
	FileName  string
	Data      []byte
	Mapping   *domain.ColumnMapping
}

// UploadResult is returned to the uploader.
type UploadResult struct {
	UploadID    string `json:"uploadId"`
	RecordCount int    `json:"recordCount"`
}

// Intake validates uploads, stores the file and creates the statement row.
type Intake struct {
	statements store.StatementRepository
	profiles   store.ProfileRepository
	objects    objectstore.Store
	log        zerolog.Logger
	now        func() time.Time
}

func NewIntake(statements store.StatementRepository, profiles store.ProfileRepository, objects objectstore.Store, log zerolog.Logger) *Intake {
	return &Intake{
		statements: statements,
		profiles:   profiles,
		objects:    objects,
		log:        log,
		now:        time.Now,
	}
}

// Upload validates req and creates a (PENDING, UPLOADED) statement. Nothing is
// written when validation fails.
func (i *Intake) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	name := filepath.Base(strings.TrimSpace(req.FileName))
	if name == "" || name == "." || name == "/" {
		return nil, domain.NewValidationError("file", "a file is required")
	}
	sourceType, err := domain.SourceTypeFromFilename(name)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(req.Data)) == 0 {
		return nil, domain.NewValidationError("file", "file %q is empty", name)
	}
	if req.ProfileID == "" {
		return nil, domain.NewValidationError("profile_id", "no profile given and the user has no current profile")
	}
	if _, err := i.profiles.GetProfile(ctx, req.UserID, req.ProfileID); err != nil {
		if domain.IsNotFound(err) {
			return nil, domain.NewValidationError("profile_id", "profile %s does not belong to the user", req.ProfileID)
		}
		return nil, err
	}

	mapping := req.Mapping
	recordCount := 0
	switch sourceType {
	case domain.SourceCSV:
		if err := CheckCSVHeader(req.Data, mapping); err != nil {
			return nil, err
		}
		recordCount = CountCSVRecords(req.Data)
	case domain.SourcePDF:
		// Mappings only apply to CSV; the record count is unknown until extraction.
		mapping = nil
	}

	sum := sha256.Sum256(req.Data)
	checksum := hex.EncodeToString(sum[:])
	previous, err := i.statements.StatementIDsByChecksum(ctx, req.UserID, checksum)
	if err != nil {
		return nil, err
	}

	now := i.now()
	key := objectstore.StatementKey(req.UserID, name, now)
	storagePath, err := i.objects.Put(ctx, key, req.Data, contentTypeFor(sourceType))
	if err != nil {
		return nil, fmt.Errorf("Upload: storing file: %w", err)
	}

	st := &domain.Statement{
		ID:          uuid.NewString(),
		UserID:      req.UserID,
		ProfileID:   req.ProfileID,
		FileName:    name,
		StoragePath: storagePath,
		SourceType:  sourceType,
		State:       domain.StateQueued,
		RecordCount: recordCount,
		Mapping:     mapping,
		Checksum:    checksum,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := i.statements.CreateStatement(ctx, st); err != nil {
		if derr := i.objects.Delete(ctx, storagePath); derr != nil {
			i.log.Warn().Err(derr).Str("path", storagePath).Msg("Failed to remove orphaned upload")
		}
		return nil, err
	}

	if len(previous) > 0 {
		// Accepted anyway: dedup keeps the ledger clean when it is processed.
		i.log.Info().
			Str("statement_id", st.ID).
			Str("previous_statement_id", previous[len(previous)-1]).
			Msg("Statement content matches an earlier upload")
	}

	i.log.Info().
		Str("statement_id", st.ID).
		Str("user_id", st.UserID).
		Str("source_type", string(sourceType)).
		Int("record_count", recordCount).
		Msg("Statement uploaded")

	return &UploadResult{UploadID: st.ID, RecordCount: recordCount}, nil
}

func contentTypeFor(t domain.SourceType) string {
	if t == domain.SourcePDF {
		return "application/pdf"
	}
	return "text/csv"
}
