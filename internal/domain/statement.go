package domain

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// SourceType identifies the uploaded file format.
type SourceType string

const (
	SourceCSV SourceType = "CSV"
	SourcePDF SourceType = "PDF"
)

// SourceTypeFromFilename maps a filename extension to a SourceType.
func SourceTypeFromFilename(name string) (SourceType, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return SourceCSV, nil
	case ".pdf":
		return SourcePDF, nil
	}
	return "", NewValidationError("file", "unsupported file type %q: only .csv and .pdf are accepted", filepath.Ext(name))
}

// Status is the coarse lifecycle of a statement.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Stage is the pipeline step a statement is in, or failed in.
type Stage string

const (
	StageUploaded    Stage = "UPLOADED"
	StageExtracting  Stage = "EXTRACTING"
	StageClassifying Stage = "CLASSIFYING"
	StageReconciling Stage = "RECONCILING"
	StageDone        Stage = "DONE"
)

// State is the combined (status, stage) pair. Only the pairs in validStates exist.
type State struct {
	Status Status
	Stage  Stage
}

var (
	StateQueued      = State{StatusPending, StageUploaded}
	StateExtracting  = State{StatusProcessing, StageExtracting}
	StateClassifying = State{StatusProcessing, StageClassifying}
	StateReconciling = State{StatusProcessing, StageReconciling}
	StateDone        = State{StatusCompleted, StageDone}
)

var validStates = map[State]struct{}{
	StateQueued:                       {},
	StateExtracting:                   {},
	StateClassifying:                  {},
	StateReconciling:                  {},
	StateDone:                         {},
	{StatusFailed, StageExtracting}:   {},
	{StatusFailed, StageClassifying}:  {},
	{StatusFailed, StageReconciling}:  {},
}

// FailedAt returns the FAILED state for the stage the run stopped in.
func FailedAt(stage Stage) (State, error) {
	s := State{StatusFailed, stage}
	if !s.Valid() {
		return State{}, fmt.Errorf("FailedAt: no failed state for stage %s", stage)
	}
	return s, nil
}

// Valid reports whether the pair is one of the enumerated states.
func (s State) Valid() bool {
	_, ok := validStates[s]
	return ok
}

// Terminal reports whether no further pipeline work happens without a retry.
func (s State) Terminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusFailed
}

func (s State) String() string {
	return string(s.Status) + "/" + string(s.Stage)
}

var forward = map[State]State{
	StateQueued:      StateExtracting,
	StateExtracting:  StateClassifying,
	StateClassifying: StateReconciling,
	StateReconciling: StateDone,
}

// Next returns the state that follows s on the happy path.
func (s State) Next() (State, bool) {
	n, ok := forward[s]
	return n, ok
}

// CanTransition reports whether moving from s to to is allowed.
func (s State) CanTransition(to State) bool {
	if !s.Valid() || !to.Valid() {
		return false
	}
	if n, ok := forward[s]; ok && n == to {
		return true
	}
	if s.Status == StatusProcessing && to.Status == StatusFailed {
		return s.Stage == to.Stage
	}
	// retry / reprocess
	if to == StateQueued {
		return s.Terminal()
	}
	return false
}

// Statement is one uploaded bank statement file and its processing state.
type Statement struct {
	ID             string
	UserID         string
	ProfileID      string
	FileName       string
	StoragePath    string
	SourceType     SourceType
	State          State
	RecordCount    int
	ProcessedCount int
	ErrorLog       *string
	RawPayload     []byte
	Mapping        *ColumnMapping
	Checksum       string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CheckInvariants verifies the counters and error log agree with the state.
func (s *Statement) CheckInvariants() error {
	if !s.State.Valid() {
		return fmt.Errorf("statement %s: invalid state %s", s.ID, s.State)
	}
	if s.RecordCount < 0 || s.ProcessedCount < 0 {
		return fmt.Errorf("statement %s: negative counters", s.ID)
	}
	if s.ProcessedCount > s.RecordCount {
		return fmt.Errorf("statement %s: processed %d exceeds records %d", s.ID, s.ProcessedCount, s.RecordCount)
	}
	if s.State.Status == StatusFailed && s.ErrorLog == nil {
		return fmt.Errorf("statement %s: failed without error log", s.ID)
	}
	if s.State == StateDone && s.ProcessedCount != s.RecordCount {
		return fmt.Errorf("statement %s: completed with %d of %d processed", s.ID, s.ProcessedCount, s.RecordCount)
	}
	return nil
}

// FormatLogEntry renders one timestamped error log line.
func FormatLogEntry(at time.Time, stage Stage, msg string) string {
	return fmt.Sprintf("%s [%s] %s", at.UTC().Format(time.RFC3339), stage, msg)
}
