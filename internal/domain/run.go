package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Mode selects which stages a run executes.
type Mode string

const (
	// ModeEndToEnd submits new loads, maps their ids, enriches and delivers.
	ModeEndToEnd Mode = "endtoend"
	// ModePostback enriches existing loads by their identifiers and delivers.
	ModePostback Mode = "postback"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeEndToEnd || m == ModePostback
}

// Stage names in execution order.
const (
	StageMapping    = "mapping"
	StageValidation = "validation"
	StageSubmission = "submission"
	StageLoadIDs    = "load_ids"
	StageEnrichment = "enrichment"
	StagePostback   = "postback"
)

// StageStatus is the lifecycle state of a stage.
type StageStatus string

const (
	StagePending    StageStatus = "pending"
	StageInProgress StageStatus = "in_progress"
	StageCompleted  StageStatus = "completed"
	StageFailed     StageStatus = "failed"
	StageSkipped    StageStatus = "skipped"
)

// StageRecord tracks one stage of a run.
type StageRecord struct {
	Name       string      `json:"name"`
	Status     StageStatus `json:"status"`
	Error      string      `json:"error,omitempty"`
	StartedAt  *time.Time  `json:"started_at,omitempty"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
}

// Summary holds the counts every run reports.
type Summary struct {
	Total            int `json:"total"`
	Valid            int `json:"valid"`
	Invalid          int `json:"invalid"`
	Submitted        int `json:"submitted"`
	SubmissionFailed int `json:"submission_failed"`
	LoadIDsMapped    int `json:"load_ids_mapped"`
	Enriched         int `json:"enriched"`
	Delivered        int `json:"delivered"`
	HandlerFailures  int `json:"handler_failures"`
}

// Run status values.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
	RunCancelled = "cancelled"
)

// Run is the persisted log of one pipeline execution.
type Run struct {
	ID           uuid.UUID     `json:"id"`
	BrokerageKey string        `json:"brokerage_key"`
	Mode         Mode          `json:"mode"`
	FileName     string        `json:"file_name"`
	Status       string        `json:"status"`
	Error        string        `json:"error,omitempty"`
	Summary      Summary       `json:"summary"`
	Stages       []StageRecord `json:"stages"`
	StartedAt    time.Time     `json:"started_at"`
	FinishedAt   *time.Time    `json:"finished_at,omitempty"`
}

// NewRun starts a run record with every stage pending.
func NewRun(brokerageKey string, mode Mode, fileName string) Run {
	stages := []string{StageMapping, StageValidation, StageSubmission, StageLoadIDs, StageEnrichment, StagePostback}
	records := make([]StageRecord, len(stages))
	for i, name := range stages {
		records[i] = StageRecord{Name: name, Status: StagePending}
	}
	return Run{
		ID:           uuid.New(),
		BrokerageKey: brokerageKey,
		Mode:         mode,
		FileName:     fileName,
		Status:       RunRunning,
		Stages:       records,
		StartedAt:    time.Now().UTC(),
	}
}

// Stage returns the record for name, or nil.
func (r *Run) Stage(name string) *StageRecord {
	for i := range r.Stages {
		if r.Stages[i].Name == name {
			return &r.Stages[i]
		}
	}
	return nil
}

// RunValidationError is a persisted validation error of a run.
type RunValidationError struct {
	ID        uuid.UUID `json:"id"`
	RunID     uuid.UUID `json:"run_id"`
	RowIndex  int       `json:"row_index"`
	Field     string    `json:"field"`
	Reason    Reason    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// NormalizeBrokerageKey lowercases a brokerage key and joins its words with
// hyphens, so "Augment_Brokerage" becomes "augment-brokerage".
func NormalizeBrokerageKey(key string) string {
	var b strings.Builder
	pendingHyphen := false
	for _, r := range strings.ToLower(strings.TrimSpace(key)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(r)
		case r == '-', r == '_', r == ' ', r == '\t':
			pendingHyphen = true
		}
	}
	return b.String()
}
