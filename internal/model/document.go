package model

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
)

// ContentType identifies how a document's text was extracted.
type ContentType string

const (
	ContentTypePDF  ContentType = "pdf"
	ContentTypeHTML ContentType = "html"
)

// Candidate is a feed entry that is not yet known to be a stored document.
type Candidate struct {
	URL             string     `json:"url"`
	Title           string     `json:"title"`
	SourceName      string     `json:"source_name"`
	PublicationDate *time.Time `json:"publication_date,omitempty"`
	Description     string     `json:"description,omitempty"`
}

// Document is the unit of work persisted in the store.
type Document struct {
	ID              int64       `json:"id"`
	URL             string      `json:"url"`
	SourceName      string      `json:"source_name"`
	Title           string      `json:"title"`
	PublicationDate *time.Time  `json:"publication_date,omitempty"`
	FetchedAt       *time.Time  `json:"fetched_at,omitempty"`
	ContentType     ContentType `json:"content_type,omitempty"`
	FullText        string      `json:"full_text"`
	LocalFilePath   string      `json:"local_file_path,omitempty"`
	Status          Status      `json:"processing_status"`
	FailureReason   string      `json:"failure_reason,omitempty"`
	Analysis        *Analysis   `json:"analysis,omitempty"` // set only when Status is analyzed
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// Analysis holds the validated classifier output for a document.
type Analysis struct {
	IsRelevant bool       `json:"is_relevant"`
	Summary    string     `json:"ai_summary"`
	TaskScores TaskScores `json:"ai_tasks_scores"`
	Model      string     `json:"ai_model,omitempty"`
	AnalyzedAt time.Time  `json:"analyzed_at"`
}

// TaskScores maps a taxonomy task id (1..21) to its score.
type TaskScores map[int]float64

// MarshalJSON encodes scores as an object keyed by the decimal task id.
func (s TaskScores) MarshalJSON() ([]byte, error) {
	m := make(map[string]float64, len(s))
	for id, v := range s {
		m[strconv.Itoa(id)] = v
	}
	return json.Marshal(m)
}

// UnmarshalJSON decodes an object keyed by decimal task ids.
func (s *TaskScores) UnmarshalJSON(data []byte) error {
	var m map[string]float64
	if err := json.Unmarshal(data, &m); err != nil {
		return eris.Wrap(err, "model: decode task scores")
	}
	out := make(TaskScores, len(m))
	for k, v := range m {
		id, err := strconv.Atoi(k)
		if err != nil {
			return eris.Errorf("model: task id %q is not numeric", k)
		}
		out[id] = v
	}
	*s = out
	return nil
}

// DocumentUpdate lists the fields to change on an existing document. Nil
// fields are left untouched. When From is set the update only applies while
// the row is still in that status.
type DocumentUpdate struct {
	From          Status
	Status        *Status
	FailureReason *string
	Analysis      *Analysis

	ContentType   *ContentType
	FullText      *string
	LocalFilePath *string
	FetchedAt     *time.Time
}

// AnalyzedUpdate moves a new document to analyzed with the given result.
func AnalyzedUpdate(a Analysis) DocumentUpdate {
	st := StatusAnalyzed
	return DocumentUpdate{From: StatusNew, Status: &st, Analysis: &a}
}

// FailedUpdate moves a new document to failed, recording why.
func FailedUpdate(reason string) DocumentUpdate {
	st := StatusFailed
	return DocumentUpdate{From: StatusNew, Status: &st, FailureReason: &reason}
}
