package model

import (
	"github.com/rotisserie/eris"
)

// Status is the processing state of a document. The string values are part
// of the persisted schema and are read by the reporting layer.
type Status string

const (
	StatusNew      Status = "new"
	StatusAnalyzed Status = "analyzed"
	StatusFailed   Status = "failed"
)

// AllStatuses returns every status in lifecycle order.
func AllStatuses() []Status {
	return []Status{StatusNew, StatusAnalyzed, StatusFailed}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusAnalyzed, StatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusAnalyzed || s == StatusFailed
}

// Event drives a status transition.
type Event string

const (
	EventExtracted         Event = "extracted"
	EventExtractionFailed  Event = "extraction_failed"
	EventAnalysisSucceeded Event = "analysis_succeeded"
	EventAnalysisFailed    Event = "analysis_failed"
)

// ErrInvalidTransition is returned when an event does not apply to a status.
var ErrInvalidTransition = eris.New("model: invalid status transition")

// StatusNone is the pseudo-state of a document that has not been created yet.
const StatusNone Status = ""

var transitions = map[Status]map[Event]Status{
	StatusNone: {
		EventExtracted:        StatusNew,
		EventExtractionFailed: StatusFailed,
	},
	StatusNew: {
		EventAnalysisSucceeded: StatusAnalyzed,
		EventAnalysisFailed:    StatusFailed,
	},
}

// Transition returns the status reached by applying ev to from. Use
// StatusNone as from when a document is being created.
func Transition(from Status, ev Event) (Status, error) {
	if to, ok := transitions[from][ev]; ok {
		return to, nil
	}
	if from == StatusNone {
		return "", eris.Wrapf(ErrInvalidTransition, "%s on create", ev)
	}
	return "", eris.Wrapf(ErrInvalidTransition, "%s from %s", ev, from)
}

// CanTransition reports whether some event moves a document from one status
// to the other.
func CanTransition(from, to Status) bool {
	for _, target := range transitions[from] {
		if target == to {
			return true
		}
	}
	return false
}
