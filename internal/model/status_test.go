package model

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransition_Table(t *testing.T) {
	tests := []struct {
		from Status
		ev   Event
		want Status
	}{
		{StatusNone, EventExtracted, StatusNew},
		{StatusNone, EventExtractionFailed, StatusFailed},
		{StatusNew, EventAnalysisSucceeded, StatusAnalyzed},
		{StatusNew, EventAnalysisFailed, StatusFailed},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.ev), func(t *testing.T) {
			got, err := Transition(tt.from, tt.ev)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTransition_TerminalStatesHaveNoExits(t *testing.T) {
	events := []Event{EventExtracted, EventExtractionFailed, EventAnalysisSucceeded, EventAnalysisFailed}
	for _, from := range []Status{StatusAnalyzed, StatusFailed} {
		for _, ev := range events {
			_, err := Transition(from, ev)
			assert.True(t, errors.Is(err, ErrInvalidTransition), "%s/%s", from, ev)
		}
	}
}

func TestTransition_InvalidFromNew(t *testing.T) {
	_, err := Transition(StatusNew, EventExtracted)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = Transition(StatusNone, EventAnalysisSucceeded)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestStatus_ValidTerminal(t *testing.T) {
	assert.True(t, StatusNew.Valid())
	assert.False(t, StatusNew.Terminal())
	assert.True(t, StatusAnalyzed.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, Status("queued").Valid())
	assert.Len(t, AllStatuses(), 3)
}

func TestTaskScores_JSONRoundTrip(t *testing.T) {
	scores := TaskScores{1: 7, 2: 0, 21: 3.5}
	data, err := json.Marshal(scores)
	require.NoError(t, err)
	assert.JSONEq(t, `{"1":7,"2":0,"21":3.5}`, string(data))

	var back TaskScores
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, scores, back)
}

func TestTaskScores_RejectsNonNumericKey(t *testing.T) {
	var s TaskScores
	err := json.Unmarshal([]byte(`{"one":1}`), &s)
	assert.Error(t, err)
}

func TestUpdateHelpers(t *testing.T) {
	u := FailedUpdate("boom")
	assert.Equal(t, StatusNew, u.From)
	require.NotNil(t, u.Status)
	assert.Equal(t, StatusFailed, *u.Status)
	assert.Nil(t, u.Analysis)
	assert.Equal(t, "boom", *u.FailureReason)

	a := AnalyzedUpdate(Analysis{IsRelevant: true, Summary: "s"})
	assert.Equal(t, StatusAnalyzed, *a.Status)
	assert.Nil(t, a.FailureReason)
	assert.Equal(t, "s", a.Analysis.Summary)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusNone, StatusNew))
	assert.True(t, CanTransition(StatusNone, StatusFailed))
	assert.True(t, CanTransition(StatusNew, StatusAnalyzed))
	assert.True(t, CanTransition(StatusNew, StatusFailed))
	assert.False(t, CanTransition(StatusNone, StatusAnalyzed))
	assert.False(t, CanTransition(StatusAnalyzed, StatusNew))
	assert.False(t, CanTransition(StatusFailed, StatusAnalyzed))
	assert.False(t, CanTransition(StatusNew, StatusNew))
}
