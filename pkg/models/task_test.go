package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		allowed bool
	}{
		{name: "created to preprocessing", from: StatusCreated, to: StatusPreprocessing, allowed: true},
		{name: "preprocessing to planning", from: StatusPreprocessing, to: StatusPlanning, allowed: true},
		{name: "planning to coding", from: StatusPlanning, to: StatusCoding, allowed: true},
		{name: "question short-circuit", from: StatusPlanning, to: StatusComplete, allowed: true},
		{name: "coding to voting", from: StatusCoding, to: StatusVoting, allowed: true},
		{name: "coding skips voting", from: StatusCoding, to: StatusReviewing, allowed: true},
		{name: "voting to reviewing", from: StatusVoting, to: StatusReviewing, allowed: true},
		{name: "exhausted round back to coding", from: StatusVoting, to: StatusCoding, allowed: true},
		{name: "review approves", from: StatusReviewing, to: StatusComplete, allowed: true},
		{name: "review rejects back to coding", from: StatusReviewing, to: StatusCoding, allowed: true},
		{name: "review exhausts iterations", from: StatusReviewing, to: StatusMaxIterationsExceeded, allowed: true},
		{name: "any stage may fail", from: StatusVoting, to: StatusFailed, allowed: true},
		{name: "no skipping planning", from: StatusPreprocessing, to: StatusCoding, allowed: false},
		{name: "no backwards jump", from: StatusReviewing, to: StatusPlanning, allowed: false},
		{name: "terminal is final", from: StatusComplete, to: StatusCoding, allowed: false},
		{name: "failed is final", from: StatusFailed, to: StatusFailed, allowed: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestStatusIsTerminal(t *testing.T) {
	assert.True(t, StatusComplete.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusMaxIterationsExceeded.IsTerminal())
	assert.False(t, StatusCreated.IsTerminal())
	assert.False(t, StatusReviewing.IsTerminal())
}

func TestIntent(t *testing.T) {
	assert.True(t, IntentQuestion.IsValid())
	assert.False(t, Intent("poetry").IsValid())

	assert.False(t, IntentQuestion.NeedsCode())
	assert.True(t, IntentSimpleCode.NeedsCode())
	assert.True(t, IntentComplexCode.NeedsCode())
}

func TestCandidateViable(t *testing.T) {
	assert.True(t, (&Candidate{Label: "A", Content: "code"}).Viable())
	assert.False(t, (&Candidate{Label: "B", Error: "timeout"}).Viable())
	assert.False(t, (&Candidate{Label: "C", FilterReason: "too short"}).Viable())
}

func TestTaskStateStages(t *testing.T) {
	task := &TaskState{ID: "t1", Status: StatusCreated}
	assert.Equal(t, Status(""), task.LastCompletedStage())

	task.RecordStage(StatusPreprocessing, "normalized")
	task.RecordStage(StatusPlanning, "the plan")

	assert.Equal(t, StatusPlanning, task.LastCompletedStage())
	assert.Len(t, task.Stages, 2)
	assert.False(t, task.UpdatedAt.IsZero())
}
