// Package models holds the shared data model: task state, conversation
// records, reasoning-chain nodes, candidates and votes. Everything here is
// JSON-serializable for the KV store; no behavior beyond validation.
package models

import (
	"time"
)

// Status is the task lifecycle state.
type Status string

const (
	StatusCreated               Status = "created"
	StatusPreprocessing         Status = "preprocessing"
	StatusPlanning              Status = "planning"
	StatusCoding                Status = "coding"
	StatusVoting                Status = "voting"
	StatusReviewing             Status = "reviewing"
	StatusComplete              Status = "complete"
	StatusFailed                Status = "failed"
	StatusMaxIterationsExceeded Status = "max_iterations_exceeded"
)

// validTransitions encodes the stage machine. Any state may additionally
// move to failed (checked separately in CanTransitionTo).
var validTransitions = map[Status][]Status{
	StatusCreated:       {StatusPreprocessing},
	StatusPreprocessing: {StatusPlanning},
	// Question intent completes straight out of planning.
	StatusPlanning: {StatusCoding, StatusComplete},
	// Voting is skipped when MAKER is disabled.
	StatusCoding: {StatusVoting, StatusReviewing},
	// An exhausted voting round sends the task back for a fresh pool.
	StatusVoting:    {StatusReviewing, StatusCoding},
	StatusReviewing: {StatusComplete, StatusCoding, StatusMaxIterationsExceeded},
}

// IsTerminal reports whether no further execution is possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusComplete, StatusFailed, StatusMaxIterationsExceeded:
		return true
	default:
		return false
	}
}

// IsValid checks if the status is a known lifecycle state.
func (s Status) IsValid() bool {
	if s.IsTerminal() {
		return true
	}
	_, ok := validTransitions[s]
	return ok
}

// CanTransitionTo reports whether the stage machine allows s → next.
// Every non-terminal state may fail.
func (s Status) CanTransitionTo(next Status) bool {
	if s.IsTerminal() {
		return false
	}
	if next == StatusFailed {
		return true
	}
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Intent classifies the user request, decided by the preprocessor.
type Intent string

const (
	IntentQuestion    Intent = "question"
	IntentSimpleCode  Intent = "simple_code"
	IntentComplexCode Intent = "complex_code"
)

// IsValid checks if the intent is one of the known classifications.
func (i Intent) IsValid() bool {
	switch i {
	case IntentQuestion, IntentSimpleCode, IntentComplexCode:
		return true
	default:
		return false
	}
}

// NeedsCode reports whether the pipeline must produce a code artifact.
func (i Intent) NeedsCode() bool {
	return i != IntentQuestion
}

// ConversationRecord is one entry of an agent's conversation context.
type ConversationRecord struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`

	// Summary marks a record produced by compression; summaries are never
	// re-compressed.
	Summary bool `json:"summary,omitempty"`
}

// Candidate is one MAKER generation attempt.
type Candidate struct {
	Label       string  `json:"label"` // "A", "B", ...
	Content     string  `json:"content,omitempty"`
	Temperature float64 `json:"temperature"`

	// Error is non-empty when the generation failed outright.
	Error string `json:"error,omitempty"`

	// FilterReason is non-empty when the candidate was excluded from
	// voting (failed, empty, or too short).
	FilterReason string `json:"filter_reason,omitempty"`
}

// Viable reports whether the candidate survived filtering.
func (c *Candidate) Viable() bool {
	return c.Error == "" && c.FilterReason == ""
}

// Vote is one voter's ballot in a MAKER round.
type Vote struct {
	Voter     int    `json:"voter"` // launch index
	Choice    string `json:"choice,omitempty"`
	Abstained bool   `json:"abstained"`

	// Error is non-empty when the voter call failed; failed voters count
	// as abstentions against the budget.
	Error string `json:"error,omitempty"`
}

// ChainNode is one reasoning step in a task's melodic line. Nodes form a
// linear chain ordered by Seq; (TaskID, NodeID) is unique.
type ChainNode struct {
	TaskID    string    `json:"task_id"`
	NodeID    string    `json:"node_id"`
	Seq       int       `json:"seq"`
	Agent     string    `json:"agent"`
	Stage     string    `json:"stage"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// StageResult records a completed pipeline stage for resume.
type StageResult struct {
	Stage      Status    `json:"stage"`
	Output     string    `json:"output"`
	FinishedAt time.Time `json:"finished_at"`
}

// TaskState is the full persisted state of a task: enough to resume from
// the last completed stage after a crash.
type TaskState struct {
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	Intent    Intent    `json:"intent,omitempty"`
	Model     string    `json:"model,omitempty"` // model name the caller asked for
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Request is the raw user request; NormalizedTask is the
	// preprocessor's self-contained restatement.
	Request        string `json:"request"`
	NormalizedTask string `json:"normalized_task,omitempty"`

	Plan     string `json:"plan,omitempty"`
	Artifact string `json:"artifact,omitempty"`

	// Iteration counts completed code→review cycles (1-based while
	// running).
	Iteration int `json:"iteration"`

	// Candidates and Votes are the latest MAKER round, kept for
	// introspection.
	Candidates []Candidate `json:"candidates,omitempty"`
	Votes      []Vote      `json:"votes,omitempty"`
	Winner     string      `json:"winner,omitempty"`

	// Feedback accumulates reviewer rejections, oldest first.
	Feedback []string `json:"feedback,omitempty"`

	// Conversations holds per-agent contexts keyed by role tag.
	Conversations map[string][]ConversationRecord `json:"conversations,omitempty"`

	// Stages records completed stage outputs for resume.
	Stages []StageResult `json:"stages,omitempty"`

	// Error holds the terminal failure message for failed tasks.
	Error string `json:"error,omitempty"`
}

// Touch updates the modification timestamp.
func (t *TaskState) Touch() {
	t.UpdatedAt = time.Now().UTC()
}

// LastCompletedStage returns the most recent recorded stage, or empty
// status when none completed yet.
func (t *TaskState) LastCompletedStage() Status {
	if len(t.Stages) == 0 {
		return ""
	}
	return t.Stages[len(t.Stages)-1].Stage
}

// RecordStage appends a completed stage result.
func (t *TaskState) RecordStage(stage Status, output string) {
	t.Stages = append(t.Stages, StageResult{
		Stage:      stage,
		Output:     output,
		FinishedAt: time.Now().UTC(),
	})
	t.Touch()
}
