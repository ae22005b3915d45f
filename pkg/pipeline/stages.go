package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"maestro/pkg/config"
	"maestro/pkg/history"
	"maestro/pkg/llm"
	"maestro/pkg/maker"
	"maestro/pkg/models"
	"maestro/pkg/tool"
)

// preprocess classifies the request and normalizes it into a
// self-contained task statement.
func (x *execution) preprocess(ctx context.Context) error {
	conv := x.conversation(config.RolePreprocessor)
	conv.Append("user", x.task.Request)

	out, err := x.callAgent(ctx, config.RolePreprocessor, conv, "")
	if err != nil {
		return fmt.Errorf("preprocessing failed: %w", err)
	}
	conv.Append("assistant", out)

	intent, normalized := parsePreprocessorOutput(out, x.task.Request)
	x.task.Intent = intent
	x.task.NormalizedTask = normalized

	x.emit(StreamUnit{Stage: TagPreprocessor, Content: fmt.Sprintf("intent: %s\n", intent)})
	x.recordNode(ctx, "preprocessor", "preprocessing",
		fmt.Sprintf("classified request as %s; task: %s", intent, normalized))
	x.task.RecordStage(models.StatusPreprocessing, normalized)
	return nil
}

// parsePreprocessorOutput reads the classifier's JSON leniently. Models
// wrap JSON in prose and fences; anything unparseable falls back to the
// conservative default (complex_code over the raw request) so a flaky
// preprocessor cannot wedge the pipeline.
func parsePreprocessorOutput(raw, fallbackTask string) (models.Intent, string) {
	var parsed struct {
		Intent string `json:"intent"`
		Task   string `json:"task"`
	}
	if blob := extractJSON(raw); blob != "" {
		if err := json.Unmarshal([]byte(blob), &parsed); err == nil {
			intent := models.Intent(strings.ToLower(strings.TrimSpace(parsed.Intent)))
			task := strings.TrimSpace(parsed.Task)
			if intent.IsValid() && task != "" {
				return intent, task
			}
			if intent.IsValid() {
				return intent, fallbackTask
			}
		}
	}
	return models.IntentComplexCode, fallbackTask
}

// extractJSON returns the first top-level {...} block in the text, or "".
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	if start < 0 {
		return ""
	}
	depth := 0
	for i := start; i < len(text); i++ {
		switch text[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// plan produces the implementation plan, running the bounded tool loop
// when a tool server is configured. For question intent the planner's
// output is the final answer and the task completes here.
func (x *execution) plan(ctx context.Context) error {
	conv := x.conversation(config.RolePlanner)
	conv.Append("user", x.task.NormalizedTask)

	draft, err := x.callAgent(ctx, config.RolePlanner, conv, TagPlanner)
	if err != nil {
		return fmt.Errorf("planning failed: %w", err)
	}

	draft, err = x.runToolLoop(ctx, conv, draft)
	if err != nil {
		return fmt.Errorf("planning failed: %w", err)
	}
	conv.Append("assistant", draft)

	if x.task.Intent == models.IntentQuestion {
		x.task.Artifact = draft
		x.recordNode(ctx, "planner", "planning", "answered question directly: "+draft)
		x.task.RecordStage(models.StatusPlanning, draft)
		x.task.Status = models.StatusComplete
		x.task.Touch()
		return nil
	}

	x.task.Plan = draft
	x.recordNode(ctx, "planner", "planning", draft)
	x.task.RecordStage(models.StatusPlanning, draft)
	return nil
}

// runToolLoop resolves TOOL: directives in planner output, feeding results
// back and regenerating until the plan has no directives or the query
// budget runs out. Tool failures surface to the planner as error text —
// the planner decides whether it can plan without the answer.
func (x *execution) runToolLoop(ctx context.Context, conv *history.Conversation, draft string) (string, error) {
	if x.e.tools == nil {
		return draft, nil
	}

	budget := x.e.cfg.Tools.QueryBudget
	for budget > 0 {
		directives := tool.ParseDirectives(draft)
		if len(directives) == 0 {
			return draft, nil
		}

		var results strings.Builder
		for _, query := range directives {
			if budget == 0 {
				break
			}
			budget--
			answer, err := x.e.tools.Query(ctx, query)
			if err != nil {
				if ctx.Err() != nil {
					return "", ctx.Err()
				}
				x.log.Warn("Tool query failed", "query", query, "error", err)
				answer = "tool error: " + err.Error()
			}
			fmt.Fprintf(&results, "Query: %s\nResult: %s\n\n", query, answer)
			x.emit(StreamUnit{Stage: TagPlanner, Content: fmt.Sprintf("\n[tool] %s\n", query)})
		}

		conv.Append("assistant", draft)
		conv.Append("user", "Tool results:\n"+results.String()+
			"\nProduce the final plan (or further TOOL: queries if still needed).")

		var err error
		draft, err = x.callAgent(ctx, config.RolePlanner, conv, TagPlanner)
		if err != nil {
			return "", err
		}
	}
	return draft, nil
}

// code generates candidates. With MAKER enabled the full pool is
// generated here and judged in the voting stage; otherwise a single
// streamed generation becomes the artifact directly.
func (x *execution) code(ctx context.Context) error {
	if x.task.Iteration == 0 {
		x.task.Iteration = 1
	}

	conv := x.conversation(config.RoleCoder)
	if conv.Len() <= 1 {
		conv.Append("user", fmt.Sprintf("Task:\n%s\n\nPlan:\n%s", x.task.NormalizedTask, x.task.Plan))
	}

	if !x.e.cfg.Maker.IsEnabled() {
		content, err := x.callAgent(ctx, config.RoleCoder, conv, TagCoder)
		if err != nil {
			return fmt.Errorf("code generation failed: %w", err)
		}
		conv.Append("assistant", content)
		x.task.Candidates = []models.Candidate{{Label: "A", Content: content}}
		x.task.Votes = nil
		x.task.Winner = "A"
		x.task.Artifact = content
		x.recordNode(ctx, "coder", "coding",
			fmt.Sprintf("iteration %d: generated artifact (%d chars)", x.task.Iteration, len(content)))
		x.task.RecordStage(models.StatusCoding, fmt.Sprintf("single candidate, %d chars", len(content)))
		return nil
	}

	if _, err := conv.CompressIfNeeded(ctx, x.summarizer()); err != nil {
		return err
	}
	mkr, err := x.makerEngine()
	if err != nil {
		return err
	}
	messages := x.messagesFor(ctx, config.RoleCoder, conv)
	candidates, err := mkr.Generate(ctx, x.task.ID, messages)
	if err != nil {
		return fmt.Errorf("candidate generation failed: %w", err)
	}

	viableCount := 0
	for _, c := range candidates {
		if c.Viable() {
			viableCount++
		}
	}
	x.task.Candidates = candidates
	x.task.Votes = nil
	x.task.Winner = ""
	x.recordNode(ctx, "coder", "coding",
		fmt.Sprintf("iteration %d: generated %d candidates, %d viable", x.task.Iteration, len(candidates), viableCount))
	x.task.RecordStage(models.StatusCoding, fmt.Sprintf("%d candidates, %d viable", len(candidates), viableCount))
	return nil
}

// vote judges the candidate pool and promotes the winner to artifact.
func (x *execution) vote(ctx context.Context) error {
	mkr, err := x.makerEngine()
	if err != nil {
		return err
	}

	result, err := mkr.Vote(ctx, &maker.VoteInput{
		TaskID:       x.task.ID,
		SystemPrompt: x.e.cfg.SystemPrompt(config.RoleVoter),
		Task:         x.task.NormalizedTask,
		Plan:         x.task.Plan,
		Candidates:   x.task.Candidates,
	})
	if err != nil {
		if errors.Is(err, maker.ErrCandidateExhaustion) {
			return x.exhaustedRound(ctx, err)
		}
		return fmt.Errorf("voting failed: %w", err)
	}

	x.task.Votes = result.Votes
	x.task.Winner = result.Winner
	for _, c := range x.task.Candidates {
		if c.Label == result.Winner {
			x.task.Artifact = c.Content
			break
		}
	}

	// The winning artifact is also retained as the coder's own turn so
	// review iterations build on what actually won.
	x.conversation(config.RoleCoder).Append("assistant", x.task.Artifact)

	x.recordNode(ctx, "voter", "voting",
		fmt.Sprintf("candidate %s won with %d scored votes", result.Winner, len(result.Votes)))
	x.task.RecordStage(models.StatusVoting, "winner: "+result.Winner)
	return nil
}

// exhaustedRound handles a voting round whose entire pool was filtered
// out. Like a reviewer rejection it consumes one iteration and sends the
// task back to coding for a fresh pool, leaving the artifact untouched;
// the iteration cap turns repeated exhaustion into max_iterations_exceeded.
func (x *execution) exhaustedRound(ctx context.Context, cause error) error {
	x.emit(StreamUnit{Stage: TagMaker, Content: "no viable candidates this round\n"})
	x.recordNode(ctx, "voter", "voting", fmt.Sprintf("iteration %d: %v", x.task.Iteration, cause))
	x.task.RecordStage(models.StatusVoting, "no viable candidates")

	if x.task.Iteration >= x.e.cfg.Task.MaxIterations {
		return fmt.Errorf("%w: %d iterations, last failure: %v",
			ErrMaxIterationsExceeded, x.task.Iteration, cause)
	}
	x.task.Iteration++
	return nil
}

// makerEngine builds the MAKER engine wired to this execution's stream.
func (x *execution) makerEngine() (*maker.Engine, error) {
	coder, err := x.client(config.RoleCoder)
	if err != nil {
		return nil, err
	}
	voter, err := x.client(config.RoleVoter)
	if err != nil {
		return nil, err
	}
	mkr := maker.New(coder, voter, x.e.cfg.Maker.NumCandidates, x.e.cfg.Maker.VoteK)
	mkr.OnEvent = func(msg string) {
		x.emit(StreamUnit{Stage: TagMaker, Content: msg + "\n"})
	}
	return mkr, nil
}

// summarizer adapts the preprocessor backend for context compression.
func (x *execution) summarizer() *llmSummarizer {
	client := x.e.clients[config.RolePreprocessor]
	return &llmSummarizer{
		client: client,
		prompt: x.e.cfg.SummarizationPrompt(),
		taskID: x.task.ID,
	}
}

// llmSummarizer condenses conversation spans via the preprocessor backend.
type llmSummarizer struct {
	client llm.Client
	prompt string
	taskID string
}

// Summarize implements history.Summarizer.
func (s *llmSummarizer) Summarize(ctx context.Context, text string) (string, error) {
	if s.client == nil {
		return "", fmt.Errorf("no summarization backend")
	}
	result, err := llm.Collect(ctx, s.client, &llm.GenerateInput{
		TaskID: s.taskID,
		Agent:  "preprocessor",
		Messages: []llm.Message{
			{Role: "system", Content: s.prompt},
			{Role: "user", Content: text},
		},
	})
	if err != nil {
		return "", err
	}
	return result.Content, nil
}
