package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"maestro/pkg/config"
	"maestro/pkg/llm"
	"maestro/pkg/models"
)

// review judges the current artifact. Approval completes the task;
// rejection feeds the reviewer's feedback back to the coder and loops,
// until the iteration cap terminates the task.
func (x *execution) review(ctx context.Context) error {
	approved, feedback, reviewer, err := x.runReview(ctx)
	if err != nil {
		return fmt.Errorf("review failed: %w", err)
	}

	if approved {
		x.emit(StreamUnit{Stage: TagReviewer, Content: "approved\n"})
		if x.e.cfg.Maker.IsEnabled() {
			// The MAKER path only streamed progress so far; the winning
			// artifact goes out here. Single-coder output already streamed.
			x.emit(StreamUnit{Stage: TagResult, Content: x.task.Artifact})
		}
		x.recordNode(ctx, reviewer, "reviewing",
			fmt.Sprintf("approved artifact on iteration %d", x.task.Iteration))
		x.task.RecordStage(models.StatusReviewing, "approved")
		x.task.Status = models.StatusComplete
		x.task.Touch()
		return nil
	}

	rejection := &RejectionError{Feedback: feedback}
	x.emit(StreamUnit{Stage: TagReviewer, Content: "rejected: " + feedback + "\n"})
	x.task.Feedback = append(x.task.Feedback, feedback)
	x.recordNode(ctx, reviewer, "reviewing",
		fmt.Sprintf("rejected iteration %d: %s", x.task.Iteration, feedback))
	x.task.RecordStage(models.StatusReviewing, rejection.Error())

	if x.task.Iteration >= x.e.cfg.Task.MaxIterations {
		return fmt.Errorf("%w: %d iterations, last feedback: %s",
			ErrMaxIterationsExceeded, x.task.Iteration, feedback)
	}

	x.conversation(config.RoleCoder).Append("user",
		fmt.Sprintf("Reviewer feedback (iteration %d):\n%s\n\nRevise the solution to address this feedback.",
			x.task.Iteration, feedback))
	x.task.Iteration++
	return nil
}

// runReview runs the configured review, falling back from the dedicated
// validator to planner self-reflection when the validator is not
// configured or its backend is unreachable. The fallback is transparent
// to the caller: a review always happens.
func (x *execution) runReview(ctx context.Context) (approved bool, feedback, reviewer string, err error) {
	content := fmt.Sprintf("Task:\n%s\n\nPlan:\n%s\n\nCode:\n%s",
		x.task.NormalizedTask, x.task.Plan, x.task.Artifact)

	mode := x.e.cfg.ValidatorMode
	if mode == config.ValidatorModeHigh {
		if _, ok := x.e.clients[config.RoleValidator]; !ok {
			x.log.Info("No validator configured, reviewing via planner reflection")
			mode = config.ValidatorModeLow
		} else {
			raw, callErr := x.callOnce(ctx, config.RoleValidator,
				x.reviewMessages(ctx, x.e.cfg.SystemPrompt(config.RoleValidator), content))
			switch {
			case callErr == nil:
				approved, feedback = parseVerdict(raw)
				return approved, feedback, "validator", nil
			case errors.Is(callErr, llm.ErrAgentUnavailable) || errors.Is(callErr, llm.ErrAgentTimeout):
				x.log.Warn("Validator unreachable, falling back to planner reflection", "error", callErr)
				mode = config.ValidatorModeLow
			default:
				return false, "", "validator", callErr
			}
		}
	}

	raw, err := x.callOnce(ctx, config.RolePlanner,
		x.reviewMessages(ctx, x.e.cfg.ReflectionPrompt(), content))
	if err != nil {
		return false, "", "planner", err
	}
	approved, feedback = parseVerdict(raw)
	return approved, feedback, "planner", nil
}

// reviewMessages builds a stateless review exchange: system prompt,
// reasoning chain when available, then the material under review.
func (x *execution) reviewMessages(ctx context.Context, systemPrompt, content string) []llm.Message {
	msgs := []llm.Message{{Role: "system", Content: systemPrompt}}
	if chainText := x.chainContext(ctx); chainText != "" {
		msgs = append(msgs, llm.Message{
			Role:    "user",
			Content: "Reasoning so far on this task:\n" + chainText,
		})
	}
	return append(msgs, llm.Message{Role: "user", Content: content})
}

// callOnce makes a single non-streamed agent call outside any persistent
// conversation.
func (x *execution) callOnce(ctx context.Context, role config.Role, messages []llm.Message) (string, error) {
	agentCfg, err := x.e.cfg.GetAgent(role)
	if err != nil {
		return "", err
	}
	client, err := x.client(role)
	if err != nil {
		return "", err
	}
	result, err := llm.Collect(ctx, client, &llm.GenerateInput{
		TaskID:   x.task.ID,
		Agent:    string(role),
		Messages: messages,
		Options: llm.Options{
			Timeout: agentCfg.EffectiveTimeout(role),
		},
	})
	if err != nil {
		return "", err
	}
	return result.Content, nil
}

// parseVerdict reads a review verdict leniently: structured JSON first,
// then a bare "approved", and anything else counts as a rejection with
// the raw output as feedback. A reviewer that cannot express itself
// clearly never gets to approve by accident.
func parseVerdict(raw string) (approved bool, feedback string) {
	var parsed struct {
		Status   string `json:"status"`
		Feedback string `json:"feedback"`
	}
	if blob := extractJSON(raw); blob != "" {
		if err := json.Unmarshal([]byte(blob), &parsed); err == nil {
			switch strings.ToLower(strings.TrimSpace(parsed.Status)) {
			case "approved":
				return true, parsed.Feedback
			case "rejected":
				feedback = strings.TrimSpace(parsed.Feedback)
				if feedback == "" {
					feedback = strings.TrimSpace(raw)
				}
				return false, feedback
			}
		}
	}
	if strings.EqualFold(strings.TrimSpace(raw), "approved") {
		return true, ""
	}
	return false, strings.TrimSpace(raw)
}
