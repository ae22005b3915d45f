// Package pipeline drives a task through the staged agent flow:
// preprocess → plan → code → vote → review, iterating on reviewer
// rejection up to the configured cap. Stage outputs stream to the caller
// as tagged units, and the full task state persists after every stage so
// an interrupted task resumes from its last completed stage.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"maestro/pkg/config"
	"maestro/pkg/history"
	"maestro/pkg/llm"
	"maestro/pkg/melody"
	"maestro/pkg/models"
	"maestro/pkg/taskstore"
	"maestro/pkg/tool"
)

// chainNodeTokens caps recorded reasoning-node content.
const chainNodeTokens = 125

// Engine executes tasks. One engine serves all tasks; per-task state
// lives in execution values.
type Engine struct {
	cfg     *config.Config
	clients map[config.Role]llm.Client
	chain   melody.Store
	store   taskstore.Store
	tools   tool.Client // nil when no tool server is configured
	log     *slog.Logger

	skillHooks []SkillHook
	observers  []Observer
}

// New creates a pipeline engine.
func New(cfg *config.Config, clients map[config.Role]llm.Client, chain melody.Store, store taskstore.Store, tools tool.Client) *Engine {
	return &Engine{
		cfg:     cfg,
		clients: clients,
		chain:   chain,
		store:   store,
		tools:   tools,
		log:     slog.With("component", "pipeline"),
	}
}

// NewTask creates the initial state for a request.
func (e *Engine) NewTask(request, model string) *models.TaskState {
	task := &models.TaskState{
		ID:      uuid.NewString(),
		Status:  models.StatusCreated,
		Request: request,
		Model:   model,
	}
	task.Touch()
	task.CreatedAt = task.UpdatedAt
	return task
}

// Execute runs the task to a terminal state, streaming tagged units to
// emit. Fresh tasks start at preprocessing; previously interrupted tasks
// resume after their last completed stage. The task state is persisted
// after every stage transition.
//
// The returned error is nil for complete tasks, ErrMaxIterationsExceeded
// or the causal error for the other terminal states, and the context
// error when cancelled mid-flight (task stays resumable).
func (e *Engine) Execute(ctx context.Context, task *models.TaskState, emit Emitter) error {
	if emit == nil {
		emit = discard
	}
	x := &execution{
		e:    e,
		task: task,
		emit: emit,
		conv: make(map[config.Role]*history.Conversation),
		log:  e.log.With("task_id", task.ID),
	}

	if task.Status.IsTerminal() {
		return nil
	}
	defer x.notifyObservers(ctx)

	if task.LastCompletedStage() == "" {
		x.runSkillHooks(ctx)
	}
	x.openChain(ctx)

	for !task.Status.IsTerminal() {
		if err := ctx.Err(); err != nil {
			x.persist(ctx)
			return err
		}

		stage := x.nextStage()
		if err := x.enterStage(ctx, stage); err != nil {
			return x.fail(ctx, err)
		}

		var err error
		switch stage {
		case models.StatusPreprocessing:
			err = x.preprocess(ctx)
		case models.StatusPlanning:
			err = x.plan(ctx)
		case models.StatusCoding:
			err = x.code(ctx)
		case models.StatusVoting:
			err = x.vote(ctx)
		case models.StatusReviewing:
			err = x.review(ctx)
		default:
			err = fmt.Errorf("unexpected stage %q", stage)
		}

		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					x.persist(ctx)
					return err
				}
			}
			return x.fail(ctx, err)
		}
		x.persist(ctx)
	}

	if task.Status == models.StatusComplete {
		x.log.Info("Task complete", "iterations", task.Iteration, "intent", task.Intent)
	}
	return nil
}

// execution is the per-task run state.
type execution struct {
	e    *Engine
	task *models.TaskState
	emit Emitter
	conv map[config.Role]*history.Conversation

	chainDown bool // chain store failed; stop trying for this run
	log       *slog.Logger
}

// nextStage derives the stage to run from the last completed one, which
// makes fresh execution and resume the same code path.
func (x *execution) nextStage() models.Status {
	switch x.task.LastCompletedStage() {
	case "":
		return models.StatusPreprocessing
	case models.StatusPreprocessing:
		return models.StatusPlanning
	case models.StatusPlanning:
		return models.StatusCoding
	case models.StatusCoding:
		if x.e.cfg.Maker.IsEnabled() {
			return models.StatusVoting
		}
		return models.StatusReviewing
	case models.StatusVoting:
		// A voting round recorded without a winner was exhausted: every
		// candidate was filtered, so the task codes a fresh pool.
		if x.task.Winner == "" {
			return models.StatusCoding
		}
		return models.StatusReviewing
	case models.StatusReviewing:
		// Only reachable after a rejection: approved tasks are terminal.
		return models.StatusCoding
	default:
		return models.StatusFailed
	}
}

// enterStage validates and persists the transition into a stage. A task
// interrupted mid-stage re-enters the same stage on resume, so the
// self-transition is allowed here even though the stage machine has no
// such edge.
func (x *execution) enterStage(ctx context.Context, stage models.Status) error {
	if x.task.Status != stage && !x.task.Status.CanTransitionTo(stage) {
		return fmt.Errorf("invalid transition %s → %s", x.task.Status, stage)
	}
	x.task.Status = stage
	x.task.Touch()
	x.persist(ctx)
	return nil
}

// persist saves task state, using a detached context so cancellation of
// the execution never loses the state write that records it.
func (x *execution) persist(ctx context.Context) {
	x.syncConversations()
	saveCtx := context.WithoutCancel(ctx)
	if err := x.e.store.Save(saveCtx, x.task); err != nil {
		x.log.Error("Failed to persist task state", "error", err, "status", x.task.Status)
	}
}

// fail moves the task to a terminal failure state and reports it on the
// stream. Iteration exhaustion keeps its dedicated status.
func (x *execution) fail(ctx context.Context, err error) error {
	if errors.Is(err, ErrMaxIterationsExceeded) {
		x.task.Status = models.StatusMaxIterationsExceeded
	} else {
		x.task.Status = models.StatusFailed
	}
	x.task.Error = err.Error()
	x.task.Touch()
	x.persist(ctx)
	x.emit(StreamUnit{Stage: TagError, Content: err.Error()})
	x.log.Error("Task failed", "error", err, "status", x.task.Status)
	return err
}

// syncConversations copies live conversations into the task state for
// persistence.
func (x *execution) syncConversations() {
	if len(x.conv) == 0 {
		return
	}
	if x.task.Conversations == nil {
		x.task.Conversations = make(map[string][]models.ConversationRecord)
	}
	for role, c := range x.conv {
		x.task.Conversations[string(role)] = c.Records()
	}
}

// conversation returns the role's conversation, restoring persisted
// records on resume or seeding a new one with the system prompt.
func (x *execution) conversation(role config.Role) *history.Conversation {
	if c, ok := x.conv[role]; ok {
		return c
	}
	budget := x.e.cfg.Context.MaxTokens
	if records, ok := x.task.Conversations[string(role)]; ok {
		c := history.FromRecords(string(role), budget, records)
		x.conv[role] = c
		return c
	}
	c := history.New(string(role), budget)
	c.Append("system", x.e.cfg.SystemPrompt(role))
	x.conv[role] = c
	return c
}

// openChain registers the task with the reasoning-chain store. Chain
// failures never fail the task; the pipeline degrades to running without
// injected reasoning context.
func (x *execution) openChain(ctx context.Context) {
	if !x.e.cfg.Chain.IsEnabled() || x.e.chain == nil {
		x.chainDown = true
		return
	}
	if err := x.e.chain.OpenTask(ctx, x.task.ID); err != nil {
		x.log.Warn("Chain store unavailable, continuing without reasoning chain", "error", err)
		x.chainDown = true
	}
}

// recordNode appends a reasoning node to the task's melodic line.
// Best-effort: failures are logged, not propagated.
func (x *execution) recordNode(ctx context.Context, agent, stage, content string) {
	if x.chainDown {
		return
	}
	node := &models.ChainNode{
		TaskID:  x.task.ID,
		NodeID:  uuid.NewString(),
		Agent:   agent,
		Stage:   stage,
		Content: llm.TruncateToTokens(content, chainNodeTokens),
	}
	if err := x.e.chain.Record(ctx, node); err != nil {
		x.log.Warn("Failed to record chain node", "error", err, "stage", stage)
	}
}

// chainContext renders the task's reasoning chain for prompt injection.
// Empty when the chain is disabled, unavailable, or still empty.
func (x *execution) chainContext(ctx context.Context) string {
	if x.chainDown {
		return ""
	}
	nodes, err := x.e.chain.Chain(ctx, x.task.ID)
	if err != nil {
		x.log.Warn("Failed to load reasoning chain", "error", err)
		return ""
	}
	return melody.Render(nodes, x.e.cfg.Chain.RenderBudget)
}

// client returns the llm client bound to a role.
func (x *execution) client(role config.Role) (llm.Client, error) {
	c, ok := x.e.clients[role]
	if !ok {
		return nil, fmt.Errorf("no client for role %s", role)
	}
	return c, nil
}

// messagesFor renders the conversation for an agent call, injecting the
// reasoning chain for the roles that receive it (planner, coder,
// validator — the preprocessor and voter judge fresh input only).
func (x *execution) messagesFor(ctx context.Context, role config.Role, conv *history.Conversation) []llm.Message {
	msgs := conv.Render()
	switch role {
	case config.RolePlanner, config.RoleCoder, config.RoleValidator:
	default:
		return msgs
	}
	chainText := x.chainContext(ctx)
	if chainText == "" {
		return msgs
	}
	injected := make([]llm.Message, 0, len(msgs)+1)
	n := 0
	if len(msgs) > 0 && msgs[0].Role == "system" {
		injected = append(injected, msgs[0])
		n = 1
	}
	injected = append(injected, llm.Message{
		Role:    "user",
		Content: "Reasoning so far on this task:\n" + chainText,
	})
	return append(injected, msgs[n:]...)
}

// callAgent runs one agent call over a conversation: compresses the
// context if needed, invokes the backend with the role's timeout, and
// optionally streams text to the given stage tag. Returns the collected
// output; the assistant turn is NOT appended to the conversation (callers
// decide what to retain).
func (x *execution) callAgent(ctx context.Context, role config.Role, conv *history.Conversation, streamTag string) (string, error) {
	if _, err := conv.CompressIfNeeded(ctx, x.summarizer()); err != nil {
		return "", err
	}
	if est := conv.TokenEstimate(); est > x.e.cfg.Context.MaxTokens {
		return "", fmt.Errorf("%w: %s context still at ~%d tokens after compression, budget %d",
			ErrContextOverflow, role, est, x.e.cfg.Context.MaxTokens)
	}

	agentCfg, err := x.e.cfg.GetAgent(role)
	if err != nil {
		return "", err
	}
	client, err := x.client(role)
	if err != nil {
		return "", err
	}

	input := &llm.GenerateInput{
		TaskID:   x.task.ID,
		Agent:    string(role),
		Messages: x.messagesFor(ctx, role, conv),
		Options: llm.Options{
			Timeout: agentCfg.EffectiveTimeout(role),
			Stream:  streamTag != "",
		},
	}

	if streamTag == "" {
		result, err := llm.Collect(ctx, client, input)
		if err != nil {
			return "", err
		}
		return result.Content, nil
	}

	ch, err := client.Generate(ctx, input)
	if err != nil {
		return "", err
	}
	var out []byte
	for chunk := range ch {
		switch c := chunk.(type) {
		case *llm.TextChunk:
			out = append(out, c.Content...)
			x.emit(StreamUnit{Stage: streamTag, Content: c.Content})
		case *llm.ErrorChunk:
			for range ch {
			}
			return "", c.Err
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return string(out), nil
}
