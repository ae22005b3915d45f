package pipeline

import (
	"context"

	"maestro/pkg/models"
)

// SkillHook runs before a fresh task's first agent call. Implementations
// can enrich the task request with retrieved skills or project context
// before the preprocessor sees it. Hook errors are logged and skipped,
// never fatal.
type SkillHook interface {
	BeforeTask(ctx context.Context, task *models.TaskState) error
}

// Observer is notified once a task reaches a terminal state, after the
// final persist. Observers run on a detached context so a cancelled
// request still reports its outcome.
type Observer interface {
	TaskFinished(ctx context.Context, task *models.TaskState)
}

// AddSkillHook registers a pre-query hook. Not safe to call after the
// engine starts executing tasks.
func (e *Engine) AddSkillHook(h SkillHook) {
	e.skillHooks = append(e.skillHooks, h)
}

// AddObserver registers a completion observer. Not safe to call after
// the engine starts executing tasks.
func (e *Engine) AddObserver(o Observer) {
	e.observers = append(e.observers, o)
}

func (x *execution) runSkillHooks(ctx context.Context) {
	for _, h := range x.e.skillHooks {
		if err := h.BeforeTask(ctx, x.task); err != nil {
			x.log.Warn("Skill hook failed, continuing", "error", err)
		}
	}
}

func (x *execution) notifyObservers(ctx context.Context) {
	if !x.task.Status.IsTerminal() {
		return
	}
	done := context.WithoutCancel(ctx)
	for _, o := range x.e.observers {
		o.TaskFinished(done, x.task)
	}
}
