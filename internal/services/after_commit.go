package services

import (
	"context"

	"github.com/sirupsen/logrus"
)

// AfterCommit collects side effects that must only run once the surrounding
// transaction has committed. Failures are logged and never undo the commit.
type AfterCommit struct {
	tasks []afterCommitTask
}

type afterCommitTask struct {
	name string
	fn   func(ctx context.Context) error
}

// Add queues a named side effect
func (a *AfterCommit) Add(name string, fn func(ctx context.Context) error) {
	a.tasks = append(a.tasks, afterCommitTask{name: name, fn: fn})
}

// Len reports how many side effects are queued
func (a *AfterCommit) Len() int {
	return len(a.tasks)
}

// Run executes every queued side effect in order
func (a *AfterCommit) Run(ctx context.Context, logger *logrus.Entry) {
	for _, task := range a.tasks {
		if err := task.fn(ctx); err != nil {
			logger.WithError(err).WithField("task", task.name).Warn("Post-commit task failed")
		}
	}
	a.tasks = nil
}
