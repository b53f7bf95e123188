package tasks

import (
	"context"
	"math/rand/v2"
	"time"

	"task-execution-service/pkg/config"
)

// Work is the body of a task. The executor asks for the number of steps once
// and then runs them in order, reporting step/total as progress after each.
type Work interface {
	Steps(req ExecutionRequest) int
	Step(ctx context.Context, req ExecutionRequest, step, total int) error
}

// SimulatedWork sleeps a random duration per step over a random number of steps.
type SimulatedWork struct {
	minSteps, maxSteps       int
	minDuration, maxDuration time.Duration
	sleep                    func(ctx context.Context, d time.Duration) error
}

func NewSimulatedWork(cfg *config.Config) *SimulatedWork {
	return &SimulatedWork{
		minSteps:    cfg.Task.MinSteps,
		maxSteps:    cfg.Task.MaxSteps,
		minDuration: cfg.Task.MinStepDuration,
		maxDuration: cfg.Task.MaxStepDuration,
		sleep:       sleepContext,
	}
}

func (w *SimulatedWork) Steps(ExecutionRequest) int {
	if w.maxSteps <= w.minSteps {
		return w.minSteps
	}
	return w.minSteps + rand.IntN(w.maxSteps-w.minSteps+1)
}

func (w *SimulatedWork) Step(ctx context.Context, _ ExecutionRequest, _, _ int) error {
	d := w.minDuration
	if spread := w.maxDuration - w.minDuration; spread > 0 {
		d += rand.N(spread)
	}
	return w.sleep(ctx, d)
}
