package tasks

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
)

var statusRank = map[Status]int{
	StatusPending:   0,
	StatusRunning:   1,
	StatusCompleted: 2,
	StatusFailed:    2,
}

// CanTransition reports whether a record in status from may move to status to.
// Statuses only move forward along PENDING -> RUNNING -> COMPLETED|FAILED and
// nothing leaves a terminal status.
func CanTransition(from, to Status) bool {
	rf, okFrom := statusRank[from]
	rt, okTo := statusRank[to]
	if !okFrom || !okTo || from.IsTerminal() {
		return false
	}
	return rt >= rf
}

type Update struct {
	Status   Status
	Progress float64
	Message  string
}

// Apply mutates r according to u, or returns ErrInvalidTransition /
// ErrStaleProgress and leaves r untouched.
func Apply(r *Record, u Update, now time.Time) error {
	if !CanTransition(r.Status, u.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, u.Status)
	}

	progress := clampProgress(u.Progress)
	if r.Status == StatusRunning && u.Status == StatusRunning && progress < r.Progress {
		return fmt.Errorf("%w: %.4f < %.4f", ErrStaleProgress, progress, r.Progress)
	}
	if u.Status == StatusCompleted {
		progress = 1.0
	}

	r.Status = u.Status
	r.Progress = progress
	r.Message = u.Message
	r.UpdatedAt = now
	return nil
}

func clampProgress(p float64) float64 {
	switch {
	case p < 0 || math.IsNaN(p):
		return 0
	case p > 1:
		return 1
	default:
		return p
	}
}

// StateMachine applies status updates to stored records with an atomic
// read-modify-write per update.
type StateMachine struct {
	store     StatusStore
	opTimeout time.Duration
	now       func() time.Time
}

func NewStateMachine(store StatusStore, opTimeout time.Duration) *StateMachine {
	return &StateMachine{
		store:     store,
		opTimeout: opTimeout,
		now:       time.Now,
	}
}

// Transition applies u to the record of taskID. Updating a record that does
// not exist (expired or never created) is a no-op and returns nil.
func (m *StateMachine) Transition(ctx context.Context, taskID string, u Update) error {
	ctx, cancel := context.WithTimeout(ctx, m.opTimeout)
	defer cancel()

	err := m.store.Update(ctx, taskID, func(r *Record) error {
		return Apply(r, u, m.now().UTC())
	})
	if errors.Is(err, ErrNotFound) {
		zap.L().Debug("status update for missing task ignored",
			zap.String("task_id", taskID),
			zap.String("status", string(u.Status)),
		)
		return nil
	}
	return err
}
