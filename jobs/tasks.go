// Package jobs holds the background maintenance tasks: trimming orphaned
// session index entries and enforcing audit retention. Neither task sits on
// the decision path; the engine stays correct if the worker is down.
package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskSessionReap removes per-user session index entries whose session
	// keys have already expired.
	TaskSessionReap = "session:reap"
	// TaskAuditTrim deletes audit rows older than the retention window.
	TaskAuditTrim = "audit:trim"
)

// SessionReaper is implemented by the session store.
type SessionReaper interface {
	ReapOrphans(ctx context.Context) (int, error)
}

// AuditTrimmer is implemented by the audit recorder.
type AuditTrimmer interface {
	TrimBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// NewSessionReapTask constructs the reap task. It carries no payload.
func NewSessionReapTask() *asynq.Task {
	return asynq.NewTask(TaskSessionReap, nil)
}

// HandleSessionReapTask returns the handler for session:reap tasks.
func HandleSessionReapTask(reaper SessionReaper, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, _ *asynq.Task) error {
		removed, err := reaper.ReapOrphans(ctx)
		if err != nil {
			return err
		}
		if removed > 0 {
			logger.Info("session index reaped", slog.Int("removed", removed))
		}
		return nil
	}
}

// AuditTrimPayload carries the retention window for one trim run.
type AuditTrimPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewAuditTrimTask constructs the trim task.
func NewAuditTrimTask(retention time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(AuditTrimPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditTrim, data), nil
}

// HandleAuditTrimTask returns the handler for audit:trim tasks.
func HandleAuditTrimTask(trimmer AuditTrimmer, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload AuditTrimPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		if payload.Retention <= 0 {
			return asynq.SkipRetry
		}
		deleted, err := trimmer.TrimBefore(ctx, time.Now().Add(-payload.Retention))
		if err != nil {
			return err
		}
		if deleted > 0 {
			logger.Info("audit rows trimmed", slog.Int64("deleted", deleted))
		}
		return nil
	}
}
