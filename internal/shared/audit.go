package shared

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Audit actions emitted by the engine. The audit collaborator only receives
// notifications; it is never queried by the decision path.
const (
	AuditAuthn       = "authn"
	AuditAccessCheck = "access_check"
	AuditActivate    = "role_activate"
	AuditDeactivate  = "role_deactivate"
	AuditAdminMutate = "admin_mutate"
)

// AuditEvent is one read-only notification keyed by context id and
// timestamp.
type AuditEvent struct {
	ContextID string
	Actor     string
	Action    string
	Entity    string
	EntityID  string
	Success   bool
	Code      int
	Meta      map[string]any
	At        time.Time
}

// AuditRecorder persists audit events into audit_logs. A nil recorder is a
// no-op so the engine can run without the collaborator wired.
type AuditRecorder struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewAuditRecorder returns a recorder writing to the given pool.
func NewAuditRecorder(pool *pgxpool.Pool, logger *slog.Logger) *AuditRecorder {
	return &AuditRecorder{pool: pool, logger: logger}
}

// Record persists the event. Audit failures are logged and swallowed: a
// broken audit sink must not turn authorization decisions into errors.
func (r *AuditRecorder) Record(ctx context.Context, ev AuditEvent) {
	if r == nil || r.pool == nil {
		return
	}
	if err := r.record(ctx, ev); err != nil && r.logger != nil {
		r.logger.Error("audit record failed", slog.String("action", ev.Action), slog.Any("error", err))
	}
}

func (r *AuditRecorder) record(ctx context.Context, ev AuditEvent) error {
	if ev.Action == "" || ev.Entity == "" {
		return errors.New("audit event requires action and entity")
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	meta, err := json.Marshal(ev.Meta)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO audit_logs (context_id, actor, action, entity, entity_id, success, code, meta, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		ev.ContextID, ev.Actor, ev.Action, ev.Entity, ev.EntityID, ev.Success, ev.Code, meta, ev.At)
	return err
}

// TrimBefore deletes audit rows older than the cutoff. Used by the retention
// job, never by the decision path.
func (r *AuditRecorder) TrimBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if r == nil || r.pool == nil {
		return 0, nil
	}
	tag, err := r.pool.Exec(ctx, `DELETE FROM audit_logs WHERE occurred_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
