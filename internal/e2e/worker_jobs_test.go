package e2e

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/redis/go-redis/v9"

	"github.com/sentra-iam/sentra/internal/session"
	"github.com/sentra-iam/sentra/jobs"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(new(bytes.Buffer), nil))
}

func TestSessionReapJobEndToEnd(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ttl := time.Hour
	store := session.NewRedisStore(client, ttl)
	ctx := context.Background()

	for _, id := range []string{"s1", "s2"} {
		sess := &session.Session{ID: id, User: "alice", CreatedAt: time.Now(), LastAccess: time.Now()}
		if err := store.Save(ctx, sess); err != nil {
			t.Fatalf("save session: %v", err)
		}
	}

	// Session keys expire; the index set outlives them until reaped.
	mr.FastForward(ttl + time.Minute)

	reg := prometheus.NewRegistry()
	metrics := jobs.NewMetrics(reg)
	handler := metrics.Middleware(jobs.HandleSessionReapTask(store, quietLogger()))

	if err := handler.ProcessTask(ctx, jobs.NewSessionReapTask()); err != nil {
		t.Fatalf("reap task: %v", err)
	}

	live, err := store.UserSessions(ctx, "alice")
	if err != nil {
		t.Fatalf("user sessions: %v", err)
	}
	if len(live) != 0 {
		t.Fatalf("expected empty index after reap, got %v", live)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	success := metricValue(t, families, "sentra_jobs_total", map[string]string{"job": jobs.TaskSessionReap, "status": "success"})
	if success != 1 {
		t.Fatalf("expected 1 successful run, got %v", success)
	}
}

type stubTrimmer struct {
	cutoff  time.Time
	deleted int64
	err     error
}

func (s *stubTrimmer) TrimBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.cutoff = cutoff
	return s.deleted, s.err
}

func TestAuditTrimJobEndToEnd(t *testing.T) {
	trimmer := &stubTrimmer{deleted: 7}
	reg := prometheus.NewRegistry()
	metrics := jobs.NewMetrics(reg)
	handler := metrics.Middleware(jobs.HandleAuditTrimTask(trimmer, quietLogger()))

	retention := 30 * 24 * time.Hour
	task, err := jobs.NewAuditTrimTask(retention)
	if err != nil {
		t.Fatalf("build task: %v", err)
	}
	if err := handler.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("trim task: %v", err)
	}

	want := time.Now().Add(-retention)
	if trimmer.cutoff.Before(want.Add(-time.Minute)) || trimmer.cutoff.After(want.Add(time.Minute)) {
		t.Fatalf("cutoff %v not near %v", trimmer.cutoff, want)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	success := metricValue(t, families, "sentra_jobs_total", map[string]string{"job": jobs.TaskAuditTrim, "status": "success"})
	if success != 1 {
		t.Fatalf("expected 1 successful run, got %v", success)
	}
}

func TestAuditTrimJobSkipsBadPayload(t *testing.T) {
	trimmer := &stubTrimmer{}
	handler := jobs.HandleAuditTrimTask(trimmer, quietLogger())

	bad := asynq.NewTask(jobs.TaskAuditTrim, []byte("{"))
	if err := handler.ProcessTask(context.Background(), bad); !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
	if !trimmer.cutoff.IsZero() {
		t.Fatal("trimmer must not run on a bad payload")
	}
}

func metricValue(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			matched := true
			for _, pair := range metric.GetLabel() {
				if want, ok := labels[pair.GetName()]; ok && want != pair.GetValue() {
					matched = false
					break
				}
			}
			if matched {
				if counter := metric.GetCounter(); counter != nil {
					return counter.GetValue()
				}
			}
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}
