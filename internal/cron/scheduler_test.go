package cron_test

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/basket/clawboard/internal/cron"
	"github.com/basket/clawboard/internal/meeting"
	"github.com/basket/clawboard/internal/persistence"
)

// waitFor polls check at short intervals until it returns true or the deadline
// elapses.
func waitFor(t *testing.T, deadline time.Duration, check func() bool) {
	t.Helper()
	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		if check() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

type fakeEnqueuer struct {
	mu   sync.Mutex
	reqs []meeting.MeetingRequest
	err  error
}

func (f *fakeEnqueuer) EnqueueMeeting(_ context.Context, req meeting.MeetingRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.reqs = append(f.reqs, req)
	return "job-1", nil
}

func (f *fakeEnqueuer) requests() []meeting.MeetingRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]meeting.MeetingRequest(nil), f.reqs...)
}

func openTestStore(t *testing.T) (*persistence.Store, string) {
	t.Helper()
	store, err := persistence.Open(filepath.Join(t.TempDir(), "clawboard.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	p, err := store.CreateProject(context.Background(), "Acme", "", "")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return store, p.ID
}

func insertTestSchedule(t *testing.T, store *persistence.Store, projectID, cronExpr string, enabled bool, nextRunAt *time.Time) string {
	t.Helper()
	id, err := store.InsertSchedule(context.Background(), persistence.Schedule{
		ProjectID:   projectID,
		Name:        "weekly-" + t.Name(),
		CronExpr:    cronExpr,
		Prompt:      "Review the roadmap",
		AutoExecute: true,
		Enabled:     enabled,
		NextRunAt:   nextRunAt,
	})
	if err != nil {
		t.Fatalf("insert schedule: %v", err)
	}
	return id
}

func findSchedule(t *testing.T, store *persistence.Store, id string) persistence.Schedule {
	t.Helper()
	all, err := store.ListSchedules(context.Background())
	if err != nil {
		t.Fatalf("list schedules: %v", err)
	}
	for _, sc := range all {
		if sc.ID == id {
			return sc
		}
	}
	t.Fatalf("schedule %s not found", id)
	return persistence.Schedule{}
}

func TestScheduler_EnqueuesMeeting(t *testing.T) {
	store, projectID := openTestStore(t)
	past := time.Now().Add(-5 * time.Minute)
	insertTestSchedule(t, store, projectID, "*/5 * * * *", true, &past)

	enq := &fakeEnqueuer{}
	sched := cron.NewScheduler(cron.Config{
		Store:    store,
		Enqueuer: enq,
		Logger:   slog.Default(),
		Interval: 50 * time.Millisecond,
	})
	sched.Start(context.Background())
	defer sched.Stop()

	waitFor(t, 3*time.Second, func() bool { return len(enq.requests()) > 0 })

	req := enq.requests()[0]
	if req.ProjectID != projectID || req.Prompt != "Review the roadmap" || !req.AutoExecute || req.ThreadID != "" {
		t.Fatalf("request = %+v", req)
	}
}

func TestScheduler_DisabledSkipped(t *testing.T) {
	store, projectID := openTestStore(t)
	past := time.Now().Add(-5 * time.Minute)
	insertTestSchedule(t, store, projectID, "*/5 * * * *", false, &past)

	enq := &fakeEnqueuer{}
	sched := cron.NewScheduler(cron.Config{Store: store, Enqueuer: enq})
	sched.Tick(context.Background())

	if n := len(enq.requests()); n != 0 {
		t.Fatalf("expected no meetings for a disabled schedule, got %d", n)
	}
}

func TestScheduler_NextRunAdvances(t *testing.T) {
	store, projectID := openTestStore(t)
	fixed := time.Date(2026, 3, 5, 9, 3, 0, 0, time.UTC)
	past := fixed.Add(-time.Minute)
	id := insertTestSchedule(t, store, projectID, "*/10 * * * *", true, &past)

	enq := &fakeEnqueuer{}
	sched := cron.NewScheduler(cron.Config{
		Store:    store,
		Enqueuer: enq,
		Now:      func() time.Time { return fixed },
	})
	sched.Tick(context.Background())

	got := findSchedule(t, store, id)
	if got.LastRunAt == nil || !got.LastRunAt.Equal(fixed) {
		t.Fatalf("last_run_at = %v", got.LastRunAt)
	}
	want := time.Date(2026, 3, 5, 9, 10, 0, 0, time.UTC)
	if got.NextRunAt == nil || !got.NextRunAt.Equal(want) {
		t.Fatalf("next_run_at = %v, want %v", got.NextRunAt, want)
	}

	// A second tick at the same instant finds nothing due.
	sched.Tick(context.Background())
	if n := len(enq.requests()); n != 1 {
		t.Fatalf("meetings enqueued = %d, want 1", n)
	}
}

func TestScheduler_EnqueueFailureStillAdvances(t *testing.T) {
	store, projectID := openTestStore(t)
	fixed := time.Date(2026, 3, 5, 9, 3, 0, 0, time.UTC)
	past := fixed.Add(-time.Minute)
	id := insertTestSchedule(t, store, projectID, "0 9 * * *", true, &past)

	sched := cron.NewScheduler(cron.Config{
		Store:    store,
		Enqueuer: &fakeEnqueuer{err: errors.New("queue closed")},
		Now:      func() time.Time { return fixed },
	})
	sched.Tick(context.Background())

	got := findSchedule(t, store, id)
	want := time.Date(2026, 3, 6, 9, 0, 0, 0, time.UTC)
	if got.NextRunAt == nil || !got.NextRunAt.Equal(want) {
		t.Fatalf("next_run_at = %v, want %v", got.NextRunAt, want)
	}
}

func TestNextRunTime(t *testing.T) {
	after := time.Date(2026, 1, 1, 10, 30, 0, 0, time.UTC)
	cases := []struct {
		expr string
		want time.Time
	}{
		{"0 * * * *", time.Date(2026, 1, 1, 11, 0, 0, 0, time.UTC)},
		{"*/15 * * * *", time.Date(2026, 1, 1, 10, 45, 0, 0, time.UTC)},
		{"0 9 * * 1", time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		got, err := cron.NextRunTime(tc.expr, after)
		if err != nil {
			t.Fatalf("%s: %v", tc.expr, err)
		}
		if !got.Equal(tc.want) {
			t.Errorf("%s: got %v, want %v", tc.expr, got, tc.want)
		}
	}
	if _, err := cron.NextRunTime("not a cron", after); err == nil {
		t.Fatal("expected parse error")
	}
}
