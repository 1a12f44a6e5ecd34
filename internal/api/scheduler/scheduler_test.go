package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"northsea/internal/lifecycle"
	"northsea/internal/model"
	"northsea/internal/store"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type recorder struct {
	mu      sync.Mutex
	changes []lifecycle.Change
}

func (r *recorder) TaskTransitioned(change lifecycle.Change) {
	r.mu.Lock()
	r.changes = append(r.changes, change)
	r.mu.Unlock()
}

func newStore(t *testing.T, clk *clock, obs lifecycle.Observer) *store.Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dsn := filepath.Join(t.TempDir(), "scheduler.db") + "?_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: store.NewGormLogger(logger, 0)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	opts := []store.Option{store.WithLogger(logger), store.WithClock(clk.Now)}
	if obs != nil {
		opts = append(opts, store.WithObserver(obs))
	}
	st := store.New(db, opts...)
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return st
}

func startTask(t *testing.T, st *store.Store, name string) *model.CollectionTask {
	t.Helper()
	ctx := context.Background()
	task, err := st.CreateTask(ctx, store.CreateTaskInput{Name: name, Type: model.TaskTypePosts, TargetCount: 10, TimeRange: 7})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	task, err = st.StartTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("start task: %v", err)
	}
	return task
}

func TestFailStalled_FailsOnlyQuietTasks(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	clk := &clock{now: base}
	rec := &recorder{}
	st := newStore(t, clk, rec)

	quiet := startTask(t, st, "quiet")
	busy := startTask(t, st, "busy")
	idle, err := st.CreateTask(ctx, store.CreateTaskInput{Name: "idle", Type: model.TaskTypeGroups, TargetCount: 5, TimeRange: 1})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	clk.Set(base.Add(25 * time.Minute))
	if _, err := st.UpdateProgress(ctx, busy.ID, 40); err != nil {
		t.Fatalf("progress: %v", err)
	}

	clk.Set(base.Add(31 * time.Minute))
	s := NewScheduler(st, slog.New(slog.NewTextHandler(io.Discard, nil)), time.Minute, 30*time.Minute)
	s.now = clk.Now

	n, err := s.FailStalled(ctx)
	if err != nil {
		t.Fatalf("fail stalled: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 stalled task, got %d", n)
	}

	got, err := st.GetTask(ctx, quiet.ID)
	if err != nil {
		t.Fatalf("get quiet: %v", err)
	}
	if got.Status != model.TaskFailed || got.FailureReason == "" {
		t.Fatalf("expected quiet task failed with reason, got %+v", got)
	}
	if got, _ := st.GetTask(ctx, busy.ID); got.Status != model.TaskRunning || got.Progress != 40 {
		t.Fatalf("busy task must keep running, got %+v", got)
	}
	if got, _ := st.GetTask(ctx, idle.ID); got.Status != model.TaskPending {
		t.Fatalf("pending task must be untouched, got %s", got.Status)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	last := rec.changes[len(rec.changes)-1]
	if last.TaskID != quiet.ID || last.To != model.TaskFailed || last.Reason == "" {
		t.Fatalf("expected failed change for quiet task, got %+v", last)
	}
}

type racyStore struct {
	tasks []model.CollectionTask
	err   error
}

func (r *racyStore) StalledTasks(context.Context, time.Time) ([]model.CollectionTask, error) {
	return r.tasks, r.err
}

func (r *racyStore) FailStalled(context.Context, uint, time.Time, string) (*model.CollectionTask, bool, error) {
	return nil, false, nil
}

func TestFailStalled_SkipsTasksThatMovedOn(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewScheduler(&racyStore{tasks: []model.CollectionTask{{ID: 1}, {ID: 2}}}, logger, 0, 0)

	n, err := s.FailStalled(context.Background())
	if err != nil {
		t.Fatalf("fail stalled: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected no failures, got %d", n)
	}
}

func TestFailStalled_ScanError(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	boom := errors.New("db down")
	s := NewScheduler(&racyStore{err: boom}, logger, 0, 0)

	if _, err := s.FailStalled(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected scan error, got %v", err)
	}
}

func TestScheduler_Disabled(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewScheduler(&racyStore{}, logger, 0, -time.Second)
	if s.Enabled() {
		t.Fatalf("negative stall timeout must disable the janitor")
	}
	s.StartJanitor(context.Background())

	if NewScheduler(&racyStore{}, logger, 0, 0).stallTimeout != 30*time.Minute {
		t.Fatalf("expected default stall timeout")
	}
}
