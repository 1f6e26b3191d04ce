package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ngoclaw/scenegate/internal/domain/entity"
	"github.com/ngoclaw/scenegate/internal/domain/repository"
	"github.com/ngoclaw/scenegate/internal/infrastructure/persistence"
)

func seedTasks(t *testing.T, tasks repository.TaskRepository) {
	t.Helper()
	ctx := context.Background()
	for _, tc := range []struct {
		id, conv string
		cancel   bool
	}{
		{"done", "c1", true},
		{"live", "c2", false},
	} {
		task, err := entity.NewGenerationTask(tc.id, tc.conv, "u1")
		if err != nil {
			t.Fatal(err)
		}
		if err := tasks.CreateIfIdle(ctx, task); err != nil {
			t.Fatalf("CreateIfIdle: %v", err)
		}
		if tc.cancel {
			if _, _, err := tasks.Cancel(ctx, tc.id); err != nil {
				t.Fatalf("Cancel: %v", err)
			}
		}
	}
}

func TestArchiver_SweepArchivesOnlyOldTerminalTasks(t *testing.T) {
	store := persistence.NewMemoryStore()
	seedTasks(t, store.Tasks())

	a := NewArchiver(store.Tasks(), "", time.Hour, zap.NewNop())

	n, err := a.Sweep(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("fresh tasks archived: n=%d err=%v", n, err)
	}

	a.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	n, err = a.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 {
		t.Errorf("archived %d tasks, want 1", n)
	}
	if a.Archived() != 1 {
		t.Errorf("Archived() = %d", a.Archived())
	}

	// archived tasks stay readable
	task, err := store.Tasks().FindByID(context.Background(), "done")
	if err != nil || task.Status() != entity.TaskCancelled {
		t.Errorf("archived task lookup: %v %v", task, err)
	}

	n, _ = a.Sweep(context.Background())
	if n != 0 {
		t.Errorf("second sweep archived %d, want 0", n)
	}
}

type failingTasks struct {
	repository.TaskRepository
}

func (failingTasks) ArchiveTerminal(ctx context.Context, before time.Time) (int64, error) {
	return 0, errors.New("db down")
}

func TestArchiver_SweepError(t *testing.T) {
	a := NewArchiver(failingTasks{}, "", time.Hour, zap.NewNop())
	if _, err := a.Sweep(context.Background()); err == nil {
		t.Error("expected error")
	}
}

func TestArchiver_StartStop(t *testing.T) {
	store := persistence.NewMemoryStore()

	tests := []struct {
		name     string
		schedule string
		wantErr  bool
	}{
		{"disabled", "", false},
		{"descriptor", "@every 10m", false},
		{"standard", "*/5 * * * *", false},
		{"invalid", "not a schedule", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewArchiver(store.Tasks(), tt.schedule, time.Hour, zap.NewNop())
			err := a.Start()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Start err = %v, wantErr %v", err, tt.wantErr)
			}
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			a.Stop(ctx)
			a.Stop(ctx)
		})
	}
}
