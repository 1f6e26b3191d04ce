package service

import (
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/ngoclaw/scenegate/internal/domain/entity"
)

func testLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

func taskIn(t *testing.T, status entity.TaskStatus) *entity.GenerationTask {
	t.Helper()
	task, err := entity.NewGenerationTask("t1", "c1", "u1")
	if err != nil {
		t.Fatalf("NewGenerationTask: %v", err)
	}
	switch status {
	case entity.TaskPending:
	case entity.TaskRunning:
		_ = task.Start()
	case entity.TaskCompleted:
		_ = task.Start()
		_ = task.Complete("m1")
	case entity.TaskFailed:
		_ = task.Fail(entity.FailureTimeout)
	case entity.TaskCancelled:
		task.Cancel()
	}
	return task
}

func TestTaskStateMachine_Emit(t *testing.T) {
	tests := []struct {
		name    string
		from    entity.TaskStatus
		to      entity.TaskStatus
		wantErr bool
	}{
		{"created", "", entity.TaskPending, false},
		{"pending to running", entity.TaskPending, entity.TaskRunning, false},
		{"running to completed", entity.TaskRunning, entity.TaskCompleted, false},
		{"pending to cancelled", entity.TaskPending, entity.TaskCancelled, false},
		{"pending to failed", entity.TaskPending, entity.TaskFailed, false},
		{"pending to completed skips running", entity.TaskPending, entity.TaskCompleted, true},
		{"out of terminal", entity.TaskCancelled, entity.TaskRunning, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sm := NewTaskStateMachine(testLogger())
			var got []TaskEvent
			sm.OnTransition(func(ev TaskEvent) { got = append(got, ev) })

			err := sm.Emit(taskIn(t, tt.to), tt.from, "")
			if (err != nil) != tt.wantErr {
				t.Fatalf("Emit err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, entity.ErrInvalidTransition) {
					t.Errorf("err = %v, want ErrInvalidTransition", err)
				}
				if len(got) != 0 {
					t.Error("listener notified for rejected transition")
				}
				if sm.Violations() != 1 {
					t.Errorf("violations = %d", sm.Violations())
				}
				return
			}
			if len(got) != 1 || got[0].From != tt.from || got[0].To != tt.to {
				t.Errorf("events = %+v", got)
			}
		})
	}
}

func TestTaskStateMachine_FailureReasonFilled(t *testing.T) {
	sm := NewTaskStateMachine(testLogger())
	var ev TaskEvent
	sm.OnTransition(func(e TaskEvent) { ev = e })

	if err := sm.Emit(taskIn(t, entity.TaskFailed), entity.TaskPending, ""); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if ev.Reason != entity.FailureTimeout {
		t.Errorf("reason = %q, want %q", ev.Reason, entity.FailureTimeout)
	}
}

func TestTaskStateMachine_CountsConcurrent(t *testing.T) {
	sm := NewTaskStateMachine(zap.NewNop())
	task := taskIn(t, entity.TaskRunning)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = sm.Emit(task, entity.TaskPending, "")
		}()
	}
	wg.Wait()

	if got := sm.TransitionCounts()[entity.TaskRunning]; got != 50 {
		t.Errorf("running count = %d, want 50", got)
	}
}

func TestKeyedMutex(t *testing.T) {
	k := newKeyedMutex()

	unlockA := k.Lock("a")
	unlockB := k.Lock("b") // different keys do not block
	if k.Len() != 2 {
		t.Fatalf("Len = %d, want 2", k.Len())
	}

	acquired := make(chan struct{})
	released := make(chan struct{})
	go func() {
		unlock := k.Lock("a")
		close(acquired)
		unlock()
		close(released)
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired a held key")
	default:
	}

	unlockA()
	<-acquired
	<-released
	unlockB()

	if k.Len() != 0 {
		t.Errorf("Len after release = %d, want 0", k.Len())
	}
}
