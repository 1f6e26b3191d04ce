package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/ngoclaw/scenegate/internal/domain/entity"
	"github.com/ngoclaw/scenegate/internal/infrastructure/config"
	domainErrors "github.com/ngoclaw/scenegate/pkg/errors"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := NewDBConnection(&config.DatabaseConfig{
		Type:     "sqlite",
		DSN:      "file::memory:",
		LogLevel: "silent",
	})
	if err != nil {
		// go-sqlite3 needs cgo
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func TestGormConversationRepository_FindOrCreate(t *testing.T) {
	ctx := context.Background()
	repo := NewGormConversationRepository(newTestDB(t))

	conv, created, err := repo.FindOrCreateByUser(ctx, "u1", "c1")
	if err != nil || !created {
		t.Fatalf("first contact: created=%v err=%v", created, err)
	}
	if !conv.AIEnabled() {
		t.Error("new conversation should have AI enabled")
	}

	conv.SetAIEnabled(false)
	conv.SetScenario("I am Ann.", "r1")
	if err := repo.Save(ctx, conv); err != nil {
		t.Fatalf("Save: %v", err)
	}

	again, created, err := repo.FindOrCreateByUser(ctx, "u1", "c2")
	if err != nil || created {
		t.Fatalf("second contact: created=%v err=%v", created, err)
	}
	if again.ID() != "c1" || again.AIEnabled() || again.ScenarioText() != "I am Ann." {
		t.Errorf("unexpected conversation: id=%s ai=%v scenario=%q", again.ID(), again.AIEnabled(), again.ScenarioText())
	}
}

func TestGormConversationRepository_ColumnUpdates(t *testing.T) {
	ctx := context.Background()
	repo := NewGormConversationRepository(newTestDB(t))
	if _, _, err := repo.FindOrCreateByUser(ctx, "u1", "c1"); err != nil {
		t.Fatal(err)
	}

	if err := repo.UpdateAIEnabled(ctx, "c1", false); err != nil {
		t.Fatalf("UpdateAIEnabled: %v", err)
	}
	changed, err := repo.UpdateScenario(ctx, "c1", "I am Ann.", "r1")
	if err != nil || !changed {
		t.Fatalf("UpdateScenario: changed=%v err=%v", changed, err)
	}
	if changed, _ := repo.UpdateScenario(ctx, "c1", "I am Ann.", "r1"); changed {
		t.Error("same response reported as a change")
	}

	got, _ := repo.FindByID(ctx, "c1")
	if got.AIEnabled() || got.ScenarioText() != "I am Ann." || got.ScenarioSource() != "r1" {
		t.Errorf("conversation = ai:%v scenario:%q source:%q", got.AIEnabled(), got.ScenarioText(), got.ScenarioSource())
	}

	if _, err := repo.UpdateScenario(ctx, "missing", "x", "r1"); !domainErrors.IsNotFound(err) {
		t.Errorf("UpdateScenario(missing) err = %v", err)
	}
	if err := repo.UpdateAIEnabled(ctx, "missing", true); !domainErrors.IsNotFound(err) {
		t.Errorf("UpdateAIEnabled(missing) err = %v", err)
	}
}

func TestGormMessageRepository_Append(t *testing.T) {
	ctx := context.Background()
	repo := NewGormMessageRepository(newTestDB(t))

	for i, id := range []string{"m1", "m2", "m3"} {
		m, err := repo.Append(ctx, mustMessage(t, id, "c1", entity.RoleUser, "hello"))
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		if m.Seq() != int64(i+1) {
			t.Errorf("seq = %d, want %d", m.Seq(), i+1)
		}
	}

	recent, err := repo.Recent(ctx, "c1", 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 || recent[0].ID() != "m2" || recent[1].ID() != "m3" {
		t.Errorf("Recent order wrong")
	}
	if n, _ := repo.Count(ctx, "c1"); n != 3 {
		t.Errorf("Count = %d, want 3", n)
	}
}

func TestGormTaskRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	tasks := NewGormTaskRepository(db)
	messages := NewGormMessageRepository(db)

	if err := tasks.CreateIfIdle(ctx, mustTask(t, "t1", "c1")); err != nil {
		t.Fatalf("CreateIfIdle: %v", err)
	}
	err := tasks.CreateIfIdle(ctx, mustTask(t, "t2", "c1"))
	if !errors.Is(err, entity.ErrConcurrencyViolation) || !domainErrors.IsConflict(err) {
		t.Fatalf("second CreateIfIdle err = %v", err)
	}

	active, err := tasks.FindActive(ctx, "c1")
	if err != nil || active == nil || active.ID() != "t1" {
		t.Fatalf("FindActive = %v, %v", active, err)
	}

	if _, err := tasks.Start(ctx, "t1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	task, reply, err := tasks.CommitReply(ctx, "t1", mustMessage(t, "r1", "c1", entity.RoleAssistant, "hi"))
	if err != nil {
		t.Fatalf("CommitReply: %v", err)
	}
	if task.Status() != entity.TaskCompleted || task.ReplyMessageID() != "r1" || reply.Seq() != 1 {
		t.Errorf("commit result: status=%s reply=%s seq=%d", task.Status(), task.ReplyMessageID(), reply.Seq())
	}
	if n, _ := messages.Count(ctx, "c1"); n != 1 {
		t.Errorf("message count = %d, want 1", n)
	}

	// completed is terminal
	if _, from, err := tasks.Cancel(ctx, "t1"); err != nil || from != entity.TaskCompleted {
		t.Errorf("Cancel completed: from=%s err=%v", from, err)
	}
	if _, _, err := tasks.Fail(ctx, "t1", entity.FailureTimeout); !errors.Is(err, entity.ErrTaskNotActive) {
		t.Errorf("Fail completed err = %v", err)
	}

	if active, _ := tasks.FindActive(ctx, "c1"); active != nil {
		t.Errorf("FindActive after completion = %s", active.ID())
	}
}

func TestGormTaskRepository_CancelCheckpoints(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	tasks := NewGormTaskRepository(db)
	messages := NewGormMessageRepository(db)

	_ = tasks.CreateIfIdle(ctx, mustTask(t, "t1", "c1"))
	_, from, err := tasks.Cancel(ctx, "t1")
	if err != nil || from != entity.TaskPending {
		t.Fatalf("Cancel: from=%s err=%v", from, err)
	}
	if _, err := tasks.Start(ctx, "t1"); !errors.Is(err, entity.ErrTaskNotActive) {
		t.Errorf("Start cancelled err = %v", err)
	}

	_ = tasks.CreateIfIdle(ctx, mustTask(t, "t2", "c1"))
	_, _ = tasks.Start(ctx, "t2")
	_, _, _ = tasks.Cancel(ctx, "t2")
	if _, _, err := tasks.CommitReply(ctx, "t2", mustMessage(t, "r1", "c1", entity.RoleAssistant, "late")); !errors.Is(err, entity.ErrTaskNotActive) {
		t.Errorf("CommitReply cancelled err = %v", err)
	}
	if n, _ := messages.Count(ctx, "c1"); n != 0 {
		t.Errorf("cancelled reply persisted: %d messages", n)
	}

	if _, err := tasks.Start(ctx, "missing"); !domainErrors.IsNotFound(err) {
		t.Errorf("Start missing err = %v", err)
	}
}

func TestGormTaskRepository_Archive(t *testing.T) {
	ctx := context.Background()
	tasks := NewGormTaskRepository(newTestDB(t))

	_ = tasks.CreateIfIdle(ctx, mustTask(t, "t1", "c1"))
	if _, _, err := tasks.Fail(ctx, "t1", entity.FailureInference); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	n, err := tasks.ArchiveTerminal(ctx, time.Now().UTC().Add(time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("ArchiveTerminal = %d, %v", n, err)
	}
	got, err := tasks.FindByID(ctx, "t1")
	if err != nil {
		t.Fatalf("archived task unreadable: %v", err)
	}
	if got.FailureReason() != entity.FailureInference {
		t.Errorf("failure reason = %q", got.FailureReason())
	}
}

func TestGormProfileRepository_Activate(t *testing.T) {
	ctx := context.Background()
	repo := NewGormProfileRepository(newTestDB(t))

	if _, err := repo.Active(ctx); !errors.Is(err, entity.ErrNoActiveProfile) {
		t.Fatalf("Active on empty db err = %v", err)
	}

	a, _ := entity.NewSystemPromptProfile("p1", "alpha", "head a", "rule a")
	b, _ := entity.NewSystemPromptProfile("p2", "beta", "head b", "rule b")
	if err := repo.Save(ctx, a); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := repo.Save(ctx, b); err != nil {
		t.Fatalf("Save: %v", err)
	}

	for _, id := range []string{"p1", "p2"} {
		if _, err := repo.Activate(ctx, id); err != nil {
			t.Fatalf("Activate(%s): %v", id, err)
		}
		list, _ := repo.List(ctx)
		count := 0
		for _, p := range list {
			if p.IsActive() {
				count++
			}
		}
		if count != 1 {
			t.Errorf("after Activate(%s) active count = %d", id, count)
		}
	}

	active, err := repo.Active(ctx)
	if err != nil || active.ID() != "p2" || active.RuleText() != "rule b" {
		t.Errorf("Active = %v, %v", active, err)
	}
	if _, err := repo.Activate(ctx, "nope"); !domainErrors.IsNotFound(err) {
		t.Errorf("Activate missing err = %v", err)
	}
}

func TestGormFormRepository_RoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewGormFormRepository(newTestDB(t))

	form, _ := entity.NewFormSubmission("r1", "u1", map[string]entity.FormAnswer{
		"my_name":    entity.TextAnswer("Ann"),
		"activities": entity.MultiAnswer("kiss", "hold"),
	}, time.Now().UTC())
	if err := repo.Save(ctx, form); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := repo.Save(ctx, form); !domainErrors.IsAlreadyExists(err) {
		t.Errorf("second Save err = %v", err)
	}

	got, err := repo.LatestByUser(ctx, "u1")
	if err != nil {
		t.Fatalf("LatestByUser: %v", err)
	}
	choices := got.Choices("activities")
	if len(choices) != 2 || choices[0] != "kiss" || choices[1] != "hold" {
		t.Errorf("choices = %v, selection order lost", choices)
	}
	if got.Text("my_name") != "Ann" {
		t.Errorf("my_name = %q", got.Text("my_name"))
	}
}
