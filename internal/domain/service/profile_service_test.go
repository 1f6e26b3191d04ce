package service

import (
	"context"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/ngoclaw/scenegate/internal/domain/entity"
	"github.com/ngoclaw/scenegate/internal/domain/repository"
	"github.com/ngoclaw/scenegate/internal/infrastructure/persistence"
	domainErrors "github.com/ngoclaw/scenegate/pkg/errors"
)

func TestProfileService_UpsertKeepsActivePointer(t *testing.T) {
	ctx := context.Background()
	svc := NewProfileService(persistence.NewMemoryStore().Profiles(), zap.NewNop())

	a, err := svc.Upsert(ctx, "alpha", "head", "rules")
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if _, err := svc.Activate(ctx, a.ID()); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	updated, err := svc.Upsert(ctx, " alpha ", "new head", "new rules")
	if err != nil {
		t.Fatalf("Upsert existing: %v", err)
	}
	if updated.ID() != a.ID() {
		t.Errorf("upsert created a new profile %s", updated.ID())
	}

	active, err := svc.Active(ctx)
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if active.ID() != a.ID() || active.HeadText() != "new head" {
		t.Errorf("active = %s %q", active.ID(), active.HeadText())
	}
}

func TestProfileService_ConcurrentActivationLeavesOneActive(t *testing.T) {
	ctx := context.Background()
	svc := NewProfileService(persistence.NewMemoryStore().Profiles(), zap.NewNop())

	names := []string{"alpha", "beta", "gamma", "delta"}
	for _, n := range names {
		if _, err := svc.Upsert(ctx, n, n+" head", n+" rules"); err != nil {
			t.Fatalf("Upsert(%s): %v", n, err)
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := svc.ActivateByName(ctx, names[i%len(names)]); err != nil {
				t.Errorf("ActivateByName: %v", err)
			}
		}(i)
	}
	wg.Wait()

	list, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	active := 0
	for _, p := range list {
		if p.IsActive() {
			active++
		}
	}
	if active != 1 {
		t.Errorf("active profiles = %d, want 1", active)
	}
}

// brokenLookup fails name lookups the way a lost database connection does.
type brokenLookup struct {
	repository.ProfileRepository
	saves int
}

func (r *brokenLookup) FindByName(ctx context.Context, name string) (*entity.SystemPromptProfile, error) {
	return nil, domainErrors.NewInternalError("connection reset")
}

func (r *brokenLookup) Save(ctx context.Context, p *entity.SystemPromptProfile) error {
	r.saves++
	return r.ProfileRepository.Save(ctx, p)
}

func TestProfileService_UpsertReturnsLookupFailure(t *testing.T) {
	repo := &brokenLookup{ProfileRepository: persistence.NewMemoryStore().Profiles()}
	svc := NewProfileService(repo, zap.NewNop())

	_, err := svc.Upsert(context.Background(), "alpha", "head", "rules")
	if err == nil || domainErrors.IsNotFound(err) {
		t.Fatalf("err = %v, want the lookup failure", err)
	}
	if repo.saves != 0 {
		t.Errorf("saved %d profile(s) after a failed lookup", repo.saves)
	}
}
