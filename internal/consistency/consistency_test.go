package consistency

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"storybook/internal/domain"
)

type stubText struct {
	calls  atomic.Int32
	delays map[string]time.Duration
	fail   string
}

func (s *stubText) Name() string { return "stub" }

func (s *stubText) Outline(context.Context, *domain.Job) (*domain.Outline, error) {
	return nil, errors.New("unused")
}

func (s *stubText) SceneText(context.Context, *domain.Job, *domain.Outline, int, []domain.SceneText) (*domain.SceneText, error) {
	return nil, errors.New("unused")
}

func (s *stubText) CharacterDescription(ctx context.Context, _ *domain.Job, c domain.Character) (string, error) {
	s.calls.Add(1)
	if d := s.delays[c.Name]; d > 0 {
		time.Sleep(d)
	}
	if c.Name == s.fail {
		return "", errors.New("model unavailable")
	}
	return "looks like " + c.Name, nil
}

func testJob() *domain.Job {
	return &domain.Job{
		ID: "job-1",
		Characters: []domain.Character{
			{ID: "c1", Name: "Mia", Role: domain.RoleMain},
			{ID: "c2", Name: "Biscuit", EntityType: domain.EntityAnimal},
			{ID: "c3", Name: "Teapot", EntityType: domain.EntityObject},
		},
	}
}

func TestComputeKeepsCharacterOrder(t *testing.T) {
	gen := &stubText{delays: map[string]time.Duration{"Mia": 30 * time.Millisecond}}
	svc := NewService(gen, 3, zerolog.Nop())

	got, err := svc.Compute(context.Background(), testJob())
	if err != nil {
		t.Fatalf("Compute error: %v", err)
	}
	want := []string{"c1", "c2", "c3"}
	for i, d := range got {
		if d.CharacterID != want[i] || d.Description != "looks like "+d.Name {
			t.Fatalf("description %d = %+v", i, d)
		}
	}
}

func TestComputeNamesFailingCharacter(t *testing.T) {
	svc := NewService(&stubText{fail: "Biscuit"}, 2, zerolog.Nop())
	_, err := svc.Compute(context.Background(), testJob())
	if !errors.Is(err, domain.ErrUpstreamGeneration) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	var se *domain.StageError
	if !errors.As(err, &se) || se.Entity != "character Biscuit" {
		t.Fatalf("entity not named: %v", err)
	}
}

func TestComputeSharesConcurrentRuns(t *testing.T) {
	gen := &stubText{delays: map[string]time.Duration{"Mia": 50 * time.Millisecond}}
	svc := NewService(gen, 3, zerolog.Nop())
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Compute(context.Background(), testJob()); err != nil {
				t.Errorf("Compute error: %v", err)
			}
		}()
	}
	wg.Wait()
	if n := gen.calls.Load(); n%3 != 0 || n > 12 {
		t.Fatalf("unexpected call count %d", n)
	}
}

func TestDescriptionsReadsPersistedSetWithoutGenerating(t *testing.T) {
	gen := &stubText{}
	svc := NewService(gen, 1, zerolog.Nop())
	job := testJob()
	persisted := []domain.CharacterDescription{{CharacterID: "c1", Name: "Mia", Description: "red coat"}}
	raw, _ := json.Marshal(persisted)
	job.Progress.Data = map[string]json.RawMessage{domain.KeyCharacterDescriptions: raw}

	for i := 0; i < 3; i++ {
		got, err := svc.Descriptions(job, "scene_image")
		if err != nil {
			t.Fatalf("Descriptions error: %v", err)
		}
		if len(got) != 1 || got[0].Description != "red coat" {
			t.Fatalf("descriptions = %+v", got)
		}
	}
	if gen.calls.Load() != 0 {
		t.Fatal("Descriptions must not call the text service")
	}
}

func TestDescriptionsMissingIsOrderViolation(t *testing.T) {
	svc := NewService(&stubText{}, 1, zerolog.Nop())
	_, err := svc.Descriptions(testJob(), "cover")
	if !errors.Is(err, domain.ErrStageOrderViolation) {
		t.Fatalf("expected order violation, got %v", err)
	}
}
