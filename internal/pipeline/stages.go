package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"storybook/internal/domain"
	"storybook/internal/prompt"
	"storybook/internal/providers/image"
	"storybook/internal/storage"
)

func (c *Controller) runOutline(ctx context.Context, inv *invocation) (*Output, error) {
	if out, err := c.storedOutline(ctx, inv); out != nil || err != nil {
		return out, err
	}

	held, err := c.acquire(ctx, inv, 0, "outline")
	if err != nil {
		return nil, err
	}
	defer c.release(held)
	if err := c.reload(ctx, inv); err != nil {
		return nil, err
	}
	if out, err := c.storedOutline(ctx, inv); out != nil || err != nil {
		return out, err
	}

	outline, err := c.text.Outline(ctx, inv.job)
	if err != nil {
		return nil, domain.NewStageError(domain.KindUpstreamGeneration, string(StageOutline), "outline", err)
	}
	if err := outline.Validate(inv.job.Settings.TargetSceneCount()); err != nil {
		return nil, domain.NewStageError(domain.KindUpstreamGeneration, string(StageOutline), "outline", err)
	}

	if _, err := c.commit(ctx, inv, "outline", domain.ProgressUpdate{
		Stage:         domain.ProgressOutline,
		StageProgress: 100,
		Message:       fmt.Sprintf("Outline ready: %s", outline.Title),
		Data:          map[string]any{domain.KeyOutline: outline},
		Status:        domain.JobStatusGenerating,
	}); err != nil {
		return nil, err
	}
	return outlineOutput(outline), nil
}

// storedOutline returns the persisted outline, moving a paid or failed job
// back to generating so a resumed run is visible.
func (c *Controller) storedOutline(ctx context.Context, inv *invocation) (*Output, error) {
	existing, err := inv.job.Progress.Outline()
	if err != nil {
		return nil, corrupt(inv, "outline", err)
	}
	if existing == nil {
		return nil, nil
	}
	if inv.job.Status != domain.JobStatusGenerating && inv.job.Status != domain.JobStatusComplete {
		if _, err := c.commit(ctx, inv, "outline", domain.ProgressUpdate{
			Message: "Generation resumed",
			Status:  domain.JobStatusGenerating,
		}); err != nil {
			return nil, err
		}
	}
	out := outlineOutput(existing)
	out.Cached = true
	return out, nil
}

func (c *Controller) runCharacterConsistency(ctx context.Context, inv *invocation) (*Output, error) {
	if _, err := c.requireOutline(inv); err != nil {
		return nil, err
	}
	if out, err := c.storedDescriptions(inv); out != nil || err != nil {
		return out, err
	}

	held, err := c.acquire(ctx, inv, 0, "")
	if err != nil {
		return nil, err
	}
	defer c.release(held)
	if err := c.reload(ctx, inv); err != nil {
		return nil, err
	}
	if out, err := c.storedDescriptions(inv); out != nil || err != nil {
		return out, err
	}

	descriptions, err := c.consistency.Compute(ctx, inv.job)
	if err != nil {
		return nil, err
	}
	if _, err := c.commit(ctx, inv, "", domain.ProgressUpdate{
		Stage:         domain.ProgressCharacterConsistency,
		StageProgress: 100,
		Message:       fmt.Sprintf("Described %d characters", len(descriptions)),
		Data:          map[string]any{domain.KeyCharacterDescriptions: descriptions},
	}); err != nil {
		return nil, err
	}
	c.consistency.Remember(inv.job.ID, descriptions)
	return &Output{Stage: StageCharacterConsistency, CharacterDescriptions: descriptions}, nil
}

func (c *Controller) storedDescriptions(inv *invocation) (*Output, error) {
	existing, ok, err := inv.job.Progress.CharacterDescriptions()
	if err != nil {
		return nil, corrupt(inv, "", err)
	}
	if !ok {
		return nil, nil
	}
	c.consistency.Remember(inv.job.ID, existing)
	return &Output{Stage: StageCharacterConsistency, CharacterDescriptions: existing, Cached: true}, nil
}

func (c *Controller) runCover(ctx context.Context, inv *invocation) (*Output, error) {
	if out, err := c.storedCover(inv); out != nil || err != nil {
		return out, err
	}
	outline, err := c.requireOutline(inv)
	if err != nil {
		return nil, err
	}
	descriptions, err := c.consistency.Descriptions(inv.job, string(StageCover))
	if err != nil {
		return nil, err
	}

	held, err := c.acquire(ctx, inv, 0, "cover")
	if err != nil {
		return nil, err
	}
	defer c.release(held)
	if err := c.reload(ctx, inv); err != nil {
		return nil, err
	}
	if out, err := c.storedCover(inv); out != nil || err != nil {
		return out, err
	}

	p := c.synth.BuildCover(inv.job, outline, descriptions, c.cfg.CoverReferencesPerCharacter)
	seed := c.seed()
	url, err := c.illustrate(ctx, inv, "cover", p, seed, storage.CoverKey(inv.job.ID, seed))
	if err != nil {
		return nil, err
	}

	cover := &domain.Cover{URL: url, Prompt: p.Positive, Seed: seed}
	if _, err := c.commit(ctx, inv, "cover", domain.ProgressUpdate{
		Stage:         domain.ProgressCover,
		StageProgress: 100,
		Message:       "Cover illustrated",
		Data: map[string]any{
			domain.KeyCoverURL:    cover.URL,
			domain.KeyCoverPrompt: cover.Prompt,
			domain.KeyCoverSeed:   cover.Seed,
		},
	}); err != nil {
		return nil, err
	}
	return coverOutput(cover), nil
}

func (c *Controller) storedCover(inv *invocation) (*Output, error) {
	cover, err := inv.job.Progress.Cover()
	if err != nil {
		return nil, corrupt(inv, "cover", err)
	}
	if cover == nil {
		return nil, nil
	}
	out := coverOutput(cover)
	out.Cached = true
	return out, nil
}

func (c *Controller) runSceneText(ctx context.Context, inv *invocation) (*Output, error) {
	i := inv.req.SceneIndex
	outline, err := c.requireOutline(inv)
	if err != nil {
		return nil, err
	}
	scene, _ := outline.Scene(i)
	entity := domain.SceneEntity(scene.Number)

	if out, err := storedSceneText(inv, i, entity); out != nil || err != nil {
		return out, err
	}

	held, err := c.acquire(ctx, inv, i, entity)
	if err != nil {
		return nil, err
	}
	defer c.release(held)
	if err := c.reload(ctx, inv); err != nil {
		return nil, err
	}
	if out, err := storedSceneText(inv, i, entity); out != nil || err != nil {
		return out, err
	}

	previous := make([]domain.SceneText, 0, i)
	for j := 0; j < i; j++ {
		st, err := inv.job.Progress.SceneText(j)
		if err != nil {
			return nil, corrupt(inv, domain.SceneEntity(j+1), err)
		}
		if st != nil {
			previous = append(previous, *st)
		}
	}

	st, err := c.text.SceneText(ctx, inv.job, outline, i, previous)
	if err != nil {
		return nil, domain.NewStageError(domain.KindUpstreamGeneration, string(StageSceneText), entity, err)
	}
	if strings.TrimSpace(st.PageText) == "" {
		return nil, domain.NewStageError(domain.KindUpstreamGeneration, string(StageSceneText), entity, errors.New("empty page text"))
	}
	st.SceneNumber = scene.Number
	if st.SceneTitle == "" {
		st.SceneTitle = scene.Title
	}

	n := outline.SceneCount()
	done := countPresent(inv.job.Progress, n, domain.SceneTextKey) + 1
	if _, err := c.commit(ctx, inv, entity, domain.ProgressUpdate{
		Stage:         domain.ProgressNarrative,
		StageProgress: done * 100 / n,
		Message:       fmt.Sprintf("Wrote scene %d of %d", scene.Number, n),
		Data:          map[string]any{domain.SceneTextKey(i): st},
	}); err != nil {
		return nil, err
	}
	return sceneTextOutput(st), nil
}

func storedSceneText(inv *invocation, i int, entity string) (*Output, error) {
	existing, err := inv.job.Progress.SceneText(i)
	if err != nil {
		return nil, corrupt(inv, entity, err)
	}
	if existing == nil {
		return nil, nil
	}
	out := sceneTextOutput(existing)
	out.Cached = true
	return out, nil
}

func (c *Controller) runSceneImage(ctx context.Context, inv *invocation) (*Output, error) {
	i := inv.req.SceneIndex
	outline, err := c.requireOutline(inv)
	if err != nil {
		return nil, err
	}
	scene, _ := outline.Scene(i)
	entity := domain.SceneEntity(scene.Number)

	if out, err := c.storedSceneImage(inv, i, entity); out != nil || err != nil {
		return out, err
	}
	descriptions, err := c.consistency.Descriptions(inv.job, string(StageSceneImage))
	if err != nil {
		return nil, err
	}

	held, err := c.acquire(ctx, inv, i, entity)
	if err != nil {
		return nil, err
	}
	defer c.release(held)
	if err := c.reload(ctx, inv); err != nil {
		return nil, err
	}
	if out, err := c.storedSceneImage(inv, i, entity); out != nil || err != nil {
		return out, err
	}

	pageText := strings.TrimSpace(inv.req.PageText)
	st, err := inv.job.Progress.SceneText(i)
	if err != nil {
		return nil, corrupt(inv, entity, err)
	}
	if st != nil {
		pageText = st.PageText
	}

	p := c.synth.BuildScene(inv.job, scene, pageText, descriptions)
	seed := c.seed()
	url, err := c.illustrate(ctx, inv, entity, p, seed, storage.SceneKey(inv.job.ID, scene.Number, seed))
	if err != nil {
		return nil, err
	}

	si := &domain.SceneImage{
		SceneNumber:     scene.Number,
		URL:             url,
		Prompt:          p.Positive,
		Seed:            seed,
		NegativePrompt:  p.Negative,
		ReferenceImages: p.References,
	}
	n := outline.SceneCount()
	done := countPresent(inv.job.Progress, n, domain.SceneImageKey) + 1
	if _, err := c.commit(ctx, inv, entity, domain.ProgressUpdate{
		Stage:         domain.ProgressIllustrations,
		StageProgress: done * 100 / n,
		Message:       fmt.Sprintf("Illustrated scene %d of %d", scene.Number, n),
		Data:          map[string]any{domain.SceneImageKey(i): si},
	}); err != nil {
		return nil, err
	}
	return sceneImageOutput(si), nil
}

func (c *Controller) storedSceneImage(inv *invocation, i int, entity string) (*Output, error) {
	si, err := inv.job.Progress.SceneImage(i)
	if err != nil {
		return nil, corrupt(inv, entity, err)
	}
	if si == nil || si.URL == "" {
		return nil, nil
	}
	out := sceneImageOutput(si)
	out.Cached = true
	return out, nil
}

func (c *Controller) runFinalize(ctx context.Context, inv *invocation) (*Output, error) {
	if inv.job.Book != nil {
		return &Output{Stage: StageFinalize, BookContent: inv.job.Book, Cached: true}, nil
	}
	if inv.job.Status == domain.JobStatusFailed {
		return nil, domain.NewStageError(domain.KindValidation, string(StageFinalize), "job "+inv.job.ID,
			errors.New("job has failed; resume generation before finalizing"))
	}
	held, err := c.acquire(ctx, inv, 0, "book")
	if err != nil {
		return nil, err
	}
	defer c.release(held)
	if err := c.reload(ctx, inv); err != nil {
		return nil, err
	}
	if inv.job.Book != nil {
		return &Output{Stage: StageFinalize, BookContent: inv.job.Book, Cached: true}, nil
	}

	outline, err := c.requireOutline(inv)
	if err != nil {
		return nil, err
	}
	book, err := assemble(inv.job, outline)
	if err != nil {
		return nil, err
	}
	if _, err := c.commit(ctx, inv, "book", domain.ProgressUpdate{
		Stage:         domain.ProgressComplete,
		StageProgress: 100,
		Message:       fmt.Sprintf("Book complete: %d pages", len(book.Pages)),
		Data:          map[string]any{"pageCount": len(book.Pages)},
		Status:        domain.JobStatusComplete,
		Book:          book,
	}); err != nil {
		return nil, err
	}
	return &Output{Stage: StageFinalize, BookContent: book}, nil
}

// illustrate generates one image and uploads it, returning its URL.
func (c *Controller) illustrate(ctx context.Context, inv *invocation, entity string, p prompt.Result, seed int64, key string) (string, error) {
	stage := string(inv.req.Stage)
	asset, err := c.images.Generate(ctx, image.GenerateRequest{
		Prompt:         p.Positive,
		NegativePrompt: p.Negative,
		Seed:           seed,
		AspectRatio:    c.cfg.AspectRatio,
		References:     p.References,
		RequestID:      inv.job.ID + ":" + stage + ":" + entity,
	})
	if err != nil {
		return "", domain.NewStageError(domain.KindUpstreamGeneration, stage, entity, err)
	}
	url, err := c.objects.Put(ctx, key, asset.Data, storage.ContentType(asset.Format))
	if err != nil {
		return "", domain.NewStageError(domain.KindInternal, stage, entity, fmt.Errorf("upload illustration: %w", err))
	}
	return url, nil
}

func (c *Controller) requireOutline(inv *invocation) (*domain.Outline, error) {
	outline, err := inv.job.Progress.Outline()
	if err != nil {
		return nil, corrupt(inv, "outline", err)
	}
	if outline == nil {
		return nil, domain.NewStageError(domain.KindStageOrderViolation, string(inv.req.Stage), "outline",
			errors.New("outline has not completed"))
	}
	if inv.req.Stage.PerScene() {
		if _, ok := outline.Scene(inv.req.SceneIndex); !ok {
			return nil, domain.NewStageError(domain.KindValidation, string(inv.req.Stage), "",
				fmt.Errorf("scene index %d not in outline of %d scenes", inv.req.SceneIndex, outline.SceneCount()))
		}
	}
	return outline, nil
}

func corrupt(inv *invocation, entity string, err error) error {
	return domain.NewStageError(domain.KindPersistenceInconsistency, string(inv.req.Stage), entity, err)
}

func countPresent(p domain.Progress, n int, key func(int) string) int {
	count := 0
	for i := 0; i < n; i++ {
		if p.Has(key(i)) {
			count++
		}
	}
	return count
}
