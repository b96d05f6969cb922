package pipeline

import (
	"errors"

	"storybook/internal/domain"
)

const backPageText = "The End"

// assemble builds the finished book from the accumulator. Every scene must
// have both text and an illustration; otherwise the missing scene numbers
// are reported and nothing is assembled.
func assemble(job *domain.Job, outline *domain.Outline) (*domain.Book, error) {
	stage := string(StageFinalize)
	cover, err := job.Progress.Cover()
	if err != nil {
		return nil, domain.NewStageError(domain.KindPersistenceInconsistency, stage, "cover", err)
	}

	n := outline.SceneCount()
	artifacts := make([]domain.SceneArtifact, 0, n)
	titles := make([]string, n)
	var missing []int
	for i, scene := range outline.Scenes {
		st, err := job.Progress.SceneText(i)
		if err != nil {
			return nil, domain.NewStageError(domain.KindPersistenceInconsistency, stage, domain.SceneEntity(scene.Number), err)
		}
		si, err := job.Progress.SceneImage(i)
		if err != nil {
			return nil, domain.NewStageError(domain.KindPersistenceInconsistency, stage, domain.SceneEntity(scene.Number), err)
		}
		a := domain.SceneArtifact{SceneNumber: scene.Number}
		titles[i] = scene.Title
		if st != nil {
			a.PageText = st.PageText
			if st.SceneTitle != "" {
				titles[i] = st.SceneTitle
			}
		}
		if si != nil {
			a.IllustrationURL = si.URL
			a.IllustrationPrompt = si.Prompt
			a.Seed = si.Seed
			a.NegativePrompt = si.NegativePrompt
			a.ReferenceImages = si.ReferenceImages
		}
		if !a.Complete() {
			missing = append(missing, scene.Number)
		}
		artifacts = append(artifacts, a)
	}
	if len(missing) > 0 {
		se := domain.NewStageError(domain.KindStageOrderViolation, stage, "book", errors.New("scenes are incomplete"))
		se.MissingScenes = missing
		return nil, se
	}
	if cover == nil || cover.URL == "" {
		return nil, domain.NewStageError(domain.KindStageOrderViolation, stage, "cover", errors.New("cover has not completed"))
	}

	book := &domain.Book{
		Title:                outline.Title,
		Dedication:           outline.Dedication,
		Pages:                make([]domain.Page, 0, domain.PageCount(n)),
		IllustrationMetadata: make([]domain.IllustrationMetadata, 0, n),
	}
	book.Pages = append(book.Pages,
		domain.Page{Type: domain.PageCover, Title: outline.Title, IllustrationURL: cover.URL},
		domain.Page{Type: domain.PageTitle, Title: outline.Title, Text: outline.Dedication},
	)
	for i, a := range artifacts {
		book.Pages = append(book.Pages,
			domain.Page{Type: domain.PageStoryText, SceneNumber: a.SceneNumber, Title: titles[i], Text: a.PageText},
			domain.Page{Type: domain.PageStoryIllustration, SceneNumber: a.SceneNumber, IllustrationURL: a.IllustrationURL},
		)
		book.IllustrationMetadata = append(book.IllustrationMetadata, domain.IllustrationMetadata{
			SceneNumber:        a.SceneNumber,
			IllustrationPrompt: a.IllustrationPrompt,
			Seed:               a.Seed,
			NegativePrompt:     a.NegativePrompt,
			ReferenceImages:    a.ReferenceImages,
		})
	}
	book.Pages = append(book.Pages, domain.Page{Type: domain.PageBack, Text: backPageText})
	return book, nil
}
