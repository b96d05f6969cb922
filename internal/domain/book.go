package domain

// PageType enumerates the page kinds of a finished book.
type PageType string

const (
	PageCover             PageType = "cover"
	PageTitle             PageType = "title"
	PageStoryText         PageType = "story-text"
	PageStoryIllustration PageType = "story-illustration"
	PageBack              PageType = "back"
)

// Page is one page of the assembled book.
type Page struct {
	Type            PageType `json:"type"`
	SceneNumber     int      `json:"sceneNumber,omitempty"`
	Title           string   `json:"title,omitempty"`
	Text            string   `json:"text,omitempty"`
	IllustrationURL string   `json:"illustrationUrl,omitempty"`
}

// IllustrationMetadata keeps what is needed to regenerate one scene illustration.
type IllustrationMetadata struct {
	SceneNumber        int      `json:"sceneNumber"`
	IllustrationPrompt string   `json:"illustrationPrompt"`
	Seed               int64    `json:"seed"`
	NegativePrompt     string   `json:"negativePrompt"`
	ReferenceImages    []string `json:"referenceImages"`
}

// Book is the finalize output.
type Book struct {
	Title                string                 `json:"title"`
	Dedication           string                 `json:"dedication"`
	Pages                []Page                 `json:"pages"`
	IllustrationMetadata []IllustrationMetadata `json:"illustration_metadata"`
}

// PageCount is the exact page count of a book with n scenes: cover, title,
// one text and one illustration page per scene, back.
func PageCount(n int) int { return 2*n + 3 }

// Metadata returns the illustration metadata of sceneNumber.
func (b *Book) Metadata(sceneNumber int) (IllustrationMetadata, bool) {
	if b == nil {
		return IllustrationMetadata{}, false
	}
	for _, m := range b.IllustrationMetadata {
		if m.SceneNumber == sceneNumber {
			return m, true
		}
	}
	return IllustrationMetadata{}, false
}

// ReplaceIllustration points the illustration page of sceneNumber at url and
// records the seed used. It reports whether the scene was found.
func (b *Book) ReplaceIllustration(sceneNumber int, url string, seed int64) bool {
	if b == nil {
		return false
	}
	found := false
	for i := range b.Pages {
		if b.Pages[i].Type == PageStoryIllustration && b.Pages[i].SceneNumber == sceneNumber {
			b.Pages[i].IllustrationURL = url
			found = true
		}
	}
	for i := range b.IllustrationMetadata {
		if b.IllustrationMetadata[i].SceneNumber == sceneNumber {
			b.IllustrationMetadata[i].Seed = seed
		}
	}
	return found
}
