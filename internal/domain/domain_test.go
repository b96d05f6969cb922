package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestJobStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to JobStatus
		want     bool
	}{
		{JobStatusDraft, JobStatusPaid, true},
		{JobStatusPaid, JobStatusGenerating, true},
		{JobStatusGenerating, JobStatusComplete, true},
		{JobStatusDraft, JobStatusGenerating, false},
		{JobStatusComplete, JobStatusGenerating, false},
		{JobStatusGenerating, JobStatusPaid, false},
		{JobStatusGenerating, JobStatusFailed, true},
		{JobStatusComplete, JobStatusFailed, false},
		{JobStatusFailed, JobStatusGenerating, true},
		{JobStatusFailed, JobStatusComplete, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.want {
			t.Errorf("%s -> %s: got %v want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestParseAvatar(t *testing.T) {
	cases := []struct {
		raw  string
		kind AvatarKind
		urls []string
	}{
		{"", AvatarNone, nil},
		{"null", AvatarNone, nil},
		{"https://cdn/a.png", AvatarSingle, []string{"https://cdn/a.png"}},
		{`"https://cdn/a.png"`, AvatarSingle, []string{"https://cdn/a.png"}},
		{`["https://cdn/a.png"]`, AvatarSingle, []string{"https://cdn/a.png"}},
		{`["https://cdn/a.png", " ", "https://cdn/b.png"]`, AvatarMulti, []string{"https://cdn/a.png", "https://cdn/b.png"}},
	}
	for _, tc := range cases {
		got := ParseAvatar(tc.raw)
		if got.Kind != tc.kind || strings.Join(got.URLs, ",") != strings.Join(tc.urls, ",") {
			t.Errorf("ParseAvatar(%q) = %+v", tc.raw, got)
		}
	}
}

func TestAvatarJSONAcceptsBothShapes(t *testing.T) {
	var c Character
	if err := json.Unmarshal([]byte(`{"name":"Mia","aiAvatarUrl":"[\"u1\",\"u2\"]"}`), &c); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if c.Avatar.Kind != AvatarMulti || c.Avatar.Primary() != "u1" {
		t.Fatalf("string-encoded array not normalized: %+v", c.Avatar)
	}
	if err := json.Unmarshal([]byte(`{"aiAvatarUrl":["u3"]}`), &c); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if c.Avatar.Kind != AvatarSingle || c.Avatar.Raw() != "u3" {
		t.Fatalf("array not normalized: %+v", c.Avatar)
	}
	out, _ := json.Marshal(NewAvatarRef("a", "b"))
	if string(out) != `["a","b"]` {
		t.Fatalf("marshal mismatch: %s", out)
	}
}

func TestOutlineValidate(t *testing.T) {
	o := Outline{Title: "Sea", Scenes: []SceneSpec{{Number: 1}, {Number: 2}}}
	if err := o.Validate(2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := o.Validate(3); err == nil {
		t.Fatal("expected count mismatch")
	}
	o.Scenes[1].Number = 3
	if err := o.Validate(2); err == nil {
		t.Fatal("expected numbering error")
	}
}

func TestStageErrorMatchesSentinels(t *testing.T) {
	cause := errors.New("model timeout")
	err := fmt.Errorf("run: %w", NewStageError(KindUpstreamGeneration, "scene_image", SceneEntity(3), cause))

	if !errors.Is(err, ErrUpstreamGeneration) || !errors.Is(err, cause) {
		t.Fatal("stage error must match its kind sentinel and its cause")
	}
	if !Retryable(err) {
		t.Fatal("upstream failures are retryable")
	}
	if !strings.Contains(err.Error(), "scene_image") || !strings.Contains(err.Error(), "scene 3") {
		t.Fatalf("message must name stage and entity: %s", err)
	}

	missing := &StageError{Kind: KindStageOrderViolation, Stage: "finalize", MissingScenes: []int{2, 4}}
	if Retryable(missing) || KindOf(missing) != KindStageOrderViolation {
		t.Fatal("order violations are not retryable")
	}
	if !strings.Contains(missing.Error(), "[2 4]") {
		t.Fatalf("missing scenes not listed: %s", missing)
	}
	if KindOf(fmt.Errorf("x: %w", ErrCreditExhausted)) != KindCreditExhausted {
		t.Fatal("bare sentinel should classify")
	}
}

func TestBookPageCountAndReplace(t *testing.T) {
	if PageCount(3) != 9 {
		t.Fatalf("PageCount(3) = %d", PageCount(3))
	}
	b := &Book{
		Pages:                []Page{{Type: PageStoryText, SceneNumber: 1}, {Type: PageStoryIllustration, SceneNumber: 1, IllustrationURL: "a"}},
		IllustrationMetadata: []IllustrationMetadata{{SceneNumber: 1, Seed: 5}},
	}
	if !b.ReplaceIllustration(1, "b", 6) {
		t.Fatal("scene 1 should be replaced")
	}
	if b.Pages[0].IllustrationURL != "" || b.Pages[1].IllustrationURL != "b" {
		t.Fatalf("unexpected pages: %+v", b.Pages)
	}
	if m, ok := b.Metadata(1); !ok || m.Seed != 6 {
		t.Fatalf("metadata not updated: %+v", m)
	}
	if b.ReplaceIllustration(2, "c", 1) {
		t.Fatal("scene 2 does not exist")
	}
}

func TestProgressDecodesPerIndexKeys(t *testing.T) {
	p := Progress{Data: map[string]json.RawMessage{
		SceneImageKey(1): json.RawMessage(`{"sceneNumber":2,"url":"u2","seed":7}`),
		KeyCoverURL:      json.RawMessage(`"c"`),
		KeyCoverSeed:     json.RawMessage(`11`),
	}}
	images, err := p.SceneImages(3)
	if err != nil {
		t.Fatalf("SceneImages error: %v", err)
	}
	if images[0] != nil || images[1] == nil || images[1].URL != "u2" || images[2] != nil {
		t.Fatalf("unexpected view: %+v", images)
	}
	cover, err := p.Cover()
	if err != nil || cover == nil || cover.URL != "c" || cover.Seed != 11 {
		t.Fatalf("cover mismatch: %+v %v", cover, err)
	}
}

func TestJobArtStylePrefersMainCharacter(t *testing.T) {
	j := &Job{
		Settings: Settings{ArtStyle: "watercolor"},
		Characters: []Character{
			{Name: "Rex", Role: RoleSupporting, ArtStyle: "pixel"},
			{Name: "Mia", Role: RoleMain, ArtStyle: "gouache"},
		},
	}
	if j.ArtStyle() != "gouache" {
		t.Fatalf("ArtStyle = %q", j.ArtStyle())
	}
	j.Characters[1].ArtStyle = ""
	if j.ArtStyle() != "watercolor" {
		t.Fatalf("ArtStyle fallback = %q", j.ArtStyle())
	}
	if (Settings{}).TargetSceneCount() != DefaultSceneCount || (Settings{SceneCount: 99}).TargetSceneCount() != MaxSceneCount {
		t.Fatal("scene count defaults")
	}
}
