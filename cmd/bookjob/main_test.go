package main

import (
	"strings"
	"testing"

	"storybook/internal/domain"
)

func TestParseManifestYAML(t *testing.T) {
	raw := []byte(`
userId: user-1
settings:
  ageRange: "3-5"
  theme: friendship
  artStyle: watercolor
  sceneCount: 4
characters:
  - name: Mia
    entityType: Human
    age: "5"
    aiAvatarUrl: https://cdn.example/mia.png
  - name: Biscuit
    entityType: animal
regenerationCredits: 2
`)
	job, err := parseManifest(raw, "job-1")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if job.ID != "job-1" || job.UserID != "user-1" {
		t.Fatalf("unexpected ids: %+v", job)
	}
	if job.Status != domain.JobStatusPaid {
		t.Fatalf("expected paid default, got %s", job.Status)
	}
	if job.Settings.TargetSceneCount() != 4 || job.RegenerationCredits != 2 {
		t.Fatalf("unexpected settings: %+v credits=%d", job.Settings, job.RegenerationCredits)
	}
	if len(job.Characters) != 2 {
		t.Fatalf("expected 2 characters, got %d", len(job.Characters))
	}
	mia, biscuit := job.Characters[0], job.Characters[1]
	if mia.Role != domain.RoleMain || biscuit.Role != domain.RoleSupporting {
		t.Fatalf("unexpected roles: %s %s", mia.Role, biscuit.Role)
	}
	if mia.EntityType != domain.EntityHuman || biscuit.EntityType != domain.EntityAnimal {
		t.Fatalf("unexpected entity types: %s %s", mia.EntityType, biscuit.EntityType)
	}
	if mia.Avatar.Primary() != "https://cdn.example/mia.png" {
		t.Fatalf("avatar not decoded: %+v", mia.Avatar)
	}
	if mia.ID == "" || mia.ID == biscuit.ID {
		t.Fatalf("character ids not generated: %q %q", mia.ID, biscuit.ID)
	}
}

func TestParseManifestJSONGeneratesJobID(t *testing.T) {
	raw := []byte(`{"status":"draft","characters":[{"id":"c1","name":"Leo","role":"main"}]}`)
	job, err := parseManifest(raw, "")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if job.ID == "" {
		t.Fatal("expected generated job id")
	}
	if job.Status != domain.JobStatusDraft || job.Characters[0].ID != "c1" {
		t.Fatalf("unexpected job: %+v", job)
	}
}

func TestParseManifestRejects(t *testing.T) {
	cases := map[string]string{
		"no characters": `settings: {theme: space}`,
		"bad status":    "status: complete\ncharacters:\n  - name: A\n",
		"bad yaml":      "characters: [",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := parseManifest([]byte(raw), ""); err == nil {
				t.Fatal("expected error")
			}
		})
	}
	_, err := parseManifest([]byte("status: failed\ncharacters:\n  - name: A\n"), "")
	if err == nil || !strings.Contains(err.Error(), "draft or paid") {
		t.Fatalf("unexpected error: %v", err)
	}
}
