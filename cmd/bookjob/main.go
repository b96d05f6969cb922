package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"gopkg.in/yaml.v3"

	"storybook/internal/adapter/repo"
	"storybook/internal/domain"
	"storybook/internal/infra"
)

// manifest is the intake record read from -create. YAML and JSON both work.
type manifest struct {
	UserID              string             `json:"userId"`
	Status              domain.JobStatus   `json:"status"`
	Settings            domain.Settings    `json:"settings"`
	Characters          []domain.Character `json:"characters"`
	RegenerationCredits int                `json:"regenerationCredits"`
}

func main() {
	var (
		jobFlag     string
		createFlag  string
		creditsFlag int
	)
	flag.StringVar(&jobFlag, "job", "", "job ID (generated when creating without one)")
	flag.StringVar(&createFlag, "create", "", "path to a YAML or JSON job manifest to insert")
	flag.IntVar(&creditsFlag, "credits", 0, "regeneration credits to grant to the job")
	flag.Parse()

	jobID := strings.TrimSpace(jobFlag)
	if createFlag == "" && (jobID == "" || creditsFlag <= 0) {
		exitWithError(errors.New("either -create or -job with -credits must be provided"))
	}

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		exitWithError(errors.New("DATABASE_URL is required"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		exitWithError(fmt.Errorf("failed to connect database: %w", err))
	}
	defer pool.Close()

	logger := infra.NewLogger("cli").With().Str("cmd", "bookjob").Logger()
	jobs := repo.NewJobRepository(infra.NewSQLRunner(pool, logger))

	if createFlag != "" {
		raw, err := os.ReadFile(createFlag)
		if err != nil {
			exitWithError(fmt.Errorf("failed to read manifest: %w", err))
		}
		job, err := parseManifest(raw, jobID)
		if err != nil {
			exitWithError(err)
		}
		if err := jobs.CreateJob(ctx, job); err != nil {
			exitWithError(fmt.Errorf("failed to create job: %w", err))
		}
		jobID = job.ID
		fmt.Printf("Job %s created with status %s and %d characters\n", job.ID, job.Status, len(job.Characters))
	}

	if creditsFlag > 0 {
		total, err := jobs.GrantRegenerationCredits(ctx, jobID, creditsFlag)
		if err != nil {
			exitWithError(fmt.Errorf("failed to grant credits: %w", err))
		}
		fmt.Printf("Job %s now has %d regeneration credits\n", jobID, total)
	}
}

// parseManifest decodes raw as YAML, which also accepts JSON, and normalizes
// it into a job. Keys follow the JSON field names of the domain types.
func parseManifest(raw []byte, jobID string) (*domain.Job, error) {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	asJSON, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	var m manifest
	if err := json.Unmarshal(asJSON, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}

	if len(m.Characters) == 0 {
		return nil, errors.New("manifest needs at least one character")
	}
	if m.Status == "" {
		m.Status = domain.JobStatusPaid
	}
	switch m.Status {
	case domain.JobStatusDraft, domain.JobStatusPaid:
	default:
		return nil, fmt.Errorf("manifest status must be draft or paid, got %q", m.Status)
	}
	if jobID == "" {
		jobID = uuid.NewString()
	}
	for i := range m.Characters {
		c := &m.Characters[i]
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		c.EntityType = domain.ParseEntityType(string(c.EntityType))
		if c.Role == "" {
			c.Role = domain.RoleSupporting
			if i == 0 {
				c.Role = domain.RoleMain
			}
		}
	}

	return &domain.Job{
		ID:                  jobID,
		UserID:              m.UserID,
		Status:              m.Status,
		Settings:            m.Settings,
		Characters:          m.Characters,
		RegenerationCredits: m.RegenerationCredits,
	}, nil
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
