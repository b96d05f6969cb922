package db

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

type recordingExec struct {
	sql string
	err error
}

func (r *recordingExec) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	r.sql = sql
	return pgconn.CommandTag{}, r.err
}

func TestSchemaDeclaresCreditGuard(t *testing.T) {
	if !strings.Contains(Schema, "check (regeneration_credits >= 0)") {
		t.Fatal("schema must keep regeneration_credits non-negative")
	}
	for _, table := range []string{"book_jobs", "book_characters", "integration_tokens"} {
		if !strings.Contains(Schema, "create table if not exists "+table) {
			t.Fatalf("schema missing table %s", table)
		}
	}
}

func TestMigrateRunsEmbeddedSchema(t *testing.T) {
	exec := &recordingExec{}
	if err := Migrate(context.Background(), exec); err != nil {
		t.Fatalf("Migrate returned error: %v", err)
	}
	if exec.sql != Schema {
		t.Fatal("Migrate did not execute the embedded schema")
	}

	exec.err = errors.New("boom")
	if err := Migrate(context.Background(), exec); err == nil || !strings.Contains(err.Error(), "apply schema") {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}
