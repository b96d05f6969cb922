package infra

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
)

func TestExtractMarker(t *testing.T) {
	query := "--sql 4f55a9b7-4e9f-4e45-a3b3-5a532d21d9db\nselect 1;"
	marker, body, err := extractMarker(query)
	if err != nil {
		t.Fatalf("extractMarker error: %v", err)
	}
	if marker != "4f55a9b7-4e9f-4e45-a3b3-5a532d21d9db" {
		t.Fatalf("unexpected marker %q", marker)
	}
	if body != "select 1;" {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestExtractMarkerRejectsMissingMarker(t *testing.T) {
	if _, _, err := extractMarker("select 1;"); err == nil {
		t.Fatal("expected error for missing marker")
	}
	if _, _, err := extractMarker("--sql not-a-uuid\nselect 1;"); err == nil {
		t.Fatal("expected error for invalid marker")
	}
}

func TestQueryRowWithoutMarkerReturnsErrorRow(t *testing.T) {
	r := &SQLRunner{}
	var v int
	if err := r.QueryRow(context.Background(), "select 1").Scan(&v); err == nil {
		t.Fatal("expected scan error for unmarked query")
	}
}

func TestIsNoRows(t *testing.T) {
	if !IsNoRows(pgx.ErrNoRows) {
		t.Fatal("expected pgx.ErrNoRows to match")
	}
	if !IsNoRows(fmt.Errorf("load job: %w", pgx.ErrNoRows)) {
		t.Fatal("expected wrapped pgx.ErrNoRows to match")
	}
	if IsNoRows(errors.New("boom")) {
		t.Fatal("unexpected match")
	}
}
