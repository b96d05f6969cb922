package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"storybook/internal/infra"
	"storybook/internal/sqlinline"
)

const (
	ProviderGemini   = "gemini"
	ProviderQwen     = "qwen"
	ProviderSupabase = "supabase"
)

// Store reads and writes provider tokens kept in integration_tokens. Services
// fall back to it when the corresponding environment variable is empty.
type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

func (s *Store) GeminiAPIKey(ctx context.Context) (string, error) {
	return s.Token(ctx, ProviderGemini)
}

func (s *Store) QwenAPIKey(ctx context.Context) (string, error) {
	return s.Token(ctx, ProviderQwen)
}

func (s *Store) SupabaseServiceKey(ctx context.Context) (string, error) {
	return s.Token(ctx, ProviderSupabase)
}

// Token returns the stored token for provider, or "" when none is stored.
func (s *Store) Token(ctx context.Context, provider string) (string, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QSelectIntegrationToken, provider)
	var token string
	if err := row.Scan(&token); err != nil {
		if infra.IsNoRows(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(token), nil
}

// Set stores token for provider, replacing any previous value.
func (s *Store) Set(ctx context.Context, provider, token string) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	switch provider {
	case ProviderGemini, ProviderQwen, ProviderSupabase:
	default:
		return fmt.Errorf("unsupported provider %q", provider)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New(provider + " token is required")
	}
	return s.upsert(ctx, provider, token, map[string]any{"source": "cli"})
}

func (s *Store) upsert(ctx context.Context, provider, token string, props map[string]any) error {
	payload := props
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = s.sql.Exec(ctx, sqlinline.QUpsertIntegrationToken, provider, token, raw)
	return err
}
