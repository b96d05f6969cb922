package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	storage_go "github.com/supabase-community/storage-go"
)

// SupabaseStore uploads objects into a Supabase Storage bucket and returns
// their public URLs.
type SupabaseStore struct {
	client *storage_go.Client
	bucket string
}

// NewSupabaseStore creates a store for bucket at the project URL, authorised
// with the service key.
func NewSupabaseStore(projectURL, serviceKey, bucket string) (*SupabaseStore, error) {
	projectURL = strings.TrimRight(strings.TrimSpace(projectURL), "/")
	if projectURL == "" || strings.TrimSpace(serviceKey) == "" {
		return nil, errors.New("storage: supabase url and service key are required")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("storage: supabase bucket is required")
	}
	client := storage_go.NewClient(projectURL+"/storage/v1", serviceKey, nil)
	return &SupabaseStore{client: client, bucket: bucket}, nil
}

func (s *SupabaseStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = "image/png"
	}
	upsert := true
	if _, err := s.client.UploadFile(s.bucket, cleanKey, bytes.NewReader(data), storage_go.FileOptions{
		ContentType: &contentType,
		Upsert:      &upsert,
	}); err != nil {
		return "", fmt.Errorf("storage: supabase upload %s: %w", cleanKey, err)
	}
	public := s.client.GetPublicUrl(s.bucket, cleanKey)
	if public.SignedURL == "" {
		return "", fmt.Errorf("storage: supabase returned no public url for %s", cleanKey)
	}
	return public.SignedURL, nil
}

var _ ObjectStore = (*SupabaseStore)(nil)
