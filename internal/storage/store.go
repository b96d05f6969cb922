package storage

import (
	"context"
	"fmt"
	"path"
	"strings"
)

// ObjectStore persists generated bytes and returns the URL they are served from.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// CoverKey is the object key of a job's cover illustration.
func CoverKey(jobID string, seed int64) string {
	return path.Join("books", jobID, fmt.Sprintf("cover-%d.png", seed))
}

// SceneKey is the object key of one scene illustration. The seed keeps
// regenerated illustrations from overwriting earlier ones.
func SceneKey(jobID string, sceneNumber int, seed int64) string {
	return path.Join("books", jobID, fmt.Sprintf("scene-%02d-%d.png", sceneNumber, seed))
}

// ContentType normalizes a generator's image format ("png", "image/jpeg")
// to a MIME type, defaulting to PNG.
func ContentType(format string) string {
	format = strings.ToLower(strings.TrimSpace(format))
	if strings.Contains(format, "/") {
		return format
	}
	switch format {
	case "jpeg", "jpg":
		return "image/jpeg"
	case "webp":
		return "image/webp"
	default:
		return "image/png"
	}
}
