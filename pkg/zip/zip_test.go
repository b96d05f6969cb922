package zip

import (
	"archive/zip"
	"bytes"
	"io"
	"testing"
	"time"
)

func TestArchiveRoundTrip(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	data, err := Archive([]Entry{
		{Filename: "book.json", Data: []byte(`{"title":"x"}`)},
		{Filename: "pages/01.txt", Data: []byte("Once upon a time")},
	}, at)
	if err != nil {
		t.Fatalf("Archive error: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("NewReader error: %v", err)
	}
	if len(zr.File) != 2 || zr.File[1].Name != "pages/01.txt" {
		t.Fatalf("unexpected entries: %d", len(zr.File))
	}
	rc, _ := zr.File[1].Open()
	body, _ := io.ReadAll(rc)
	rc.Close()
	if string(body) != "Once upon a time" {
		t.Fatalf("body = %q", body)
	}

	again, _ := Archive([]Entry{
		{Filename: "book.json", Data: []byte(`{"title":"x"}`)},
		{Filename: "pages/01.txt", Data: []byte("Once upon a time")},
	}, at)
	if !bytes.Equal(data, again) {
		t.Fatal("archive is not deterministic")
	}
}
