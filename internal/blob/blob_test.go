package blob

import (
	"context"
	"testing"
)

func TestMemoryStoragePutGetDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStorage()

	if err := m.Put(ctx, "k1", []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	data, err := m.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(data) != 4 || data[0] != 1 {
		t.Errorf("data = %v, want [1 2 3 4]", data)
	}

	if err := m.Delete(ctx, "k1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := m.Get(ctx, "k1"); err == nil {
		t.Error("expected error after delete")
	}
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStorage()
	client := m.Client()

	uploadURL, err := m.PresignUpload(ctx, "assets/logo.png")
	if err != nil {
		t.Fatalf("PresignUpload: %v", err)
	}

	payload := []byte{1, 2, 3, 4}
	if err := Upload(ctx, client, uploadURL, payload); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	downloadURL, err := m.PresignDownload(ctx, "assets/logo.png")
	if err != nil {
		t.Fatalf("PresignDownload: %v", err)
	}

	got, err := Download(ctx, client, downloadURL)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("payload = %v, want %v", got, payload)
	}
}

func TestDownloadMissingObject(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStorage()

	url, _ := m.PresignDownload(ctx, "missing")
	if _, err := Download(ctx, m.Client(), url); err == nil {
		t.Error("expected error for missing object")
	}
}
