package blobstore

import (
	"context"
	"io"
	"strings"
	"testing"
)

func newTestStore(t *testing.T) *DiskStore {
	t.Helper()
	store, err := NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatalf("new disk store: %v", err)
	}
	return store
}

func TestSaveAndOpen(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	meta, err := store.Save(ctx, FileMetadata{
		FileName:    "photo.png",
		ContentType: "image/png",
		OwnerID:     "doc-1",
		Category:    "profile-photo",
	}, strings.NewReader("fake png bytes"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if meta.ID == "" {
		t.Fatal("empty id")
	}
	if meta.Size != int64(len("fake png bytes")) {
		t.Errorf("size = %d", meta.Size)
	}
	if meta.Hash == "" {
		t.Error("empty hash")
	}

	rc, got, err := store.Open(ctx, meta.ID)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rc.Close()
	if got.FileName != "photo.png" || got.ContentType != "image/png" {
		t.Errorf("metadata = %+v", got)
	}
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "fake png bytes" {
		t.Errorf("content = %q", data)
	}
}

func TestOpenSeekable(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	meta, err := store.Save(ctx, FileMetadata{
		FileName:    "clip.mp4",
		ContentType: "video/mp4",
		Category:    "video",
	}, strings.NewReader("0123456789"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	rc, _, err := store.Open(ctx, meta.ID)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rc.Close()

	if _, err := rc.Seek(5, io.SeekStart); err != nil {
		t.Fatalf("seek: %v", err)
	}
	tail, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(tail) != "56789" {
		t.Errorf("after seek = %q, want 56789", tail)
	}
}

func TestSaveValidation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Save(ctx, FileMetadata{ContentType: "image/png"}, strings.NewReader("x")); err != ErrMissingFileName {
		t.Errorf("missing file name: got %v", err)
	}
	if _, err := store.Save(ctx, FileMetadata{
		FileName:    "script.sh",
		ContentType: "application/x-sh",
	}, strings.NewReader("x")); err != ErrInvalidContentType {
		t.Errorf("bad content type: got %v", err)
	}
}

func TestSaveUnknownCategoryFallsBack(t *testing.T) {
	store := newTestStore(t)
	meta, err := store.Save(context.Background(), FileMetadata{
		FileName:    "doc.pdf",
		ContentType: "application/pdf",
		Category:    "totally-made-up",
	}, strings.NewReader("pdf"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if meta.Category != "other" {
		t.Errorf("category = %q, want other", meta.Category)
	}
}

func TestStatAndDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	meta, err := store.Save(ctx, FileMetadata{
		FileName:    "doc.pdf",
		ContentType: "application/pdf",
		Category:    "report",
	}, strings.NewReader("pdf"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	if _, err := store.Stat(ctx, meta.ID); err != nil {
		t.Errorf("stat: %v", err)
	}
	if err := store.Delete(ctx, meta.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Stat(ctx, meta.ID); err != ErrFileNotFound {
		t.Errorf("stat after delete: got %v", err)
	}
	if err := store.Delete(ctx, meta.ID); err != ErrFileNotFound {
		t.Errorf("second delete: got %v", err)
	}
}

func TestOpenUnknownID(t *testing.T) {
	store := newTestStore(t)
	if _, _, err := store.Open(context.Background(), "6e1f1a9e-0000-4000-8000-000000000000"); err != ErrFileNotFound {
		t.Errorf("open unknown: got %v", err)
	}
}

func TestPathTraversalRejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"../etc/passwd", "..", "a/b", ""} {
		if _, err := store.Stat(ctx, id); err != ErrFileNotFound {
			t.Errorf("stat %q: got %v, want ErrFileNotFound", id, err)
		}
		if err := store.Delete(ctx, id); err != ErrFileNotFound {
			t.Errorf("delete %q: got %v, want ErrFileNotFound", id, err)
		}
	}
}

func TestListByOwner(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	save := func(owner, category, name string) {
		t.Helper()
		_, err := store.Save(ctx, FileMetadata{
			FileName:    name,
			ContentType: "image/png",
			OwnerID:     owner,
			Category:    category,
		}, strings.NewReader("x"))
		if err != nil {
			t.Fatalf("save %s: %v", name, err)
		}
	}
	save("doc-1", "profile-photo", "a.png")
	save("doc-1", "signature", "b.png")
	save("doc-2", "profile-photo", "c.png")

	all, err := store.ListByOwner(ctx, "doc-1", "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("owner files = %d, want 2", len(all))
	}

	photos, err := store.ListByOwner(ctx, "doc-1", "profile-photo")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(photos) != 1 || photos[0].FileName != "a.png" {
		t.Errorf("filtered = %+v", photos)
	}
}
