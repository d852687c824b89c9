// Package blobstore stores uploaded clinic files: profile photos, doctor
// signatures, certificates, prescription scans, patient report documents,
// and report videos. Content lives on disk under a configured root with a
// JSON metadata sidecar per file.
package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

var (
	ErrFileNotFound       = errors.New("file not found")
	ErrFileTooLarge       = errors.New("file exceeds maximum allowed size")
	ErrInvalidContentType = errors.New("content type is not allowed")
	ErrMissingFileName    = errors.New("file name is required")
)

// MaxFileSize is the maximum allowed upload size in bytes (200 MB, large
// enough for report videos).
const MaxFileSize = 200 * 1024 * 1024

// AllowedCategories lists valid upload category values.
var AllowedCategories = map[string]bool{
	"profile-photo": true,
	"signature":     true,
	"certificate":   true,
	"prescription":  true,
	"report":        true,
	"video":         true,
	"other":         true,
}

// AllowedContentTypes lists the MIME types the clinic accepts.
var AllowedContentTypes = map[string]bool{
	"image/png":       true,
	"image/jpeg":      true,
	"image/webp":      true,
	"application/pdf": true,
	"video/mp4":       true,
	"video/webm":      true,
}

// FileMetadata describes a stored file.
type FileMetadata struct {
	ID          string    `json:"id"`
	FileName    string    `json:"fileName"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	OwnerID     string    `json:"ownerId,omitempty"`
	Category    string    `json:"category"`
	Hash        string    `json:"hash"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Store is the contract for upload storage backends. Open returns a
// seekable reader so video files can be served with HTTP range support.
type Store interface {
	Save(ctx context.Context, meta FileMetadata, content io.Reader) (*FileMetadata, error)
	Open(ctx context.Context, id string) (io.ReadSeekCloser, *FileMetadata, error)
	Stat(ctx context.Context, id string) (*FileMetadata, error)
	Delete(ctx context.Context, id string) error
	ListByOwner(ctx context.Context, ownerID, category string) ([]*FileMetadata, error)
}

// DiskStore keeps content and metadata under root; each file is stored as
// <id> with a <id>.json sidecar.
type DiskStore struct {
	root string
}

// NewDiskStore creates the root directory if needed.
func NewDiskStore(root string) (*DiskStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &DiskStore{root: root}, nil
}

func (s *DiskStore) contentPath(id string) string {
	return filepath.Join(s.root, id)
}

func (s *DiskStore) metaPath(id string) string {
	return filepath.Join(s.root, id+".json")
}

// Save validates the upload, streams it to disk computing a SHA-256 hash on
// the way, and writes the metadata sidecar.
func (s *DiskStore) Save(_ context.Context, meta FileMetadata, content io.Reader) (*FileMetadata, error) {
	if meta.FileName == "" {
		return nil, ErrMissingFileName
	}
	if meta.ContentType != "" && !AllowedContentTypes[meta.ContentType] {
		return nil, ErrInvalidContentType
	}
	if meta.Category == "" || !AllowedCategories[meta.Category] {
		meta.Category = "other"
	}

	meta.ID = uuid.New().String()
	meta.CreatedAt = time.Now().UTC()

	dst, err := os.OpenFile(s.contentPath(meta.ID), os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create upload file: %w", err)
	}

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(dst, h), io.LimitReader(content, MaxFileSize+1))
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(s.contentPath(meta.ID))
		return nil, fmt.Errorf("write upload: %w", err)
	}
	if n > MaxFileSize {
		os.Remove(s.contentPath(meta.ID))
		return nil, ErrFileTooLarge
	}

	meta.Size = n
	meta.Hash = fmt.Sprintf("%x", h.Sum(nil))

	raw, err := json.Marshal(meta)
	if err != nil {
		os.Remove(s.contentPath(meta.ID))
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	if err := os.WriteFile(s.metaPath(meta.ID), raw, 0o644); err != nil {
		os.Remove(s.contentPath(meta.ID))
		return nil, fmt.Errorf("write metadata: %w", err)
	}

	out := meta
	return &out, nil
}

// Open returns the file content as a seekable reader plus its metadata.
func (s *DiskStore) Open(ctx context.Context, id string) (io.ReadSeekCloser, *FileMetadata, error) {
	meta, err := s.Stat(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(s.contentPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, ErrFileNotFound
		}
		return nil, nil, fmt.Errorf("open upload: %w", err)
	}
	return f, meta, nil
}

// Stat returns metadata without opening the content.
func (s *DiskStore) Stat(_ context.Context, id string) (*FileMetadata, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(s.metaPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	var meta FileMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return &meta, nil
}

// Delete removes content and sidecar.
func (s *DiskStore) Delete(_ context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	if err := os.Remove(s.metaPath(id)); err != nil {
		if os.IsNotExist(err) {
			return ErrFileNotFound
		}
		return fmt.Errorf("remove metadata: %w", err)
	}
	if err := os.Remove(s.contentPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove upload: %w", err)
	}
	return nil
}

// ListByOwner scans the sidecars for files belonging to ownerID, optionally
// filtered by category.
func (s *DiskStore) ListByOwner(_ context.Context, ownerID, category string) ([]*FileMetadata, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read upload dir: %w", err)
	}
	var out []*FileMetadata
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(s.root, e.Name()))
		if err != nil {
			continue
		}
		var meta FileMetadata
		if err := json.Unmarshal(raw, &meta); err != nil {
			continue
		}
		if meta.OwnerID != ownerID {
			continue
		}
		if category != "" && meta.Category != category {
			continue
		}
		m := meta
		out = append(out, &m)
	}
	return out, nil
}

// validateID rejects ids that could escape the root directory. Stored ids
// are always UUIDs, so anything that fails to parse is hostile input.
func validateID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrFileNotFound
	}
	return nil
}
