// Package attachments owns the on-disk attachment pipeline: the
// content-addressed blob store with JSON sidecars, the chunked downloader
// and the chunked upload reader.
package attachments

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/conduitmsg/conduit/internal/config"
	"github.com/conduitmsg/conduit/internal/platform"
	"github.com/conduitmsg/conduit/pkg/models"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// Store lays blobs out as <storage>/<type>/<id>/<filename> with an
// <id>.json sidecar holding the metadata. Blobs are written once and deleted
// only when the attachment cache evicts an unreferenced entry.
type Store struct {
	log *slog.Logger
	cfg config.AttachmentsConfig
}

// NewStore creates the store and its base directory.
func NewStore(log *slog.Logger, cfg config.AttachmentsConfig) (*Store, error) {
	if err := os.MkdirAll(cfg.StorageDir, 0o755); err != nil {
		return nil, platform.ErrIO("creating attachment storage", err)
	}
	return &Store{log: log, cfg: cfg}, nil
}

// MaxFileSize returns the size gate in bytes.
func (s *Store) MaxFileSize() int64 {
	return int64(s.cfg.MaxFileSizeMB) << 20
}

// LargeFileThreshold returns the size above which downloads stream through a
// .partial file.
func (s *Store) LargeFileThreshold() int64 {
	return int64(s.cfg.LargeFileThresholdMB) << 20
}

// Dir returns the blob directory for an attachment.
func (s *Store) Dir(info *models.AttachmentInfo) string {
	return filepath.Join(s.cfg.StorageDir, string(info.AttachmentType), info.AttachmentID)
}

// BlobPath returns the final on-disk path for an attachment's content.
func (s *Store) BlobPath(info *models.AttachmentInfo) string {
	filename := info.Filename
	if filename == "" {
		filename = info.AttachmentID
		if info.FileExtension != "" {
			filename += "." + strings.TrimPrefix(info.FileExtension, ".")
		}
	}
	return filepath.Join(s.Dir(info), filename)
}

func (s *Store) sidecarPath(info *models.AttachmentInfo) string {
	return filepath.Join(s.Dir(info), info.AttachmentID+".json")
}

// Admit checks the size gate before any bytes move.
func (s *Store) Admit(size int64) error {
	if max := s.MaxFileSize(); size > max {
		return platform.ErrInvalidRequest(
			fmt.Sprintf("attachment of %d bytes exceeds the %d byte limit", size, max), nil)
	}
	return nil
}

// Put writes content and sidecar for an attachment and fills in FilePath,
// Size and AttachmentType.
func (s *Store) Put(info *models.AttachmentInfo, content []byte) error {
	if err := s.Admit(int64(len(content))); err != nil {
		return err
	}
	if info.AttachmentType == "" {
		info.AttachmentType = models.AttachmentTypeForFilename(info.Filename)
	}
	if err := os.MkdirAll(s.Dir(info), 0o755); err != nil {
		return platform.ErrIO("creating attachment directory", err)
	}
	path := s.BlobPath(info)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return platform.ErrIO("writing attachment blob", err)
	}
	info.FilePath = path
	info.Size = int64(len(content))
	return s.WriteSidecar(info)
}

// WriteSidecar persists the attachment metadata next to the blob.
func (s *Store) WriteSidecar(info *models.AttachmentInfo) error {
	data, err := jsonAPI.MarshalIndent(info, "", "  ")
	if err != nil {
		return platform.ErrInternal("encoding attachment sidecar", err)
	}
	if err := os.WriteFile(s.sidecarPath(info), data, 0o644); err != nil {
		return platform.ErrIO("writing attachment sidecar", err)
	}
	return nil
}

// Load reads an attachment's metadata back from its sidecar.
func (s *Store) Load(attachmentType models.AttachmentType, attachmentID string) (*models.AttachmentInfo, error) {
	path := filepath.Join(s.cfg.StorageDir, string(attachmentType), attachmentID, attachmentID+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, platform.ErrNotFound("attachment "+attachmentID, err)
		}
		return nil, platform.ErrIO("reading attachment sidecar", err)
	}
	var info models.AttachmentInfo
	if err := jsonAPI.Unmarshal(data, &info); err != nil {
		return nil, platform.ErrIO("decoding attachment sidecar", err)
	}
	return &info, nil
}

// Open returns the blob content.
func (s *Store) Open(info *models.AttachmentInfo) ([]byte, error) {
	path := info.FilePath
	if path == "" {
		path = s.BlobPath(info)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, platform.ErrNotFound("attachment blob "+info.AttachmentID, err)
		}
		return nil, platform.ErrIO("reading attachment blob", err)
	}
	return data, nil
}

// Remove deletes an attachment's directory: blob, sidecar and any stale
// partial file.
func (s *Store) Remove(info *models.AttachmentInfo) {
	if info == nil || info.AttachmentID == "" {
		return
	}
	if err := os.RemoveAll(s.Dir(info)); err != nil {
		s.log.Warn("failed to remove attachment blob",
			"attachment_id", info.AttachmentID, "error", err)
	}
}

// OnEvict is the attachment cache eviction hook: blobs with no remaining
// message references are deleted with their metadata.
func (s *Store) OnEvict(info *models.AttachmentInfo) {
	if info.RefCount > 0 {
		s.log.Debug("evicted attachment still referenced, keeping blob",
			"attachment_id", info.AttachmentID, "ref_count", info.RefCount)
		return
	}
	s.Remove(info)
}
