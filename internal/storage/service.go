// Package storage implements the file storage service: validated upload
// onto date-bucketed disk storage, byte-range streaming, deletion, and
// catalog-only bulk moves within the virtual tree.
package storage

import (
	"context"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"cirrus/internal/domain"
	"cirrus/pkg/config"
	"cirrus/pkg/errors"
	"cirrus/pkg/logger"
	"cirrus/pkg/validator"
)

// FileRepository is the file catalog access needed by the service.
type FileRepository interface {
	Create(ctx context.Context, file *domain.File) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.File, error)
	ListByFolder(ctx context.Context, ownerID uuid.UUID, folderID *uuid.UUID) ([]*domain.File, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*domain.File, error)
	UpdateFolder(ctx context.Context, id uuid.UUID, folderID *uuid.UUID) error
	UpdateName(ctx context.Context, id uuid.UUID, name string) error
	Delete(ctx context.Context, id uuid.UUID) (bool, error)
	Usage(ctx context.Context, ownerID uuid.UUID) (int64, int64, error)
}

// FolderResolver is the slice of the virtual folder service uploads and
// moves need: materializing a destination path and resolving one.
type FolderResolver interface {
	CreateFolderPath(ctx context.Context, ownerID uuid.UUID, fullPath string) (*domain.Folder, error)
	ResolvePath(ctx context.Context, ownerID uuid.UUID, path string) (*domain.Folder, error)
}

// Service implements the file storage operations.
type Service struct {
	files   FileRepository
	folders FolderResolver
	disk    *Disk
	cfg     config.StorageConfig
	logger  logger.Logger
}

func NewService(files FileRepository, folders FolderResolver, disk *Disk, cfg config.StorageConfig, log logger.Logger) *Service {
	return &Service{
		files:   files,
		folders: folders,
		disk:    disk,
		cfg:     cfg,
		logger:  log,
	}
}

// UploadRequest carries one inbound file. Reader is consumed at most
// MaxFileSize+1 bytes; the size on the resulting record is measured at
// write time, never taken from the client.
type UploadRequest struct {
	Reader            io.Reader
	OriginalFilename  string
	MimeType          string
	VirtualFolderPath string
}

// UploadResult pairs the created record with its stable download URL.
type UploadResult struct {
	File        *domain.File `json:"file"`
	DownloadURL string       `json:"download_url"`
}

// Upload runs the full pipeline: destination folder materialization, type
// validation, capped streaming write into the date bucket, then the
// catalog insert. The row is created only after the bytes are safely on
// disk, so a crash can orphan bytes but never a catalog row.
func (s *Service) Upload(ctx context.Context, ownerID uuid.UUID, req *UploadRequest) (*UploadResult, error) {
	name := sanitizeFilename(req.OriginalFilename)
	if !validator.IsValidSegment(name) {
		return nil, errors.Wrap(errors.ErrInvalidName, "invalid filename")
	}

	virtualPath := domain.NormalizePath(req.VirtualFolderPath)
	var folderID *uuid.UUID
	if virtualPath != domain.RootPath {
		dest, err := s.folders.CreateFolderPath(ctx, ownerID, virtualPath)
		if err != nil {
			return nil, err
		}
		folderID = &dest.ID
	}

	ext := strings.ToLower(filepath.Ext(name))
	mimeType := resolveMimeType(req.MimeType, ext)

	// The extension deny-list wins over the MIME allow-list: a blocked
	// extension is rejected even when its MIME type would be accepted.
	if s.extensionBlocked(ext) {
		return nil, errors.Wrap(errors.ErrFileTypeNotAllowed, "extension "+ext+" is blocked")
	}
	if !s.mimeAllowed(mimeType) {
		return nil, errors.Wrap(errors.ErrFileTypeNotAllowed, "mime type "+mimeType+" is not allowed")
	}

	now := time.Now().UTC()
	bucketDir, err := s.disk.BucketDir(now)
	if err != nil {
		return nil, errors.Wrap(err, "failed to prepare bucket")
	}

	physicalName := generateFilename(name, ext, now)
	physicalPath := filepath.Join(bucketDir, physicalName)

	size, err := s.writeCapped(req.Reader, physicalPath)
	if err != nil {
		return nil, err
	}

	file := &domain.File{
		ID:                uuid.New(),
		OwnerID:           ownerID,
		FolderID:          folderID,
		Filename:          physicalName,
		OriginalFilename:  name,
		Path:              physicalPath,
		Size:              size,
		MimeType:          mimeType,
		Bucket:            filepath.Base(bucketDir),
		VirtualFolderPath: virtualPath,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.files.Create(ctx, file); err != nil {
		// Roll the physical write back so a failed insert leaves nothing.
		if rmErr := s.disk.Remove(physicalPath); rmErr != nil {
			s.logger.Error("failed to remove file after catalog failure", map[string]interface{}{
				"path":  physicalPath,
				"error": rmErr.Error(),
			})
		}
		return nil, err
	}

	s.logger.Info("file uploaded", map[string]interface{}{
		"file_id":  file.ID.String(),
		"owner_id": ownerID.String(),
		"name":     name,
		"size":     size,
		"path":     virtualPath,
	})

	return &UploadResult{File: file, DownloadURL: downloadURL(file.ID)}, nil
}

// writeCapped streams the upload to disk, aborting as soon as the size
// cap is crossed; the partial file is removed before returning. The size
// check never waits for the full body of an oversized upload.
func (s *Service) writeCapped(r io.Reader, path string) (int64, error) {
	dst, err := s.disk.Create(path)
	if err != nil {
		return 0, errors.Wrap(err, "failed to create physical file")
	}

	written, err := io.Copy(dst, io.LimitReader(r, s.cfg.MaxFileSize+1))
	closeErr := dst.Close()

	switch {
	case err != nil:
		_ = os.Remove(path)
		return 0, errors.Wrap(err, "failed to write file")
	case closeErr != nil:
		_ = os.Remove(path)
		return 0, errors.Wrap(closeErr, "failed to write file")
	case written > s.cfg.MaxFileSize:
		_ = os.Remove(path)
		return 0, errors.ErrFileTooLarge
	}

	return written, nil
}

// UploadMany attempts every file independently. Successful uploads stay
// committed even when others fail; the returned error aggregates every
// failure by filename. This is deliberately not all-or-nothing.
func (s *Service) UploadMany(ctx context.Context, ownerID uuid.UUID, reqs []*UploadRequest) ([]*UploadResult, error) {
	var (
		results []*UploadResult
		failed  []error
	)
	for _, req := range reqs {
		res, err := s.Upload(ctx, ownerID, req)
		if err != nil {
			s.logger.Warn("upload failed", map[string]interface{}{
				"owner_id": ownerID.String(),
				"name":     req.OriginalFilename,
				"error":    err.Error(),
			})
			failed = append(failed, errors.Wrap(err, req.OriginalFilename))
			continue
		}
		results = append(results, res)
	}

	if len(failed) > 0 {
		return results, errors.Join(failed...)
	}
	return results, nil
}

// StreamResult describes an opened content stream and the response
// metadata that goes with it. Content must be closed by the caller.
type StreamResult struct {
	File          *domain.File
	Content       io.ReadCloser
	Status        int // 200 for full content, 206 for a partial range
	ContentLength int64
	ContentRange  string // empty unless Status is 206
}

// Stream opens the file's bytes, honoring an optional Range header value.
// Each call opens an independent descriptor; cancellation is the
// transport's concern (closing the connection closes the copy).
func (s *Service) Stream(ctx context.Context, caller domain.Caller, fileID uuid.UUID, rangeHeader string) (*StreamResult, error) {
	file, err := s.files.GetByID(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if !caller.CanAccess(file.OwnerID) {
		return nil, errors.ErrPermissionDenied
	}

	src, err := s.disk.Open(file.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(errors.ErrFileNotFound, "physical file missing")
		}
		return nil, errors.Wrap(err, "failed to open file")
	}

	info, err := src.Stat()
	if err != nil {
		src.Close()
		return nil, errors.Wrap(err, "failed to stat file")
	}
	size := info.Size()

	if rangeHeader == "" {
		return &StreamResult{
			File:          file,
			Content:       src,
			Status:        200,
			ContentLength: size,
		}, nil
	}

	rng, err := parseRange(rangeHeader, size)
	if err != nil {
		src.Close()
		return nil, &RangeNotSatisfiableError{Size: size, err: err}
	}

	if _, err := src.Seek(rng.start, io.SeekStart); err != nil {
		src.Close()
		return nil, errors.Wrap(err, "failed to seek")
	}

	return &StreamResult{
		File:          file,
		Content:       &sectionReader{Reader: io.LimitReader(src, rng.length()), file: src},
		Status:        206,
		ContentLength: rng.length(),
		ContentRange:  rng.contentRange(size),
	}, nil
}

// sectionReader bounds reads to the requested range while closing the
// underlying descriptor.
type sectionReader struct {
	io.Reader
	file *os.File
}

func (r *sectionReader) Close() error {
	return r.file.Close()
}

// Delete removes the catalog row and best-effort unlinks the bytes. A
// missing physical file is logged, not fatal; a missing row is NotFound.
func (s *Service) Delete(ctx context.Context, caller domain.Caller, fileID uuid.UUID) error {
	file, err := s.files.GetByID(ctx, fileID)
	if err != nil {
		return err
	}
	if !caller.CanAccess(file.OwnerID) {
		return errors.ErrPermissionDenied
	}

	existed, err := s.files.Delete(ctx, fileID)
	if err != nil {
		return err
	}
	if !existed {
		return errors.ErrFileNotFound
	}

	if s.disk.Exists(file.Path) {
		if err := s.disk.Remove(file.Path); err != nil {
			s.logger.Error("failed to unlink physical file", map[string]interface{}{
				"file_id": fileID.String(),
				"path":    file.Path,
				"error":   err.Error(),
			})
		}
	} else {
		s.logger.Warn("physical file already missing", map[string]interface{}{
			"file_id": fileID.String(),
			"path":    file.Path,
		})
	}

	s.logger.Info("file deleted", map[string]interface{}{
		"file_id":  fileID.String(),
		"owner_id": file.OwnerID.String(),
	})

	return nil
}

// MoveFiles reassigns each file's virtual folder. The destination is
// resolved once; per-file failures are logged and skipped rather than
// aborting the batch. No physical bytes move.
func (s *Service) MoveFiles(ctx context.Context, caller domain.Caller, fileIDs []uuid.UUID, destPath string) ([]*domain.File, error) {
	destPath = domain.NormalizePath(destPath)

	var destID *uuid.UUID
	if destPath != domain.RootPath {
		dest, err := s.folders.ResolvePath(ctx, caller.UserID, destPath)
		if err != nil {
			return nil, err
		}
		destID = &dest.ID
	}

	var moved []*domain.File
	for _, id := range fileIDs {
		file, err := s.files.GetByID(ctx, id)
		if err != nil {
			s.logger.Warn("skipping move of unknown file", map[string]interface{}{
				"file_id": id.String(),
				"error":   err.Error(),
			})
			continue
		}
		if !caller.CanAccess(file.OwnerID) {
			s.logger.Warn("skipping move of file not owned by caller", map[string]interface{}{
				"file_id":  id.String(),
				"owner_id": file.OwnerID.String(),
			})
			continue
		}

		if err := s.files.UpdateFolder(ctx, id, destID); err != nil {
			s.logger.Error("failed to move file", map[string]interface{}{
				"file_id": id.String(),
				"error":   err.Error(),
			})
			continue
		}

		file.FolderID = destID
		file.VirtualFolderPath = destPath
		moved = append(moved, file)
	}

	return moved, nil
}

// RenameFile changes only the display name.
func (s *Service) RenameFile(ctx context.Context, caller domain.Caller, fileID uuid.UUID, newName string) (*domain.File, error) {
	newName = sanitizeFilename(newName)
	if !validator.IsValidSegment(newName) {
		return nil, errors.Wrap(errors.ErrInvalidName, "invalid filename")
	}

	file, err := s.files.GetByID(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if !caller.CanAccess(file.OwnerID) {
		return nil, errors.ErrPermissionDenied
	}

	if err := s.files.UpdateName(ctx, fileID, newName); err != nil {
		return nil, err
	}
	file.OriginalFilename = newName

	return file, nil
}

// ListFiles returns the owner's files; with a non-nil path it lists only
// the files sitting directly at that virtual folder.
func (s *Service) ListFiles(ctx context.Context, ownerID uuid.UUID, path *string) ([]*domain.File, error) {
	if path == nil {
		return s.files.ListByOwner(ctx, ownerID)
	}

	p := domain.NormalizePath(*path)
	var folderID *uuid.UUID
	if p != domain.RootPath {
		folder, err := s.folders.ResolvePath(ctx, ownerID, p)
		if err != nil {
			return nil, err
		}
		folderID = &folder.ID
	}

	files, err := s.files.ListByFolder(ctx, ownerID, folderID)
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		f.VirtualFolderPath = p
	}
	return files, nil
}

// VirtualFolderExists reports whether path is the root or an existing
// owned folder.
func (s *Service) VirtualFolderExists(ctx context.Context, ownerID uuid.UUID, path string) (bool, error) {
	path = domain.NormalizePath(path)
	if path == domain.RootPath {
		return true, nil
	}
	_, err := s.folders.ResolvePath(ctx, ownerID, path)
	if errors.Is(err, errors.ErrFolderNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// StorageUsage summarizes an owner's catalog.
type StorageUsage struct {
	TotalFiles int64 `json:"total_files"`
	TotalBytes int64 `json:"total_bytes"`
}

func (s *Service) Usage(ctx context.Context, ownerID uuid.UUID) (*StorageUsage, error) {
	count, bytes, err := s.files.Usage(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return &StorageUsage{TotalFiles: count, TotalBytes: bytes}, nil
}

// UploadConfig is the client-facing view of the upload limits.
type UploadConfig struct {
	MaxFileSize           int64    `json:"maxFileSize"`
	AllowedFileTypes      []string `json:"allowedFileTypes"`
	BlockedFileExtensions []string `json:"blockedFileExtensions"`
}

func (s *Service) Config() *UploadConfig {
	return &UploadConfig{
		MaxFileSize:           s.cfg.MaxFileSize,
		AllowedFileTypes:      s.cfg.AllowedMimeTypes,
		BlockedFileExtensions: s.cfg.BlockedExtensions,
	}
}

func (s *Service) mimeAllowed(mimeType string) bool {
	if len(s.cfg.AllowedMimeTypes) == 0 {
		return true
	}
	for _, allowed := range s.cfg.AllowedMimeTypes {
		if allowed == "*/*" || strings.EqualFold(allowed, mimeType) {
			return true
		}
		if prefix, ok := strings.CutSuffix(allowed, "/*"); ok {
			if strings.HasPrefix(strings.ToLower(mimeType), strings.ToLower(prefix)+"/") {
				return true
			}
		}
	}
	return false
}

func (s *Service) extensionBlocked(ext string) bool {
	for _, blocked := range s.cfg.BlockedExtensions {
		if strings.EqualFold(blocked, ext) {
			return true
		}
	}
	return false
}

func resolveMimeType(declared, ext string) string {
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	if byExt := mime.TypeByExtension(ext); byExt != "" {
		// TypeByExtension may append a charset parameter.
		if mt, _, err := mime.ParseMediaType(byExt); err == nil {
			return mt
		}
		return byExt
	}
	if declared != "" {
		return declared
	}
	return "application/octet-stream"
}

// maxFilenameBytes bounds stored display names; most filesystems cap
// name components at 255 bytes.
const maxFilenameBytes = 255

// sanitizeFilename strips any path components from a client-supplied name
// and shortens overlong names without splitting a UTF-8 rune. An extension
// that alone exceeds the cap is treated as part of the base name.
func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	if len(name) > maxFilenameBytes {
		ext := filepath.Ext(name)
		if len(ext) >= maxFilenameBytes {
			ext = ""
		}
		base := strings.TrimSuffix(name, ext)
		name = truncateBytes(base, maxFilenameBytes-len(ext)) + ext
	}
	return name
}

// truncateBytes shortens s to at most n bytes on a rune boundary.
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// generateFilename builds the collision-resistant physical name:
// base, upload timestamp, random suffix, original extension.
func generateFilename(name, ext string, now time.Time) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	suffix := "_" + now.Format("20060102150405") + "_" + uuid.NewString()[:8]
	if len(suffix)+len(ext) < maxFilenameBytes {
		suffix += ext
	}
	// The physical name must fit the filesystem's 255-byte component limit
	// even after the timestamp and random suffix are appended.
	if n := maxFilenameBytes - len(suffix); len(base) > n {
		base = truncateBytes(base, n)
	}
	return base + suffix
}

func downloadURL(id uuid.UUID) string {
	return "/api/v1/files/" + id.String() + "/download"
}
