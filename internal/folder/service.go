// Package folder implements the virtual folder service: business rules
// over the folder catalog. Folders are catalog rows only; nothing here
// touches the disk except the recursive delete, which unlinks the
// physical files of the removed catalog rows.
package folder

import (
	"context"
	"time"

	"github.com/google/uuid"

	"cirrus/internal/domain"
	"cirrus/pkg/errors"
	"cirrus/pkg/logger"
	"cirrus/pkg/validator"
)

// FolderRepository is the folder catalog access needed by the service.
type FolderRepository interface {
	Create(ctx context.Context, folder *domain.Folder) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Folder, error)
	GetChild(ctx context.Context, ownerID uuid.UUID, parentID *uuid.UUID, name string) (*domain.Folder, error)
	ListChildren(ctx context.Context, ownerID uuid.UUID, parentID *uuid.UUID) ([]*domain.Folder, error)
	ListAll(ctx context.Context, ownerID uuid.UUID) ([]*domain.Folder, error)
	SubtreeIDs(ctx context.Context, rootID uuid.UUID) ([]uuid.UUID, error)
	Update(ctx context.Context, folder *domain.Folder) error
	Delete(ctx context.Context, id uuid.UUID) error
	CountChildren(ctx context.Context, id uuid.UUID) (int64, error)
	DeleteSubtree(ctx context.Context, rootID uuid.UUID) (int, []*domain.File, error)
}

// FileCatalog is the slice of the file catalog the folder service uses:
// just enough to list folder contents and guard deletion.
type FileCatalog interface {
	ListByFolder(ctx context.Context, ownerID uuid.UUID, folderID *uuid.UUID) ([]*domain.File, error)
	CountByFolder(ctx context.Context, ownerID uuid.UUID, folderID *uuid.UUID) (int64, error)
}

// PhysicalRemover unlinks file bytes from disk.
type PhysicalRemover interface {
	Remove(path string) error
	Exists(path string) bool
}

// Service implements the virtual folder operations.
type Service struct {
	folders FolderRepository
	files   FileCatalog
	disk    PhysicalRemover
	logger  logger.Logger
}

func NewService(folders FolderRepository, files FileCatalog, disk PhysicalRemover, log logger.Logger) *Service {
	return &Service{
		folders: folders,
		files:   files,
		disk:    disk,
		logger:  log,
	}
}

// Contents is a directory listing: direct child folders plus the files
// sitting directly at the path.
type Contents struct {
	Path    string           `json:"path"`
	Folders []*domain.Folder `json:"folders"`
	Files   []*domain.File   `json:"files"`
}

// CreateFolder creates a single folder under parentPath. It does not
// create missing ancestors; use CreateFolderPath for that.
func (s *Service) CreateFolder(ctx context.Context, ownerID uuid.UUID, name, parentPath string) (*domain.Folder, error) {
	if !validator.IsValidSegment(name) {
		return nil, errors.Wrap(errors.ErrInvalidName, "folder name must be a single non-empty path segment")
	}

	parentPath = domain.NormalizePath(parentPath)
	parent, err := s.ResolvePath(ctx, ownerID, parentPath)
	if err != nil {
		if errors.Is(err, errors.ErrFolderNotFound) {
			return nil, errors.Wrap(errors.ErrParentNotFound, parentPath)
		}
		return nil, err
	}

	var parentID *uuid.UUID
	if parent != nil {
		parentID = &parent.ID
	}

	if _, err := s.folders.GetChild(ctx, ownerID, parentID, name); err == nil {
		return nil, errors.ErrFolderExists
	}

	now := time.Now().UTC()
	created := &domain.Folder{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		ParentID:  parentID,
		Name:      name,
		Path:      domain.JoinPath(parentPath, name),
		CreatedAt: now,
		UpdatedAt: now,
	}

	// The unique index is the backstop for concurrent creators that both
	// passed the existence check above.
	if err := s.folders.Create(ctx, created); err != nil {
		return nil, err
	}

	s.logger.Info("folder created", map[string]interface{}{
		"folder_id": created.ID.String(),
		"owner_id":  ownerID.String(),
		"path":      created.Path,
	})

	return created, nil
}

// CreateFolderPath materializes every missing segment of fullPath and
// returns the deepest folder. Existing segments are reused, so calling it
// twice creates nothing new. The root path resolves to nil.
func (s *Service) CreateFolderPath(ctx context.Context, ownerID uuid.UUID, fullPath string) (*domain.Folder, error) {
	fullPath = domain.NormalizePath(fullPath)
	if !validator.IsValidVirtualPath(fullPath) {
		return nil, errors.Wrap(errors.ErrInvalidPath, fullPath)
	}
	if fullPath == domain.RootPath {
		return nil, nil
	}

	var (
		current  *domain.Folder
		parentID *uuid.UUID
		walked   = domain.RootPath
	)
	for _, segment := range domain.SplitPath(fullPath) {
		child, err := s.folders.GetChild(ctx, ownerID, parentID, segment)
		switch {
		case err == nil:
			// reuse
		case errors.Is(err, errors.ErrFolderNotFound):
			child, err = s.createSegment(ctx, ownerID, parentID, segment)
			if err != nil {
				return nil, err
			}
		default:
			return nil, err
		}

		walked = domain.JoinPath(walked, segment)
		child.Path = walked
		current = child
		parentID = &child.ID
	}

	return current, nil
}

func (s *Service) createSegment(ctx context.Context, ownerID uuid.UUID, parentID *uuid.UUID, name string) (*domain.Folder, error) {
	now := time.Now().UTC()
	created := &domain.Folder{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		ParentID:  parentID,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.folders.Create(ctx, created)
	if errors.Is(err, errors.ErrFolderExists) {
		// Lost a race with a concurrent creator; use theirs.
		return s.folders.GetChild(ctx, ownerID, parentID, name)
	}
	if err != nil {
		return nil, err
	}
	return created, nil
}

// ResolvePath walks a virtual path segment by segment. It returns nil for
// the implicit root and ErrFolderNotFound for a missing segment.
func (s *Service) ResolvePath(ctx context.Context, ownerID uuid.UUID, path string) (*domain.Folder, error) {
	path = domain.NormalizePath(path)
	if path == domain.RootPath {
		return nil, nil
	}

	var (
		current  *domain.Folder
		parentID *uuid.UUID
		walked   = domain.RootPath
	)
	for _, segment := range domain.SplitPath(path) {
		child, err := s.folders.GetChild(ctx, ownerID, parentID, segment)
		if err != nil {
			return nil, err
		}
		walked = domain.JoinPath(walked, segment)
		child.Path = walked
		current = child
		parentID = &child.ID
	}

	return current, nil
}

// Exists reports whether path resolves to an owned folder. The root
// always exists.
func (s *Service) Exists(ctx context.Context, ownerID uuid.UUID, path string) (bool, error) {
	_, err := s.ResolvePath(ctx, ownerID, path)
	if errors.Is(err, errors.ErrFolderNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetFolderContents lists the direct children of path: subfolders and the
// files located exactly there.
func (s *Service) GetFolderContents(ctx context.Context, ownerID uuid.UUID, path string) (*Contents, error) {
	path = domain.NormalizePath(path)
	parent, err := s.ResolvePath(ctx, ownerID, path)
	if err != nil {
		return nil, err
	}

	var parentID *uuid.UUID
	if parent != nil {
		parentID = &parent.ID
	}

	folders, err := s.folders.ListChildren(ctx, ownerID, parentID)
	if err != nil {
		return nil, err
	}
	for _, f := range folders {
		f.Path = domain.JoinPath(path, f.Name)
	}

	files, err := s.files.ListByFolder(ctx, ownerID, parentID)
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		f.VirtualFolderPath = path
	}

	return &Contents{Path: path, Folders: folders, Files: files}, nil
}

// GetPathHierarchy returns all owned folders ordered shallowest-first so
// callers can rebuild the tree top-down in one pass.
func (s *Service) GetPathHierarchy(ctx context.Context, ownerID uuid.UUID) ([]*domain.Folder, error) {
	return s.folders.ListAll(ctx, ownerID)
}

// RenameFolder changes a folder's leaf name in place.
func (s *Service) RenameFolder(ctx context.Context, caller domain.Caller, id uuid.UUID, newName string) (*domain.Folder, error) {
	if !validator.IsValidSegment(newName) {
		return nil, errors.Wrap(errors.ErrInvalidName, "folder name must be a single non-empty path segment")
	}

	current, err := s.folders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !caller.CanAccess(current.OwnerID) {
		return nil, errors.ErrPermissionDenied
	}
	if current.Name == newName {
		return current, nil
	}

	if _, err := s.folders.GetChild(ctx, current.OwnerID, current.ParentID, newName); err == nil {
		return nil, errors.ErrFolderExists
	}

	parentPath := current.ParentPath()
	current.Name = newName
	if err := s.folders.Update(ctx, current); err != nil {
		return nil, err
	}
	current.Path = domain.JoinPath(parentPath, newName)

	return current, nil
}

// MoveFolder reparents a folder (and, because paths are derived from the
// adjacency list, its entire subtree) under newParentPath. Moving a
// folder into itself or one of its descendants is rejected.
func (s *Service) MoveFolder(ctx context.Context, caller domain.Caller, id uuid.UUID, newParentPath string) (*domain.Folder, error) {
	current, err := s.folders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !caller.CanAccess(current.OwnerID) {
		return nil, errors.ErrPermissionDenied
	}

	newParentPath = domain.NormalizePath(newParentPath)
	parent, err := s.ResolvePath(ctx, current.OwnerID, newParentPath)
	if err != nil {
		if errors.Is(err, errors.ErrFolderNotFound) {
			return nil, errors.Wrap(errors.ErrParentNotFound, newParentPath)
		}
		return nil, err
	}

	var parentID *uuid.UUID
	if parent != nil {
		parentID = &parent.ID

		subtree, err := s.folders.SubtreeIDs(ctx, current.ID)
		if err != nil {
			return nil, err
		}
		for _, sid := range subtree {
			if sid == parent.ID {
				return nil, errors.ErrFolderCycle
			}
		}
	}

	if existing, err := s.folders.GetChild(ctx, current.OwnerID, parentID, current.Name); err == nil && existing.ID != current.ID {
		return nil, errors.ErrFolderExists
	}

	current.ParentID = parentID
	if err := s.folders.Update(ctx, current); err != nil {
		return nil, err
	}
	current.Path = domain.JoinPath(newParentPath, current.Name)

	s.logger.Info("folder moved", map[string]interface{}{
		"folder_id": current.ID.String(),
		"path":      current.Path,
	})

	return current, nil
}

// DeleteFolder is the shallow, guarded delete: it refuses while the
// folder still has subfolders or files.
func (s *Service) DeleteFolder(ctx context.Context, caller domain.Caller, id uuid.UUID) error {
	current, err := s.folders.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !caller.CanAccess(current.OwnerID) {
		return errors.ErrPermissionDenied
	}

	childFolders, err := s.folders.CountChildren(ctx, id)
	if err != nil {
		return err
	}
	if childFolders > 0 {
		return errors.Wrap(errors.ErrFolderNotEmpty, "folder has subfolders")
	}

	childFiles, err := s.files.CountByFolder(ctx, current.OwnerID, &id)
	if err != nil {
		return err
	}
	if childFiles > 0 {
		return errors.Wrap(errors.ErrFolderNotEmpty, "folder has files")
	}

	return s.folders.Delete(ctx, id)
}

// DeleteFolderRecursive removes the folder at path together with every
// descendant folder and file. The catalog rows go in one transaction;
// the physical unlinks run afterwards and tolerate missing files.
func (s *Service) DeleteFolderRecursive(ctx context.Context, caller domain.Caller, path string) (foldersDeleted int, filesDeleted int, err error) {
	path = domain.NormalizePath(path)
	if path == domain.RootPath {
		return 0, 0, errors.Wrap(errors.ErrInvalidPath, "the root folder cannot be deleted")
	}

	target, err := s.ResolvePath(ctx, caller.UserID, path)
	if err != nil {
		return 0, 0, err
	}
	if !caller.CanAccess(target.OwnerID) {
		return 0, 0, errors.ErrPermissionDenied
	}

	foldersDeleted, files, err := s.folders.DeleteSubtree(ctx, target.ID)
	if err != nil {
		return 0, 0, err
	}

	for _, f := range files {
		if !s.disk.Exists(f.Path) {
			s.logger.Warn("physical file already missing", map[string]interface{}{
				"file_id": f.ID.String(),
				"path":    f.Path,
			})
			continue
		}
		if err := s.disk.Remove(f.Path); err != nil {
			s.logger.Error("failed to unlink physical file", map[string]interface{}{
				"file_id": f.ID.String(),
				"path":    f.Path,
				"error":   err.Error(),
			})
		}
	}

	s.logger.Info("folder deleted recursively", map[string]interface{}{
		"owner_id": caller.UserID.String(),
		"path":     path,
		"folders":  foldersDeleted,
		"files":    len(files),
	})

	return foldersDeleted, len(files), nil
}
