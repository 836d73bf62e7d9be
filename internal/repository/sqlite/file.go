package sqlite

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"cirrus/internal/domain"
	"cirrus/pkg/errors"
)

// FileRepository is the file catalog. Each row pairs a physical path on
// disk with a position in the owner's virtual tree.
type FileRepository struct {
	db *sqlx.DB
}

func NewFileRepository(db *sqlx.DB) *FileRepository {
	return &FileRepository{db: db}
}

func (r *FileRepository) Create(ctx context.Context, file *domain.File) error {
	query := `
		INSERT INTO files (id, owner_id, folder_id, filename, original_filename, path, size, mime_type, bucket, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		file.ID, file.OwnerID, file.FolderID, file.Filename, file.OriginalFilename,
		file.Path, file.Size, file.MimeType, file.Bucket, file.CreatedAt, file.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create file record")
	}

	return nil
}

// GetByID returns a file with its virtual folder path materialized.
func (r *FileRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.File, error) {
	query := `
		SELECT id, owner_id, folder_id, filename, original_filename, path, size, mime_type, bucket, created_at, updated_at
		  FROM files WHERE id = ?`

	var file domain.File
	if err := r.db.GetContext(ctx, &file, query, id); err != nil {
		if isNoRows(err) {
			return nil, errors.ErrFileNotFound
		}
		return nil, errors.Wrap(err, "failed to get file")
	}

	path, err := folderPathByID(ctx, r.db, file.FolderID)
	if err != nil {
		return nil, err
	}
	file.VirtualFolderPath = path

	return &file, nil
}

// ListByFolder returns the files sitting directly in folderID (nil for
// the root), ordered by display name.
func (r *FileRepository) ListByFolder(ctx context.Context, ownerID uuid.UUID, folderID *uuid.UUID) ([]*domain.File, error) {
	query := `
		SELECT id, owner_id, folder_id, filename, original_filename, path, size, mime_type, bucket, created_at, updated_at
		  FROM files
		 WHERE owner_id = ? AND folder_id IS ?
		 ORDER BY original_filename`

	var files []*domain.File
	if err := r.db.SelectContext(ctx, &files, query, ownerID, folderID); err != nil {
		return nil, errors.Wrap(err, "failed to list files")
	}

	return files, nil
}

// ListByOwner returns every file the owner has, virtual paths included.
func (r *FileRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*domain.File, error) {
	query := folderTreeCTE + `
		SELECT f.id, f.owner_id, f.folder_id, f.filename, f.original_filename, f.path,
		       f.size, f.mime_type, f.bucket, f.created_at, f.updated_at,
		       COALESCE(t.path, '/') AS virtual_folder_path
		  FROM files f
		  LEFT JOIN tree t ON f.folder_id = t.id
		 WHERE f.owner_id = ?
		 ORDER BY virtual_folder_path, f.original_filename`

	var files []*domain.File
	if err := r.db.SelectContext(ctx, &files, query, ownerID, ownerID); err != nil {
		return nil, errors.Wrap(err, "failed to list files")
	}

	return files, nil
}

// CountByFolder counts files sitting directly in folderID.
func (r *FileRepository) CountByFolder(ctx context.Context, ownerID uuid.UUID, folderID *uuid.UUID) (int64, error) {
	var count int64
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM files WHERE owner_id = ? AND folder_id IS ?`, ownerID, folderID)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count files")
	}
	return count, nil
}

// UpdateFolder reassigns a file to another virtual folder. Physical bytes
// never move.
func (r *FileRepository) UpdateFolder(ctx context.Context, id uuid.UUID, folderID *uuid.UUID) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE files SET folder_id = ?, updated_at = ? WHERE id = ?`,
		folderID, time.Now().UTC(), id)
	if err != nil {
		return errors.Wrap(err, "failed to move file")
	}

	if n, _ := result.RowsAffected(); n == 0 {
		return errors.ErrFileNotFound
	}

	return nil
}

// UpdateName changes the display name only; the physical filename is
// immutable once written.
func (r *FileRepository) UpdateName(ctx context.Context, id uuid.UUID, name string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE files SET original_filename = ?, updated_at = ? WHERE id = ?`,
		name, time.Now().UTC(), id)
	if err != nil {
		return errors.Wrap(err, "failed to rename file")
	}

	if n, _ := result.RowsAffected(); n == 0 {
		return errors.ErrFileNotFound
	}

	return nil
}

// Delete removes the catalog row. It reports whether a row existed.
func (r *FileRepository) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, id)
	if err != nil {
		return false, errors.Wrap(err, "failed to delete file record")
	}

	n, _ := result.RowsAffected()
	return n > 0, nil
}

// Usage totals the owner's catalog: file count and byte sum as measured
// at write time.
func (r *FileRepository) Usage(ctx context.Context, ownerID uuid.UUID) (int64, int64, error) {
	var usage struct {
		Count int64 `db:"count"`
		Bytes int64 `db:"bytes"`
	}
	err := r.db.GetContext(ctx, &usage,
		`SELECT COUNT(*) AS count, COALESCE(SUM(size), 0) AS bytes FROM files WHERE owner_id = ?`, ownerID)
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to read storage usage")
	}
	return usage.Count, usage.Bytes, nil
}
