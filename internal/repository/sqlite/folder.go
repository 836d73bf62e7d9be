package sqlite

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"cirrus/internal/domain"
	"cirrus/pkg/errors"
)

// FolderRepository is the folder catalog. No physical directories back
// these rows; the hierarchy lives entirely in the parent_id column.
type FolderRepository struct {
	db *sqlx.DB
}

func NewFolderRepository(db *sqlx.DB) *FolderRepository {
	return &FolderRepository{db: db}
}

// Create inserts a folder row. The unique index on (owner, parent, name)
// is the real duplicate guard; concurrent creators race to it and the
// loser surfaces ErrFolderExists.
func (r *FolderRepository) Create(ctx context.Context, folder *domain.Folder) error {
	query := `
		INSERT INTO folders (id, owner_id, parent_id, name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		folder.ID, folder.OwnerID, folder.ParentID, folder.Name,
		folder.CreatedAt, folder.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.ErrFolderExists
		}
		return errors.Wrap(err, "failed to create folder")
	}

	return nil
}

// GetByID returns a folder with its display path materialized.
func (r *FolderRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Folder, error) {
	return folderWithPath(ctx, r.db, id)
}

// GetChild looks up a direct child by name. A nil parentID addresses the
// implicit root. The returned folder has no path set; callers that know
// the parent path derive it.
func (r *FolderRepository) GetChild(ctx context.Context, ownerID uuid.UUID, parentID *uuid.UUID, name string) (*domain.Folder, error) {
	query := `
		SELECT id, owner_id, parent_id, name, created_at, updated_at
		  FROM folders
		 WHERE owner_id = ? AND name = ? AND parent_id IS ?`

	var folder domain.Folder
	err := r.db.GetContext(ctx, &folder, query, ownerID, name, parentID)
	if err != nil {
		if isNoRows(err) {
			return nil, errors.ErrFolderNotFound
		}
		return nil, errors.Wrap(err, "failed to get folder")
	}

	return &folder, nil
}

// ListChildren returns the direct child folders of parentID (nil for the
// root), ordered by name.
func (r *FolderRepository) ListChildren(ctx context.Context, ownerID uuid.UUID, parentID *uuid.UUID) ([]*domain.Folder, error) {
	query := `
		SELECT id, owner_id, parent_id, name, created_at, updated_at
		  FROM folders
		 WHERE owner_id = ? AND parent_id IS ?
		 ORDER BY name`

	var folders []*domain.Folder
	if err := r.db.SelectContext(ctx, &folders, query, ownerID, parentID); err != nil {
		return nil, errors.Wrap(err, "failed to list folders")
	}

	return folders, nil
}

// ListAll returns every folder the owner has, shallowest first, with
// paths and depths materialized.
func (r *FolderRepository) ListAll(ctx context.Context, ownerID uuid.UUID) ([]*domain.Folder, error) {
	query := folderTreeCTE + `
		SELECT id, owner_id, parent_id, name, path, depth, created_at, updated_at
		  FROM tree
		 ORDER BY depth, path`

	var folders []*domain.Folder
	if err := r.db.SelectContext(ctx, &folders, query, ownerID); err != nil {
		return nil, errors.Wrap(err, "failed to list folder hierarchy")
	}

	return folders, nil
}

// SubtreeIDs returns the ids of rootID and all its descendants, deepest
// first, so callers can delete children before parents.
func (r *FolderRepository) SubtreeIDs(ctx context.Context, rootID uuid.UUID) ([]uuid.UUID, error) {
	return subtreeIDs(ctx, r.db, rootID)
}

func subtreeIDs(ctx context.Context, db sqlx.QueryerContext, rootID uuid.UUID) ([]uuid.UUID, error) {
	query := `
		WITH RECURSIVE sub(id, depth) AS (
			SELECT id, 0 FROM folders WHERE id = ?
			UNION ALL
			SELECT f.id, s.depth + 1
			  FROM folders f
			  JOIN sub s ON f.parent_id = s.id
		)
		SELECT id FROM sub ORDER BY depth DESC`

	rows, err := db.QueryxContext(ctx, query, rootID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to walk subtree")
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "failed to scan subtree id")
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// Update persists a rename or reparent. Destination collisions hit the
// unique index and surface as ErrFolderExists.
func (r *FolderRepository) Update(ctx context.Context, folder *domain.Folder) error {
	query := `
		UPDATE folders
		   SET parent_id = ?, name = ?, updated_at = ?
		 WHERE id = ?`

	folder.UpdatedAt = time.Now().UTC()
	result, err := r.db.ExecContext(ctx, query,
		folder.ParentID, folder.Name, folder.UpdatedAt, folder.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.ErrFolderExists
		}
		return errors.Wrap(err, "failed to update folder")
	}

	if n, _ := result.RowsAffected(); n == 0 {
		return errors.ErrFolderNotFound
	}

	return nil
}

// Delete removes a single folder row. The caller is responsible for the
// child-emptiness guard.
func (r *FolderRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM folders WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(err, "failed to delete folder")
	}

	if n, _ := result.RowsAffected(); n == 0 {
		return errors.ErrFolderNotFound
	}

	return nil
}

// CountChildren returns the number of direct child folders.
func (r *FolderRepository) CountChildren(ctx context.Context, id uuid.UUID) (int64, error) {
	var count int64
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM folders WHERE parent_id = ?`, id)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count child folders")
	}
	return count, nil
}

// DeleteSubtree removes rootID and every descendant folder plus all file
// rows underneath them, in one transaction. It returns the removed file
// records so the caller can unlink the physical bytes after commit; the
// catalog side is all-or-nothing, the disk side stays best-effort.
func (r *FolderRepository) DeleteSubtree(ctx context.Context, rootID uuid.UUID) (int, []*domain.File, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, nil, errors.Wrap(err, "failed to begin subtree delete")
	}
	defer tx.Rollback()

	ids, err := subtreeIDs(ctx, tx, rootID)
	if err != nil {
		return 0, nil, err
	}
	if len(ids) == 0 {
		return 0, nil, errors.ErrFolderNotFound
	}

	query, args, err := sqlx.In(`
		SELECT id, owner_id, folder_id, filename, original_filename, path, size, mime_type, bucket, created_at, updated_at
		  FROM files WHERE folder_id IN (?)`, ids)
	if err != nil {
		return 0, nil, errors.Wrap(err, "failed to build file query")
	}

	var files []*domain.File
	if err := tx.SelectContext(ctx, &files, tx.Rebind(query), args...); err != nil {
		return 0, nil, errors.Wrap(err, "failed to list subtree files")
	}

	query, args, err = sqlx.In(`DELETE FROM files WHERE folder_id IN (?)`, ids)
	if err != nil {
		return 0, nil, errors.Wrap(err, "failed to build file delete")
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
		return 0, nil, errors.Wrap(err, "failed to delete subtree files")
	}

	// ids arrive deepest-first, so each delete runs after its children are
	// gone and the self-referencing foreign key stays satisfied.
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM folders WHERE id = ?`, id); err != nil {
			return 0, nil, errors.Wrap(err, "failed to delete subtree folder")
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, nil, errors.Wrap(err, "failed to commit subtree delete")
	}

	return len(ids), files, nil
}
