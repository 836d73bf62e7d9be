package sqlite

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"cirrus/internal/domain"
	"cirrus/pkg/errors"
)

// folderTreeCTE materializes every folder of one owner with its display
// path and depth, walking the adjacency list top-down. Bind the owner id
// once; the anchor row set is the owner's root-level folders.
const folderTreeCTE = `
	WITH RECURSIVE tree(id, owner_id, parent_id, name, path, depth, created_at, updated_at) AS (
		SELECT id, owner_id, parent_id, name, '/' || name, 1, created_at, updated_at
		  FROM folders
		 WHERE owner_id = ? AND parent_id IS NULL
		UNION ALL
		SELECT f.id, f.owner_id, f.parent_id, f.name, t.path || '/' || f.name, t.depth + 1, f.created_at, f.updated_at
		  FROM folders f
		  JOIN tree t ON f.parent_id = t.id
	)`

// folderWithPath loads a single folder by id and derives its path by
// walking the ancestor chain upward. Returns ErrFolderNotFound when the
// id does not exist.
func folderWithPath(ctx context.Context, db sqlx.QueryerContext, id uuid.UUID) (*domain.Folder, error) {
	query := `
		WITH RECURSIVE ancestors(id, owner_id, parent_id, name, created_at, updated_at, lvl) AS (
			SELECT id, owner_id, parent_id, name, created_at, updated_at, 0
			  FROM folders WHERE id = ?
			UNION ALL
			SELECT f.id, f.owner_id, f.parent_id, f.name, f.created_at, f.updated_at, a.lvl + 1
			  FROM folders f
			  JOIN ancestors a ON f.id = a.parent_id
		)
		SELECT id, owner_id, parent_id, name, created_at, updated_at, lvl
		  FROM ancestors ORDER BY lvl DESC`

	rows, err := db.QueryxContext(ctx, query, id)
	if err != nil {
		return nil, errors.Wrap(err, "load folder")
	}
	defer rows.Close()

	var (
		chain  []string
		folder domain.Folder
		lvl    int
		found  bool
	)
	for rows.Next() {
		if err := rows.Scan(&folder.ID, &folder.OwnerID, &folder.ParentID,
			&folder.Name, &folder.CreatedAt, &folder.UpdatedAt, &lvl); err != nil {
			return nil, errors.Wrap(err, "scan folder")
		}
		chain = append(chain, folder.Name)
		found = true
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "load folder")
	}
	if !found {
		return nil, errors.ErrFolderNotFound
	}

	// Rows arrive root-first; after the loop folder holds the target row.
	folder.Path = "/" + strings.Join(chain, "/")
	folder.Depth = len(chain)
	return &folder, nil
}

// folderPathByID derives the display path for a folder id; nil maps to the
// root path.
func folderPathByID(ctx context.Context, db sqlx.QueryerContext, id *uuid.UUID) (string, error) {
	if id == nil {
		return domain.RootPath, nil
	}
	folder, err := folderWithPath(ctx, db, *id)
	if err != nil {
		return "", err
	}
	return folder.Path, nil
}
