// Package domain defines the core catalog types shared across services.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// RootPath is the implicit root of every user's virtual tree. It has no
// catalog row, always exists, and can never be created or deleted.
const RootPath = "/"

// Folder is a catalog-only logical directory. Hierarchy is stored as an
// adjacency list (ParentID); Path and ParentPath are derived on read and
// never persisted.
type Folder struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	OwnerID   uuid.UUID  `json:"owner_id" db:"owner_id"`
	ParentID  *uuid.UUID `json:"parent_id,omitempty" db:"parent_id"`
	Name      string     `json:"name" db:"name"`
	Path      string     `json:"path" db:"path"`
	Depth     int        `json:"-" db:"depth"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

// ParentPath returns the derived path of the folder's parent.
func (f *Folder) ParentPath() string {
	if f.ParentID == nil {
		return RootPath
	}
	idx := len(f.Path) - len(f.Name) - 1
	if idx <= 0 {
		return RootPath
	}
	return f.Path[:idx]
}

// File is a catalog record tying a physical on-disk file to a location in
// the virtual tree. FolderID nil means the file sits at the root. Physical
// bytes never move; a file move only reassigns FolderID.
type File struct {
	ID                uuid.UUID  `json:"id" db:"id"`
	OwnerID           uuid.UUID  `json:"owner_id" db:"owner_id"`
	FolderID          *uuid.UUID `json:"folder_id,omitempty" db:"folder_id"`
	Filename          string     `json:"filename" db:"filename"`
	OriginalFilename  string     `json:"original_filename" db:"original_filename"`
	Path              string     `json:"-" db:"path"`
	Size              int64      `json:"size" db:"size"`
	MimeType          string     `json:"mime_type" db:"mime_type"`
	Bucket            string     `json:"-" db:"bucket"`
	VirtualFolderPath string     `json:"virtual_folder_path" db:"virtual_folder_path"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
}

// Caller identifies the authenticated principal performing an operation.
// Admins may act on files and folders they do not own.
type Caller struct {
	UserID  uuid.UUID
	IsAdmin bool
}

// CanAccess reports whether the caller may operate on a resource owned by
// ownerID.
func (c Caller) CanAccess(ownerID uuid.UUID) bool {
	return c.IsAdmin || c.UserID == ownerID
}
