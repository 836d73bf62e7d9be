package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Disk handles the physical side of file storage: a single root directory
// with one date bucket per upload day. Virtual folders never appear here.
type Disk struct {
	root     string
	filePerm os.FileMode
	dirPerm  os.FileMode
}

// NewDisk creates a Disk rooted at root, creating the directory if absent.
func NewDisk(root string) (*Disk, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	d := &Disk{root: abs, filePerm: 0644, dirPerm: 0755}
	if err := os.MkdirAll(abs, d.dirPerm); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return d, nil
}

// Root returns the absolute storage root.
func (d *Disk) Root() string {
	return d.root
}

// BucketDir returns the date bucket for t, creating it if needed.
func (d *Disk) BucketDir(t time.Time) (string, error) {
	dir := filepath.Join(d.root, t.Format("2006-01-02"))
	if err := os.MkdirAll(dir, d.dirPerm); err != nil {
		return "", fmt.Errorf("create bucket directory: %w", err)
	}
	return dir, nil
}

// Create opens a new physical file for writing.
func (d *Disk) Create(path string) (*os.File, error) {
	if !d.within(path) {
		return nil, fmt.Errorf("path outside storage root: %s", path)
	}
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, d.filePerm)
}

// Open opens a stored file for reading. Every caller gets an independent
// descriptor, so concurrent streams do not share state.
func (d *Disk) Open(path string) (*os.File, error) {
	if !d.within(path) {
		return nil, fmt.Errorf("path outside storage root: %s", path)
	}
	return os.Open(path)
}

// Exists reports whether the physical file is present.
func (d *Disk) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Remove unlinks a physical file and prunes empty bucket directories left
// behind.
func (d *Disk) Remove(path string) error {
	if !d.within(path) {
		return fmt.Errorf("path outside storage root: %s", path)
	}
	if err := os.Remove(path); err != nil {
		return err
	}
	d.pruneEmptyDirs(filepath.Dir(path))
	return nil
}

func (d *Disk) within(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	return abs == d.root || strings.HasPrefix(abs, d.root+string(filepath.Separator))
}

func (d *Disk) pruneEmptyDirs(dir string) {
	for dir != d.root && d.within(dir) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}
