// Package storage is the host file surface the pipeline writes into. Paths
// are forward-slash relative paths under a configurable root.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// TrashDir is the root-relative folder that receives trashed entries.
const TrashDir = ".trash"

var (
	// ErrNotExist is returned when a path does not exist.
	ErrNotExist = fs.ErrNotExist
	// ErrOutsideRoot is returned for paths that resolve above the root.
	ErrOutsideRoot = errors.New("storage: path escapes storage root")
)

// Entry describes one file or directory.
type Entry struct {
	Name  string
	Path  string // root-relative, forward slashes
	IsDir bool
	Size  int64
	// Created is the best available creation time. Plain directory listings
	// do not expose birth time portably, so this is the modification time.
	Created time.Time
}

// Storage is the file surface consumed by the installer and the inventory.
type Storage interface {
	Stat(ctx context.Context, p string) (Entry, error)
	// CreateDir creates one directory. An existing directory is not an error.
	CreateDir(ctx context.Context, p string) error
	ReadFile(ctx context.Context, p string) ([]byte, error)
	// WriteFile creates p or replaces its contents. The parent must exist.
	WriteFile(ctx context.Context, p string, data []byte) error
	// List returns the immediate children of a directory, sorted by name.
	List(ctx context.Context, p string) ([]Entry, error)
	// Trash moves p into the recoverable trash folder.
	Trash(ctx context.Context, p string) error
}

// Normalize converts p to a clean forward-slash relative path. The root is "".
func Normalize(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean(p)
	p = strings.TrimLeft(p, "/")
	if p == "." {
		return ""
	}
	return p
}

// Join joins and normalizes path elements.
func Join(elem ...string) string {
	return Normalize(path.Join(elem...))
}

// DirStorage implements Storage on a local directory.
type DirStorage struct {
	root string
	now  func() time.Time
}

// NewDirStorage returns storage rooted at root. The root must exist.
func NewDirStorage(root string) (*DirStorage, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root %s is not a directory", abs)
	}
	return &DirStorage{root: abs, now: time.Now}, nil
}

// Root returns the absolute root directory.
func (d *DirStorage) Root() string {
	return d.root
}

func (d *DirStorage) resolve(p string) (string, string, error) {
	rel := Normalize(p)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", "", fmt.Errorf("%w: %s", ErrOutsideRoot, p)
	}
	return rel, filepath.Join(d.root, filepath.FromSlash(rel)), nil
}

func (d *DirStorage) Stat(ctx context.Context, p string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	rel, full, err := d.resolve(p)
	if err != nil {
		return Entry{}, err
	}
	info, err := os.Stat(full)
	if err != nil {
		return Entry{}, err
	}
	return entryFor(rel, info), nil
}

func (d *DirStorage) CreateDir(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, full, err := d.resolve(p)
	if err != nil {
		return err
	}
	err = os.Mkdir(full, 0o755)
	if err == nil {
		return nil
	}
	if errors.Is(err, fs.ErrExist) {
		// A concurrent install may have created it first.
		if info, statErr := os.Stat(full); statErr == nil && info.IsDir() {
			return nil
		}
		return fmt.Errorf("storage: %s exists and is not a directory", p)
	}
	return err
}

func (d *DirStorage) ReadFile(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, full, err := d.resolve(p)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(full)
}

func (d *DirStorage) WriteFile(ctx context.Context, p string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rel, full, err := d.resolve(p)
	if err != nil {
		return err
	}
	if rel == "" {
		return fmt.Errorf("storage: cannot write to root")
	}
	if info, err := os.Lstat(full); err == nil && !info.Mode().IsRegular() {
		return fmt.Errorf("storage: %s exists and is not a regular file", p)
	}
	return os.WriteFile(full, data, 0o644)
}

func (d *DirStorage) List(ctx context.Context, p string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rel, full, err := d.resolve(p)
	if err != nil {
		return nil, err
	}
	dirents, err := os.ReadDir(full)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(dirents))
	for _, de := range dirents {
		info, err := de.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		entries = append(entries, entryFor(path.Join(rel, de.Name()), info))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (d *DirStorage) Trash(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rel, full, err := d.resolve(p)
	if err != nil {
		return err
	}
	if rel == "" || rel == TrashDir || strings.HasPrefix(rel, TrashDir+"/") {
		return fmt.Errorf("storage: refusing to trash %q", p)
	}
	if _, err := os.Lstat(full); err != nil {
		return err
	}

	trashRoot := filepath.Join(d.root, TrashDir)
	if err := os.MkdirAll(trashRoot, 0o755); err != nil {
		return fmt.Errorf("storage: create trash: %w", err)
	}

	target := filepath.Join(trashRoot, path.Base(rel))
	if _, err := os.Lstat(target); err == nil {
		target = fmt.Sprintf("%s.%d", target, d.now().UnixNano())
	}
	if err := os.Rename(full, target); err != nil {
		return fmt.Errorf("storage: move %s to trash: %w", p, err)
	}
	return nil
}

func entryFor(rel string, info fs.FileInfo) Entry {
	return Entry{
		Name:    info.Name(),
		Path:    rel,
		IsDir:   info.IsDir(),
		Size:    info.Size(),
		Created: info.ModTime(),
	}
}
