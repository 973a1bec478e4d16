// Package inventory reports and removes components installed under the
// download folder. Nothing is cached; every call rescans storage.
package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nupi-ai/nexus/internal/storage"
)

const (
	archiveExt   = ".zip"
	manifestFile = "manifest.json"
)

// ErrNotFound is returned when a component to remove does not exist.
var ErrNotFound = errors.New("inventory: component not found")

// Component is one installed component.
type Component struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	Path        string    `json:"path"`
	InstalledAt time.Time `json:"installedAt,omitempty"` // zero for folders
	Archive     bool      `json:"archive"`
}

// Inventory scans one download folder.
type Inventory struct {
	storage storage.Storage
	folder  string
}

// New returns an inventory of folder, a storage-relative path.
func New(st storage.Storage, folder string) *Inventory {
	return &Inventory{storage: st, folder: storage.Normalize(folder)}
}

// Folder returns the scanned folder.
func (inv *Inventory) Folder() string {
	return inv.folder
}

// List returns every installed component: one per immediate subdirectory,
// plus one per loose archive file. A missing folder yields an empty list.
func (inv *Inventory) List(ctx context.Context) ([]Component, error) {
	entries, err := inv.storage.List(ctx, inv.folder)
	if errors.Is(err, storage.ErrNotExist) {
		return []Component{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("inventory: list %s: %w", inv.folder, err)
	}

	components := make([]Component, 0, len(entries))
	for _, e := range entries {
		switch {
		case e.IsDir:
			components = append(components, Component{
				ID:          e.Name,
				DisplayName: inv.manifestName(ctx, e),
				Path:        e.Path,
			})
		case strings.HasSuffix(e.Name, archiveExt) && len(e.Name) > len(archiveExt):
			base := strings.TrimSuffix(e.Name, archiveExt)
			components = append(components, Component{
				ID:          base,
				DisplayName: base + " (Archive)",
				Path:        e.Path,
				InstalledAt: e.Created,
				Archive:     true,
			})
		}
	}
	return components, nil
}

// manifestName reads the display name from the component's manifest.json,
// falling back to the directory name.
func (inv *Inventory) manifestName(ctx context.Context, dir storage.Entry) string {
	data, err := inv.storage.ReadFile(ctx, storage.Join(dir.Path, manifestFile))
	if err != nil {
		return dir.Name
	}
	var m struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &m); err != nil {
		log.Printf("[Inventory] WARNING: ignoring unreadable manifest in %s: %v", dir.Path, err)
		return dir.Name
	}
	if name := strings.TrimSpace(m.Name); name != "" {
		return name
	}
	return dir.Name
}

// Remove moves component id to the trash. The component folder is tried
// first, then a loose archive named id.zip.
func (inv *Inventory) Remove(ctx context.Context, id string) (string, error) {
	if !validID(id) {
		return "", fmt.Errorf("inventory: invalid component id %q", id)
	}

	for _, candidate := range []string{id, id + archiveExt} {
		p := storage.Join(inv.folder, candidate)
		_, err := inv.storage.Stat(ctx, p)
		if errors.Is(err, storage.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("inventory: stat %s: %w", p, err)
		}
		if err := inv.storage.Trash(ctx, p); err != nil {
			return "", fmt.Errorf("inventory: remove %s: %w", id, err)
		}
		log.Printf("[Inventory] Moved %s to trash", p)
		return p, nil
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, id)
}

// validID accepts any single path segment, since folder names come from
// archives rather than the registry.
func validID(id string) bool {
	if strings.TrimSpace(id) == "" || id == "." || id == ".." {
		return false
	}
	return !strings.ContainsAny(id, `/\`)
}
