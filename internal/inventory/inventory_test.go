package inventory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/nupi-ai/nexus/internal/installer"
	"github.com/nupi-ai/nexus/internal/storage"
	"github.com/nupi-ai/nexus/internal/testutil"
)

const folder = "_RESOURCES/DATACORE"

func newTestInventory(t *testing.T) (*Inventory, *storage.DirStorage, string) {
	t.Helper()
	root := t.TempDir()
	st, err := storage.NewDirStorage(root)
	if err != nil {
		t.Fatalf("NewDirStorage: %v", err)
	}
	return New(st, folder), st, root
}

func TestList_MissingFolder(t *testing.T) {
	inv, _, _ := newTestInventory(t)

	got, err := inv.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil list, got %#v", got)
	}
}

func TestList_AfterExtract(t *testing.T) {
	inv, st, _ := newTestInventory(t)
	ctx := context.Background()

	archive := testutil.Zip(t,
		testutil.ArchiveFile{Name: "widget-v2/manifest.json", Body: `{"name":"Widget Two"}`},
		testutil.ArchiveFile{Name: "widget-v2/view.md", Body: "x"},
	)
	if _, err := installer.New(st, nil).Extract(ctx, archive, folder); err != nil {
		t.Fatalf("Extract: %v", err)
	}

	got, err := inv.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected exactly one component, got %+v", got)
	}
	c := got[0]
	if c.ID != "widget-v2" || c.DisplayName != "Widget Two" || c.Path != folder+"/widget-v2" {
		t.Fatalf("unexpected component %+v", c)
	}
	if c.Archive || !c.InstalledAt.IsZero() {
		t.Fatalf("folder component must have no timestamp: %+v", c)
	}
}

func TestList_FoldersAndArchives(t *testing.T) {
	inv, _, root := newTestInventory(t)
	base := filepath.Join(root, filepath.FromSlash(folder))

	mustMkdir(t, filepath.Join(base, "plain"))
	mustMkdir(t, filepath.Join(base, "broken"))
	mustWrite(t, filepath.Join(base, "broken", "manifest.json"), "{not json")
	mustWrite(t, filepath.Join(base, "bundle.zip"), "PK")
	mustWrite(t, filepath.Join(base, "notes.md"), "ignored")
	mustWrite(t, filepath.Join(base, ".zip"), "ignored")

	got, err := inv.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	byID := make(map[string]Component)
	for _, c := range got {
		byID[c.ID] = c
	}
	if len(byID) != 3 {
		t.Fatalf("expected 3 components, got %+v", got)
	}
	if byID["plain"].DisplayName != "plain" {
		t.Errorf("plain display name = %q", byID["plain"].DisplayName)
	}
	if byID["broken"].DisplayName != "broken" {
		t.Errorf("broken manifest should fall back to dir name, got %q", byID["broken"].DisplayName)
	}
	arch := byID["bundle"]
	if !arch.Archive || arch.DisplayName != "bundle (Archive)" || arch.InstalledAt.IsZero() {
		t.Errorf("unexpected archive component %+v", arch)
	}
}

func TestRemove_Folder(t *testing.T) {
	inv, _, root := newTestInventory(t)
	base := filepath.Join(root, filepath.FromSlash(folder))
	mustMkdir(t, filepath.Join(base, "widget-v2"))
	mustWrite(t, filepath.Join(base, "widget-v2", "a.md"), "a")

	removed, err := inv.Remove(context.Background(), "widget-v2")
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if removed != folder+"/widget-v2" {
		t.Fatalf("removed = %q", removed)
	}
	if _, err := os.Stat(filepath.Join(base, "widget-v2")); !os.IsNotExist(err) {
		t.Fatal("component still present")
	}
	if _, err := os.Stat(filepath.Join(root, storage.TrashDir, "widget-v2", "a.md")); err != nil {
		t.Fatalf("component not recoverable from trash: %v", err)
	}
}

func TestRemove_ArchiveFallback(t *testing.T) {
	inv, _, root := newTestInventory(t)
	base := filepath.Join(root, filepath.FromSlash(folder))
	mustMkdir(t, base)
	mustWrite(t, filepath.Join(base, "bundle.zip"), "PK")

	removed, err := inv.Remove(context.Background(), "bundle")
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if removed != folder+"/bundle.zip" {
		t.Fatalf("removed = %q", removed)
	}
}

func TestRemove_NotFound(t *testing.T) {
	inv, _, _ := newTestInventory(t)

	if _, err := inv.Remove(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRemove_InvalidID(t *testing.T) {
	inv, _, _ := newTestInventory(t)

	for _, id := range []string{"", " ", ".", "..", "../x", `a\b`, "a/b"} {
		_, err := inv.Remove(context.Background(), id)
		if err == nil || errors.Is(err, ErrNotFound) {
			t.Errorf("Remove(%q) = %v, want validation error", id, err)
		}
	}
}

func mustMkdir(t *testing.T, p string) {
	t.Helper()
	if err := os.MkdirAll(p, 0o755); err != nil {
		t.Fatal(err)
	}
}

func mustWrite(t *testing.T, p, body string) {
	t.Helper()
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}
