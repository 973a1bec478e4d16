package installer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nupi-ai/nexus/internal/storage"
	"github.com/nupi-ai/nexus/internal/testutil"
)

const dest = "_RESOURCES/DATACORE"

func newTestInstaller(t *testing.T) (*Installer, string) {
	t.Helper()
	root := t.TempDir()
	st, err := storage.NewDirStorage(root)
	if err != nil {
		t.Fatalf("NewDirStorage: %v", err)
	}
	return New(st, nil), root
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func TestExtract_Zip(t *testing.T) {
	inst, root := newTestInstaller(t)
	archive := testutil.Zip(t,
		testutil.ArchiveFile{Name: "widget-v2/manifest.json", Body: `{"name":"Widget Two"}`},
		testutil.ArchiveFile{Name: "widget-v2/src/D.q.widget.viewer.md", Body: "viewer"},
	)

	res, err := inst.Extract(context.Background(), archive, dest)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.RootName != "widget-v2" {
		t.Fatalf("RootName = %q, want widget-v2", res.RootName)
	}
	if len(res.Written) != 2 || len(res.Blocked) != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := readFile(t, filepath.Join(root, dest, "widget-v2", "src", "D.q.widget.viewer.md")); got != "viewer" {
		t.Fatalf("content = %q", got)
	}
}

func TestExtract_TarGz(t *testing.T) {
	inst, root := newTestInstaller(t)
	archive := testutil.TarGz(t,
		testutil.ArchiveFile{Name: "widget-v2/"},
		testutil.ArchiveFile{Name: "widget-v2/index.md", Body: "hello"},
	)

	res, err := inst.Extract(context.Background(), archive, dest)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.RootName != "widget-v2" {
		t.Fatalf("RootName = %q", res.RootName)
	}
	if got := readFile(t, filepath.Join(root, dest, "widget-v2", "index.md")); got != "hello" {
		t.Fatalf("content = %q", got)
	}
}

func TestExtract_ZipSlipPrevention(t *testing.T) {
	inst, root := newTestInstaller(t)
	archive := testutil.Zip(t,
		testutil.ArchiveFile{Name: "widget-v2/ok.txt", Body: "ok"},
		testutil.ArchiveFile{Name: "../../evil.txt", Body: "evil"},
		testutil.ArchiveFile{Name: "widget-v2/../../escape.txt", Body: "evil"},
		testutil.ArchiveFile{Name: `..\..\backslash.txt`, Body: "evil"},
		testutil.ArchiveFile{Name: "widget-v2/also-ok.txt", Body: "ok"},
	)

	res, err := inst.Extract(context.Background(), archive, dest)
	if err != nil {
		t.Fatalf("Extract must not abort on a blocked entry: %v", err)
	}
	if len(res.Blocked) != 3 {
		t.Fatalf("expected 3 blocked entries, got %+v", res.Blocked)
	}
	for _, b := range res.Blocked {
		if !errors.Is(b.Err, ErrExtractionBlocked) {
			t.Errorf("blocked entry %q err = %v", b.Name, b.Err)
		}
	}
	if len(res.Written) != 2 {
		t.Fatalf("legitimate entries not written: %+v", res.Written)
	}

	// Nothing may exist outside the destination.
	for _, p := range []string{
		filepath.Join(root, "evil.txt"),
		filepath.Join(root, "_RESOURCES", "evil.txt"),
		filepath.Join(root, "_RESOURCES", "escape.txt"),
		filepath.Join(root, "_RESOURCES", "backslash.txt"),
		filepath.Join(filepath.Dir(root), "evil.txt"),
	} {
		if _, err := os.Stat(p); err == nil {
			t.Errorf("file written outside destination: %s", p)
		}
	}
	if got := readFile(t, filepath.Join(root, dest, "widget-v2", "also-ok.txt")); got != "ok" {
		t.Fatalf("content = %q", got)
	}
}

func TestExtract_SymlinkSkipped(t *testing.T) {
	inst, root := newTestInstaller(t)
	archive := testutil.Zip(t,
		testutil.ArchiveFile{Name: "widget-v2/link", Body: "/etc/passwd", Symlink: true},
		testutil.ArchiveFile{Name: "widget-v2/real.txt", Body: "real"},
	)

	res, err := inst.Extract(context.Background(), archive, dest)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(res.Blocked) != 1 || res.Blocked[0].Name != "widget-v2/link" {
		t.Fatalf("expected symlink to be blocked, got %+v", res.Blocked)
	}
	if _, err := os.Lstat(filepath.Join(root, dest, "widget-v2", "link")); err == nil {
		t.Fatal("symlink entry was materialized")
	}
}

func TestExtract_TarGzSymlinkSkipped(t *testing.T) {
	inst, _ := newTestInstaller(t)
	archive := testutil.TarGz(t,
		testutil.ArchiveFile{Name: "widget-v2/link", Body: "../../../etc", Symlink: true},
		testutil.ArchiveFile{Name: "widget-v2/real.txt", Body: "real"},
	)

	res, err := inst.Extract(context.Background(), archive, dest)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(res.Blocked) != 1 || len(res.Written) != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestExtract_RootNameUsesNativeOrder(t *testing.T) {
	tests := []struct {
		name    string
		entries []testutil.ArchiveFile
		want    string
	}{
		{
			name: "first entry wins even when unsorted",
			entries: []testutil.ArchiveFile{
				{Name: "zeta/a.txt", Body: "1"},
				{Name: "alpha/b.txt", Body: "2"},
			},
			want: "zeta",
		},
		{
			name:    "directory entry first",
			entries: []testutil.ArchiveFile{{Name: "widget-v2/"}, {Name: "widget-v2/a.txt", Body: "1"}},
			want:    "widget-v2",
		},
		{
			name:    "dot slash prefix",
			entries: []testutil.ArchiveFile{{Name: "./widget-v2/a.txt", Body: "1"}},
			want:    "widget-v2",
		},
		{
			name:    "loose top-level file",
			entries: []testutil.ArchiveFile{{Name: "README.md", Body: "1"}, {Name: "widget-v2/a.txt", Body: "1"}},
			want:    "",
		},
		{
			name:    "traversal first entry",
			entries: []testutil.ArchiveFile{{Name: "../x/a.txt", Body: "1"}, {Name: "widget-v2/a.txt", Body: "1"}},
			want:    "",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			inst, _ := newTestInstaller(t)
			res, err := inst.Extract(context.Background(), testutil.Zip(t, tc.entries...), dest)
			if err != nil {
				t.Fatalf("Extract: %v", err)
			}
			if res.RootName != tc.want {
				t.Fatalf("RootName = %q, want %q", res.RootName, tc.want)
			}
		})
	}
}

func TestExtract_EmptyArchive(t *testing.T) {
	inst, root := newTestInstaller(t)

	res, err := inst.Extract(context.Background(), testutil.Zip(t), dest)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.RootName != "" || len(res.Written) != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if info, err := os.Stat(filepath.Join(root, dest)); err != nil || !info.IsDir() {
		t.Fatalf("destination not created: %v", err)
	}
}

func TestExtract_OverwritesExistingFile(t *testing.T) {
	inst, root := newTestInstaller(t)
	ctx := context.Background()

	first := testutil.Zip(t, testutil.ArchiveFile{Name: "widget-v2/a.txt", Body: "old"})
	second := testutil.Zip(t, testutil.ArchiveFile{Name: "widget-v2/a.txt", Body: "new"})

	if _, err := inst.Extract(ctx, first, dest); err != nil {
		t.Fatalf("first Extract: %v", err)
	}
	if _, err := inst.Extract(ctx, second, dest); err != nil {
		t.Fatalf("second Extract: %v", err)
	}
	if got := readFile(t, filepath.Join(root, dest, "widget-v2", "a.txt")); got != "new" {
		t.Fatalf("content = %q, want new", got)
	}
}

func TestExtract_CorruptArchiveIsFatal(t *testing.T) {
	inst, _ := newTestInstaller(t)

	for name, data := range map[string][]byte{
		"garbage":       []byte("definitely not an archive"),
		"truncated zip": testutil.Zip(t, testutil.ArchiveFile{Name: "a/b.txt", Body: strings.Repeat("x", 100)})[:30],
		"empty":         nil,
	} {
		if _, err := inst.Extract(context.Background(), data, dest); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestExtract_FileCountLimit(t *testing.T) {
	inst, _ := newTestInstaller(t)

	files := make([]testutil.ArchiveFile, maxFileCount+1)
	for i := range files {
		files[i] = testutil.ArchiveFile{Name: fmt.Sprintf("w/%d.txt", i)}
	}
	if _, err := inst.Extract(context.Background(), testutil.Zip(t, files...), dest); err == nil {
		t.Fatal("expected file count limit error")
	}
}

func TestExtract_InvalidDestination(t *testing.T) {
	inst, _ := newTestInstaller(t)
	archive := testutil.Zip(t, testutil.ArchiveFile{Name: "a/b.txt", Body: "x"})

	for _, d := range []string{"", ".", "/", "../outside"} {
		if _, err := inst.Extract(context.Background(), archive, d); err == nil {
			t.Errorf("Extract to %q should fail", d)
		}
	}
}

func TestExtract_ConcurrentSiblingsShareDirectories(t *testing.T) {
	inst, root := newTestInstaller(t)
	ctx := context.Background()

	errs := make(chan error, 2)
	for _, name := range []string{"one", "two"} {
		archive := testutil.Zip(t, testutil.ArchiveFile{Name: name + "/f.txt", Body: name})
		go func() {
			_, err := inst.Extract(ctx, archive, dest)
			errs <- err
		}()
	}
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("Extract: %v", err)
		}
	}
	for _, name := range []string{"one", "two"} {
		if got := readFile(t, filepath.Join(root, dest, name, "f.txt")); got != name {
			t.Fatalf("%s content = %q", name, got)
		}
	}
}

func TestDetectArchiveFormat(t *testing.T) {
	tests := map[string]struct {
		data []byte
		want string
	}{
		"zip":     {[]byte("PK\x03\x04"), "zip"},
		"gzip":    {[]byte{0x1f, 0x8b, 0x08}, "gzip"},
		"unknown": {[]byte("hello"), ""},
		"short":   {[]byte("P"), ""},
	}
	for name, tc := range tests {
		if got := detectArchiveFormat(tc.data); got != tc.want {
			t.Errorf("%s: detectArchiveFormat = %q, want %q", name, got, tc.want)
		}
	}
}
