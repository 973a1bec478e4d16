// Package installer unpacks component archives into host storage.
package installer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/nupi-ai/nexus/internal/observability"
	"github.com/nupi-ai/nexus/internal/storage"
)

const (
	maxFileSize         = 500 * 1024 * 1024      // 500 MB per file
	maxTotalExtractSize = 2 * 1024 * 1024 * 1024 // 2 GB cumulative extraction limit
	maxFileCount        = 10000
)

// ErrExtractionBlocked marks an archive entry that was skipped because it
// would land outside the destination. It never aborts an extraction.
var ErrExtractionBlocked = errors.New("installer: entry escapes destination")

// BlockedEntry is one skipped archive entry. Err wraps ErrExtractionBlocked.
type BlockedEntry struct {
	Name string
	Err  error
}

// Result is the outcome of one extraction.
type Result struct {
	// RootName is the first path segment of the first archive entry, or ""
	// when it cannot be inferred.
	RootName string
	// Written lists the storage paths of every file written.
	Written []string
	Blocked []BlockedEntry
}

// Installer writes archives into a Storage.
type Installer struct {
	storage storage.Storage
	metrics *observability.Metrics
}

// New creates an installer writing into st. metrics may be nil.
func New(st storage.Storage, metrics *observability.Metrics) *Installer {
	return &Installer{storage: st, metrics: metrics}
}

// Extract unpacks archive under destRoot, a storage-relative directory that
// is created if missing. Each file entry is checked individually: entries
// resolving outside destRoot, and link entries, are skipped with a warning
// and the rest of the archive is still written. A corrupt archive or an
// exceeded size limit is fatal.
func (inst *Installer) Extract(ctx context.Context, archive []byte, destRoot string) (res *Result, err error) {
	base := storage.Normalize(destRoot)
	if base == "" || base == ".." || strings.HasPrefix(base, "../") {
		return nil, fmt.Errorf("installer: invalid destination %q", destRoot)
	}

	ctx, span := observability.StartSpan(ctx, "installer.extract",
		attribute.String("nexus.destination", base),
		attribute.Int("nexus.archive_bytes", len(archive)),
	)
	defer func() { observability.EndSpan(span, err) }()

	entries, err := readEntries(archive)
	if err != nil {
		return nil, err
	}

	w := &writer{storage: inst.storage, dirs: make(map[string]bool)}
	if err := w.ensureDir(ctx, base); err != nil {
		return nil, fmt.Errorf("installer: create destination: %w", err)
	}

	res = &Result{}
	if len(entries) > 0 {
		res.RootName = rootName(entries[0])
	}

	var total int64
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("extraction cancelled: %w", err)
		}
		if e.isDir {
			continue
		}

		target, ok := resolve(base, e.name)
		if !ok {
			log.Printf("[Installer] WARNING: skipping %q: resolves outside %s", e.name, base)
			res.Blocked = append(res.Blocked, BlockedEntry{Name: e.name, Err: fmt.Errorf("%w: %s", ErrExtractionBlocked, e.name)})
			continue
		}
		if e.link {
			log.Printf("[Installer] WARNING: skipping link entry %q", e.name)
			res.Blocked = append(res.Blocked, BlockedEntry{Name: e.name, Err: fmt.Errorf("%w: link entry %s", ErrExtractionBlocked, e.name)})
			continue
		}

		data, err := e.read()
		if err != nil {
			return nil, fmt.Errorf("installer: read %s: %w", e.name, err)
		}
		total += int64(len(data))
		if total > maxTotalExtractSize {
			return nil, fmt.Errorf("archive exceeds total extraction limit (%d bytes)", maxTotalExtractSize)
		}

		if err := w.ensureDir(ctx, path.Dir(target)); err != nil {
			return nil, fmt.Errorf("installer: create directory for %s: %w", e.name, err)
		}
		if err := inst.storage.WriteFile(ctx, target, data); err != nil {
			return nil, fmt.Errorf("installer: write %s: %w", target, err)
		}
		res.Written = append(res.Written, target)
	}

	inst.metrics.Extracted(len(res.Written), len(res.Blocked))
	span.SetAttributes(
		attribute.Int("nexus.files_written", len(res.Written)),
		attribute.Int("nexus.entries_blocked", len(res.Blocked)),
	)
	return res, nil
}

// resolve joins name under base and reports whether the normalized result
// stays strictly inside base.
func resolve(base, name string) (string, bool) {
	target := path.Clean(base + "/" + strings.ReplaceAll(name, "\\", "/"))
	return target, strings.HasPrefix(target, base+"/")
}

// rootName returns the first segment of e, or "" when e is a loose
// top-level file.
func rootName(e entry) string {
	name := storage.Normalize(e.name)
	if name == "" || name == ".." || strings.HasPrefix(name, "../") {
		return ""
	}
	first, _, nested := strings.Cut(name, "/")
	if !nested && !e.isDir {
		return ""
	}
	return first
}

type writer struct {
	storage storage.Storage
	dirs    map[string]bool
}

// ensureDir creates every missing component of dir, outermost first.
func (w *writer) ensureDir(ctx context.Context, dir string) error {
	if w.dirs[dir] {
		return nil
	}
	cur := ""
	for _, seg := range strings.Split(dir, "/") {
		if cur == "" {
			cur = seg
		} else {
			cur = cur + "/" + seg
		}
		if w.dirs[cur] {
			continue
		}
		entry, err := w.storage.Stat(ctx, cur)
		switch {
		case err == nil && !entry.IsDir:
			return fmt.Errorf("%s exists and is not a directory", cur)
		case err == nil:
		case errors.Is(err, storage.ErrNotExist):
			if err := w.storage.CreateDir(ctx, cur); err != nil {
				return err
			}
		default:
			return err
		}
		w.dirs[cur] = true
	}
	return nil
}
