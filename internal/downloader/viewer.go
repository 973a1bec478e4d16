package downloader

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/nupi-ai/nexus/internal/storage"
)

// viewerBlockRe captures a datacore code block, fences and language tag
// included.
var viewerBlockRe = regexp.MustCompile("(```datacore(?:jsx|tsx)\\n[\\s\\S]*?\\n```)")

// isViewerFile reports whether name follows the viewer naming convention.
func isViewerFile(name string) bool {
	return strings.HasPrefix(name, "D.q.") && strings.Contains(name, "viewer") && strings.HasSuffix(name, ".md")
}

// extractViewerCode returns the first datacore block in content, or the
// whole content when it has none.
func extractViewerCode(content string) string {
	if m := viewerBlockRe.FindStringSubmatch(content); m != nil {
		return m[1]
	}
	return content
}

// findViewer looks for a viewer file directly inside dir.
func findViewer(ctx context.Context, st storage.Storage, dir string) (*Viewer, bool, error) {
	entries, err := st.List(ctx, dir)
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	for _, e := range entries {
		if e.IsDir || !isViewerFile(e.Name) {
			continue
		}
		data, err := st.ReadFile(ctx, e.Path)
		if err != nil {
			return nil, false, err
		}
		return &Viewer{File: e.Name, Code: extractViewerCode(string(data))}, true, nil
	}
	return nil, false, nil
}
