package installer

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
)

// entry is one archive member in native archive order.
type entry struct {
	name  string
	isDir bool
	link  bool
	read  func() ([]byte, error)
}

// detectArchiveFormat identifies the archive type by its magic bytes.
// Returns "zip", "gzip", or "" if unknown.
func detectArchiveFormat(data []byte) string {
	if len(data) < 2 {
		return ""
	}
	// ZIP: starts with PK (0x50 0x4B)
	if data[0] == 0x50 && data[1] == 0x4B {
		return "zip"
	}
	// GZIP: starts with 0x1F 0x8B
	if data[0] == 0x1F && data[1] == 0x8B {
		return "gzip"
	}
	return ""
}

func readEntries(data []byte) ([]entry, error) {
	switch detectArchiveFormat(data) {
	case "zip":
		return zipEntries(data)
	case "gzip":
		return tarGzEntries(data)
	default:
		return nil, errors.New("installer: unsupported or corrupt archive")
	}
}

func zipEntries(data []byte) ([]entry, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	// Insecure names are handled per entry by the caller.
	if err != nil && !(errors.Is(err, zip.ErrInsecurePath) && r != nil) {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	if len(r.File) > maxFileCount {
		return nil, fmt.Errorf("archive contains too many files (max %d)", maxFileCount)
	}

	entries := make([]entry, 0, len(r.File))
	for _, f := range r.File {
		entries = append(entries, entry{
			name:  f.Name,
			isDir: f.FileInfo().IsDir(),
			link:  f.FileInfo().Mode()&os.ModeSymlink != 0,
			read: func() ([]byte, error) {
				rc, err := f.Open()
				if err != nil {
					return nil, err
				}
				defer rc.Close()
				return readCapped(rc, f.Name)
			},
		})
	}
	return entries, nil
}

func tarGzEntries(data []byte) ([]entry, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open gzip: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	var entries []entry
	var total int64
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil && !errors.Is(err, tar.ErrInsecurePath) {
			return nil, fmt.Errorf("read tar entry: %w", err)
		}
		if len(entries) >= maxFileCount {
			return nil, fmt.Errorf("archive contains too many files (max %d)", maxFileCount)
		}

		e := entry{name: header.Name}
		switch header.Typeflag {
		case tar.TypeDir:
			e.isDir = true
		case tar.TypeSymlink, tar.TypeLink:
			e.link = true
		case tar.TypeReg:
			body, err := readCapped(tr, header.Name)
			if err != nil {
				return nil, err
			}
			total += int64(len(body))
			if total > maxTotalExtractSize {
				return nil, fmt.Errorf("archive exceeds total extraction limit (%d bytes)", maxTotalExtractSize)
			}
			e.read = func() ([]byte, error) { return body, nil }
		default:
			// Devices, fifos and the like carry nothing to install.
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func readCapped(r io.Reader, name string) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxFileSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxFileSize {
		return nil, fmt.Errorf("file %s exceeds maximum size (%d bytes)", name, maxFileSize)
	}
	return data, nil
}
