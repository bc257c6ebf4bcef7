// Package bundle decodes, rewrites and re-encodes zipped revision bundles
package bundle

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"

	"github.com/klauspost/compress/zip"
)

var (
	// ErrCorruptArchive means the buffer is not a readable zip archive
	ErrCorruptArchive = errors.New("corrupt archive")

	// ErrMalformedDescriptor means the descriptor entry exists but cannot be parsed
	ErrMalformedDescriptor = errors.New("malformed descriptor")
)

// MS-DOS encoding of 1980-01-01 00:00, the earliest time a zip header can hold
const (
	dosEpochDate uint16 = 1<<5 | 1
	dosEpochTime uint16 = 0
)

// Entry is one member of a bundle
type Entry struct {
	Path  string
	IsDir bool
	Data  []byte
}

// ReadEntries decodes buf into its entries, in archive order
func ReadEntries(buf []byte) ([]Entry, error) {
	zr, err := zip.NewReader(bytes.NewReader(buf), int64(len(buf)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptArchive, err)
	}

	entries := make([]Entry, 0, len(zr.File))
	for _, f := range zr.File {
		if err := checkEntryName(f.Name); err != nil {
			return nil, err
		}

		if f.FileInfo().IsDir() {
			entries = append(entries, Entry{Path: f.Name, IsDir: true})
			continue
		}

		data, err := readFile(f)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorruptArchive, f.Name, err)
		}
		entries = append(entries, Entry{Path: f.Name, Data: data})
	}
	return entries, nil
}

func readFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// checkEntryName rejects names that would land outside the revision folder
func checkEntryName(name string) error {
	if name == "" || path.IsAbs(name) || strings.Contains(name, `\`) {
		return fmt.Errorf("%w: invalid entry name %q", ErrCorruptArchive, name)
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == ".." {
			return fmt.Errorf("%w: invalid entry name %q", ErrCorruptArchive, name)
		}
	}
	return nil
}

// WriteEntries encodes entries into a new archive. Output depends only on
// the entries and their order: timestamps are pinned to the zip epoch and no
// host-specific extra fields are written.
func WriteEntries(entries []Entry) ([]byte, error) {
	var out bytes.Buffer
	zw := zip.NewWriter(&out)

	for _, e := range entries {
		fh := &zip.FileHeader{
			Name:         e.Path,
			Method:       zip.Deflate,
			ModifiedDate: dosEpochDate,
			ModifiedTime: dosEpochTime,
		}
		if e.IsDir {
			if !strings.HasSuffix(fh.Name, "/") {
				fh.Name += "/"
			}
			fh.Method = zip.Store
			fh.SetMode(fs.ModeDir | 0o755)
		} else {
			fh.SetMode(0o644)
		}

		w, err := zw.CreateHeader(fh)
		if err != nil {
			return nil, fmt.Errorf("failed to add %s: %w", e.Path, err)
		}
		if e.IsDir {
			continue
		}
		if _, err := w.Write(e.Data); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", e.Path, err)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}
	return out.Bytes(), nil
}
