// Package hostfs is the host-provided collaborator surface the rest of this
// module assumes: sequential and positioned file I/O, recursive directory
// enumeration with hidden/system filtering, and a millisecond wall clock.
// It wraps spf13/afero so mapper/container/repair can be exercised against
// an in-memory filesystem in tests instead of touching disk.
package hostfs

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// FS is the filesystem collaborator. All core packages that touch disk take
// an FS rather than calling os directly.
type FS struct {
	afero.Fs
}

// NewOS returns an FS backed by the real operating system filesystem.
func NewOS() *FS {
	return &FS{Fs: afero.NewOsFs()}
}

// NewMem returns an FS backed by an in-memory filesystem, for tests.
func NewMem() *FS {
	return &FS{Fs: afero.NewMemMapFs()}
}

// New wraps an arbitrary afero.Fs.
func New(fs afero.Fs) *FS {
	return &FS{Fs: fs}
}

// OpenAt opens a file for positioned reads (ReadAt). The returned file also
// satisfies io.ReaderAt, which the slide search and rs.Decode both rely on
// to avoid holding a full file in memory.
func (fs *FS) OpenAt(path string) (afero.File, error) {
	return fs.Open(path)
}

// CreateAt creates or truncates a file for positioned writes (WriteAt), used
// by the repair driver to patch reconstructed blocks back into place.
func (fs *FS) CreateAt(path string) (afero.File, error) {
	return fs.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
}

// Entry describes one file discovered by Walk.
type Entry struct {
	Path string // path relative to root
	Size int64
}

// Walk recursively enumerates regular files under root, skipping directories
// and files considered hidden or system (dotfiles, and any path component
// matching a name in skipNames).
func (fs *FS) Walk(root string, skipNames []string) ([]Entry, error) {
	skip := make(map[string]bool, len(skipNames))
	for _, n := range skipNames {
		skip[n] = true
	}

	var entries []Entry
	err := afero.Walk(fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		name := info.Name()
		if name != "." && strings.HasPrefix(name, ".") {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if skip[name] {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		entries = append(entries, Entry{Path: rel, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// ReadAtCloser is the minimum surface pkg/rs and pkg/search need from an
// open input file: positioned reads plus a close.
type ReadAtCloser interface {
	io.ReaderAt
	io.Closer
}

// WriteAtCloser is the minimum surface pkg/repair needs to patch
// reconstructed blocks back into a target file.
type WriteAtCloser interface {
	io.WriterAt
	io.Closer
}
