// Package staging holds attachment bytes between download and upload.
package staging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// unsafeChars matches everything outside the staged filename alphabet.
var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// SanitizeFilename maps a store filename onto [A-Za-z0-9._-]. Leading dots
// are replaced so the result can never be a hidden file or a parent reference.
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	clean := unsafeChars.ReplaceAllString(name, "_")
	clean = strings.TrimLeft(clean, ".")
	if clean == "" {
		return "attachment"
	}
	return clean
}

// Area is a staging directory on a filesystem.
type Area struct {
	fs  afero.Fs
	dir string
}

// New returns a staging area rooted at dir on fs.
func New(fs afero.Fs, dir string) *Area {
	return &Area{fs: fs, dir: dir}
}

// NewOS returns a staging area on the local filesystem. An empty dir uses
// a pbtransfer directory under the system temp dir.
func NewOS(dir string) *Area {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "pbtransfer")
	}
	return New(afero.NewOsFs(), dir)
}

// Dir returns the staging root.
func (a *Area) Dir() string {
	return a.dir
}

// Staged is one attachment written to the staging area.
type Staged struct {
	// Name is the sanitized filename to upload under.
	Name string
	// Path is the staging location of the bytes.
	Path string
	Size int64
}

// Write stores data for an attachment of a record. Paths are namespaced by
// collection and record and carry a random prefix, so collections running in
// parallel never share a directory. The written size is verified to be
// non-zero.
func (a *Area) Write(collection, recordID, name string, data []byte) (Staged, error) {
	clean := SanitizeFilename(name)
	dir := filepath.Join(a.dir, SanitizeFilename(collection), SanitizeFilename(recordID))
	if err := a.fs.MkdirAll(dir, 0o755); err != nil {
		return Staged{}, fmt.Errorf("create staging dir: %w", err)
	}

	path := filepath.Join(dir, uuid.New().String()[:8]+"_"+clean)
	if err := afero.WriteFile(a.fs, path, data, 0o600); err != nil {
		return Staged{}, fmt.Errorf("write staged file: %w", err)
	}

	info, err := a.fs.Stat(path)
	if err != nil {
		_ = a.fs.Remove(path)
		return Staged{}, fmt.Errorf("stat staged file: %w", err)
	}
	if info.Size() == 0 {
		_ = a.fs.Remove(path)
		return Staged{}, fmt.Errorf("staged file %s is empty", clean)
	}

	return Staged{Name: clean, Path: path, Size: info.Size()}, nil
}

// Open opens a staged file for reading.
func (a *Area) Open(s Staged) (io.ReadCloser, error) {
	f, err := a.fs.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("open staged file: %w", err)
	}
	return f, nil
}

// Remove deletes a staged file and, when it was the last one, its record
// directory. Collection directories are left in place.
func (a *Area) Remove(s Staged) error {
	if err := a.fs.Remove(s.Path); err != nil {
		return fmt.Errorf("remove staged file: %w", err)
	}
	dir := filepath.Dir(s.Path)
	if entries, err := afero.ReadDir(a.fs, dir); err == nil && len(entries) == 0 {
		_ = a.fs.Remove(dir)
	}
	return nil
}
