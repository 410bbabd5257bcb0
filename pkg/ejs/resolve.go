package ejs

import (
	"io/fs"
	"os"
	"path"
	"path/filepath"
)

// DefaultExtension is appended to include and extend targets that have none.
const DefaultExtension = ".ejs"

// FileReader loads template sources for the file entry points, includes and
// layouts. os.ReadFile satisfies it through OSReader.
type FileReader interface {
	ReadFile(name string) ([]byte, error)
}

// Resolver maps a directive argument to a path, relative to the file that
// contains the directive.
type Resolver interface {
	Resolve(base, name string) string
}

// OSReader reads from the local filesystem.
type OSReader struct{}

func (OSReader) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(name)
}

// FSReader reads from an fs.FS.
type FSReader struct {
	FS fs.FS
}

func (r FSReader) ReadFile(name string) ([]byte, error) {
	return fs.ReadFile(r.FS, name)
}

// FileResolver joins names onto the directory of base using OS separators.
type FileResolver struct {
	Ext string
}

func (r FileResolver) Resolve(base, name string) string {
	p := filepath.Join(filepath.Dir(base), name)
	if filepath.Ext(name) == "" {
		p += r.ext()
	}
	return p
}

func (r FileResolver) ext() string {
	if r.Ext == "" {
		return DefaultExtension
	}
	return r.Ext
}

// SlashResolver is FileResolver for slash-separated namespaces such as fs.FS
// and the SQLite store.
type SlashResolver struct {
	Ext string
}

func (r SlashResolver) Resolve(base, name string) string {
	p := path.Join(path.Dir(base), name)
	if path.Ext(name) == "" {
		p += FileResolver(r).ext()
	}
	return p
}
