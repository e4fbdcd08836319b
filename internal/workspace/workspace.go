// Package workspace hands out per-run scratch directories under an injected root.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/xid"
)

// Manager owns a temp root shared by concurrent runs. Directory names combine
// the caller's id with a fresh xid, so two runs never share a directory.
type Manager struct {
	root string
}

// Dir is one scratch directory handed out by a Manager.
type Dir struct {
	// ID is unique across the process lifetime and safe to use as a container name suffix.
	ID   string
	Path string
}

// NewManager creates the root if needed.
func NewManager(root string) (*Manager, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("workspace: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("workspace: create root: %w", err)
	}
	return &Manager{root: abs}, nil
}

// Root returns the absolute root path.
func (m *Manager) Root() string {
	return m.root
}

// Create makes a new directory named "<prefix>-<owner>-<xid>".
// os.Mkdir fails on an existing path, so a collision surfaces as an error.
func (m *Manager) Create(prefix, owner string) (*Dir, error) {
	id := strings.Join(nonEmpty(prefix, sanitize(owner), xid.New().String()), "-")
	path := filepath.Join(m.root, id)
	if err := os.Mkdir(path, 0o755); err != nil {
		return nil, fmt.Errorf("workspace: create %s: %w", id, err)
	}
	return &Dir{ID: id, Path: path}, nil
}

// WriteFile writes name inside the directory and returns its full path.
func (d *Dir) WriteFile(name string, data []byte) (string, error) {
	if name != filepath.Base(name) {
		return "", fmt.Errorf("workspace: invalid file name %q", name)
	}
	path := filepath.Join(d.Path, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("workspace: write %s: %w", name, err)
	}
	return path, nil
}

// Remove deletes the directory and everything in it.
func (d *Dir) Remove() error {
	return os.RemoveAll(d.Path)
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}

func nonEmpty(parts ...string) []string {
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
