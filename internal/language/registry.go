// Package language holds the fixed allow-list of languages the sandbox can run
// and how each one maps to a source file name and a container command.
package language

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/Harsh-BH/warden/internal/domain"
)

// ErrUnsupported is returned for a language outside the allow-list.
var ErrUnsupported = errors.New("unsupported language")

// ErrMissingPublicClass is returned when Java source has no public class to name the file after.
var ErrMissingPublicClass = errors.New("java source must declare exactly one public class")

var javaPublicClass = regexp.MustCompile(`public\s+class\s+([A-Za-z_$][A-Za-z0-9_$]*)`)

// Spec describes how one language is written to disk and launched.
type Spec struct {
	Name       domain.Language
	Version    string
	Compiler   string
	Image      string
	Extensions []string

	// Compiled languages write build artifacts next to the source, so their
	// workspace is mounted read-write.
	Compiled bool

	fileName func(code string) (string, error)
	command  func(file string) []string
}

// FileName returns the file the source must be written to.
func (s Spec) FileName(code string) (string, error) {
	return s.fileName(code)
}

// Command returns the container command that runs the given source file.
func (s Spec) Command(file string) []string {
	return s.command(file)
}

// Info converts the spec into its public API description.
func (s Spec) Info() domain.LanguageInfo {
	return domain.LanguageInfo{
		Name:       s.Name,
		Version:    s.Version,
		Compiler:   s.Compiler,
		Extensions: s.Extensions,
	}
}

// Registry is an immutable lookup of supported languages.
type Registry struct {
	specs      map[domain.Language]Spec
	extensions map[string]domain.Language
}

// NewRegistry builds the registry. Images are named imagePrefix + language,
// e.g. "warden-sandbox-python".
func NewRegistry(imagePrefix string) *Registry {
	specs := []Spec{
		{
			Name:       domain.LangPython,
			Version:    "3.12",
			Extensions: []string{"py"},
			fileName:   fixedName("script.py"),
			command: func(file string) []string {
				return []string{"python", "-u", file}
			},
		},
		{
			Name:       domain.LangNode,
			Version:    "20",
			Extensions: []string{"js", "mjs"},
			fileName:   fixedName("script.js"),
			command: func(file string) []string {
				return []string{"node", file}
			},
		},
		{
			Name:       domain.LangCpp,
			Version:    "17",
			Compiler:   "g++",
			Extensions: []string{"cpp", "cc", "cxx"},
			Compiled:   true,
			fileName:   fixedName("main.cpp"),
			command: func(file string) []string {
				return []string{"/bin/sh", "-c", fmt.Sprintf("g++ -std=c++17 -O2 %s -o main.out && ./main.out", file)}
			},
		},
		{
			Name:       domain.LangJava,
			Version:    "21",
			Compiler:   "javac",
			Extensions: []string{"java"},
			Compiled:   true,
			fileName:   javaFileName,
			command: func(file string) []string {
				class := strings.TrimSuffix(file, ".java")
				return []string{"/bin/sh", "-c", fmt.Sprintf("javac %s && java %s", file, class)}
			},
		},
	}

	r := &Registry{
		specs:      make(map[domain.Language]Spec, len(specs)),
		extensions: make(map[string]domain.Language),
	}
	for _, s := range specs {
		s.Image = imagePrefix + string(s.Name)
		r.specs[s.Name] = s
		for _, ext := range s.Extensions {
			r.extensions[ext] = s.Name
		}
	}
	return r
}

// Get returns the spec for lang or ErrUnsupported.
func (r *Registry) Get(lang domain.Language) (Spec, error) {
	s, ok := r.specs[lang]
	if !ok {
		return Spec{}, fmt.Errorf("%w: %q", ErrUnsupported, lang)
	}
	return s, nil
}

// IsSupported reports whether lang is in the allow-list.
func (r *Registry) IsSupported(lang domain.Language) bool {
	_, ok := r.specs[lang]
	return ok
}

// ForFileName infers the language from a file name's extension.
func (r *Registry) ForFileName(name string) (domain.Language, bool) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	lang, ok := r.extensions[ext]
	return lang, ok
}

// List returns all specs ordered by name.
func (r *Registry) List() []Spec {
	out := make([]Spec, 0, len(r.specs))
	for _, s := range r.specs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Images returns every sandbox image the registry refers to.
func (r *Registry) Images() []string {
	specs := r.List()
	images := make([]string, 0, len(specs))
	for _, s := range specs {
		images = append(images, s.Image)
	}
	return images
}

func fixedName(name string) func(string) (string, error) {
	return func(string) (string, error) { return name, nil }
}

func javaFileName(code string) (string, error) {
	m := javaPublicClass.FindStringSubmatch(code)
	if m == nil {
		return "", ErrMissingPublicClass
	}
	return m[1] + ".java", nil
}
