package vocab

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the top-level structure of a vocabulary preload YAML file.
//
// Example:
//
//	user: "dr.walker"
//	concepts:
//	  - name: contacts
//	    pairs:
//	      - literal: "Tim"
//	        value: "Timothy Walker"
//	      - literal: "Timothy"
//	        value: "Timothy Walker"
type File struct {
	// User scopes the durable entries. An empty value falls back to the
	// user passed to [Preload].
	User string `yaml:"user"`

	// Concepts lists the names to upload together with their pairs.
	Concepts []Concept `yaml:"concepts"`
}

// Concept is one named vocabulary list inside a [File].
type Concept struct {
	Name  string `yaml:"name"`
	Pairs []Pair `yaml:"pairs"`
}

// Validate checks every concept name and pair list. It returns a joined error
// describing every violation found.
func (f *File) Validate() error {
	var errs []error
	seen := make(map[string]struct{}, len(f.Concepts))
	for i, c := range f.Concepts {
		if !ValidName(c.Name) {
			errs = append(errs, fmt.Errorf("concepts[%d]: invalid name %q", i, c.Name))
		}
		if _, dup := seen[c.Name]; dup {
			errs = append(errs, fmt.Errorf("concepts[%d]: duplicate name %q", i, c.Name))
		}
		seen[c.Name] = struct{}{}
		if err := CheckPairs(c.Pairs); err != nil {
			errs = append(errs, fmt.Errorf("concepts[%d] %q: %w", i, c.Name, err))
		}
	}
	return errors.Join(errs...)
}

// LoadFile reads and parses a vocabulary YAML file from disk.
func LoadFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("vocab: open vocabulary file %q: %w", path, err)
	}
	defer f.Close()

	vf, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("vocab: parse vocabulary file %q: %w", path, err)
	}
	return vf, nil
}

// LoadFromReader parses vocabulary YAML from an [io.Reader] and validates it.
func LoadFromReader(r io.Reader) (*File, error) {
	var vf File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&vf); err != nil {
		return nil, fmt.Errorf("vocab: decode yaml: %w", err)
	}
	if err := vf.Validate(); err != nil {
		return nil, fmt.Errorf("vocab: invalid vocabulary: %w", err)
	}
	return &vf, nil
}

// Preload uploads every concept of f into store, replacing existing entries of
// the same name. defaultUser is used when f does not name a user. Returns the
// number of concepts written; a store error aborts the preload.
func Preload(ctx context.Context, store Store, defaultUser string, f *File) (int, error) {
	if f == nil {
		return 0, errors.New("vocab: file must not be nil")
	}
	user := f.User
	if user == "" {
		user = defaultUser
	}
	for i, c := range f.Concepts {
		if err := store.Replace(ctx, user, c.Name, c.Pairs); err != nil {
			return i, fmt.Errorf("vocab: preload %q: %w", c.Name, err)
		}
	}
	return len(f.Concepts), nil
}
