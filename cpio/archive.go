// Package cpio models a newc ramdisk as a flat mapping from normalized path
// to entry. Directory semantics are derived from path prefixes on demand, so
// intermediate directories never need to exist as entries.
package cpio

import (
	"fmt"
	"maps"
	"path"
	"slices"
	"strings"
)

// Archive is an in-memory cpio archive.
type Archive struct {
	entries map[string]*Entry
}

// New returns an empty archive.
func New() *Archive {
	return &Archive{entries: map[string]*Entry{}}
}

// Normalize cleans p into the archive's key form: no leading slash, no
// dot segments. Paths that climb above the root are rejected.
func Normalize(p string) (string, error) {
	clean := strings.TrimLeft(path.Clean(strings.TrimLeft(p, "/")), "/")
	switch {
	case clean == "..", strings.HasPrefix(clean, "../"):
		return "", fmt.Errorf("%w: %q", ErrPathTraversal, p)
	case clean == "", clean == ".":
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	return clean, nil
}

// Len returns the number of entries.
func (a *Archive) Len() int { return len(a.entries) }

// Paths returns every entry path in iteration (serialization) order.
func (a *Archive) Paths() []string {
	return slices.Sorted(maps.Keys(a.entries))
}

// Get returns the entry at p.
func (a *Archive) Get(p string) (*Entry, bool) {
	key, err := Normalize(p)
	if err != nil {
		return nil, false
	}
	e, ok := a.entries[key]
	return e, ok
}

// Put stores e at p unconditionally, replacing whatever was there.
func (a *Archive) Put(p string, e *Entry) error {
	key, err := Normalize(p)
	if err != nil {
		return err
	}
	a.entries[key] = e
	return nil
}

// Clone returns a deep copy that can be mutated without affecting a.
func (a *Archive) Clone() *Archive {
	c := &Archive{entries: make(map[string]*Entry, len(a.entries))}
	for k, e := range a.entries {
		c.entries[k] = e.Clone()
	}
	return c
}

// Equal reports whether both archives hold the same paths and entries.
func (a *Archive) Equal(o *Archive) bool {
	return maps.EqualFunc(a.entries, o.entries, func(x, y *Entry) bool { return x.Equal(y) })
}

// Exists reports whether an entry is stored at p.
func (a *Archive) Exists(p string) bool {
	_, ok := a.Get(p)
	return ok
}

// Children returns the paths strictly below p, in order.
func (a *Archive) Children(p string) []string {
	key, err := Normalize(p)
	if err != nil {
		return nil
	}
	return a.under(key)
}

func (a *Archive) under(key string) []string {
	prefix := key + "/"
	var out []string
	for k := range a.entries {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return out
}

// Remove deletes the entry at p. A directory with children, explicit or
// implied, is only removed when recursive is set, and then with its subtree.
func (a *Archive) Remove(p string, recursive bool) error {
	key, err := Normalize(p)
	if err != nil {
		return err
	}
	_, ok := a.entries[key]
	children := a.under(key)
	if !ok && len(children) == 0 {
		return fmt.Errorf("remove %s: %w", key, ErrNotFound)
	}
	if len(children) > 0 && !recursive {
		return fmt.Errorf("remove %s: %w", key, ErrNotEmpty)
	}
	for _, c := range children {
		delete(a.entries, c)
	}
	delete(a.entries, key)
	return nil
}

// Mkdir creates a directory entry. An existing directory only has its
// permissions updated; any other entry type at p is a conflict.
func (a *Archive) Mkdir(perm uint32, p string) error {
	key, err := Normalize(p)
	if err != nil {
		return err
	}
	if e, ok := a.entries[key]; ok {
		if !e.Mode.Dir() {
			return fmt.Errorf("mkdir %s: %w: %s", key, ErrConflict, e.Mode)
		}
		e.Mode = NewDir(perm).Mode
		return nil
	}
	a.entries[key] = NewDir(perm)
	return nil
}

// Link creates a symlink at p. The target is not resolved.
func (a *Archive) Link(target, p string) error {
	key, err := Normalize(p)
	if err != nil {
		return err
	}
	if err := a.replaceable(key); err != nil {
		return fmt.Errorf("link %s: %w", key, err)
	}
	a.entries[key] = NewSymlink(target)
	return nil
}

// Add creates or replaces a regular file at p.
func (a *Archive) Add(perm uint32, p string, data []byte) error {
	key, err := Normalize(p)
	if err != nil {
		return err
	}
	if err := a.replaceable(key); err != nil {
		return fmt.Errorf("add %s: %w", key, err)
	}
	a.entries[key] = NewFile(perm, data)
	return nil
}

// replaceable allows overwriting anything at key, an empty directory
// included, as long as nothing lives below it.
func (a *Archive) replaceable(key string) error {
	if len(a.under(key)) > 0 {
		return fmt.Errorf("%w: path has children", ErrConflict)
	}
	return nil
}

// Move renames src to dst together with anything below src. Whatever
// occupied dst, including its subtree, is replaced.
func (a *Archive) Move(src, dst string) error {
	from, err := Normalize(src)
	if err != nil {
		return err
	}
	to, err := Normalize(dst)
	if err != nil {
		return err
	}
	e, ok := a.entries[from]
	children := a.under(from)
	if !ok && len(children) == 0 {
		return fmt.Errorf("move %s: %w", from, ErrNotFound)
	}
	if from == to {
		return nil
	}
	if strings.HasPrefix(to, from+"/") {
		return fmt.Errorf("move %s into itself: %w", from, ErrConflict)
	}

	// Detach the source subtree first: dst may be an ancestor of src.
	moved := make(map[string]*Entry, len(children)+1)
	for _, c := range children {
		moved[to+strings.TrimPrefix(c, from)] = a.entries[c]
		delete(a.entries, c)
	}
	if ok {
		moved[to] = e
		delete(a.entries, from)
	}

	for _, c := range a.under(to) {
		delete(a.entries, c)
	}
	delete(a.entries, to)
	maps.Copy(a.entries, moved)
	return nil
}

// List returns the paths at or below p ("" for the root). Without recursive
// only direct children are listed.
func (a *Archive) List(p string, recursive bool) ([]string, error) {
	base := ""
	if strings.Trim(p, "/") != "" {
		key, err := Normalize(p)
		if err != nil {
			return nil, err
		}
		base = key
	}
	var out []string
	for _, k := range a.Paths() {
		rel := k
		if base != "" {
			if k != base && !strings.HasPrefix(k, base+"/") {
				continue
			}
			rel = strings.TrimPrefix(strings.TrimPrefix(k, base), "/")
		}
		if !recursive && strings.Contains(rel, "/") {
			continue
		}
		out = append(out, k)
	}
	return out, nil
}
