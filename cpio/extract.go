package cpio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/projecteru2/core/log"
)

// Extract writes the entry at p to out on the host filesystem.
func (a *Archive) Extract(ctx context.Context, p, out string) error {
	key, err := Normalize(p)
	if err != nil {
		return err
	}
	e, ok := a.entries[key]
	if !ok {
		return fmt.Errorf("extract %s: %w", key, ErrNotFound)
	}
	log.WithFunc("cpio.Extract").Infof(ctx, "extract [%s] to [%s]", key, out)
	return extractEntry(ctx, e, out)
}

// ExtractAll materializes every entry below dir, creating parents as needed.
func (a *Archive) ExtractAll(ctx context.Context, dir string) error {
	logger := log.WithFunc("cpio.ExtractAll")
	for _, key := range a.Paths() {
		out := filepath.Join(dir, filepath.FromSlash(key))
		if err := checkNoSymlink(dir, key, !a.entries[key].Mode.Symlink()); err != nil {
			return err
		}
		logger.Infof(ctx, "extract [%s] to [%s]", key, out)
		if err := extractEntry(ctx, a.entries[key], out); err != nil {
			return err
		}
	}
	return nil
}

func extractEntry(ctx context.Context, e *Entry, out string) error {
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil { //nolint:gosec // mirrors archive layout
		return fmt.Errorf("create parent of %s: %w", out, err)
	}
	perm := os.FileMode(e.Mode.Perms())
	switch {
	case e.Mode.Dir():
		if err := os.MkdirAll(out, perm); err != nil {
			return fmt.Errorf("mkdir %s: %w", out, err)
		}
		return os.Chmod(out, perm)
	case e.Mode.File():
		f, err := os.OpenFile(out, os.O_WRONLY|os.O_CREATE|os.O_TRUNC|syscall.O_NOFOLLOW, perm) //nolint:gosec // path checked by the caller
		if err != nil {
			return fmt.Errorf("create %s: %w", out, err)
		}
		if _, err := f.Write(e.Data); err != nil {
			_ = f.Close()
			return fmt.Errorf("write %s: %w", out, err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("close %s: %w", out, err)
		}
		return os.Chmod(out, perm)
	case e.Mode.Symlink():
		_ = os.Remove(out)
		if err := os.Symlink(string(e.Data), out); err != nil {
			return fmt.Errorf("symlink %s: %w", out, err)
		}
		return nil
	default:
		// Device nodes and fifos need privileges the tool does not assume.
		log.WithFunc("cpio.extract").Warnf(ctx, "skip special file %s (%s)", out, e.Mode)
		return nil
	}
}

// checkNoSymlink refuses to extract key when one of its parents below dir is
// a symlink, so an earlier member cannot redirect writes outside dir. The
// leaf itself is checked too unless the member replaces it with a symlink.
func checkNoSymlink(dir, key string, leaf bool) error {
	parts := strings.Split(key, "/")
	if !leaf {
		parts = parts[:len(parts)-1]
	}
	cur := dir
	for _, p := range parts {
		cur = filepath.Join(cur, p)
		info, err := os.Lstat(cur)
		if err != nil {
			return nil
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("extract %s: %w: %s is a symlink", key, ErrPathTraversal, cur)
		}
	}
	return nil
}
