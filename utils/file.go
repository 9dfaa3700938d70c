package utils

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/projecteru2/core/log"
)

// EnsureDirs creates all directories with 0o755 permissions.
func EnsureDirs(dirs ...string) error {
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // unpacked components are world readable
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// Exists reports whether path exists at all.
func Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// RemoveFiles unlinks every path, ignoring ones that are already gone.
func RemoveFiles(ctx context.Context, paths ...string) []error {
	var errs []error
	for _, p := range paths {
		err := os.RemoveAll(p)
		switch {
		case err == nil:
			log.WithFunc("utils.RemoveFiles").Debugf(ctx, "removed %s", p)
		case !errors.Is(err, os.ErrNotExist):
			errs = append(errs, fmt.Errorf("remove %s: %w", p, err))
		}
	}
	return errs
}

// MapFile maps path read-only. The returned slice is only valid until
// release is called; callers copy anything they keep.
func MapFile(path string) (data []byte, release func() error, err error) {
	f, err := os.Open(path) //nolint:gosec // operator-supplied input
	if err != nil {
		return nil, nil, err
	}
	defer f.Close() //nolint:errcheck

	info, err := f.Stat()
	if err != nil {
		return nil, nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() == 0 {
		return []byte{}, func() error { return nil }, nil
	}
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	return m, m.Unmap, nil
}
