package cpio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/projecteru2/core/log"

	"github.com/projecteru2/bootkit/lock"
	"github.com/projecteru2/bootkit/lock/flock"
	"github.com/projecteru2/bootkit/utils"
)

// LoadFile reads an archive through a read-only mapping. A missing file is
// an empty archive, matching how ramdisks are created from scratch.
func LoadFile(path string) (*Archive, error) {
	data, release, err := utils.MapFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer release() //nolint:errcheck
	a, err := Load(data)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return a, nil
}

// WriteFile atomically replaces path with the serialized archive.
func WriteFile(path string, a *Archive) error {
	return utils.AtomicWriteFunc(path, 0o644, func(w io.Writer) error {
		_, err := a.WriteTo(w)
		return err
	})
}

// Update loads path, hands a working copy to fn and writes it back only if fn
// succeeds and asks for a commit. On any error the file is left untouched.
// The file is flocked for the duration when it already exists.
func Update(ctx context.Context, path string, fn func(*Archive) (commit bool, err error)) error {
	run := func() error {
		a, err := LoadFile(path)
		if err != nil {
			return err
		}
		commit, err := fn(a)
		if err != nil || !commit {
			return err
		}
		if err := WriteFile(path, a); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		log.WithFunc("cpio.Update").Infof(ctx, "dump cpio [%s] with %d entries", path, a.Len())
		return nil
	}
	if !utils.Exists(path) {
		return run()
	}
	return lock.WithLock(ctx, flock.New(path), run)
}
