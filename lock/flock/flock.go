package flock

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gofrs/flock"

	"github.com/projecteru2/bootkit/lock"
)

const retryDelay = 50 * time.Millisecond

var _ lock.Locker = (*Lock)(nil)

// Lock is an advisory lock on an existing file, normally the image or
// archive about to be rewritten. It is opened read-only and never created,
// so locking cannot leave stray files next to the target.
//
// In-process callers serialize on a size-1 channel; other processes are
// excluded with flock(2) on a fresh descriptor per acquisition.
type Lock struct {
	path string
	ch   chan struct{}
	fl   *flock.Flock
}

// New creates a Lock for path.
func New(path string) *Lock {
	return &Lock{path: path, ch: make(chan struct{}, 1)}
}

// Lock blocks until the lock is held or ctx is done.
func (l *Lock) Lock(ctx context.Context) error {
	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("acquire lock %s: %w", l.path, ctx.Err())
	}
	ok, err := l.acquire(func(fl *flock.Flock) (bool, error) {
		return fl.TryLockContext(ctx, retryDelay)
	})
	if err != nil {
		return fmt.Errorf("acquire flock %s: %w", l.path, err)
	}
	if !ok {
		return fmt.Errorf("acquire flock %s: %w", l.path, ctx.Err())
	}
	return nil
}

// TryLock returns (false, nil) when another holder has the lock.
func (l *Lock) TryLock(_ context.Context) (bool, error) {
	select {
	case l.ch <- struct{}{}:
	default:
		return false, nil
	}
	return l.acquire(func(fl *flock.Flock) (bool, error) {
		return fl.TryLock()
	})
}

// Unlock releases the lock.
func (l *Lock) Unlock(_ context.Context) error {
	var err error
	if l.fl != nil {
		err = l.fl.Unlock()
		l.fl = nil
	}
	select {
	case <-l.ch:
	default:
	}
	if err != nil {
		return fmt.Errorf("release flock %s: %w", l.path, err)
	}
	return nil
}

// acquire keeps the channel token only when the flock was taken, so every
// successful Lock/TryLock pairs with exactly one Unlock.
func (l *Lock) acquire(try func(*flock.Flock) (bool, error)) (bool, error) {
	fl := flock.New(l.path, flock.SetFlag(os.O_RDONLY))
	locked, err := try(fl)
	if err != nil || !locked {
		<-l.ch
		return false, err
	}
	l.fl = fl
	return true, nil
}
