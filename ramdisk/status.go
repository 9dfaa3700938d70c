// Package ramdisk implements the root-patching operations on a ramdisk
// archive: status probing, patching, stock backup and restore.
package ramdisk

import (
	"errors"

	"github.com/projecteru2/bootkit/cpio"
)

// Status is the bit field reported by Test.
type Status int

const (
	StatusStock       Status = 0
	StatusPatched     Status = 0x1
	StatusUnsupported Status = 0x2
	StatusSonyInit    Status = 0x4
)

var (
	// ErrNoBackup is returned by Restore when the archive carries no backup subtree.
	ErrNoBackup = errors.New("no backup present")
	// ErrNoDigest is returned when no stock SHA1 is recorded anywhere.
	ErrNoDigest = errors.New("no stock sha1 recorded")
	// ErrForeignRoot is returned when patching an archive already modified by another root solution.
	ErrForeignRoot = errors.New("ramdisk modified by an unsupported root solution")
)

var (
	unsupportedMarkers = []string{
		"sbin/launch_daemonsu.sh",
		"sbin/su",
		"init.xposed.rc",
		"boot/sbin/launch_daemonsu.sh",
	}
	patchedMarkers = []string{
		markerPath,
		"init.magisk.rc",
		"overlay/init.magisk.rc",
	}
)

const sonyInit = "init.real"

// Test inspects a. An unsupported ramdisk reports only StatusUnsupported.
func Test(a *cpio.Archive) Status {
	for _, p := range unsupportedMarkers {
		if a.Exists(p) {
			return StatusUnsupported
		}
	}
	st := StatusStock
	for _, p := range patchedMarkers {
		if a.Exists(p) {
			st |= StatusPatched
			break
		}
	}
	if a.Exists(sonyInit) {
		st |= StatusSonyInit
	}
	return st
}

// Patched reports the 0x1 bit.
func (s Status) Patched() bool { return s&StatusPatched != 0 }

// Unsupported reports the 0x2 bit.
func (s Status) Unsupported() bool { return s&StatusUnsupported != 0 }
