package cpio

import (
	"bytes"
	"fmt"

	"github.com/dustin/go-humanize"
	"go.pdmccormick.com/initramfs"
)

// Entry is one archive member. Data holds the link target for symlinks and
// is empty for directories.
type Entry struct {
	Mode      initramfs.Mode
	UID       uint32
	GID       uint32
	RdevMajor uint32
	RdevMinor uint32
	Data      []byte
}

// NewFile returns a regular file entry with the given permission bits.
func NewFile(perm uint32, data []byte) *Entry {
	return &Entry{Mode: initramfs.Mode_File | initramfs.Mode(perm&0o7777), Data: data}
}

// NewDir returns a directory entry with the given permission bits.
func NewDir(perm uint32) *Entry {
	return &Entry{Mode: initramfs.Mode_Dir | initramfs.Mode(perm&0o7777)}
}

// NewSymlink returns a symlink entry pointing at target.
func NewSymlink(target string) *Entry {
	return &Entry{Mode: initramfs.Mode_Symlink | 0o777, Data: []byte(target)}
}

// Clone returns a deep copy.
func (e *Entry) Clone() *Entry {
	c := *e
	c.Data = bytes.Clone(e.Data)
	return &c
}

// Equal reports whether two entries carry the same metadata and content.
func (e *Entry) Equal(o *Entry) bool {
	return e.Mode == o.Mode && e.UID == o.UID && e.GID == o.GID &&
		e.RdevMajor == o.RdevMajor && e.RdevMinor == o.RdevMinor &&
		bytes.Equal(e.Data, o.Data)
}

// Perm returns the permission and special bits.
func (e *Entry) Perm() uint32 { return uint32(e.Mode &^ initramfs.Mode_FileTypeMask) }

// String renders the entry like an ls -l row without the name.
func (e *Entry) String() string {
	return fmt.Sprintf("%s%8d%8d%8s%4d:%-8d",
		e.Mode, e.UID, e.GID, humanize.Bytes(uint64(len(e.Data))), e.RdevMajor, e.RdevMinor)
}
