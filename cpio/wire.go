package cpio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.pdmccormick.com/initramfs"
)

// firstInode matches the numbering used by the Android ramdisk tooling so
// rebuilt archives diff cleanly against theirs.
const firstInode = 300000

// Load parses a newc (070701/070702) stream. Parsing continues across
// trailers so concatenated archives merge, later members winning.
func Load(data []byte) (*Archive, error) {
	a := New()
	r := initramfs.NewReader(bytes.NewReader(data))
	trailers := 0
	for {
		hdr, err := r.Next()
		switch {
		case errors.Is(err, io.EOF):
			return a, nil
		case errors.Is(err, initramfs.ErrCompressedContentAhead):
			return nil, fmt.Errorf("%w: compressed data at member %d, decompress the ramdisk first", ErrStructure, a.Len())
		case err != nil:
			if trailers > 0 {
				// Garbage after a complete archive is ignored.
				return a, nil
			}
			return nil, fmt.Errorf("%w: read header: %w", ErrStructure, err)
		}
		if hdr.Trailer() {
			trailers++
			continue
		}

		// The member cannot be larger than the whole input.
		if int64(hdr.DataSize) > int64(len(data)) {
			return nil, fmt.Errorf("%w: member %q claims %d bytes, archive is %d", ErrStructure, hdr.Filename, hdr.DataSize, len(data))
		}
		buf := make([]byte, hdr.DataSize)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("%w: read %s: %w", ErrStructure, hdr.Filename, err)
		}

		name := strings.TrimLeft(hdr.Filename, "/")
		if name == "." || name == ".." || name == "" {
			continue
		}
		key, err := Normalize(name)
		if err != nil {
			return nil, fmt.Errorf("%w: member %q: %w", ErrStructure, hdr.Filename, err)
		}
		a.entries[key] = &Entry{
			Mode:      hdr.Mode,
			UID:       hdr.Uid,
			GID:       hdr.Gid,
			RdevMajor: hdr.RMajor,
			RdevMinor: hdr.RMinor,
			Data:      buf,
		}
	}
}

// Serialize writes the archive in path order followed by a trailer.
func (a *Archive) Serialize() []byte {
	var buf bytes.Buffer
	_, _ = a.WriteTo(&buf)
	return buf.Bytes()
}

// WriteTo streams the serialized archive to w.
func (a *Archive) WriteTo(w io.Writer) (int64, error) {
	cw := &countWriter{w: w}
	inode := uint32(firstInode)
	for _, name := range a.Paths() {
		e := a.entries[name]
		hdr := &initramfs.Header{
			Magic:    initramfs.Magic_070701,
			Inode:    inode,
			Mode:     e.Mode,
			Uid:      e.UID,
			Gid:      e.GID,
			NumLinks: 1,
			DataSize: uint32(len(e.Data)), //nolint:gosec // ramdisk members are far below 4GiB
			RMajor:   e.RdevMajor,
			RMinor:   e.RdevMinor,
			Filename: name,
		}
		inode++
		if err := writeMember(cw, hdr, e.Data); err != nil {
			return cw.n, fmt.Errorf("write %s: %w", name, err)
		}
	}
	trailer := &initramfs.Header{
		Magic:    initramfs.Magic_070701,
		Inode:    inode,
		Mode:     0o755,
		NumLinks: 1,
		Filename: initramfs.TrailerFilename,
	}
	if err := writeMember(cw, trailer, nil); err != nil {
		return cw.n, fmt.Errorf("write trailer: %w", err)
	}
	return cw.n, nil
}

func writeMember(cw *countWriter, hdr *initramfs.Header, data []byte) error {
	if _, err := hdr.WriteTo(cw); err != nil {
		return err
	}
	if err := cw.align4(); err != nil {
		return err
	}
	if _, err := cw.Write(data); err != nil {
		return err
	}
	return cw.align4()
}

type countWriter struct {
	w io.Writer
	n int64
}

func (c *countWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func (c *countWriter) align4() error {
	var zero [3]byte
	if pad := (4 - c.n%4) % 4; pad > 0 {
		_, err := c.Write(zero[:pad])
		return err
	}
	return nil
}
