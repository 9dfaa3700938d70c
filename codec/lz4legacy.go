package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
)

// lz4 legacy frames are a magic followed by (le32 size, block) pairs of at
// most 8MiB uncompressed each. The LG variant appends the le32 total size.
const (
	lz4LegacyBlockSize = 0x800000
	lz4LegacyMagicLE   = 0x184c2102
)

type lz4LegacyWriter struct {
	w     io.Writer
	lg    bool
	buf   []byte
	out   []byte
	total uint32
	err   error
}

func newLZ4LegacyWriter(w io.Writer, lg bool) (*lz4LegacyWriter, error) {
	if _, err := io.WriteString(w, lz4LegacyMagic); err != nil {
		return nil, err
	}
	return &lz4LegacyWriter{
		w:   w,
		lg:  lg,
		buf: make([]byte, 0, lz4LegacyBlockSize),
		out: make([]byte, 4+lz4.CompressBlockBound(lz4LegacyBlockSize)),
	}, nil
}

func (z *lz4LegacyWriter) Write(p []byte) (int, error) {
	if z.err != nil {
		return 0, z.err
	}
	n := 0
	for len(p) > 0 {
		room := lz4LegacyBlockSize - len(z.buf)
		chunk := min(room, len(p))
		z.buf = append(z.buf, p[:chunk]...)
		p = p[chunk:]
		n += chunk
		if len(z.buf) == lz4LegacyBlockSize {
			if z.err = z.flush(); z.err != nil {
				return n, z.err
			}
		}
	}
	return n, nil
}

func (z *lz4LegacyWriter) flush() error {
	if len(z.buf) == 0 {
		return nil
	}
	sz, err := lz4.CompressBlockHC(z.buf, z.out[4:], lz4.Level9, nil, nil)
	if err != nil {
		return fmt.Errorf("%w: lz4hc block: %w", ErrCodec, err)
	}
	binary.LittleEndian.PutUint32(z.out, uint32(sz)) //nolint:gosec // bounded by CompressBlockBound
	z.total += uint32(len(z.buf))                     //nolint:gosec
	z.buf = z.buf[:0]
	_, err = z.w.Write(z.out[:4+sz])
	return err
}

func (z *lz4LegacyWriter) Close() error {
	if z.err != nil {
		return z.err
	}
	if z.err = z.flush(); z.err != nil {
		return z.err
	}
	if z.lg {
		var tail [4]byte
		binary.LittleEndian.PutUint32(tail[:], z.total)
		if _, z.err = z.w.Write(tail[:]); z.err != nil {
			return z.err
		}
	}
	z.err = errors.New("lz4 legacy writer closed")
	return nil
}

type lz4LegacyReader struct {
	r       io.Reader
	in      []byte
	out     []byte
	pending []byte
	done    bool
}

func newLZ4LegacyReader(r io.Reader) *lz4LegacyReader {
	return &lz4LegacyReader{
		r:   r,
		in:  make([]byte, lz4.CompressBlockBound(lz4LegacyBlockSize)),
		out: make([]byte, lz4LegacyBlockSize),
	}
}

func (z *lz4LegacyReader) Read(p []byte) (int, error) {
	for len(z.pending) == 0 {
		if z.done {
			return 0, io.EOF
		}
		if err := z.next(); err != nil {
			return 0, err
		}
	}
	n := copy(p, z.pending)
	z.pending = z.pending[n:]
	return n, nil
}

// next decodes one block into pending. A short read after a complete size
// word is the LG trailer (or truncation, which the legacy format cannot tell
// apart) and ends the stream.
func (z *lz4LegacyReader) next() error {
	var word [4]byte
	n, err := io.ReadFull(z.r, word[:])
	switch {
	case n == 0 && (err == io.EOF || err == io.ErrUnexpectedEOF):
		z.done = true
		return nil
	case err != nil:
		return fmt.Errorf("%w: lz4 legacy block header: %w", ErrCodec, err)
	}
	size := binary.LittleEndian.Uint32(word[:])
	if size == lz4LegacyMagicLE {
		return nil
	}
	if size == 0 {
		z.done = true
		return nil
	}
	if int(size) > len(z.in) {
		// Too large to be a block, so it must be the LG size trailer.
		z.done = true
		return nil
	}
	n, err = io.ReadFull(z.r, z.in[:size])
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		z.done = true
		if n == 0 {
			return nil
		}
		return fmt.Errorf("%w: lz4 legacy block truncated", ErrCodec)
	}
	if err != nil {
		return err
	}
	out, err := lz4.UncompressBlock(z.in[:size], z.out)
	if err != nil {
		return fmt.Errorf("%w: lz4 legacy block: %w", ErrCodec, err)
	}
	z.pending = z.out[:out]
	return nil
}

func (z *lz4LegacyReader) Close() error { return nil }
