// Package codec wraps the compression libraries used inside Android boot
// images behind one streaming reader/writer interface keyed by Format.
package codec

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"
)

// NewReader returns a decoder for f reading from r.
func NewReader(f Format, r io.Reader) (io.ReadCloser, error) {
	switch f {
	case FormatGzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("%w: open gzip: %w", ErrCodec, err)
		}
		return zr, nil
	case FormatXZ:
		zr, err := xz.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("%w: open xz: %w", ErrCodec, err)
		}
		return io.NopCloser(zr), nil
	case FormatLZMA:
		zr, err := lzma.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("%w: open lzma: %w", ErrCodec, err)
		}
		return io.NopCloser(zr), nil
	case FormatBzip2:
		zr, err := bzip2.NewReader(r, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: open bzip2: %w", ErrCodec, err)
		}
		return zr, nil
	case FormatLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	case FormatLZ4Legacy, FormatLZ4LG:
		return newLZ4LegacyReader(r), nil
	case FormatZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("%w: open zstd: %w", ErrCodec, err)
		}
		return zr.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("%w: no decoder for %s", ErrUnsupportedName, f)
	}
}

// NewWriter returns an encoder for f writing to w. Close must be called to
// flush the trailer; it does not close w.
func NewWriter(f Format, w io.Writer) (io.WriteCloser, error) {
	var (
		zw  io.WriteCloser
		err error
	)
	switch f {
	case FormatGzip:
		zw, err = gzip.NewWriterLevel(w, gzip.BestCompression)
	case FormatXZ:
		zw, err = xz.WriterConfig{CheckSum: xz.CRC32}.NewWriter(w)
	case FormatLZMA:
		zw, err = lzma.NewWriter(w)
	case FormatBzip2:
		zw, err = bzip2.NewWriter(w, &bzip2.WriterConfig{Level: bzip2.BestCompression})
	case FormatLZ4:
		lw := lz4.NewWriter(w)
		err = lw.Apply(lz4.BlockSizeOption(lz4.Block4Mb), lz4.CompressionLevelOption(lz4.Level9))
		zw = lw
	case FormatLZ4Legacy:
		zw, err = newLZ4LegacyWriter(w, false)
	case FormatLZ4LG:
		zw, err = newLZ4LegacyWriter(w, true)
	case FormatZstd:
		zw, err = zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	default:
		return nil, fmt.Errorf("%w: no encoder for %s", ErrUnsupportedName, f)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: open %s encoder: %w", ErrCodec, f, err)
	}
	return zw, nil
}

// Decompress streams r through the decoder for f into w. FormatNone means
// detect from the magic. Empty input produces empty output.
func Decompress(f Format, r io.Reader, w io.Writer) error {
	br := bufio.NewReader(r)
	prefix, err := br.Peek(SniffSize)
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read header: %w", err)
	}
	if len(prefix) == 0 {
		return nil
	}
	sniffed := Detect(prefix)
	switch {
	case f == FormatNone:
		if !sniffed.Compressed() {
			return fmt.Errorf("%w: magic %x", ErrUnknownFormat, prefix[:min(len(prefix), 4)])
		}
		f = sniffed
	case !compatible(f, sniffed):
		return fmt.Errorf("%w: asserted %s, found %s", ErrFormatMismatch, f, sniffed)
	}
	zr, err := NewReader(f, br)
	if err != nil {
		return err
	}
	defer zr.Close() //nolint:errcheck
	if _, err := io.Copy(w, zr); err != nil {
		return fmt.Errorf("%w: decompress %s: %w", ErrCodec, f, err)
	}
	return nil
}

// Compress streams r through the encoder for f into w.
func Compress(f Format, r io.Reader, w io.Writer) error {
	if !f.Compressed() {
		return fmt.Errorf("%w: %s", ErrUnsupportedName, f)
	}
	zw, err := NewWriter(f, w)
	if err != nil {
		return err
	}
	if _, err := io.Copy(zw, r); err != nil {
		_ = zw.Close()
		return fmt.Errorf("%w: compress %s: %w", ErrCodec, f, err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("%w: finish %s: %w", ErrCodec, f, err)
	}
	return nil
}

func compatible(asserted, sniffed Format) bool {
	if asserted == sniffed {
		return true
	}
	legacy := func(f Format) bool { return f == FormatLZ4Legacy || f == FormatLZ4LG }
	return legacy(asserted) && legacy(sniffed)
}
