package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
)

// Format identifies a payload encoding by its leading magic bytes.
type Format int

const (
	FormatNone Format = iota
	FormatGzip
	FormatXZ
	FormatLZMA
	FormatBzip2
	FormatLZ4
	FormatLZ4Legacy
	FormatLZ4LG
	FormatZstd
	// Recognised but not supported as a codec.
	FormatLZOP
	// Not compression formats; reported so callers can unwrap them.
	FormatMTK
	FormatDTB
	FormatZImage
)

// SniffSize is the prefix length Detect needs to decide every format.
const SniffSize = 0x28

const (
	gzipMagic1     = "\x1f\x8b"
	gzipMagic2     = "\x1f\x9e"
	lzopMagic      = "\x89LZO"
	xzMagic        = "\xfd7zXZ"
	bzip2Magic     = "BZh"
	lzmaMagic      = "\x5d\x00\x00"
	lz4FrameMagic  = "\x04\x22\x4d\x18"
	lz4LegacyMagic = "\x02\x21\x4c\x18"
	zstdMagic      = "\x28\xb5\x2f\xfd"
	mtkMagic       = "\x88\x16\x88\x58"
	dtbMagic       = "\xd0\x0d\xfe\xed"
	zImageMagic    = "\x18\x28\x6f\x01"
	zImageOffset   = 0x24
)

var formatNames = map[Format]string{
	FormatNone:      "raw",
	FormatGzip:      "gzip",
	FormatXZ:        "xz",
	FormatLZMA:      "lzma",
	FormatBzip2:     "bzip2",
	FormatLZ4:       "lz4",
	FormatLZ4Legacy: "lz4_legacy",
	FormatLZ4LG:     "lz4_lg",
	FormatZstd:      "zstd",
	FormatLZOP:      "lzop",
	FormatMTK:       "mtk",
	FormatDTB:       "dtb",
	FormatZImage:    "zimage",
}

var formatExts = map[Format]string{
	FormatGzip:      ".gz",
	FormatXZ:        ".xz",
	FormatLZMA:      ".lzma",
	FormatBzip2:     ".bz2",
	FormatLZ4:       ".lz4",
	FormatLZ4Legacy: ".lz4",
	FormatLZ4LG:     ".lz4",
	FormatZstd:      ".zst",
	FormatLZOP:      ".lzo",
}

// Supported lists every format with a working reader and writer.
var Supported = []Format{
	FormatGzip, FormatXZ, FormatLZMA, FormatBzip2,
	FormatLZ4, FormatLZ4Legacy, FormatLZ4LG, FormatZstd,
}

func (f Format) String() string {
	if n, ok := formatNames[f]; ok {
		return n
	}
	return fmt.Sprintf("format(%d)", int(f))
}

// Ext returns the conventional file extension, or "" for non-compressed formats.
func (f Format) Ext() string { return formatExts[f] }

// Compressed reports whether f has a codec.
func (f Format) Compressed() bool { return f >= FormatGzip && f <= FormatZstd }

// CompressedAny also counts recognised but unsupported compression formats.
func (f Format) CompressedAny() bool { return f >= FormatGzip && f <= FormatLZOP }

// ParseFormat maps a CLI name to a codec format.
func ParseFormat(name string) (Format, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, f := range Supported {
		if formatNames[f] == name {
			return f, nil
		}
	}
	switch name {
	case "gz":
		return FormatGzip, nil
	case "bz2":
		return FormatBzip2, nil
	case "zst":
		return FormatZstd, nil
	}
	return FormatNone, fmt.Errorf("%w: %q (supported: %s)", ErrUnsupportedName, name, SupportedNames())
}

// SupportedNames returns the accepted format names joined by spaces.
func SupportedNames() string {
	names := make([]string, 0, len(Supported))
	for _, f := range Supported {
		names = append(names, formatNames[f])
	}
	return strings.Join(names, " ")
}

// FromExt guesses a format from a file name suffix. Only used to pick
// output names, never to decide how bytes are decoded.
func FromExt(name string) Format {
	for _, f := range []Format{FormatGzip, FormatXZ, FormatLZMA, FormatBzip2, FormatLZ4, FormatZstd} {
		if strings.HasSuffix(name, formatExts[f]) {
			return f
		}
	}
	return FormatNone
}

// Detect identifies the format from a prefix of at most SniffSize bytes.
// The lz4 legacy and LG variants share a magic; Detect reports legacy,
// DetectBlob tells them apart when the whole payload is available.
func Detect(buf []byte) Format {
	match := func(magic string) bool {
		return len(buf) >= len(magic) && string(buf[:len(magic)]) == magic
	}
	switch {
	case match(gzipMagic1), match(gzipMagic2):
		return FormatGzip
	case match(lzopMagic):
		return FormatLZOP
	case match(xzMagic):
		return FormatXZ
	case len(buf) >= 13 && match(lzmaMagic) && (buf[12] == 0xff || buf[12] == 0x00):
		return FormatLZMA
	case match(bzip2Magic):
		return FormatBzip2
	case match(lz4FrameMagic):
		return FormatLZ4
	case match(lz4LegacyMagic):
		return FormatLZ4Legacy
	case match(zstdMagic):
		return FormatZstd
	case match(mtkMagic):
		return FormatMTK
	case match(dtbMagic):
		return FormatDTB
	case len(buf) >= zImageOffset+len(zImageMagic) && bytes.Equal(buf[zImageOffset:zImageOffset+len(zImageMagic)], []byte(zImageMagic)):
		return FormatZImage
	}
	return FormatNone
}

// DetectBlob is Detect for a complete payload. It walks lz4 legacy blocks and
// reports FormatLZ4LG when a trailing size word overruns the buffer.
func DetectBlob(buf []byte) Format {
	f := Detect(buf)
	if f != FormatLZ4Legacy {
		return f
	}
	off := uint64(len(lz4LegacyMagic))
	size := uint64(len(buf))
	for off+4 <= size {
		blk := uint64(binary.LittleEndian.Uint32(buf[off:]))
		off += 4
		if blk == 0 && off == size {
			// Only the LG size trailer of an empty stream reads as a zero block.
			return FormatLZ4LG
		}
		if off+blk > size {
			return FormatLZ4LG
		}
		off += blk
	}
	return f
}
