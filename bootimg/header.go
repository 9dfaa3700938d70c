package bootimg

import (
	"bytes"
	"fmt"
)

const (
	bootMagic      = "ANDROID!"
	vendorMagic    = "VNDRBOOT"
	chromeosMagic  = "CHROMEOS"
	dhtbMagic      = "DHTB\x01\x00\x00\x00"
	blobMagic      = "-SIGNED-BY-SIGNBLOB-"
	seandroidMagic = "SEANDROIDENFORCE"
	lgBumpMagic    = "\x41\xa9\xe4\x67\x74\x4d\x1d\x1b\xa4\x29\xf2\xec\xea\x65\x52\x79"
	mtkMagic       = "\x88\x16\x88\x58"

	chromeosSize     = 65536
	dhtbSize         = 512
	blobSize         = 104
	blobSizeField    = 96
	mtkSize          = 512
	v3PageSize       = 4096
	avbBlockSize     = 4096
	pxaPageThreshold = 0x02000000
	bootArgsSize     = 512
	idSize           = 32
)

// Header is the decoded form of every dialect's header. Fields a dialect
// does not carry stay zero and are ignored when encoding.
type Header struct {
	Dialect Dialect

	KernelSize  uint32
	KernelAddr  uint32
	RamdiskSize uint32
	RamdiskAddr uint32
	SecondSize  uint32
	SecondAddr  uint32
	// ExtraSize is the Samsung v0 or PXA extra block.
	ExtraSize uint32
	Unknown   uint32
	TagsAddr  uint32
	PageSize  uint32
	OSVersion uint32

	// Name, Cmdline and ExtraCmdline hold the complete fixed-size fields.
	Name         []byte
	Cmdline      []byte
	ExtraCmdline []byte
	ID           [idSize]byte

	RecoveryDtboSize   uint32
	RecoveryDtboOffset uint64
	HeaderSize         uint32
	DtbSize            uint32
	DtbAddr            uint64
	Reserved           [4]uint32
	SignatureSize      uint32

	TableSize      uint32
	TableEntryNum  uint32
	TableEntrySize uint32
	BootconfigSize uint32
}

// Clone returns a deep copy.
func (h *Header) Clone() *Header {
	c := *h
	c.Name = bytes.Clone(h.Name)
	c.Cmdline = bytes.Clone(h.Cmdline)
	c.ExtraCmdline = bytes.Clone(h.ExtraCmdline)
	return &c
}

// Size is the encoded header length.
func (h *Header) Size() int { return headerSizeTable[h.Dialect] }

// Space is the page-aligned room the header occupies before the first block.
func (h *Header) Space() int {
	if h.Dialect.Vendor() {
		return align(h.Size(), int(h.PageSize))
	}
	return int(h.PageSize)
}

// hasHeaderSize reports whether the dialect records its own size.
func (h *Header) hasHeaderSize() bool {
	switch h.Dialect {
	case DialectV1, DialectV2, DialectV3, DialectV4, DialectVendorV3, DialectVendorV4:
		return true
	}
	return false
}

// hasOSVersion reports whether the dialect carries os_version.
func (h *Header) hasOSVersion() bool {
	switch h.Dialect {
	case DialectV0, DialectV1, DialectV2, DialectV3, DialectV4:
		return true
	}
	return false
}

// CmdlineString joins the command line fields up to their NULs.
func (h *Header) CmdlineString() string {
	return cString(h.Cmdline) + cString(h.ExtraCmdline)
}

// SetCmdline stores s, spilling into the extra field where the dialect has one.
func (h *Header) SetCmdline(s string) error {
	limit := len(h.Cmdline) + len(h.ExtraCmdline)
	if len(s) > limit {
		return fmt.Errorf("%w: cmdline is %d bytes, %s holds %d", ErrHeaderFile, len(s), h.Dialect, limit)
	}
	clear(h.Cmdline)
	clear(h.ExtraCmdline)
	n := copy(h.Cmdline, s)
	copy(h.ExtraCmdline, s[n:])
	return nil
}

// NameString returns the board name up to its NUL.
func (h *Header) NameString() string { return cString(h.Name) }

// SetName stores the board name.
func (h *Header) SetName(s string) error {
	if len(s) > len(h.Name) {
		return fmt.Errorf("%w: name %q longer than %d bytes", ErrHeaderFile, s, len(h.Name))
	}
	clear(h.Name)
	copy(h.Name, s)
	return nil
}

// OSVersionString decodes os_version as "A.B.C" and the patch level as
// "YYYY-MM". Both are empty when unset.
func (h *Header) OSVersionString() (version, patch string) {
	if h.OSVersion == 0 {
		return "", ""
	}
	v, p := h.OSVersion>>11, h.OSVersion&0x7ff
	version = fmt.Sprintf("%d.%d.%d", (v>>14)&0x7f, (v>>7)&0x7f, v&0x7f)
	patch = fmt.Sprintf("%d-%02d", (p>>4)+2000, p&0xf)
	return version, patch
}

// SetOSVersion replaces the version part of os_version.
func (h *Header) SetOSVersion(s string) error {
	var a, b, c uint32
	if _, err := fmt.Sscanf(s, "%d.%d.%d", &a, &b, &c); err != nil {
		return fmt.Errorf("%w: os_version %q: %w", ErrHeaderFile, s, err)
	}
	v := (a&0x7f)<<14 | (b&0x7f)<<7 | c&0x7f
	h.OSVersion = v<<11 | h.OSVersion&0x7ff
	return nil
}

// SetPatchLevel replaces the patch level part of os_version.
func (h *Header) SetPatchLevel(s string) error {
	var y, m uint32
	if _, err := fmt.Sscanf(s, "%d-%d", &y, &m); err != nil {
		return fmt.Errorf("%w: os_patch_level %q: %w", ErrHeaderFile, s, err)
	}
	if y < 2000 || y > 2127 || m > 12 {
		return fmt.Errorf("%w: os_patch_level %q out of range (2000-00 to 2127-12)", ErrHeaderFile, s)
	}
	h.OSVersion = h.OSVersion&^0x7ff | ((y-2000)<<4|m)&0x7ff
	return nil
}

// newHeader returns a zeroed header of dialect d with all fixed fields
// allocated, as Build needs when no source image exists.
func newHeader(d Dialect, pageSize uint32) *Header {
	h := &Header{Dialect: d, PageSize: pageSize}
	switch d {
	case DialectV0, DialectV1, DialectV2:
		h.Name = make([]byte, 16)
		h.Cmdline = make([]byte, bootArgsSize)
		h.ExtraCmdline = make([]byte, 1024)
	case DialectPXA:
		h.Name = make([]byte, 24)
		h.Cmdline = make([]byte, bootArgsSize)
		h.ExtraCmdline = make([]byte, 1024)
	case DialectV3, DialectV4:
		h.PageSize = v3PageSize
		h.Cmdline = make([]byte, 1536)
	case DialectVendorV3, DialectVendorV4:
		h.Name = make([]byte, 16)
		h.Cmdline = make([]byte, 2048)
	}
	return h
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}

func align(n, to int) int {
	if to <= 0 {
		return n
	}
	return (n + to - 1) / to * to
}
