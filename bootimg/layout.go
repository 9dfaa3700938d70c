package bootimg

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// On-disk header layouts, little endian and packed.

type rawV0 struct {
	Magic         [8]byte
	KernelSize    uint32
	KernelAddr    uint32
	RamdiskSize   uint32
	RamdiskAddr   uint32
	SecondSize    uint32
	SecondAddr    uint32
	TagsAddr      uint32
	PageSize      uint32
	HeaderVersion uint32 // extra_size on Samsung v0 images
	OSVersion     uint32
	Name          [16]byte
	Cmdline       [bootArgsSize]byte
	ID            [idSize]byte
	ExtraCmdline  [1024]byte
}

type rawV1 struct {
	V0                 rawV0
	RecoveryDtboSize   uint32
	RecoveryDtboOffset uint64
	HeaderSize         uint32
}

type rawV2 struct {
	V1      rawV1
	DtbSize uint32
	DtbAddr uint64
}

type rawPXA struct {
	Magic        [8]byte
	KernelSize   uint32
	KernelAddr   uint32
	RamdiskSize  uint32
	RamdiskAddr  uint32
	SecondSize   uint32
	SecondAddr   uint32
	ExtraSize    uint32
	Unknown      uint32
	TagsAddr     uint32
	PageSize     uint32
	Name         [24]byte
	Cmdline      [bootArgsSize]byte
	ID           [idSize]byte
	ExtraCmdline [1024]byte
}

type rawV3 struct {
	Magic         [8]byte
	KernelSize    uint32
	RamdiskSize   uint32
	OSVersion     uint32
	HeaderSize    uint32
	Reserved      [4]uint32
	HeaderVersion uint32
	Cmdline       [1536]byte
}

type rawV4 struct {
	V3            rawV3
	SignatureSize uint32
}

type rawVendorV3 struct {
	Magic         [8]byte
	HeaderVersion uint32
	PageSize      uint32
	KernelAddr    uint32
	RamdiskAddr   uint32
	RamdiskSize   uint32
	Cmdline       [2048]byte
	TagsAddr      uint32
	Name          [16]byte
	HeaderSize    uint32
	DtbSize       uint32
	DtbAddr       uint64
}

type rawVendorV4 struct {
	V3             rawVendorV3
	TableSize      uint32
	TableEntryNum  uint32
	TableEntrySize uint32
	BootconfigSize uint32
}

type rawTableEntry struct {
	RamdiskSize   uint32
	RamdiskOffset uint32
	RamdiskType   uint32
	Name          [32]byte
	BoardID       [16]uint32
}

var (
	sizeV0          = binary.Size(rawV0{})
	sizeV1          = binary.Size(rawV1{})
	sizeV2          = binary.Size(rawV2{})
	sizePXA         = binary.Size(rawPXA{})
	sizeV3          = binary.Size(rawV3{})
	sizeV4          = binary.Size(rawV4{})
	sizeVendorV3    = binary.Size(rawVendorV3{})
	sizeVendorV4    = binary.Size(rawVendorV4{})
	sizeTableEntry  = binary.Size(rawTableEntry{})
	headerSizeTable = map[Dialect]int{
		DialectV0:       sizeV0,
		DialectV1:       sizeV1,
		DialectV2:       sizeV2,
		DialectPXA:      sizePXA,
		DialectV3:       sizeV3,
		DialectV4:       sizeV4,
		DialectVendorV3: sizeVendorV3,
		DialectVendorV4: sizeVendorV4,
	}
)

func readRaw(b []byte, v any) error {
	return binary.Read(bytes.NewReader(b), binary.LittleEndian, v)
}

func writeRaw(v any) []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, v)
	return buf.Bytes()
}

// sniffDialect picks the dialect of the header at b.
func sniffDialect(b []byte) (Dialect, error) {
	if len(b) < 44 {
		return DialectUnknown, fmt.Errorf("%w: truncated header", ErrFormat)
	}
	switch string(b[:8]) {
	case bootMagic:
		if binary.LittleEndian.Uint32(b[36:]) >= pxaPageThreshold {
			return DialectPXA, nil
		}
		switch binary.LittleEndian.Uint32(b[40:]) {
		case 1:
			return DialectV1, nil
		case 2:
			return DialectV2, nil
		case 3:
			return DialectV3, nil
		case 4:
			return DialectV4, nil
		}
		return DialectV0, nil
	case vendorMagic:
		switch v := binary.LittleEndian.Uint32(b[8:]); v {
		case 3:
			return DialectVendorV3, nil
		case 4:
			return DialectVendorV4, nil
		default:
			return DialectUnknown, fmt.Errorf("%w: vendor header version %d", ErrFormat, v)
		}
	}
	return DialectUnknown, fmt.Errorf("%w: no header magic", ErrFormat)
}

// decodeHeader parses the header at the start of b.
func decodeHeader(b []byte) (*Header, error) {
	d, err := sniffDialect(b)
	if err != nil {
		return nil, err
	}
	if len(b) < headerSizeTable[d] {
		return nil, fmt.Errorf("%w: truncated %s header", ErrFormat, d)
	}
	h := &Header{Dialect: d}
	switch d {
	case DialectV0:
		var r rawV0
		err = readRaw(b, &r)
		h.fromV0(&r)
	case DialectV1:
		var r rawV1
		err = readRaw(b, &r)
		h.fromV1(&r)
	case DialectV2:
		var r rawV2
		err = readRaw(b, &r)
		h.fromV1(&r.V1)
		h.DtbSize, h.DtbAddr = r.DtbSize, r.DtbAddr
	case DialectPXA:
		var r rawPXA
		err = readRaw(b, &r)
		h.fromPXA(&r)
	case DialectV3:
		var r rawV3
		err = readRaw(b, &r)
		h.fromV3(&r)
	case DialectV4:
		var r rawV4
		err = readRaw(b, &r)
		h.fromV3(&r.V3)
		h.SignatureSize = r.SignatureSize
	case DialectVendorV3:
		var r rawVendorV3
		err = readRaw(b, &r)
		h.fromVendorV3(&r)
	case DialectVendorV4:
		var r rawVendorV4
		err = readRaw(b, &r)
		h.fromVendorV3(&r.V3)
		h.TableSize, h.TableEntryNum, h.TableEntrySize = r.TableSize, r.TableEntryNum, r.TableEntrySize
		h.BootconfigSize = r.BootconfigSize
	}
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s header: %w", ErrFormat, d, err)
	}
	if h.PageSize == 0 {
		return nil, fmt.Errorf("%w: zero page size", ErrFormat)
	}
	return h, nil
}

// encode renders h in its dialect's layout.
func (h *Header) encode() []byte {
	switch h.Dialect {
	case DialectV0:
		return writeRaw(h.toV0())
	case DialectV1:
		return writeRaw(h.toV1())
	case DialectV2:
		return writeRaw(&rawV2{V1: *h.toV1(), DtbSize: h.DtbSize, DtbAddr: h.DtbAddr})
	case DialectPXA:
		return writeRaw(h.toPXA())
	case DialectV3:
		return writeRaw(h.toV3())
	case DialectV4:
		return writeRaw(&rawV4{V3: *h.toV3(), SignatureSize: h.SignatureSize})
	case DialectVendorV3:
		return writeRaw(h.toVendorV3())
	case DialectVendorV4:
		return writeRaw(&rawVendorV4{
			V3:             *h.toVendorV3(),
			TableSize:      h.TableSize,
			TableEntryNum:  h.TableEntryNum,
			TableEntrySize: h.TableEntrySize,
			BootconfigSize: h.BootconfigSize,
		})
	}
	return nil
}

func (h *Header) fromV0(r *rawV0) {
	h.KernelSize, h.KernelAddr = r.KernelSize, r.KernelAddr
	h.RamdiskSize, h.RamdiskAddr = r.RamdiskSize, r.RamdiskAddr
	h.SecondSize, h.SecondAddr = r.SecondSize, r.SecondAddr
	h.TagsAddr, h.PageSize = r.TagsAddr, r.PageSize
	if h.Dialect == DialectV0 {
		h.ExtraSize = r.HeaderVersion
	}
	h.OSVersion = r.OSVersion
	h.Name = bytes.Clone(r.Name[:])
	h.Cmdline = bytes.Clone(r.Cmdline[:])
	h.ID = r.ID
	h.ExtraCmdline = bytes.Clone(r.ExtraCmdline[:])
}

func (h *Header) toV0() *rawV0 {
	r := &rawV0{
		KernelSize:  h.KernelSize,
		KernelAddr:  h.KernelAddr,
		RamdiskSize: h.RamdiskSize,
		RamdiskAddr: h.RamdiskAddr,
		SecondSize:  h.SecondSize,
		SecondAddr:  h.SecondAddr,
		TagsAddr:    h.TagsAddr,
		PageSize:    h.PageSize,
		OSVersion:   h.OSVersion,
		ID:          h.ID,
	}
	copy(r.Magic[:], bootMagic)
	r.HeaderVersion = h.Dialect.Version()
	if h.Dialect == DialectV0 {
		r.HeaderVersion = h.ExtraSize
	}
	copy(r.Name[:], h.Name)
	copy(r.Cmdline[:], h.Cmdline)
	copy(r.ExtraCmdline[:], h.ExtraCmdline)
	return r
}

func (h *Header) fromV1(r *rawV1) {
	h.fromV0(&r.V0)
	h.RecoveryDtboSize, h.RecoveryDtboOffset = r.RecoveryDtboSize, r.RecoveryDtboOffset
	h.HeaderSize = r.HeaderSize
}

func (h *Header) toV1() *rawV1 {
	return &rawV1{
		V0:                 *h.toV0(),
		RecoveryDtboSize:   h.RecoveryDtboSize,
		RecoveryDtboOffset: h.RecoveryDtboOffset,
		HeaderSize:         h.HeaderSize,
	}
}

func (h *Header) fromPXA(r *rawPXA) {
	h.KernelSize, h.KernelAddr = r.KernelSize, r.KernelAddr
	h.RamdiskSize, h.RamdiskAddr = r.RamdiskSize, r.RamdiskAddr
	h.SecondSize, h.SecondAddr = r.SecondSize, r.SecondAddr
	h.ExtraSize, h.Unknown = r.ExtraSize, r.Unknown
	h.TagsAddr, h.PageSize = r.TagsAddr, r.PageSize
	h.Name = bytes.Clone(r.Name[:])
	h.Cmdline = bytes.Clone(r.Cmdline[:])
	h.ID = r.ID
	h.ExtraCmdline = bytes.Clone(r.ExtraCmdline[:])
}

func (h *Header) toPXA() *rawPXA {
	r := &rawPXA{
		KernelSize:  h.KernelSize,
		KernelAddr:  h.KernelAddr,
		RamdiskSize: h.RamdiskSize,
		RamdiskAddr: h.RamdiskAddr,
		SecondSize:  h.SecondSize,
		SecondAddr:  h.SecondAddr,
		ExtraSize:   h.ExtraSize,
		Unknown:     h.Unknown,
		TagsAddr:    h.TagsAddr,
		PageSize:    h.PageSize,
		ID:          h.ID,
	}
	copy(r.Magic[:], bootMagic)
	copy(r.Name[:], h.Name)
	copy(r.Cmdline[:], h.Cmdline)
	copy(r.ExtraCmdline[:], h.ExtraCmdline)
	return r
}

func (h *Header) fromV3(r *rawV3) {
	h.KernelSize, h.RamdiskSize = r.KernelSize, r.RamdiskSize
	h.OSVersion, h.HeaderSize = r.OSVersion, r.HeaderSize
	h.Reserved = r.Reserved
	h.PageSize = v3PageSize
	h.Cmdline = bytes.Clone(r.Cmdline[:])
}

func (h *Header) toV3() *rawV3 {
	r := &rawV3{
		KernelSize:    h.KernelSize,
		RamdiskSize:   h.RamdiskSize,
		OSVersion:     h.OSVersion,
		HeaderSize:    h.HeaderSize,
		Reserved:      h.Reserved,
		HeaderVersion: h.Dialect.Version(),
	}
	copy(r.Magic[:], bootMagic)
	copy(r.Cmdline[:], h.Cmdline)
	return r
}

func (h *Header) fromVendorV3(r *rawVendorV3) {
	h.PageSize = r.PageSize
	h.KernelAddr, h.RamdiskAddr, h.RamdiskSize = r.KernelAddr, r.RamdiskAddr, r.RamdiskSize
	h.Cmdline = bytes.Clone(r.Cmdline[:])
	h.TagsAddr = r.TagsAddr
	h.Name = bytes.Clone(r.Name[:])
	h.HeaderSize, h.DtbSize, h.DtbAddr = r.HeaderSize, r.DtbSize, r.DtbAddr
}

func (h *Header) toVendorV3() *rawVendorV3 {
	r := &rawVendorV3{
		HeaderVersion: h.Dialect.Version(),
		PageSize:      h.PageSize,
		KernelAddr:    h.KernelAddr,
		RamdiskAddr:   h.RamdiskAddr,
		RamdiskSize:   h.RamdiskSize,
		TagsAddr:      h.TagsAddr,
		HeaderSize:    h.HeaderSize,
		DtbSize:       h.DtbSize,
		DtbAddr:       h.DtbAddr,
	}
	copy(r.Magic[:], vendorMagic)
	copy(r.Cmdline[:], h.Cmdline)
	copy(r.Name[:], h.Name)
	return r
}
