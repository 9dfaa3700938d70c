package bootimg

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/projecteru2/core/log"

	"github.com/projecteru2/bootkit/codec"
	"github.com/projecteru2/bootkit/utils"
)

const (
	fdtHeaderSize = 40
	fdtBeginNode  = 1
	dtbMagic      = "\xd0\x0d\xfe\xed"
	gzipPiggy     = "\x1f\x8b\x08\x00"

	avbFooterMagic = "AVBf"
	avbMagic       = "AVB0"
	avbFooterSize  = 64
	avbFlagsOffset = 120
)

// VendorRamdisk is one entry of a vendor v4 ramdisk table.
type VendorRamdisk struct {
	Name    string
	Type    uint32
	BoardID [16]uint32
	Format  codec.Format
	raw     []byte
}

// FileName is the component name the ramdisk is unpacked to.
func (v *VendorRamdisk) FileName() string {
	if v.Name == "" {
		return "ramdisk"
	}
	return v.Name
}

// Image is a parsed boot image. Component slices alias the input buffer,
// so an Image must not outlive the mapping it was parsed from.
type Image struct {
	Header *Header
	Flags  Flags

	data    []byte
	hdrOff  int
	dhtbOff int
	blobOff int
	tailOff int

	blocks  map[Kind][]byte
	formats map[Kind]codec.Format

	kernelMTK  []byte
	ramdiskMTK []byte
	zHead      []byte
	zTail      []byte

	signature      []byte
	vendorTable    []byte
	vendorRamdisks []*VendorRamdisk

	footer []byte
	vbmeta []byte
}

// Open maps path read-only and parses it. release unmaps the file and must
// be called once the Image is no longer used.
func Open(ctx context.Context, path string) (img *Image, release func() error, err error) {
	data, release, err := utils.MapFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	img, err = Parse(ctx, data)
	if err != nil {
		_ = release()
		return nil, nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return img, release, nil
}

// Parse locates the boot header inside data, skipping any vendor wrapper,
// and splits out every component.
func Parse(ctx context.Context, data []byte) (*Image, error) {
	img := &Image{
		data:    data,
		dhtbOff: -1,
		blobOff: -1,
		blocks:  map[Kind][]byte{},
		formats: map[Kind]codec.Format{},
	}
	off, err := img.scan()
	if err != nil {
		return nil, err
	}
	img.hdrOff = off
	if img.Header, err = decodeHeader(data[off:]); err != nil {
		return nil, err
	}
	if img.Header.Dialect.hasID() && binary.LittleEndian.Uint64(img.Header.ID[24:]) != 0 {
		img.Flags |= FlagSHA256
	}
	if err := img.splitBlocks(); err != nil {
		return nil, err
	}
	img.parseKernel(ctx)
	if err := img.parseRamdisk(); err != nil {
		return nil, err
	}
	if extra := img.blocks[KindExtra]; len(extra) > 0 {
		img.formats[KindExtra] = codec.DetectBlob(extra)
	}
	img.parseTail()
	log.WithFunc("bootimg.Parse").Debugf(ctx, "parsed %s image at offset %d, flags [%s]", img.Header.Dialect, off, img.Flags)
	return img, nil
}

// scan walks past wrapper headers to the first boot or vendor_boot magic.
func (img *Image) scan() (int, error) {
	magics := [][]byte{
		[]byte(chromeosMagic), []byte(dhtbMagic), []byte(blobMagic),
		[]byte(bootMagic), []byte(vendorMagic),
	}
	off := 0
	for off < len(img.data) {
		pos, which := -1, -1
		for i, m := range magics {
			if p := bytes.Index(img.data[off:], m); p >= 0 && (pos < 0 || p < pos) {
				pos, which = p, i
			}
		}
		if pos < 0 {
			break
		}
		pos += off
		switch string(magics[which]) {
		case chromeosMagic:
			img.Flags |= FlagChromeOS
			off = pos + chromeosSize
		case dhtbMagic:
			img.Flags |= FlagDHTB | FlagSEAndroid
			img.dhtbOff = pos
			off = pos + dhtbSize
		case blobMagic:
			img.Flags |= FlagBlob
			img.blobOff = pos
			off = pos + blobSize
		default:
			return pos, nil
		}
	}
	return 0, fmt.Errorf("%w: no boot image magic", ErrFormat)
}

func (img *Image) splitBlocks() error {
	h := img.Header
	payload := img.data[img.hdrOff:]
	page := int(h.PageSize)
	off := h.Space()
	take := func(size uint32, what Kind) ([]byte, error) {
		if size == 0 {
			return nil, nil
		}
		end := off + int(size)
		if end > len(payload) {
			return nil, fmt.Errorf("%w: %s block truncated (%d bytes past end)", ErrFormat, what, end-len(payload))
		}
		b := payload[off:end]
		off = align(end, page)
		return b, nil
	}
	for _, blk := range []struct {
		kind Kind
		size uint32
		dst  *[]byte
	}{
		{KindKernel, h.KernelSize, nil},
		{KindRamdisk, h.RamdiskSize, nil},
		{KindSecond, h.SecondSize, nil},
		{KindExtra, h.ExtraSize, nil},
		{KindRecoveryDtbo, h.RecoveryDtboSize, nil},
		{KindDtb, h.DtbSize, nil},
		{"signature", h.SignatureSize, &img.signature},
		{"vendor_ramdisk_table", h.TableSize, &img.vendorTable},
		{KindBootconfig, h.BootconfigSize, nil},
	} {
		b, err := take(blk.size, blk.kind)
		if err != nil {
			return err
		}
		switch {
		case blk.dst != nil:
			*blk.dst = b
		case len(b) > 0:
			img.blocks[blk.kind] = b
		}
	}
	img.tailOff = img.hdrOff + min(off, len(payload))
	return nil
}

func (img *Image) parseKernel(ctx context.Context) {
	k := img.blocks[KindKernel]
	if len(k) >= mtkSize && string(k[:len(mtkMagic)]) == mtkMagic {
		img.Flags |= FlagMTKKernel
		img.kernelMTK, k = k[:mtkSize], k[mtkSize:]
	}
	if off := findDTB(k); off > 0 {
		img.blocks[KindKernelDTB] = k[off:]
		k = k[:off]
	}
	if codec.Detect(k) == codec.FormatZImage {
		k = img.unwrapZImage(ctx, k)
	}
	img.setBlock(KindKernel, k)
	if len(k) > 0 {
		img.formats[KindKernel] = codec.DetectBlob(k)
	}
}

// unwrapZImage exposes the gzip piggy of an ARM zImage. The head and tail
// are kept so repack can rebuild the exact wrapper around a new payload.
func (img *Image) unwrapZImage(ctx context.Context, k []byte) []byte {
	logger := log.WithFunc("bootimg.unwrapZImage")
	gz := bytes.Index(k, []byte(gzipPiggy))
	if gz < 0 || len(k) < 48 {
		logger.Warnf(ctx, "could not find zImage piggy, keeping raw kernel")
		return k
	}
	start := binary.LittleEndian.Uint32(k[40:])
	end := binary.LittleEndian.Uint32(k[44:])
	size := end - start
	if end < start || size < 64 || int(size) > len(k) {
		logger.Warnf(ctx, "zImage header sizes out of range, keeping raw kernel")
		return k
	}
	piggyEnd := size
	for i := 15; i >= 0; i-- {
		o := binary.LittleEndian.Uint32(k[int(size)-64+4*i:])
		if o > size-0xff && o < size {
			piggyEnd = o
			break
		}
	}
	if piggyEnd == size || int(piggyEnd) <= gz {
		logger.Warnf(ctx, "could not find end of zImage piggy, keeping raw kernel")
		return k
	}
	img.Flags |= FlagZImage
	img.zHead = k[:gz]
	img.zTail = k[piggyEnd:]
	return k[gz:piggyEnd]
}

func (img *Image) parseRamdisk() error {
	r := img.blocks[KindRamdisk]
	if len(r) >= mtkSize && string(r[:len(mtkMagic)]) == mtkMagic {
		img.Flags |= FlagMTKRamdisk
		img.ramdiskMTK, r = r[:mtkSize], r[mtkSize:]
		img.setBlock(KindRamdisk, r)
	}
	h := img.Header
	if h.Dialect != DialectVendorV4 || len(img.vendorTable) == 0 {
		if len(r) > 0 {
			img.formats[KindRamdisk] = codec.DetectBlob(r)
		}
		return nil
	}

	img.Flags |= FlagVendorTable
	es := int(h.TableEntrySize)
	if es < sizeTableEntry || int(h.TableEntryNum)*es > len(img.vendorTable) {
		return fmt.Errorf("%w: vendor ramdisk table %d x %d bytes does not fit %d", ErrFormat, h.TableEntryNum, es, len(img.vendorTable))
	}
	seen := map[string]bool{}
	for i := range int(h.TableEntryNum) {
		var e rawTableEntry
		if err := readRaw(img.vendorTable[i*es:], &e); err != nil {
			return fmt.Errorf("%w: vendor ramdisk entry %d: %w", ErrFormat, i, err)
		}
		end := uint64(e.RamdiskOffset) + uint64(e.RamdiskSize)
		if end > uint64(len(r)) {
			return fmt.Errorf("%w: vendor ramdisk entry %d overruns ramdisk block", ErrFormat, i)
		}
		vr := &VendorRamdisk{
			Name:    cString(e.Name[:]),
			Type:    e.RamdiskType,
			BoardID: e.BoardID,
			raw:     r[e.RamdiskOffset:end],
		}
		if !validVendorName(vr.Name) {
			return fmt.Errorf("%w: vendor ramdisk entry %d has unsafe name %q", ErrFormat, i, vr.Name)
		}
		if seen[vr.FileName()] {
			return fmt.Errorf("%w: vendor ramdisk name %q used twice", ErrFormat, vr.FileName())
		}
		seen[vr.FileName()] = true
		vr.Format = codec.DetectBlob(vr.raw)
		img.vendorRamdisks = append(img.vendorRamdisks, vr)
	}
	return nil
}

// validVendorName accepts the empty name and a single path element, since
// names become file names below the vendor ramdisk directory.
func validVendorName(name string) bool {
	if name == "" {
		return true
	}
	return name != "." && name != ".." && !strings.ContainsAny(name, "/\\")
}

func (img *Image) parseTail() {
	tail := img.data[img.tailOff:]
	switch {
	case bytes.HasPrefix(tail, []byte(seandroidMagic)):
		img.Flags |= FlagSEAndroid
	case bytes.HasPrefix(tail, []byte(lgBumpMagic)):
		img.Flags |= FlagLGBump
	}

	if len(img.data) < avbFooterSize {
		return
	}
	footer := img.data[len(img.data)-avbFooterSize:]
	if string(footer[:len(avbFooterMagic)]) != avbFooterMagic {
		return
	}
	vbOff := binary.BigEndian.Uint64(footer[20:])
	vbSize := binary.BigEndian.Uint64(footer[28:])
	if vbOff+vbSize > uint64(len(img.data)) || vbSize < avbFlagsOffset+4 {
		return
	}
	vbmeta := img.data[vbOff : vbOff+vbSize]
	if string(vbmeta[:len(avbMagic)]) != avbMagic {
		return
	}
	img.Flags |= FlagAVB
	img.footer, img.vbmeta = footer, vbmeta
}

func (img *Image) setBlock(k Kind, b []byte) {
	if len(b) == 0 {
		delete(img.blocks, k)
		return
	}
	img.blocks[k] = b
}

// Component returns the stored bytes of k, still compressed and with any
// MTK or zImage wrapper removed.
func (img *Image) Component(k Kind) []byte { return img.blocks[k] }

// Format returns the compression of k as stored.
func (img *Image) Format(k Kind) codec.Format { return img.formats[k] }

// VendorRamdisks returns the vendor ramdisk table entries in table order.
func (img *Image) VendorRamdisks() []*VendorRamdisk { return img.vendorRamdisks }

// Size is the length of the source file.
func (img *Image) Size() int { return len(img.data) }

// findDTB returns the offset of the first plausible flattened device tree
// in b, or -1.
func findDTB(b []byte) int {
	for off := 0; off+fdtHeaderSize <= len(b); {
		i := bytes.Index(b[off:], []byte(dtbMagic))
		if i < 0 {
			return -1
		}
		cur := off + i
		off = cur + fdtHeaderSize
		rest := b[cur:]
		if len(rest) < fdtHeaderSize {
			return -1
		}
		total := binary.BigEndian.Uint32(rest[4:])
		structOff := binary.BigEndian.Uint32(rest[8:])
		if total > uint32(len(rest)) || total <= 0x48 { //nolint:gosec // bounded by image size
			continue
		}
		if uint64(structOff)+4 > uint64(len(rest)) {
			continue
		}
		if binary.BigEndian.Uint32(rest[structOff:]) != fdtBeginNode {
			continue
		}
		return cur
	}
	return -1
}
