package bootimg

import (
	"bytes"
	"context"
	"crypto/sha1" //nolint:gosec // the header id is defined as SHA1 on older images
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"hash"
	"io"

	"github.com/projecteru2/core/log"

	"github.com/projecteru2/bootkit/codec"
	"github.com/projecteru2/bootkit/progress"
	bootimgprogress "github.com/projecteru2/bootkit/progress/bootimg"
)

const vbmetaDisableFlags = 3

// RepackOptions control Repack and Build.
type RepackOptions struct {
	// NoCompress embeds every file exactly as found.
	NoCompress bool
	// PatchVbmetaFlag sets the vbmeta flags to 3, disabling verity and
	// verification.
	PatchVbmetaFlag bool
}

type tableSlot struct {
	offset, size int
}

type builder struct {
	ctx     context.Context
	img     *Image
	set     *ComponentSet
	opts    RepackOptions
	tracker progress.Tracker

	h      *Header
	out    []byte
	hdrOff int
	offs   map[Kind]int
	slots  []tableSlot
}

// Repack rebuilds img around the components in set. Each component is
// recompressed with its original format unless it is already compressed
// or opts.NoCompress is set; a component whose content is unchanged keeps
// its original stored bytes.
func Repack(ctx context.Context, img *Image, set *ComponentSet, opts RepackOptions, tracker progress.Tracker) ([]byte, error) {
	b := &builder{
		ctx:     ctx,
		img:     img,
		set:     set,
		opts:    opts,
		tracker: progress.OrNop(tracker),
		h:       img.Header.Clone(),
		offs:    map[Kind]int{},
	}
	h := b.h
	h.KernelSize, h.RamdiskSize, h.SecondSize, h.ExtraSize = 0, 0, 0, 0
	h.RecoveryDtboSize, h.DtbSize, h.BootconfigSize = 0, 0, 0
	if set.Info != nil {
		if err := set.Info.ApplyTo(h); err != nil {
			return nil, err
		}
	}

	b.writePrefix()
	for _, step := range []func() error{
		b.writeKernel,
		b.writeRamdisk,
		b.writeSecond,
		b.writeExtra,
		b.writeRecoveryDtbo,
		b.writeDtb,
		b.writeSignature,
		b.writeVendorTable,
		b.writeBootconfig,
	} {
		if err := step(); err != nil {
			return nil, err
		}
	}
	total := b.writeTail()
	b.pageAlign()
	vbOff := b.writeVbmeta()
	// ChromeOS images are re-signed afterwards and must not be padded.
	if len(b.out) < len(img.data) && !img.Flags.Has(FlagChromeOS) {
		b.zeros(len(img.data) - len(b.out))
	}

	b.tracker.OnEvent(bootimgprogress.Event{Phase: bootimgprogress.PhaseWrite, Size: int64(len(b.out))})
	b.finishHeader()
	b.finishAVB(total, vbOff)
	b.finishWrappers(total)
	b.tracker.OnEvent(bootimgprogress.Event{Phase: bootimgprogress.PhaseDone, Size: int64(len(b.out))})
	return b.out, nil
}

// Build assembles an image from components and the header side file alone.
func Build(ctx context.Context, set *ComponentSet, opts RepackOptions, tracker progress.Tracker) ([]byte, error) {
	if set.Info == nil {
		return nil, fmt.Errorf("%w: %s is required to build without a source image", ErrHeaderFile, HeaderFile)
	}
	img, err := set.Info.blankImage(set)
	if err != nil {
		return nil, err
	}
	return Repack(ctx, img, set, opts, tracker)
}

func (b *builder) pos() int       { return len(b.out) }
func (b *builder) write(p []byte) { b.out = append(b.out, p...) }
func (b *builder) zeros(n int)    { b.out = append(b.out, make([]byte, n)...) }
func (b *builder) pageAlign()     { b.alignTo(int(b.h.PageSize)) }

func (b *builder) alignTo(to int) {
	rel := len(b.out) - b.hdrOff
	b.zeros(align(rel, to) - rel)
}

func (b *builder) component(k Kind, f codec.Format, n int) {
	b.tracker.OnEvent(bootimgprogress.Event{
		Phase:     bootimgprogress.PhaseComponent,
		Component: string(k),
		Format:    f.String(),
		Size:      int64(n),
	})
}

// file returns component k from the set, ignoring kinds the dialect has
// no block for.
func (b *builder) file(k Kind) ([]byte, bool) {
	data, ok := b.set.Get(k)
	if ok && !supports(b.h.Dialect, k) {
		log.WithFunc("bootimg.Repack").Warnf(b.ctx, "ignore [%s]: %s images have no such block", k, b.h.Dialect)
		return nil, false
	}
	return data, ok
}

func supports(d Dialect, k Kind) bool {
	switch k {
	case KindKernel, KindKernelDTB:
		return !d.Vendor()
	case KindSecond:
		return d == DialectV0 || d == DialectV1 || d == DialectV2 || d == DialectPXA
	case KindExtra:
		return d == DialectV0 || d == DialectPXA
	case KindRecoveryDtbo:
		return d == DialectV1 || d == DialectV2
	case KindDtb:
		return d == DialectV2 || d.Vendor()
	case KindBootconfig:
		return d == DialectVendorV4
	}
	return true
}

// encode picks the bytes stored for a component: the file as is when it is
// already compressed or compression is off, the original stored bytes when
// the file still equals their decoded content, else the file encoded with f.
func (b *builder) encode(name string, file, orig []byte, origFmt, f codec.Format) (data []byte, recompressed bool, err error) {
	if b.opts.NoCompress || !f.Compressed() || codec.Detect(file).CompressedAny() {
		return file, false, nil
	}
	if len(orig) > 0 && origFmt == f {
		if plain, err := transform(codec.Decompress, f, orig); err == nil && bytes.Equal(plain, file) {
			return orig, false, nil
		}
	}
	if data, err = transform(codec.Compress, f, file); err != nil {
		return nil, false, fmt.Errorf("compress %s: %w", name, err)
	}
	log.WithFunc("bootimg.encode").Debugf(b.ctx, "compress [%s] as %s: %d -> %d bytes", name, f, len(file), len(data))
	return data, true, nil
}

func transform(fn func(codec.Format, io.Reader, io.Writer) error, f codec.Format, in []byte) ([]byte, error) {
	var buf bytes.Buffer
	err := fn(f, bytes.NewReader(in), &buf)
	return buf.Bytes(), err
}

func (b *builder) writePrefix() {
	img := b.img
	b.write(img.data[:img.hdrOff])
	if img.dhtbOff >= 0 {
		clear(b.out[img.dhtbOff : img.dhtbOff+dhtbSize])
	}
	b.hdrOff = b.pos()
	space := b.h.Space()
	if img.hdrOff+space <= len(img.data) {
		b.write(img.data[img.hdrOff : img.hdrOff+space])
		return
	}
	b.zeros(space)
}

func (b *builder) writeKernel() error {
	img, h := b.img, b.h
	start := b.pos()
	b.offs[KindKernel] = start
	mtk, zimage := img.Flags.Has(FlagMTKKernel), img.Flags.Has(FlagZImage)
	if mtk {
		b.write(img.kernelMTK)
	}
	if zimage {
		b.write(img.zHead)
	}
	file, ok := b.file(KindKernel)
	switch {
	case ok:
		f := img.formats[KindKernel]
		orig := img.blocks[KindKernel]
		data, recompressed, err := b.encode(string(KindKernel), file, orig, f, f)
		if err != nil {
			return err
		}
		if zimage {
			data = b.fitPiggy(data, orig, recompressed, len(file))
		}
		b.write(data)
		b.component(KindKernel, f, len(data))
	case zimage:
		return fmt.Errorf("%w: %s is required inside a zImage wrapper", ErrMissingComponent, KindKernel)
	case mtk:
		return fmt.Errorf("%w: %s is required inside an MTK wrapper", ErrMissingComponent, KindKernel)
	}
	if zimage {
		b.write(img.zTail)
	}
	if dtb, ok := b.file(KindKernelDTB); ok {
		b.write(dtb)
		b.component(KindKernelDTB, codec.FormatNone, len(dtb))
	}
	h.KernelSize = uint32(b.pos() - start) //nolint:gosec // block sizes are 32-bit header fields
	if mtk {
		binary.LittleEndian.PutUint32(b.out[start+4:], h.KernelSize-mtkSize)
	}
	b.pageAlign()
	return nil
}

// fitPiggy keeps a zImage payload at its original size. An oversized
// payload falls back to the original; a smaller one is zero padded, with
// the decompressed length in the last word when it was freshly compressed.
func (b *builder) fitPiggy(data, orig []byte, recompressed bool, plainLen int) []byte {
	switch {
	case len(data) > len(orig):
		log.WithFunc("bootimg.fitPiggy").Warnf(b.ctx, "recompressed kernel is too large, using original kernel")
		return orig
	case len(data) == len(orig):
		return data
	}
	out := make([]byte, len(orig))
	copy(out, data)
	if recompressed && len(orig)-len(data) >= 4 {
		binary.LittleEndian.PutUint32(out[len(out)-4:], uint32(plainLen)) //nolint:gosec // kernel images are far below 4GiB
	}
	return out
}

func (b *builder) writeRamdisk() error {
	img, h := b.img, b.h
	start := b.pos()
	b.offs[KindRamdisk] = start
	mtk := img.Flags.Has(FlagMTKRamdisk)
	if mtk {
		b.write(img.ramdiskMTK)
	}
	body := b.pos()
	if img.Flags.Has(FlagVendorTable) {
		for _, vr := range img.vendorRamdisks {
			slot := tableSlot{offset: b.pos() - body}
			file, ok := b.set.VendorRamdisk(vr.FileName())
			if !ok {
				log.WithFunc("bootimg.writeRamdisk").Warnf(b.ctx, "vendor ramdisk [%s] missing, stored empty", vr.FileName())
				b.slots = append(b.slots, slot)
				continue
			}
			data, _, err := b.encode(VendorRamdiskDir+"/"+vr.FileName(), file, vr.raw, vr.Format, vr.Format)
			if err != nil {
				return err
			}
			b.write(data)
			slot.size = len(data)
			b.slots = append(b.slots, slot)
			b.component(Kind(VendorRamdiskDir+"/"+vr.FileName()+vendorRamdiskExt), vr.Format, len(data))
		}
	} else if file, ok := b.file(KindRamdisk); ok {
		origFmt := img.formats[KindRamdisk]
		f := origFmt
		if !b.opts.NoCompress && !h.Dialect.Vendor() && h.Dialect.Version() == 4 && f != codec.FormatLZ4Legacy {
			// v4 ramdisks are concatenated with vendor ramdisks at boot and must share their lz4 legacy framing.
			log.WithFunc("bootimg.writeRamdisk").Infof(b.ctx, "RAMDISK_FMT: [%s] -> [%s]", f, codec.FormatLZ4Legacy)
			f = codec.FormatLZ4Legacy
		}
		data, _, err := b.encode(string(KindRamdisk), file, img.blocks[KindRamdisk], origFmt, f)
		if err != nil {
			return err
		}
		b.write(data)
		b.component(KindRamdisk, f, len(data))
	} else if mtk {
		return fmt.Errorf("%w: %s is required inside an MTK wrapper", ErrMissingComponent, KindRamdisk)
	}
	h.RamdiskSize = uint32(b.pos() - start) //nolint:gosec // block sizes are 32-bit header fields
	if mtk {
		binary.LittleEndian.PutUint32(b.out[start+4:], h.RamdiskSize-mtkSize)
	}
	b.pageAlign()
	return nil
}

// writeRaw embeds k verbatim and returns its size.
func (b *builder) writeRaw(k Kind) uint32 {
	b.offs[k] = b.pos()
	data, ok := b.file(k)
	if !ok {
		return 0
	}
	b.write(data)
	b.component(k, codec.FormatNone, len(data))
	b.pageAlign()
	return uint32(len(data)) //nolint:gosec // block sizes are 32-bit header fields
}

func (b *builder) writeSecond() error {
	b.h.SecondSize = b.writeRaw(KindSecond)
	return nil
}

func (b *builder) writeExtra() error {
	b.offs[KindExtra] = b.pos()
	file, ok := b.file(KindExtra)
	if !ok {
		return nil
	}
	f := b.img.formats[KindExtra]
	data, _, err := b.encode(string(KindExtra), file, b.img.blocks[KindExtra], f, f)
	if err != nil {
		return err
	}
	b.write(data)
	b.component(KindExtra, f, len(data))
	b.h.ExtraSize = uint32(len(data)) //nolint:gosec // block sizes are 32-bit header fields
	b.pageAlign()
	return nil
}

func (b *builder) writeRecoveryDtbo() error {
	if b.set.Has(KindRecoveryDtbo) && supports(b.h.Dialect, KindRecoveryDtbo) {
		b.h.RecoveryDtboOffset = uint64(b.pos()) //nolint:gosec // non-negative
	}
	b.h.RecoveryDtboSize = b.writeRaw(KindRecoveryDtbo)
	return nil
}

func (b *builder) writeDtb() error {
	b.h.DtbSize = b.writeRaw(KindDtb)
	return nil
}

func (b *builder) writeSignature() error {
	if len(b.img.signature) > 0 {
		b.write(b.img.signature)
		b.pageAlign()
	}
	return nil
}

func (b *builder) writeVendorTable() error {
	img, h := b.img, b.h
	if !img.Flags.Has(FlagVendorTable) {
		return nil
	}
	var table []byte
	if len(img.vendorTable) > 0 {
		table = bytes.Clone(img.vendorTable)
	} else {
		for _, vr := range img.vendorRamdisks {
			e := rawTableEntry{RamdiskType: vr.Type, BoardID: vr.BoardID}
			copy(e.Name[:], vr.Name)
			table = append(table, writeRaw(&e)...)
		}
		h.TableEntryNum = uint32(len(img.vendorRamdisks)) //nolint:gosec // small table
		h.TableEntrySize = uint32(sizeTableEntry)         //nolint:gosec // constant
	}
	es := int(h.TableEntrySize)
	for i, s := range b.slots {
		binary.LittleEndian.PutUint32(table[i*es:], uint32(s.size))     //nolint:gosec // within ramdisk block
		binary.LittleEndian.PutUint32(table[i*es+4:], uint32(s.offset)) //nolint:gosec // within ramdisk block
	}
	h.TableSize = uint32(len(table)) //nolint:gosec // small table
	b.write(table)
	b.pageAlign()
	return nil
}

func (b *builder) writeBootconfig() error {
	b.h.BootconfigSize = b.writeRaw(KindBootconfig)
	return nil
}

// writeTail appends the vendor tail magic and returns the image size
// recorded in footers and wrappers.
func (b *builder) writeTail() int {
	switch {
	case b.img.Flags.Has(FlagSEAndroid):
		b.write([]byte(seandroidMagic))
		if b.img.Flags.Has(FlagDHTB) {
			b.write([]byte{0xff, 0xff, 0xff, 0xff})
		}
	case b.img.Flags.Has(FlagLGBump):
		b.write([]byte(lgBumpMagic))
	}
	return b.pos()
}

func (b *builder) writeVbmeta() int {
	if b.img.vbmeta == nil {
		return -1
	}
	b.alignTo(avbBlockSize)
	off := b.pos()
	b.write(b.img.vbmeta)
	return off
}

func (b *builder) finishHeader() {
	h := b.h
	if h.hasHeaderSize() {
		h.HeaderSize = uint32(h.Size()) //nolint:gosec // constant per dialect
	}
	if h.Dialect.hasID() {
		h.ID = b.computeID()
	}
	copy(b.out[b.hdrOff:], h.encode())
}

// computeID hashes each block followed by its little-endian size.
func (b *builder) computeID() [idSize]byte {
	h := b.h
	var sum hash.Hash = sha1.New() //nolint:gosec // format defined
	if b.img.Flags.Has(FlagSHA256) {
		sum = sha256.New()
	}
	add := func(off int, size uint32) {
		if size > 0 {
			sum.Write(b.out[off : off+int(size)])
		}
		_ = binary.Write(sum, binary.LittleEndian, size)
	}
	add(b.offs[KindKernel], h.KernelSize)
	add(b.offs[KindRamdisk], h.RamdiskSize)
	add(b.offs[KindSecond], h.SecondSize)
	if h.ExtraSize > 0 {
		add(b.offs[KindExtra], h.ExtraSize)
	}
	if v := h.Dialect.Version(); v == 1 || v == 2 {
		add(int(h.RecoveryDtboOffset), h.RecoveryDtboSize) //nolint:gosec // set from an output offset
	}
	if h.Dialect.Version() == 2 {
		add(b.offs[KindDtb], h.DtbSize)
	}
	var id [idSize]byte
	copy(id[:], sum.Sum(nil))
	return id
}

func (b *builder) finishAVB(total, vbOff int) {
	logger := log.WithFunc("bootimg.finishAVB")
	if b.img.footer == nil {
		if b.opts.PatchVbmetaFlag {
			logger.Warnf(b.ctx, "no AVB footer, vbmeta flags untouched")
		}
		return
	}
	if need := vbOff + len(b.img.vbmeta) + avbFooterSize; len(b.out) < need {
		b.zeros(need - len(b.out))
	}
	footer := b.out[len(b.out)-avbFooterSize:]
	copy(footer, b.img.footer)
	binary.BigEndian.PutUint64(footer[12:], uint64(total)) //nolint:gosec // non-negative
	binary.BigEndian.PutUint64(footer[20:], uint64(vbOff)) //nolint:gosec // non-negative
	if b.opts.PatchVbmetaFlag {
		logger.Infof(b.ctx, "set vbmeta flags to %d", vbmetaDisableFlags)
		binary.BigEndian.PutUint32(b.out[vbOff+avbFlagsOffset:], vbmetaDisableFlags)
	}
}

func (b *builder) finishWrappers(total int) {
	img := b.img
	if img.dhtbOff >= 0 {
		hdr := b.out[img.dhtbOff:]
		body := img.dhtbOff + dhtbSize
		copy(hdr, dhtbMagic)
		sum := sha256.Sum256(b.out[body:total])
		copy(hdr[8:], sum[:])
		binary.LittleEndian.PutUint32(hdr[48:], uint32(total-body)) //nolint:gosec // image sizes are 32-bit here
	}
	if img.blobOff >= 0 {
		binary.LittleEndian.PutUint32(b.out[img.blobOff+blobSizeField:], uint32(total-img.blobOff-blobSize)) //nolint:gosec // image sizes are 32-bit here
	}
}
