package bootimg

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/projecteru2/bootkit/codec"
)

// Header side file keys. The first four are understood by every tool that
// reads these files; the rest let Build work without a source image.
const (
	keyName         = "name"
	keyCmdline      = "cmdline"
	keyOSVersion    = "os_version"
	keyOSPatchLevel = "os_patch_level"
	keyDialect      = "dialect"
	keyPageSize     = "page_size"
	keyKernelAddr   = "kernel_addr"
	keyRamdiskAddr  = "ramdisk_addr"
	keySecondAddr   = "second_addr"
	keyTagsAddr     = "tags_addr"
	keyDtbAddr      = "dtb_addr"
	keyIDHash       = "id_hash"
	keyPXAUnknown   = "pxa_unknown"
	keyFormatSuffix = "_fmt"
)

// HeaderInfo is the header side file: ordered key=value lines.
type HeaderInfo struct {
	keys   []string
	values map[string]string
}

// NewHeaderInfo returns an empty side file.
func NewHeaderInfo() *HeaderInfo {
	return &HeaderInfo{values: map[string]string{}}
}

// ParseHeaderInfo reads key=value lines. Blank lines and '#' comments are
// skipped; a later duplicate key wins.
func ParseHeaderInfo(data []byte) (*HeaderInfo, error) {
	info := NewHeaderInfo()
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("%w: line %d: expected key=value", ErrHeaderFile, n)
		}
		info.Set(k, v)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHeaderFile, err)
	}
	return info, nil
}

// Get returns the value stored for key.
func (i *HeaderInfo) Get(key string) (string, bool) {
	v, ok := i.values[key]
	return v, ok
}

// Set stores key, keeping first-insertion order.
func (i *HeaderInfo) Set(key, value string) {
	if _, ok := i.values[key]; !ok {
		i.keys = append(i.keys, key)
	}
	i.values[key] = value
}

// Bytes renders the side file.
func (i *HeaderInfo) Bytes() []byte {
	var buf bytes.Buffer
	for _, k := range i.keys {
		fmt.Fprintf(&buf, "%s=%s\n", k, i.values[k])
	}
	return buf.Bytes()
}

// InfoFromImage captures the fields of img a rebuild needs.
func InfoFromImage(img *Image) *HeaderInfo {
	h := img.Header
	info := NewHeaderInfo()
	if h.Name != nil {
		info.Set(keyName, h.NameString())
	}
	info.Set(keyCmdline, h.CmdlineString())
	if version, patch := h.OSVersionString(); version != "" {
		info.Set(keyOSVersion, version)
		info.Set(keyOSPatchLevel, patch)
	}
	info.Set(keyDialect, h.Dialect.String())
	info.Set(keyPageSize, strconv.FormatUint(uint64(h.PageSize), 10))
	hex := func(v uint64) string { return fmt.Sprintf("0x%08x", v) }
	switch h.Dialect {
	case DialectV3, DialectV4:
	default:
		info.Set(keyKernelAddr, hex(uint64(h.KernelAddr)))
		info.Set(keyRamdiskAddr, hex(uint64(h.RamdiskAddr)))
		info.Set(keyTagsAddr, hex(uint64(h.TagsAddr)))
	}
	if !h.Dialect.Vendor() && h.Dialect != DialectV3 && h.Dialect != DialectV4 {
		info.Set(keySecondAddr, hex(uint64(h.SecondAddr)))
	}
	if h.Dialect == DialectV2 || h.Dialect.Vendor() {
		info.Set(keyDtbAddr, hex(h.DtbAddr))
	}
	if h.Dialect == DialectPXA {
		info.Set(keyPXAUnknown, hex(uint64(h.Unknown)))
	}
	if h.Dialect.hasID() {
		id := "sha1"
		if img.Flags.Has(FlagSHA256) {
			id = "sha256"
		}
		info.Set(keyIDHash, id)
	}
	for _, k := range []Kind{KindKernel, KindRamdisk, KindExtra} {
		if f, ok := img.formats[k]; ok {
			info.Set(formatKey(k), f.String())
		}
	}
	if len(img.vendorRamdisks) > 0 {
		info.Set(formatKey(KindRamdisk), img.vendorRamdisks[0].Format.String())
	}
	return info
}

func formatKey(k Kind) string {
	return strings.TrimSuffix(string(k), ".cpio") + keyFormatSuffix
}

// ApplyTo overrides the operator-editable fields of h.
func (i *HeaderInfo) ApplyTo(h *Header) error {
	if v, ok := i.Get(keyName); ok && h.Name != nil {
		if err := h.SetName(v); err != nil {
			return err
		}
	}
	if v, ok := i.Get(keyCmdline); ok {
		if err := h.SetCmdline(v); err != nil {
			return err
		}
	}
	if !h.hasOSVersion() {
		return nil
	}
	if v, ok := i.Get(keyOSVersion); ok {
		if err := h.SetOSVersion(v); err != nil {
			return err
		}
	}
	if v, ok := i.Get(keyOSPatchLevel); ok {
		if err := h.SetPatchLevel(v); err != nil {
			return err
		}
	}
	return nil
}

func (i *HeaderInfo) number(key string, def uint64) (uint64, error) {
	v, ok := i.Get(key)
	if !ok {
		return def, nil
	}
	n, err := strconv.ParseUint(strings.TrimSpace(v), 0, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q: %w", ErrHeaderFile, key, v, err)
	}
	return n, nil
}

func (i *HeaderInfo) format(k Kind) (codec.Format, error) {
	v, ok := i.Get(formatKey(k))
	if !ok || v == codec.FormatNone.String() {
		return codec.FormatNone, nil
	}
	f, err := codec.ParseFormat(v)
	if err != nil {
		return codec.FormatNone, fmt.Errorf("%w: %s: %w", ErrHeaderFile, formatKey(k), err)
	}
	return f, nil
}

// blankImage describes an image with no source bytes, so Repack can build
// one from components and the side file alone.
func (i *HeaderInfo) blankImage(set *ComponentSet) (*Image, error) {
	v, ok := i.Get(keyDialect)
	if !ok {
		return nil, fmt.Errorf("%w: %s is required to build without a source image", ErrHeaderFile, keyDialect)
	}
	d, err := ParseDialect(v)
	if err != nil {
		return nil, err
	}
	defPage := uint64(2048)
	if d != DialectV0 && d != DialectV1 && d != DialectV2 && d != DialectPXA {
		defPage = v3PageSize
	}
	page, err := i.number(keyPageSize, defPage)
	if err != nil {
		return nil, err
	}
	if page == 0 || page&(page-1) != 0 {
		return nil, fmt.Errorf("%w: page size %d is not a power of two", ErrHeaderFile, page)
	}
	h := newHeader(d, uint32(page))
	for key, dst := range map[string]*uint32{
		keyKernelAddr:  &h.KernelAddr,
		keyRamdiskAddr: &h.RamdiskAddr,
		keySecondAddr:  &h.SecondAddr,
		keyTagsAddr:    &h.TagsAddr,
	} {
		n, err := i.number(key, 0)
		if err != nil {
			return nil, err
		}
		*dst = uint32(n) //nolint:gosec // load addresses are 32-bit fields
	}
	if h.DtbAddr, err = i.number(keyDtbAddr, 0); err != nil {
		return nil, err
	}
	if d == DialectPXA {
		// The word PXA keeps where AOSP has page_size is what tells the two apart.
		n, err := i.number(keyPXAUnknown, pxaPageThreshold)
		if err != nil {
			return nil, err
		}
		h.Unknown = uint32(n) //nolint:gosec // 32-bit field
	}

	img := &Image{
		Header:  h,
		dhtbOff: -1,
		blobOff: -1,
		blocks:  map[Kind][]byte{},
		formats: map[Kind]codec.Format{},
	}
	if v, _ := i.Get(keyIDHash); v == "sha256" {
		img.Flags |= FlagSHA256
	}
	for _, k := range []Kind{KindKernel, KindRamdisk, KindExtra} {
		if img.formats[k], err = i.format(k); err != nil {
			return nil, err
		}
	}
	if d == DialectVendorV4 && len(set.vendor) > 0 {
		img.Flags |= FlagVendorTable
		for _, name := range set.VendorRamdiskNames() {
			vr := &VendorRamdisk{Name: name, Format: img.formats[KindRamdisk]}
			if name == "ramdisk" {
				vr.Name = ""
			}
			img.vendorRamdisks = append(img.vendorRamdisks, vr)
		}
	}
	return img, nil
}
