package bootimg

import (
	"bytes"
	"context"
	"crypto/sha1" //nolint:gosec // header id
	"crypto/sha256"
	"encoding/binary"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projecteru2/bootkit/codec"
	"github.com/projecteru2/bootkit/progress"
	bootimgprogress "github.com/projecteru2/bootkit/progress/bootimg"
)

func noise(n int, seed uint64) []byte {
	r := rand.New(rand.NewPCG(seed, seed+1)) //nolint:gosec // test data
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(r.Uint32())
	}
	return b
}

func text(s string, n int) []byte {
	return bytes.Repeat([]byte(s), n)
}

func compress(t *testing.T, f codec.Format, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, codec.Compress(f, bytes.NewReader(data), &buf))
	return buf.Bytes()
}

func build(t *testing.T, info string, comps map[Kind][]byte, vendor map[string][]byte) []byte {
	t.Helper()
	set := NewComponentSet()
	for k, v := range comps {
		set.Set(k, v)
	}
	for n, v := range vendor {
		set.SetVendorRamdisk(n, v)
	}
	var err error
	set.Info, err = ParseHeaderInfo([]byte(info))
	require.NoError(t, err)
	out, err := Build(context.Background(), set, RepackOptions{}, nil)
	require.NoError(t, err)
	return out
}

func unpack(t *testing.T, image []byte, opts UnpackOptions) (*Image, *ComponentSet, Status) {
	t.Helper()
	img, err := Parse(context.Background(), image)
	require.NoError(t, err)
	set, status, err := Unpack(context.Background(), img, opts, nil)
	require.NoError(t, err)
	return img, set, status
}

func requireRoundTrip(t *testing.T, image []byte) {
	t.Helper()
	for _, keep := range []bool{false, true} {
		img, set, _ := unpack(t, image, UnpackOptions{NoDecompress: keep, DumpHeader: true})
		out, err := Repack(context.Background(), img, set, RepackOptions{}, nil)
		require.NoError(t, err)
		require.Equal(t, len(image), len(out), "noDecompress=%v", keep)
		require.True(t, bytes.Equal(image, out), "noDecompress=%v: repack differs", keep)
	}
}

const v0Info = "dialect=aosp_v0\nname=bootkit\ncmdline=console=ttyMSM0 androidboot.hardware=qcom\n" +
	"os_version=11.0.0\nos_patch_level=2021-05\nkernel_addr=0x10008000\nramdisk_addr=0x11000000\ntags_addr=0x10000100\n"

func v0Image(t *testing.T) []byte {
	return build(t, v0Info+"kernel_fmt=gzip\nramdisk_fmt=gzip\n", map[Kind][]byte{
		KindKernel:  text("arm64 kernel image ", 300),
		KindRamdisk: text("070701 ramdisk ", 400),
		KindSecond:  text("second stage ", 10),
	}, nil)
}

func fakeDTB() []byte {
	dtb := make([]byte, 0x100)
	copy(dtb, dtbMagic)
	binary.BigEndian.PutUint32(dtb[4:], uint32(len(dtb)))
	binary.BigEndian.PutUint32(dtb[8:], 0x48)
	binary.BigEndian.PutUint32(dtb[0x48:], fdtBeginNode)
	return dtb
}

func mtkWrap(name string, payload []byte) []byte {
	hdr := make([]byte, mtkSize)
	copy(hdr, mtkMagic)
	binary.LittleEndian.PutUint32(hdr[4:], uint32(len(payload)))
	copy(hdr[8:], name)
	return append(hdr, payload...)
}

// zImageWrap builds an ARM zImage around a gzip piggy: the header at 0x24
// holds the magic and start/end words, the tail holds the piggy end offset.
func zImageWrap(piggy []byte) []byte {
	head := make([]byte, 0x30)
	tail := make([]byte, 16)
	size := len(head) + len(piggy) + len(tail)
	copy(head[0x24:], "\x18\x28\x6f\x01")
	binary.LittleEndian.PutUint32(head[40:], 0)
	binary.LittleEndian.PutUint32(head[44:], uint32(size))
	binary.LittleEndian.PutUint32(tail, uint32(len(head)+len(piggy)))
	out := append(head, piggy...)
	return append(out, tail...)
}

func padTo(b []byte, base, page int) []byte {
	rel := len(b) - base
	return append(b, make([]byte, align(rel, page)-rel)...)
}

func TestRoundTripDialects(t *testing.T) {
	gz := func(b []byte) []byte { return compress(t, codec.FormatGzip, b) }
	kernel := text("Image kernel payload ", 256)
	ramdisk := text("070701 cpio payload ", 256)

	cases := map[string][]byte{
		"v0": v0Image(t),
		"v0 samsung extra": build(t, v0Info, map[Kind][]byte{
			KindKernel:  kernel,
			KindRamdisk: gz(ramdisk),
			KindExtra:   text("samsung dt ", 40),
		}, nil),
		"v0 appended dtb": build(t, v0Info, map[Kind][]byte{
			KindKernel:  append(gz(kernel), fakeDTB()...),
			KindRamdisk: gz(ramdisk),
		}, nil),
		"v1": build(t, "dialect=aosp_v1\nkernel_fmt=gzip\nramdisk_fmt=gzip\n", map[Kind][]byte{
			KindKernel:       kernel,
			KindRamdisk:      ramdisk,
			KindRecoveryDtbo: text("dtbo ", 50),
		}, nil),
		"v2": build(t, "dialect=aosp_v2\ndtb_addr=0x01f00000\nramdisk_fmt=lz4_legacy\n", map[Kind][]byte{
			KindKernel:       kernel,
			KindRamdisk:      ramdisk,
			KindRecoveryDtbo: text("dtbo ", 50),
			KindDtb:          fakeDTB(),
		}, nil),
		"v2 sha256 id": build(t, "dialect=aosp_v2\nid_hash=sha256\n", map[Kind][]byte{
			KindKernel:  kernel,
			KindRamdisk: ramdisk,
			KindDtb:     fakeDTB(),
		}, nil),
		"pxa": build(t, "dialect=pxa\nname=pxa1908\nramdisk_fmt=gzip\n", map[Kind][]byte{
			KindKernel:  kernel,
			KindRamdisk: ramdisk,
			KindExtra:   text("pxa extra ", 30),
		}, nil),
		"v3": build(t, "dialect=aosp_v3\nos_version=12.0.0\nos_patch_level=2022-01\nkernel_fmt=lz4\nramdisk_fmt=gzip\n", map[Kind][]byte{
			KindKernel:  kernel,
			KindRamdisk: ramdisk,
		}, nil),
		"v4": build(t, "dialect=aosp_v4\nramdisk_fmt=lz4_legacy\nkernel_fmt=zstd\n", map[Kind][]byte{
			KindKernel:  kernel,
			KindRamdisk: ramdisk,
		}, nil),
		"vendor v3": build(t, "dialect=vendor_v3\nname=vendor\nramdisk_fmt=xz\n", map[Kind][]byte{
			KindRamdisk: ramdisk,
			KindDtb:     fakeDTB(),
		}, nil),
		"vendor v4 table": build(t, "dialect=vendor_v4\nramdisk_fmt=gzip\n", map[Kind][]byte{
			KindDtb:        fakeDTB(),
			KindBootconfig: []byte("androidboot.hardware=bootkit\n"),
		}, map[string][]byte{
			"ramdisk":  ramdisk,
			"recovery": text("070701 recovery ", 64),
		}),
		"mtk": build(t, v0Info, map[Kind][]byte{
			KindKernel:  mtkWrap("KERNEL", gz(kernel)),
			KindRamdisk: mtkWrap("ROOTFS", gz(ramdisk)),
		}, nil),
		"zimage": build(t, v0Info, map[Kind][]byte{
			KindKernel:  zImageWrap(gz(noise(4096, 7))),
			KindRamdisk: gz(ramdisk),
		}, nil),
	}
	for name, image := range cases {
		t.Run(name, func(t *testing.T) {
			requireRoundTrip(t, image)
		})
	}
}

func TestRoundTripWrappers(t *testing.T) {
	stock := v0Image(t)
	page := 2048

	dhtb := make([]byte, dhtbSize)
	dhtb = append(dhtb, stock...)
	dhtb = append(dhtb, seandroidMagic...)
	dhtb = append(dhtb, 0xff, 0xff, 0xff, 0xff)
	total := len(dhtb)
	copy(dhtb, dhtbMagic)
	sum := sha256.Sum256(dhtb[dhtbSize:total])
	copy(dhtb[8:], sum[:])
	binary.LittleEndian.PutUint32(dhtb[48:], uint32(total-dhtbSize))
	dhtb = padTo(dhtb, dhtbSize, page)

	blob := make([]byte, blobSize)
	copy(blob, blobMagic)
	blob = append(blob, stock...)
	binary.LittleEndian.PutUint32(blob[blobSizeField:], uint32(len(stock)))

	chromeos := make([]byte, chromeosSize)
	copy(chromeos, chromeosMagic)
	chromeos = append(chromeos, stock...)

	cases := map[string]struct {
		image []byte
		flags Flags
	}{
		"dhtb":      {dhtb, FlagDHTB | FlagSEAndroid},
		"blob":      {blob, FlagBlob},
		"seandroid": {padTo(append(bytes.Clone(stock), seandroidMagic...), 0, page), FlagSEAndroid},
		"lg bump":   {padTo(append(bytes.Clone(stock), lgBumpMagic...), 0, page), FlagLGBump},
		"chromeos":  {chromeos, FlagChromeOS},
		"avb":       {avbWrap(stock), FlagAVB},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			img, err := Parse(context.Background(), tc.image)
			require.NoError(t, err)
			assert.True(t, img.Flags.Has(tc.flags), "flags [%s]", img.Flags)
			requireRoundTrip(t, tc.image)
		})
	}
}

func avbWrap(image []byte) []byte {
	vbOff := align(len(image), avbBlockSize)
	vbmeta := make([]byte, 256)
	copy(vbmeta, avbMagic)
	vbmeta[200] = 0x5a
	out := append(bytes.Clone(image), make([]byte, vbOff-len(image))...)
	out = append(out, vbmeta...)
	out = append(out, make([]byte, 8192)...)
	footer := make([]byte, avbFooterSize)
	copy(footer, avbFooterMagic)
	binary.BigEndian.PutUint32(footer[4:], 1)
	binary.BigEndian.PutUint64(footer[12:], uint64(len(image)))
	binary.BigEndian.PutUint64(footer[20:], uint64(vbOff))
	binary.BigEndian.PutUint64(footer[28:], uint64(len(vbmeta)))
	return append(out, footer...)
}

func TestChromeOSStatus(t *testing.T) {
	image := make([]byte, chromeosSize)
	copy(image, chromeosMagic)
	image = append(image, v0Image(t)...)
	_, _, status := unpack(t, image, UnpackOptions{})
	assert.Equal(t, StatusChromeOS, status)

	_, _, status = unpack(t, v0Image(t), UnpackOptions{})
	assert.Equal(t, StatusOK, status)
}

func TestRepackChromeOSNotPadded(t *testing.T) {
	stock := v0Image(t)
	image := make([]byte, chromeosSize)
	copy(image, chromeosMagic)
	image = append(image, stock...)
	image = append(image, make([]byte, 8192)...)

	img, set, _ := unpack(t, image, UnpackOptions{})
	out, err := Repack(context.Background(), img, set, RepackOptions{}, nil)
	require.NoError(t, err)
	assert.Len(t, out, chromeosSize+len(stock))
}

func TestUnpackComponents(t *testing.T) {
	img, set, _ := unpack(t, v0Image(t), UnpackOptions{DumpHeader: true})
	assert.Equal(t, DialectV0, img.Header.Dialect)
	assert.Equal(t, codec.FormatGzip, img.Format(KindKernel))

	kernel, ok := set.Get(KindKernel)
	require.True(t, ok)
	assert.Equal(t, text("arm64 kernel image ", 300), kernel)
	second, _ := set.Get(KindSecond)
	assert.Equal(t, text("second stage ", 10), second)
	assert.False(t, set.Has(KindDtb))

	require.NotNil(t, set.Info)
	name, _ := set.Info.Get(keyName)
	assert.Equal(t, "bootkit", name)
	level, _ := set.Info.Get(keyOSPatchLevel)
	assert.Equal(t, "2021-05", level)

	_, raw, _ := unpack(t, v0Image(t), UnpackOptions{NoDecompress: true})
	stored, _ := raw.Get(KindKernel)
	assert.Equal(t, codec.FormatGzip, codec.Detect(stored))
	assert.Nil(t, raw.Info)
}

func TestUnpackTracker(t *testing.T) {
	img, err := Parse(context.Background(), v0Image(t))
	require.NoError(t, err)
	var comps []string
	var phases []bootimgprogress.Phase
	tracker := progress.NewTracker(func(e bootimgprogress.Event) {
		phases = append(phases, e.Phase)
		if e.Phase == bootimgprogress.PhaseComponent {
			comps = append(comps, e.Component)
		}
	})
	_, _, err = Unpack(context.Background(), img, UnpackOptions{}, tracker)
	require.NoError(t, err)
	assert.Equal(t, []string{"kernel", "ramdisk.cpio", "second"}, comps)
	assert.Equal(t, bootimgprogress.PhaseParse, phases[0])
	assert.Equal(t, bootimgprogress.PhaseDone, phases[len(phases)-1])
}

func TestIDHash(t *testing.T) {
	img, err := Parse(context.Background(), v0Image(t))
	require.NoError(t, err)
	assert.False(t, img.Flags.Has(FlagSHA256))

	sum := sha1.New() //nolint:gosec // header id
	for _, k := range []Kind{KindKernel, KindRamdisk, KindSecond} {
		b := img.Component(k)
		sum.Write(b)
		_ = binary.Write(sum, binary.LittleEndian, uint32(len(b)))
	}
	assert.Equal(t, sum.Sum(nil), img.Header.ID[:sha1.Size])
}

func TestRepackUpdatesComponents(t *testing.T) {
	ctx := context.Background()
	img, set, _ := unpack(t, v0Image(t), UnpackOptions{DumpHeader: true})
	set.Set(KindRamdisk, text("070701 patched ramdisk ", 900))
	set.Delete(KindSecond)
	set.Info.Set(keyCmdline, "console=null")

	out, err := Repack(ctx, img, set, RepackOptions{}, nil)
	require.NoError(t, err)
	_, got, _ := unpack(t, out, UnpackOptions{})
	ramdisk, _ := got.Get(KindRamdisk)
	assert.Equal(t, text("070701 patched ramdisk ", 900), ramdisk)
	assert.False(t, got.Has(KindSecond))

	img2, err := Parse(ctx, out)
	require.NoError(t, err)
	assert.Equal(t, "console=null", img2.Header.CmdlineString())
	assert.Equal(t, codec.FormatGzip, img2.Format(KindRamdisk))
	assert.NotEqual(t, img.Header.ID, img2.Header.ID)

	_, err = Repack(ctx, img, set, RepackOptions{NoCompress: true}, nil)
	require.NoError(t, err)
}

func TestRepackIgnoresUnsupported(t *testing.T) {
	image := build(t, "dialect=aosp_v3\n", map[Kind][]byte{
		KindKernel:  text("kernel ", 10),
		KindRamdisk: text("ramdisk ", 10),
	}, nil)
	img, set, _ := unpack(t, image, UnpackOptions{})
	set.Set(KindSecond, []byte("second"))
	set.Set(KindRecoveryDtbo, []byte("dtbo"))
	out, err := Repack(context.Background(), img, set, RepackOptions{}, nil)
	require.NoError(t, err)
	assert.Equal(t, image, out)
}

func TestRepackForcesLZ4LegacyOnV4(t *testing.T) {
	image := build(t, "dialect=aosp_v4\nramdisk_fmt=gzip\n", map[Kind][]byte{
		KindKernel:  text("kernel ", 10),
		KindRamdisk: text("070701 ramdisk ", 100),
	}, nil)
	img, err := Parse(context.Background(), image)
	require.NoError(t, err)
	assert.Equal(t, codec.FormatLZ4Legacy, img.Format(KindRamdisk))
}

func TestRepackMTKUpdatesSize(t *testing.T) {
	gz := compress(t, codec.FormatGzip, text("kernel ", 100))
	image := build(t, v0Info, map[Kind][]byte{
		KindKernel:  mtkWrap("KERNEL", gz),
		KindRamdisk: text("ramdisk ", 10),
	}, nil)
	img, set, _ := unpack(t, image, UnpackOptions{})
	assert.True(t, img.Flags.Has(FlagMTKKernel))
	set.Set(KindKernel, text("a much longer kernel ", 400))

	out, err := Repack(context.Background(), img, set, RepackOptions{}, nil)
	require.NoError(t, err)
	img2, err := Parse(context.Background(), out)
	require.NoError(t, err)
	require.True(t, img2.Flags.Has(FlagMTKKernel))
	assert.Equal(t, uint32(len(img2.Component(KindKernel))), binary.LittleEndian.Uint32(img2.kernelMTK[4:]))
	assert.Equal(t, "KERNEL", cString(img2.kernelMTK[8:40]))

	set.Delete(KindKernel)
	_, err = Repack(context.Background(), img, set, RepackOptions{}, nil)
	assert.ErrorIs(t, err, ErrMissingComponent)
}

func TestRepackZImagePiggy(t *testing.T) {
	piggy := compress(t, codec.FormatGzip, noise(4096, 3))
	image := build(t, v0Info, map[Kind][]byte{
		KindKernel:  zImageWrap(piggy),
		KindRamdisk: text("ramdisk ", 10),
	}, nil)
	img, set, _ := unpack(t, image, UnpackOptions{})
	require.True(t, img.Flags.Has(FlagZImage))

	small := text("tiny kernel ", 20)
	set.Set(KindKernel, small)
	out, err := Repack(context.Background(), img, set, RepackOptions{}, nil)
	require.NoError(t, err)
	img2, err := Parse(context.Background(), out)
	require.NoError(t, err)
	got := img2.Component(KindKernel)
	require.Len(t, got, len(piggy))
	assert.Equal(t, uint32(len(small)), binary.LittleEndian.Uint32(got[len(got)-4:]))

	set.Set(KindKernel, noise(64<<10, 9))
	out, err = Repack(context.Background(), img, set, RepackOptions{}, nil)
	require.NoError(t, err)
	img3, err := Parse(context.Background(), out)
	require.NoError(t, err)
	assert.Equal(t, piggy, img3.Component(KindKernel), "oversized payload falls back to the original")

	set.Delete(KindKernel)
	_, err = Repack(context.Background(), img, set, RepackOptions{}, nil)
	assert.ErrorIs(t, err, ErrMissingComponent)
}

func TestRepackAVB(t *testing.T) {
	ctx := context.Background()
	stock := v0Image(t)
	image := avbWrap(stock)
	vbOff := align(len(stock), avbBlockSize)

	img, set, _ := unpack(t, image, UnpackOptions{})
	out, err := Repack(ctx, img, set, RepackOptions{PatchVbmetaFlag: true}, nil)
	require.NoError(t, err)
	require.Len(t, out, len(image))
	assert.Equal(t, uint32(vbmetaDisableFlags), binary.BigEndian.Uint32(out[vbOff+avbFlagsOffset:]))
	clear(out[vbOff+avbFlagsOffset : vbOff+avbFlagsOffset+4])
	assert.Equal(t, image, out)

	set.Set(KindRamdisk, append([]byte("070701"), noise(64<<10, 5)...))
	out, err = Repack(ctx, img, set, RepackOptions{NoCompress: true}, nil)
	require.NoError(t, err)
	assert.Greater(t, len(out), len(image))
	img2, err := Parse(ctx, out)
	require.NoError(t, err)
	require.True(t, img2.Flags.Has(FlagAVB))
	assert.Equal(t, img.vbmeta, img2.vbmeta)
	footer := out[len(out)-avbFooterSize:]
	vb := binary.BigEndian.Uint64(footer[20:])
	assert.Zero(t, (vb-uint64(img2.hdrOff))%avbBlockSize)
	assert.Less(t, binary.BigEndian.Uint64(footer[12:]), vb)
}

func TestRepackDHTBFixesHash(t *testing.T) {
	stock := v0Image(t)
	image := make([]byte, dhtbSize)
	copy(image, dhtbMagic)
	image = append(image, stock...)
	img, set, _ := unpack(t, image, UnpackOptions{})
	set.Set(KindSecond, text("new second ", 100))

	out, err := Repack(context.Background(), img, set, RepackOptions{}, nil)
	require.NoError(t, err)
	size := int(binary.LittleEndian.Uint32(out[48:]))
	sum := sha256.Sum256(out[dhtbSize : dhtbSize+size])
	assert.Equal(t, sum[:], out[8:40])
	assert.Equal(t, []byte(seandroidMagic+"\xff\xff\xff\xff"), out[dhtbSize+size-20:dhtbSize+size])
}

func TestParseErrors(t *testing.T) {
	ctx := context.Background()
	_, err := Parse(ctx, text("not an image ", 200))
	assert.ErrorIs(t, err, ErrFormat)

	image := v0Image(t)
	_, err = Parse(ctx, image[:4096])
	assert.ErrorIs(t, err, ErrFormat)

	bad := bytes.Clone(image)
	binary.LittleEndian.PutUint32(bad[36:], 0)
	_, err = Parse(ctx, bad)
	assert.ErrorIs(t, err, ErrFormat)
}

func TestHeaderInfo(t *testing.T) {
	img, err := Parse(context.Background(), v0Image(t))
	require.NoError(t, err)
	info := InfoFromImage(img)

	parsed, err := ParseHeaderInfo(append([]byte("# comment\n\n"), info.Bytes()...))
	require.NoError(t, err)
	assert.Equal(t, info.Bytes(), parsed.Bytes())
	for key, want := range map[string]string{
		keyDialect:    "aosp_v0",
		keyCmdline:    "console=ttyMSM0 androidboot.hardware=qcom",
		keyOSVersion:  "11.0.0",
		keyKernelAddr: "0x10008000",
		keyIDHash:     "sha1",
		"kernel_fmt":  "gzip",
	} {
		got, ok := parsed.Get(key)
		assert.True(t, ok, key)
		assert.Equal(t, want, got, key)
	}

	_, err = ParseHeaderInfo([]byte("no separator\n"))
	assert.ErrorIs(t, err, ErrHeaderFile)

	h := img.Header.Clone()
	long := NewHeaderInfo()
	long.Set(keyCmdline, string(text("x", 2000)))
	assert.ErrorIs(t, long.ApplyTo(h), ErrHeaderFile)
}

func TestSetPatchLevel(t *testing.T) {
	h := newHeader(DialectV0, 2048)
	require.NoError(t, h.SetOSVersion("11.0.0"))
	require.NoError(t, h.SetPatchLevel("2021-05"))
	version, patch := h.OSVersionString()
	assert.Equal(t, "11.0.0", version)
	assert.Equal(t, "2021-05", patch)

	for _, bad := range []string{"2021-13", "1999-01", "2128-01", "may"} {
		assert.ErrorIs(t, h.SetPatchLevel(bad), ErrHeaderFile, bad)
	}
	_, patch = h.OSVersionString()
	assert.Equal(t, "2021-05", patch)
}

func TestBuildRequiresDialect(t *testing.T) {
	set := NewComponentSet()
	_, err := Build(context.Background(), set, RepackOptions{}, nil)
	assert.ErrorIs(t, err, ErrHeaderFile)

	set.Info = NewHeaderInfo()
	_, err = Build(context.Background(), set, RepackOptions{}, nil)
	assert.ErrorIs(t, err, ErrHeaderFile)

	set.Info.Set(keyDialect, "aosp_v0")
	set.Info.Set(keyPageSize, "3000")
	_, err = Build(context.Background(), set, RepackOptions{}, nil)
	assert.ErrorIs(t, err, ErrHeaderFile)
}

func TestVendorRamdiskTable(t *testing.T) {
	image := build(t, "dialect=vendor_v4\nramdisk_fmt=gzip\n", nil, map[string][]byte{
		"ramdisk":  text("070701 a ", 10),
		"recovery": text("070701 b ", 10),
	})
	img, set, _ := unpack(t, image, UnpackOptions{})
	require.True(t, img.Flags.Has(FlagVendorTable))
	require.Len(t, img.VendorRamdisks(), 2)
	assert.Equal(t, "", img.VendorRamdisks()[0].Name)
	assert.Equal(t, "recovery", img.VendorRamdisks()[1].FileName())
	assert.Equal(t, []string{"ramdisk", "recovery"}, set.VendorRamdiskNames())
	rec, _ := set.VendorRamdisk("recovery")
	assert.Equal(t, text("070701 b ", 10), rec)
}

func TestVendorRamdiskNamesValidated(t *testing.T) {
	ctx := context.Background()
	image := build(t, "dialect=vendor_v4\nramdisk_fmt=gzip\n", nil, map[string][]byte{
		"platform": text("070701 a ", 10),
		"recovery": text("070701 b ", 10),
	})
	at := bytes.LastIndex(image, []byte("recovery\x00"))
	require.Positive(t, at)

	for name, replacement := range map[string]string{
		"traversal": "../../x\x00",
		"separator": "a/b\x00\x00\x00\x00\x00",
		"duplicate": "platform",
	} {
		bad := bytes.Clone(image)
		copy(bad[at:], replacement)
		_, err := Parse(ctx, bad)
		assert.ErrorIs(t, err, ErrFormat, name)
	}

	set := NewComponentSet()
	set.SetVendorRamdisk("../escape", []byte("x"))
	assert.ErrorIs(t, set.WriteDir(t.TempDir()), ErrFormat)
}

func TestComponentSetDir(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	image := build(t, "dialect=vendor_v4\nramdisk_fmt=gzip\n", map[Kind][]byte{
		KindBootconfig: []byte("a=b\n"),
	}, map[string][]byte{"ramdisk": text("070701 ", 10)})
	img, set, _ := unpack(t, image, UnpackOptions{DumpHeader: true})
	require.NoError(t, set.WriteDir(dir))
	assert.FileExists(t, filepath.Join(dir, HeaderFile))
	assert.FileExists(t, filepath.Join(dir, VendorRamdiskDir, "ramdisk.cpio"))

	loaded, err := ReadComponentSet(dir)
	require.NoError(t, err)
	require.NotNil(t, loaded.Info)
	out, err := Repack(ctx, img, loaded, RepackOptions{}, nil)
	require.NoError(t, err)
	assert.Equal(t, image, out)

	require.NoError(t, Cleanup(ctx, dir))
	ents, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, ents)
}

func TestFindDTB(t *testing.T) {
	dtb := fakeDTB()
	assert.Equal(t, 100, findDTB(append(text("k", 100), dtb...)))
	assert.Equal(t, -1, findDTB(text("k", 300)))

	broken := bytes.Clone(dtb)
	binary.BigEndian.PutUint32(broken[0x48:], 0)
	assert.Equal(t, -1, findDTB(append(text("k", 100), broken...)))
}

func TestSplitDTB(t *testing.T) {
	ctx := context.Background()
	kernel := text("zImage payload ", 100)
	data := append(compress(t, codec.FormatGzip, kernel), fakeDTB()...)

	set, err := SplitDTB(ctx, data, false)
	require.NoError(t, err)
	got, _ := set.Get(KindKernel)
	assert.Equal(t, kernel, got)
	dtb, _ := set.Get(KindKernelDTB)
	assert.Equal(t, fakeDTB(), dtb)

	set, err = SplitDTB(ctx, data, true)
	require.NoError(t, err)
	got, _ = set.Get(KindKernel)
	assert.Equal(t, codec.FormatGzip, codec.Detect(got))

	_, err = SplitDTB(ctx, kernel, false)
	assert.ErrorIs(t, err, ErrFormat)
}
