package ramdisk

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/projecteru2/core/log"

	"github.com/projecteru2/bootkit/cpio"
)

const (
	verityKey = "verity_key"
	rootInit  = "init"
)

var overlayDirs = []string{"overlay.d", "overlay.d/sbin"}

// Options control Patch.
type Options struct {
	// KeepVerity leaves dm-verity and AVB fstab flags in place.
	KeepVerity bool
	// KeepForceEncrypt leaves forced-encryption fstab flags in place.
	KeepForceEncrypt bool
	// InitBinary replaces the root init when set.
	InitBinary []byte
	// Compress stores pre-images xz compressed.
	Compress bool
}

// Patch applies the root modifications to a. Every entry is recorded in the
// backup subtree before it is first changed, and a second run is a no-op.
// Missing anchors are logged and skipped.
func Patch(ctx context.Context, a *cpio.Archive, opts Options) error {
	logger := log.WithFunc("ramdisk.Patch")
	logger.Infof(ctx, "patch with flag KEEPVERITY=[%t] KEEPFORCEENCRYPT=[%t]", opts.KeepVerity, opts.KeepForceEncrypt)
	if Test(a).Unsupported() {
		return ErrForeignRoot
	}

	b := openBackup(a, opts.Compress)
	if err := b.ensureDir(); err != nil {
		return err
	}
	if err := patchFstabs(ctx, a, b, opts); err != nil {
		return err
	}

	if !opts.KeepVerity && a.Exists(verityKey) {
		if err := b.record(ctx, verityKey); err != nil {
			return err
		}
		logger.Infof(ctx, "remove [%s]", verityKey)
		if err := a.Remove(verityKey, false); err != nil {
			return err
		}
	}

	if err := patchInit(ctx, a, b, opts.InitBinary); err != nil {
		return err
	}

	for _, d := range overlayDirs {
		if e, ok := a.Get(d); ok && e.Mode.Dir() {
			continue
		}
		if err := b.record(ctx, d); err != nil {
			return err
		}
		if err := a.Mkdir(0o750, d); err != nil {
			return err
		}
	}

	if err := b.save(); err != nil {
		return err
	}
	return writeMarker(a, opts)
}

func patchFstabs(ctx context.Context, a *cpio.Archive, b *backup, opts Options) error {
	if opts.KeepVerity && opts.KeepForceEncrypt {
		return nil
	}
	logger := log.WithFunc("ramdisk.patchFstabs")
	found := false
	for _, p := range a.Paths() {
		e, _ := a.Get(p)
		if !isFstab(p, e) {
			continue
		}
		found = true
		logger.Infof(ctx, "found fstab file [%s]", p)
		data := e.Data
		var removed []string
		if !opts.KeepVerity {
			var r []string
			data, r = PatchVerity(data)
			removed = append(removed, r...)
		}
		if !opts.KeepForceEncrypt {
			var r []string
			data, r = PatchEncryption(data)
			removed = append(removed, r...)
		}
		if bytes.Equal(data, e.Data) {
			continue
		}
		logger.Infof(ctx, "remove pattern [%s] from [%s]", strings.Join(removed, ","), p)
		if err := b.record(ctx, p); err != nil {
			return err
		}
		patched := e.Clone()
		patched.Data = data
		if err := a.Put(p, patched); err != nil {
			return err
		}
	}
	if !found {
		logger.Warnf(ctx, "missing anchor: no fstab in ramdisk, verity and encryption flags untouched")
	}
	return nil
}

func patchInit(ctx context.Context, a *cpio.Archive, b *backup, bin []byte) error {
	logger := log.WithFunc("ramdisk.patchInit")
	if len(bin) == 0 {
		logger.Warnf(ctx, "missing anchor: no init payload configured, stock [%s] kept", rootInit)
		return nil
	}
	if e, ok := a.Get(rootInit); ok && e.Mode.File() && bytes.Equal(e.Data, bin) {
		return nil
	}
	if err := b.record(ctx, rootInit); err != nil {
		return err
	}
	logger.Infof(ctx, "replace [%s] (%d bytes)", rootInit, len(bin))
	if a.Exists(rootInit) {
		if err := a.Remove(rootInit, true); err != nil {
			return err
		}
	}
	return a.Add(0o750, rootInit, bin)
}

func writeMarker(a *cpio.Archive, opts Options) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "KEEPVERITY=%t\n", opts.KeepVerity)
	fmt.Fprintf(&buf, "KEEPFORCEENCRYPT=%t\n", opts.KeepForceEncrypt)
	if sum, err := StockSHA1(a); err == nil {
		fmt.Fprintf(&buf, "SHA1=%s\n", sum)
	}
	return a.Put(markerPath, cpio.NewFile(0, buf.Bytes()))
}
