package bootimg

import (
	"bytes"
	"context"
	"fmt"

	"github.com/projecteru2/core/log"

	"github.com/projecteru2/bootkit/codec"
	"github.com/projecteru2/bootkit/progress"
	bootimgprogress "github.com/projecteru2/bootkit/progress/bootimg"
)

// Status is the unpack exit status.
type Status int

const (
	StatusOK Status = iota
	StatusError
	// StatusChromeOS asks the caller to re-sign the repacked image.
	StatusChromeOS
)

// UnpackOptions control Unpack.
type UnpackOptions struct {
	// NoDecompress keeps every component as stored.
	NoDecompress bool
	// DumpHeader fills ComponentSet.Info from the header.
	DumpHeader bool
}

// Unpack extracts the components of img. Vendor ramdisk table entries are
// stored by name; everything is copied out of the image buffer.
func Unpack(ctx context.Context, img *Image, opts UnpackOptions, tracker progress.Tracker) (*ComponentSet, Status, error) {
	tracker = progress.OrNop(tracker)
	logger := log.WithFunc("bootimg.Unpack")
	tracker.OnEvent(bootimgprogress.Event{
		Phase:  bootimgprogress.PhaseParse,
		Format: img.Header.Dialect.String(),
		Size:   int64(img.Size()),
	})

	set := NewComponentSet()
	for _, k := range Kinds {
		raw := img.blocks[k]
		if len(raw) == 0 || k == KindRamdisk && img.Flags.Has(FlagVendorTable) {
			continue
		}
		data, err := decode(string(k), raw, img.formats[k], opts.NoDecompress)
		if err != nil {
			return nil, StatusError, err
		}
		set.Set(k, data)
		tracker.OnEvent(bootimgprogress.Event{
			Phase:     bootimgprogress.PhaseComponent,
			Component: string(k),
			Format:    img.formats[k].String(),
			Size:      int64(len(data)),
		})
	}
	for _, vr := range img.vendorRamdisks {
		data, err := decode(VendorRamdiskDir+"/"+vr.FileName(), vr.raw, vr.Format, opts.NoDecompress)
		if err != nil {
			return nil, StatusError, err
		}
		set.SetVendorRamdisk(vr.FileName(), data)
		tracker.OnEvent(bootimgprogress.Event{
			Phase:     bootimgprogress.PhaseComponent,
			Component: VendorRamdiskDir + "/" + vr.FileName() + vendorRamdiskExt,
			Format:    vr.Format.String(),
			Size:      int64(len(data)),
		})
	}
	if opts.DumpHeader {
		set.Info = InfoFromImage(img)
	}

	status := StatusOK
	if img.Flags.Has(FlagChromeOS) {
		logger.Warnf(ctx, "ChromeOS image: sign the repacked image with futility")
		status = StatusChromeOS
	}
	tracker.OnEvent(bootimgprogress.Event{Phase: bootimgprogress.PhaseDone})
	return set, status, nil
}

func decode(name string, raw []byte, f codec.Format, keep bool) ([]byte, error) {
	if keep || !f.Compressed() {
		return bytes.Clone(raw), nil
	}
	data, err := transform(codec.Decompress, f, raw)
	if err != nil {
		return nil, fmt.Errorf("decompress %s: %w", name, err)
	}
	return data, nil
}
