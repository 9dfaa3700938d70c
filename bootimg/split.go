package bootimg

import (
	"bytes"
	"context"
	"fmt"

	"github.com/projecteru2/core/log"

	"github.com/projecteru2/bootkit/codec"
)

// SplitDTB cuts a kernel with an appended device tree into kernel and
// kernel_dtb. The kernel part is decompressed unless noDecompress is set.
func SplitDTB(ctx context.Context, data []byte, noDecompress bool) (*ComponentSet, error) {
	off := findDTB(data)
	if off <= 0 {
		return nil, fmt.Errorf("%w: no appended device tree found", ErrFormat)
	}
	f := codec.DetectBlob(data[:off])
	kernel, err := decode(string(KindKernel), data[:off], f, noDecompress)
	if err != nil {
		return nil, err
	}
	set := NewComponentSet()
	set.Set(KindKernel, kernel)
	set.Set(KindKernelDTB, bytes.Clone(data[off:]))
	log.WithFunc("bootimg.SplitDTB").Infof(ctx, "kernel [%s] %d bytes, dtb at offset %d", f, off, off)
	return set, nil
}
