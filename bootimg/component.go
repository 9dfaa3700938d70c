package bootimg

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/projecteru2/bootkit/utils"
)

// Kind names a component and doubles as its file name in the work directory.
type Kind string

const (
	KindKernel       Kind = "kernel"
	KindKernelDTB    Kind = "kernel_dtb"
	KindRamdisk      Kind = "ramdisk.cpio"
	KindSecond       Kind = "second"
	KindExtra        Kind = "extra"
	KindRecoveryDtbo Kind = "recovery_dtbo"
	KindDtb          Kind = "dtb"
	KindBootconfig   Kind = "bootconfig"
)

const (
	// HeaderFile is the header side file name.
	HeaderFile = "header"
	// VendorRamdiskDir holds one <name>.cpio per vendor ramdisk table entry.
	VendorRamdiskDir = "vendor_ramdisk"
	// NewBootFile is the default repack output.
	NewBootFile = "new-boot.img"

	vendorRamdiskExt = ".cpio"
)

// Kinds lists every component in image order.
var Kinds = []Kind{
	KindKernel, KindKernelDTB, KindRamdisk, KindSecond, KindExtra,
	KindRecoveryDtbo, KindDtb, KindBootconfig,
}

// ComponentSet carries components between unpack and repack. An absent
// entry means the component is absent from the image being built.
type ComponentSet struct {
	blobs  map[Kind][]byte
	vendor map[string][]byte
	// Info is the parsed header side file, nil when there is none.
	Info *HeaderInfo
}

// NewComponentSet returns an empty set.
func NewComponentSet() *ComponentSet {
	return &ComponentSet{blobs: map[Kind][]byte{}, vendor: map[string][]byte{}}
}

// Get returns component k.
func (s *ComponentSet) Get(k Kind) ([]byte, bool) {
	b, ok := s.blobs[k]
	return b, ok
}

// Set stores component k.
func (s *ComponentSet) Set(k Kind, data []byte) { s.blobs[k] = data }

// Delete drops component k.
func (s *ComponentSet) Delete(k Kind) { delete(s.blobs, k) }

// Has reports whether k is present.
func (s *ComponentSet) Has(k Kind) bool {
	_, ok := s.blobs[k]
	return ok
}

// VendorRamdisk returns the vendor ramdisk stored under name.
func (s *ComponentSet) VendorRamdisk(name string) ([]byte, bool) {
	b, ok := s.vendor[name]
	return b, ok
}

// SetVendorRamdisk stores a vendor ramdisk under name.
func (s *ComponentSet) SetVendorRamdisk(name string, data []byte) { s.vendor[name] = data }

// VendorRamdiskNames returns the stored vendor ramdisk names, sorted.
func (s *ComponentSet) VendorRamdiskNames() []string {
	return slices.Sorted(maps.Keys(s.vendor))
}

// ReadComponentSet loads every well-known component file found in dir.
func ReadComponentSet(dir string) (*ComponentSet, error) {
	s := NewComponentSet()
	for _, k := range Kinds {
		data, err := os.ReadFile(filepath.Join(dir, string(k))) //nolint:gosec // fixed names below an operator-chosen dir
		switch {
		case errors.Is(err, os.ErrNotExist):
			continue
		case err != nil:
			return nil, fmt.Errorf("read %s: %w", k, err)
		}
		s.blobs[k] = data
	}

	vdir := filepath.Join(dir, VendorRamdiskDir)
	ents, err := os.ReadDir(vdir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read %s: %w", vdir, err)
	}
	for _, e := range ents {
		name, ok := strings.CutSuffix(e.Name(), vendorRamdiskExt)
		if !ok || !e.Type().IsRegular() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(vdir, e.Name())) //nolint:gosec // listed from vdir
		if err != nil {
			return nil, fmt.Errorf("read vendor ramdisk %s: %w", name, err)
		}
		s.vendor[name] = data
	}

	raw, err := os.ReadFile(filepath.Join(dir, HeaderFile)) //nolint:gosec // fixed name
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", HeaderFile, err)
	default:
		if s.Info, err = ParseHeaderInfo(raw); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// WriteDir writes every present component into dir under its fixed name.
func (s *ComponentSet) WriteDir(dir string) error {
	if err := utils.EnsureDirs(dir); err != nil {
		return err
	}
	for _, k := range Kinds {
		data, ok := s.blobs[k]
		if !ok {
			continue
		}
		if err := utils.AtomicWriteFile(filepath.Join(dir, string(k)), data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", k, err)
		}
	}
	if len(s.vendor) > 0 {
		vdir := filepath.Join(dir, VendorRamdiskDir)
		if err := utils.EnsureDirs(vdir); err != nil {
			return err
		}
		for name, data := range s.vendor {
			if !validVendorName(name) || name == "" {
				return fmt.Errorf("%w: unsafe vendor ramdisk name %q", ErrFormat, name)
			}
			if err := utils.AtomicWriteFile(filepath.Join(vdir, name+vendorRamdiskExt), data, 0o644); err != nil {
				return fmt.Errorf("write vendor ramdisk %s: %w", name, err)
			}
		}
	}
	if s.Info != nil {
		if err := utils.AtomicWriteFile(filepath.Join(dir, HeaderFile), s.Info.Bytes(), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", HeaderFile, err)
		}
	}
	return nil
}

// Cleanup removes every well-known component file from dir.
func Cleanup(ctx context.Context, dir string) error {
	paths := []string{filepath.Join(dir, HeaderFile), filepath.Join(dir, VendorRamdiskDir)}
	for _, k := range Kinds {
		paths = append(paths, filepath.Join(dir, string(k)))
	}
	return errors.Join(utils.RemoveFiles(ctx, paths...)...)
}
