package bootimg

import (
	"fmt"
	"strings"
)

// Dialect is one header convention. Each dialect has exactly one
// decode/encode pair in layout.go.
type Dialect int

const (
	DialectUnknown Dialect = iota
	DialectV0
	DialectV1
	DialectV2
	DialectV3
	DialectV4
	DialectVendorV3
	DialectVendorV4
	DialectPXA
)

var dialectNames = map[Dialect]string{
	DialectUnknown:  "unknown",
	DialectV0:       "aosp_v0",
	DialectV1:       "aosp_v1",
	DialectV2:       "aosp_v2",
	DialectV3:       "aosp_v3",
	DialectV4:       "aosp_v4",
	DialectVendorV3: "vendor_v3",
	DialectVendorV4: "vendor_v4",
	DialectPXA:      "pxa",
}

func (d Dialect) String() string {
	if n, ok := dialectNames[d]; ok {
		return n
	}
	return fmt.Sprintf("dialect(%d)", int(d))
}

// ParseDialect is the inverse of String.
func ParseDialect(s string) (Dialect, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for d, n := range dialectNames {
		if n == s && d != DialectUnknown {
			return d, nil
		}
	}
	return DialectUnknown, fmt.Errorf("%w: unknown dialect %q", ErrHeaderFile, s)
}

// Vendor reports a vendor_boot header.
func (d Dialect) Vendor() bool { return d == DialectVendorV3 || d == DialectVendorV4 }

// Version is the header_version the dialect writes.
func (d Dialect) Version() uint32 {
	switch d {
	case DialectV1:
		return 1
	case DialectV2:
		return 2
	case DialectV3, DialectVendorV3:
		return 3
	case DialectV4, DialectVendorV4:
		return 4
	default:
		return 0
	}
}

// hasID reports whether the header carries the id digest.
func (d Dialect) hasID() bool {
	switch d {
	case DialectV0, DialectV1, DialectV2, DialectPXA:
		return true
	}
	return false
}

// Flags records container quirks found around the header.
type Flags uint32

const (
	FlagChromeOS Flags = 1 << iota
	FlagDHTB
	FlagBlob
	FlagSEAndroid
	FlagLGBump
	FlagSHA256
	FlagMTKKernel
	FlagMTKRamdisk
	FlagZImage
	FlagAVB
	FlagVendorTable
)

var flagNames = []struct {
	f    Flags
	name string
}{
	{FlagChromeOS, "CHROMEOS"},
	{FlagDHTB, "DHTB"},
	{FlagBlob, "BLOB"},
	{FlagSEAndroid, "SEANDROID"},
	{FlagLGBump, "LG_BUMP"},
	{FlagSHA256, "SHA256"},
	{FlagMTKKernel, "MTK_KERNEL"},
	{FlagMTKRamdisk, "MTK_RAMDISK"},
	{FlagZImage, "ZIMAGE_KERNEL"},
	{FlagAVB, "AVB"},
	{FlagVendorTable, "VENDOR_RAMDISK_TABLE"},
}

// Has reports whether every bit of x is set.
func (f Flags) Has(x Flags) bool { return f&x == x }

func (f Flags) String() string {
	var out []string
	for _, n := range flagNames {
		if f.Has(n.f) {
			out = append(out, n.name)
		}
	}
	return strings.Join(out, ",")
}
