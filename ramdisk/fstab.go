package ramdisk

import (
	"bytes"
	"path"
	"regexp"
	"slices"
	"strings"

	"github.com/projecteru2/bootkit/cpio"
)

// fs_mgr flags column, zero based, in an Android fstab line.
const fsMgrColumn = 4

var (
	fieldRe = regexp.MustCompile(`\S+`)

	verityFlags     = []string{"verifyatboot", "verify", "avb_keys", "avb", "support_scfs", "fsverity"}
	encryptionFlags = []string{"forceencrypt", "forcefdeorfbe", "fileencryption"}
)

// isFstab selects the regular files the patcher edits. Recovery copies are
// left alone.
func isFstab(name string, e *cpio.Entry) bool {
	if !e.Mode.File() {
		return false
	}
	for _, skip := range []string{backupDir, "twrp", "recovery"} {
		if strings.HasPrefix(name, skip) {
			return false
		}
	}
	return strings.HasPrefix(path.Base(name), "fstab")
}

// stripFlags drops every fs_mgr flag named in drop, together with its
// "=value". It returns the edited text and the removed flags. Spacing and
// comments are preserved byte for byte.
func stripFlags(data []byte, drop []string) ([]byte, []string) {
	var removed []string
	lines := bytes.SplitAfter(data, []byte("\n"))
	for i, line := range lines {
		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 || trimmed[0] == '#' {
			continue
		}
		spans := fieldRe.FindAllIndex(line, -1)
		if len(spans) <= fsMgrColumn {
			continue
		}
		s := spans[fsMgrColumn]
		flags := strings.Split(string(line[s[0]:s[1]]), ",")
		kept := flags[:0:0]
		for _, f := range flags {
			name, _, _ := strings.Cut(f, "=")
			if slices.Contains(drop, name) {
				removed = append(removed, f)
				continue
			}
			kept = append(kept, f)
		}
		if len(kept) == len(flags) {
			continue
		}
		column := strings.Join(kept, ",")
		if column == "" {
			column = "defaults"
		}
		var b bytes.Buffer
		b.Write(line[:s[0]])
		b.WriteString(column)
		b.Write(line[s[1]:])
		lines[i] = b.Bytes()
	}
	return bytes.Join(lines, nil), removed
}

// PatchVerity removes dm-verity and AVB flags from fstab text.
func PatchVerity(data []byte) ([]byte, []string) { return stripFlags(data, verityFlags) }

// PatchEncryption removes forced-encryption flags from fstab text.
func PatchEncryption(data []byte) ([]byte, []string) { return stripFlags(data, encryptionFlags) }
