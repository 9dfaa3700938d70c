package utils

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"go4.org/bytereplacer"
)

// ErrPatternLength is returned when a hex patch would change the file size.
var ErrPatternLength = errors.New("hex patterns differ in length")

// HexPatch replaces every occurrence of the hex pattern from with to inside
// path. It reports whether anything matched; the file is only rewritten when
// it did.
func HexPatch(path, from, to string) (bool, error) {
	pattern, err := hex.DecodeString(from)
	if err != nil {
		return false, fmt.Errorf("decode pattern %q: %w", from, err)
	}
	patch, err := hex.DecodeString(to)
	if err != nil {
		return false, fmt.Errorf("decode patch %q: %w", to, err)
	}
	if len(pattern) == 0 || len(pattern) != len(patch) {
		return false, fmt.Errorf("%w: %d vs %d bytes", ErrPatternLength, len(pattern), len(patch))
	}

	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied target
	if err != nil {
		return false, err
	}
	if !bytes.Contains(data, pattern) {
		return false, nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	patched := bytereplacer.New(string(pattern), string(patch)).Replace(data)
	if err := AtomicWriteFile(path, patched, info.Mode().Perm()); err != nil {
		return false, err
	}
	return true, nil
}
