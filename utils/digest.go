package utils

import (
	"crypto/sha1" //nolint:gosec // stock image digests are SHA1 by convention
	"encoding/hex"
	"fmt"
)

// SHA1Hex returns the lowercase hex SHA1 of data.
func SHA1Hex(data []byte) string {
	sum := sha1.Sum(data) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// SHA1File digests path through a read-only mapping.
func SHA1File(path string) (string, error) {
	data, release, err := MapFile(path)
	if err != nil {
		return "", err
	}
	digest := SHA1Hex(data)
	if err := release(); err != nil {
		return "", fmt.Errorf("unmap %s: %w", path, err)
	}
	return digest, nil
}
