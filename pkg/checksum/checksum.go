// Package checksum provides SHA-256 helpers shared by the storage backends and the
// sale event archiver. Archive segments record the hex digest produced here so a
// later reader can verify a downloaded segment with VerifySHA256.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

// CalculateSHA256 calculates the SHA256 checksum of data from a reader
func CalculateSHA256(reader io.Reader) (string, error) {
	hasher := sha256.New()

	if _, err := io.Copy(hasher, reader); err != nil {
		return "", fmt.Errorf("failed to calculate checksum: %w", err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// SumBytes returns the lowercase hex SHA-256 of an in-memory buffer
func SumBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// VerifySHA256 reports whether the data read from reader hashes to expectedChecksum.
// The comparison ignores hex case and surrounding whitespace.
func VerifySHA256(reader io.Reader, expectedChecksum string) (bool, error) {
	actualChecksum, err := CalculateSHA256(reader)
	if err != nil {
		return false, err
	}

	return strings.EqualFold(actualChecksum, strings.TrimSpace(expectedChecksum)), nil
}
