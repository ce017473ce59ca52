package tables

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

// ChecksumPrefix tags every checksum with its algorithm.
const ChecksumPrefix = "sha256:"

// ComputeChecksum returns the sha256 checksum of a table file.
func ComputeChecksum(data []byte) string {
	hash := sha256.Sum256(data)
	return ChecksumPrefix + hex.EncodeToString(hash[:])
}

// ChecksumReader streams r through sha256 and returns the checksum and the
// number of bytes read.
func ChecksumReader(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, fmt.Errorf("checksum: %w", err)
	}
	return ChecksumPrefix + hex.EncodeToString(h.Sum(nil)), n, nil
}

// VerifyChecksum reports whether data matches expected. The prefix is
// case-insensitive.
func VerifyChecksum(data []byte, expected string) bool {
	if !strings.HasPrefix(strings.ToLower(expected), ChecksumPrefix) {
		return false
	}
	return ComputeChecksum(data) == ChecksumPrefix+strings.ToLower(expected[len(ChecksumPrefix):])
}
