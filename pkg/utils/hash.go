package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// FileFingerprint computes the SHA-256 hash of a file's content, used as a
// stable cache key independent of filename or path.
func FileFingerprint(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("%w: open %s: %w", ErrFilesystem, filePath, err)
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", fmt.Errorf("%w: read %s: %w", ErrFilesystem, filePath, err)
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

// StringSHA256 computes the SHA-256 hash of a string.
func StringSHA256(content string) string {
	hash := sha256.New()
	hash.Write([]byte(content))
	return hex.EncodeToString(hash.Sum(nil))
}
