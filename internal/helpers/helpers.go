package helpers

import (
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"lukechampine.com/blake3"
)

// Blake3Sum computes the hex-encoded BLAKE3-256 digest of a file. The file is
// streamed so large imagery products do not get pulled into memory.
func Blake3Sum(filepath string) (string, error) {
	f, err := os.Open(filepath)
	if err != nil {
		return "", fmt.Errorf("opening %s for checksum: %w", filepath, err)
	}
	defer f.Close()

	h := blake3.New(32, nil)
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", filepath, err)
	}
	return strings.ToUpper(hex.EncodeToString(h.Sum(nil))), nil
}

// FileSizeMatches reports whether path exists as a regular file of exactly
// size bytes. A negative size never matches.
func FileSizeMatches(path string, size int64) bool {
	if size < 0 {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.WithError(err).Warnf("Error stating file %s during size check", path)
		}
		return false
	}
	return info.Mode().IsRegular() && info.Size() == size
}

// CounterWriter tracks the number of bytes written to the underlying writer.
// It's used to display download progress.
type CounterWriter struct {
	Total  uint64
	Writer io.Writer
}

// Write implements the io.Writer interface for CounterWriter.
func (cw *CounterWriter) Write(p []byte) (int, error) {
	n, err := cw.Writer.Write(p)
	cw.Total += uint64(n)
	return n, err
}

// BytesToSize converts a byte count into a human-readable string (KB, MB, GB, etc.).
func BytesToSize(bytes uint64) string {
	sizes := []string{"B", "KB", "MB", "GB", "TB"}
	if bytes == 0 {
		return "0B"
	}
	i := int(math.Floor(math.Log(float64(bytes)) / math.Log(1024)))
	if i >= len(sizes) {
		i = len(sizes) - 1 // Handle very large sizes
	}
	return fmt.Sprintf("%.2f%s", float64(bytes)/math.Pow(1024, float64(i)), sizes[i])
}

// ConvertToSlug converts a string into a filesystem-friendly slug.
func ConvertToSlug(str string) string {
	str = strings.ReplaceAll(str, " ", "_")
	str = strings.ReplaceAll(str, ":", "-")
	str = strings.ToLower(str)

	allowedChars := "0123456789abcdefghijklmnopqrstuvwxyz._-"

	var filtered strings.Builder
	for _, ch := range str {
		if strings.ContainsRune(allowedChars, ch) {
			filtered.WriteRune(ch)
		}
	}
	str = filtered.String()

	// Simplify repeated separators
	for strings.Contains(str, "--") {
		str = strings.ReplaceAll(str, "--", "-")
	}
	for strings.Contains(str, "__") {
		str = strings.ReplaceAll(str, "__", "_")
	}
	str = strings.ReplaceAll(str, "-_", "-")
	str = strings.ReplaceAll(str, "_-", "-")

	// Remove leading/trailing separators
	str = strings.Trim(str, "_-")

	return str
}

// CheckAndMakeDir ensures a directory exists, creating it if necessary.
// Uses standard directory permissions (0700).
func CheckAndMakeDir(dir string) bool {
	// Use MkdirAll to create parent directories if they don't exist
	err := os.MkdirAll(dir, 0700)
	if err != nil {
		log.WithError(err).Errorf("Error creating directory %s", dir)
		return false
	}
	return true
}
