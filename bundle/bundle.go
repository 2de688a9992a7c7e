// Package bundle embeds the device client program.
//
// The client is served to computers that fetch it over HTTP and is
// extracted to a temporary directory when a local interpreter process
// needs a script path.
package bundle

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/TheKidThatCodes/ccbridge/types"
)

// FileName is the client's file name when served or extracted.
const FileName = "ccbridge.lua"

//go:embed client.lua
var client []byte

var (
	extractOnce   sync.Once
	extractedPath string
	extractErr    error
)

// Client returns the embedded client program.
func Client() []byte {
	return client
}

// Version returns the protocol version the embedded client speaks.
func Version() string {
	return types.ProtocolVersion
}

// Size returns the size of the embedded client in bytes.
func Size() int {
	return len(client)
}

// Checksum returns the SHA256 checksum of the embedded client.
func Checksum() string {
	hash := sha256.Sum256(client)
	return hex.EncodeToString(hash[:])
}

// ExtractedPath returns the path of the client written to disk.
// The first call writes it; later calls return the cached path.
func ExtractedPath() (string, error) {
	extractOnce.Do(func() {
		extractedPath, extractErr = extract()
	})
	return extractedPath, extractErr
}

func extract() (string, error) {
	if len(client) == 0 {
		return "", fmt.Errorf("no embedded client available")
	}

	// Versioned, hash-named directory so several builds can coexist.
	dir := filepath.Join(os.TempDir(), fmt.Sprintf("ccbridge-client-%s-%s", types.Version, Checksum()[:16]))
	path := filepath.Join(dir, FileName)

	if info, err := os.Stat(path); err == nil && info.Size() == int64(len(client)) {
		return path, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create client directory: %w", err)
	}
	if err := os.WriteFile(path, client, 0o644); err != nil {
		return "", fmt.Errorf("failed to write client: %w", err)
	}
	return path, nil
}

// Cleanup removes the extracted client. Safe to call when nothing was
// extracted.
func Cleanup() error {
	if extractedPath == "" {
		return nil
	}
	if err := os.RemoveAll(filepath.Dir(extractedPath)); err != nil {
		return fmt.Errorf("failed to clean up client: %w", err)
	}
	return nil
}
