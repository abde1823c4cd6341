package helper

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"knowledge-api/internal/models"
)

// whitespace covers the Unicode separators too, so a non-breaking space survives
var unsafeNameChars = regexp.MustCompile(`[^\p{L}\p{N}_\s\p{Z}\x{85}\x{1c}-\x{1f}\-.]`)

// GenerateUUID creates a random unique UUID string
func GenerateUUID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate UUID: %w", err)
	}
	return id.String(), nil
}

// RandomToken returns 32 hex characters.
func RandomToken() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return strings.ReplaceAll(id.String(), "-", ""), nil
}

// CreateFolder creates path and any missing parents.
func CreateFolder(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("failed to create folder %s: %w", path, err)
	}
	return nil
}

// SafeDocumentName reduces an uploaded filename to a base name that is safe
// to use on disk and inside vector ids.
func SafeDocumentName(filename string) string {
	base := baseName(filename)
	safe := unsafeNameChars.ReplaceAllString(base, "_")
	if r := []rune(safe); len(r) > models.SafeNameMaxLen {
		safe = string(r[:models.SafeNameMaxLen])
	}
	if safe == "" {
		return models.DefaultDocumentName
	}
	return safe
}

// TempPathForUpload builds a unique path under dir for one upload, creating
// dir if needed.
func TempPathForUpload(dir, filename string) (string, error) {
	if err := CreateFolder(dir); err != nil {
		return "", err
	}
	token, err := RandomToken()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, token+"_"+SafeDocumentName(filename)), nil
}

// RemoveIfExists deletes path; failures are logged, never returned.
func RemoveIfExists(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	if err := os.Remove(path); err != nil {
		log.Debug().Err(err).Str("path", path).Msg("Could not remove temp file")
		return
	}
	log.Debug().Str("path", path).Msg("Temporary file removed")
}

// baseName strips directories using both separators, since clients may send
// Windows paths.
func baseName(filename string) string {
	if i := strings.LastIndexAny(filename, `/\`); i >= 0 {
		filename = filename[i+1:]
	}
	if filename == "." || filename == ".." {
		return ""
	}
	return filename
}

// pretty print
func PrettyPrint(v interface{}) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Warn().Err(err).Msg("Error pretty printing")
		return
	}
	fmt.Println(string(b))
}
