package utils

import (
	"fmt"
	"os"
	"path/filepath"
)

// CreateFolder creates every directory in folderPath (and its parents).
func CreateFolder(folderPath ...string) error {
	for _, folder := range folderPath {
		if folder == "" {
			continue
		}
		if err := os.MkdirAll(folder, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", folder, err)
		}
	}
	return nil
}

// SessionUploadPath returns the upload folder of one session, creating it if needed.
func SessionUploadPath(uploadsRoot, sessionID string) (string, error) {
	path := filepath.Join(uploadsRoot, "sessions", filepath.Base(sessionID))
	if err := CreateFolder(path); err != nil {
		return "", err
	}
	return path, nil
}

// ResolveSessionUpload maps a reference returned by the media upload to its
// file in the session's upload folder. References never leave that folder.
func ResolveSessionUpload(uploadsRoot, sessionID, ref string) (string, error) {
	if ref == "" || ref == "." || ref == ".." || ref != filepath.Base(ref) {
		return "", fmt.Errorf("invalid media reference %q", ref)
	}
	dir := filepath.Join(uploadsRoot, "sessions", filepath.Base(sessionID))
	path := filepath.Join(dir, ref)
	if rel, err := filepath.Rel(dir, path); err != nil || rel != ref {
		return "", fmt.Errorf("invalid media reference %q", ref)
	}

	info, err := os.Lstat(path)
	if err != nil {
		return "", fmt.Errorf("media %q not found", ref)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("media %q is not a regular file", ref)
	}
	return path, nil
}
