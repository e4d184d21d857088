package utils

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const serverIDFile = ".server_id"

// GetPersistentServerID returns a stable id for this process, used to tag the
// notifications it mirrors over Valkey. Order: override, stored id, hostname,
// then a generated id that is stored for the next start.
func GetPersistentServerID(override, storagePath string) string {
	if override != "" {
		return override
	}

	idFile := filepath.Join(storagePath, serverIDFile)
	if data, err := os.ReadFile(idFile); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id
		}
	}

	if hostname, err := os.Hostname(); err == nil && hostname != "" && hostname != "localhost" {
		if clean := sanitizeID(hostname); clean != "" {
			return "broadcast-" + clean
		}
	}

	newID := "broadcast-" + strings.SplitN(uuid.NewString(), "-", 2)[0]
	_ = os.MkdirAll(storagePath, 0755)
	_ = os.WriteFile(idFile, []byte(newID), 0644)
	return newID
}

func sanitizeID(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return -1
	}, s)
}
