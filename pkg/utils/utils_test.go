package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPersistentServerID(t *testing.T) {
	dir := t.TempDir()

	assert.Equal(t, "fixed", GetPersistentServerID("fixed", dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, serverIDFile), []byte(" stored-id \n"), 0644))
	assert.Equal(t, "stored-id", GetPersistentServerID("", dir))
}

func TestSanitizeID(t *testing.T) {
	assert.Equal(t, "host-01_a", sanitizeID("host-01_a.local"))
}

func TestSessionUploadPath(t *testing.T) {
	root := t.TempDir()

	path, err := SessionUploadPath(root, "../escape")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "sessions", "escape"), path)
	assert.DirExists(t, path)
}

func TestResolveSessionUpload(t *testing.T) {
	root := t.TempDir()
	dir, err := SessionUploadPath(root, "S1")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "flyer.png"), []byte("png"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0755))

	path, err := ResolveSessionUpload(root, "S1", "flyer.png")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "flyer.png"), path)

	for _, ref := range []string{"", ".", "..", "/etc/shadow", "../S2/flyer.png", "nested/../flyer.png", "missing.png", "nested"} {
		_, err := ResolveSessionUpload(root, "S1", ref)
		assert.Error(t, err, ref)
	}

	_, err = ResolveSessionUpload(root, "S2", "flyer.png")
	assert.Error(t, err, "uploads are scoped to their session")
}

func TestResolveSessionUpload_RejectsSymlinks(t *testing.T) {
	root := t.TempDir()
	dir, err := SessionUploadPath(root, "S1")
	require.NoError(t, err)
	outside := filepath.Join(t.TempDir(), "secret")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0600))
	require.NoError(t, os.Symlink(outside, filepath.Join(dir, "link.png")))

	_, err = ResolveSessionUpload(root, "S1", "link.png")
	assert.Error(t, err)
}
