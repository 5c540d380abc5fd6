package secret_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backoffice/internal/secret"
)

func TestFileStore_SetGetDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "secrets.json")
	s, err := secret.NewFileStore(path)
	require.NoError(t, err)

	v, err := s.Get("db:missing")
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, s.Set("db:1", []byte("p@ss\nword")))
	require.NoError(t, s.Set("db:2", []byte("other")))

	v, err = s.Get("db:1")
	require.NoError(t, err)
	assert.Equal(t, "p@ss\nword", string(v))

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), fi.Mode().Perm())

	require.NoError(t, s.Delete("db:1"))
	require.NoError(t, s.Delete("db:1"))
	v, err = s.Get("db:1")
	require.NoError(t, err)
	assert.Nil(t, v)

	// A second store over the same file sees the remaining secret.
	again, err := secret.NewFileStore(path)
	require.NoError(t, err)
	v, err = again.Get("db:2")
	require.NoError(t, err)
	assert.Equal(t, "other", string(v))
}

func TestFileStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))
	s, err := secret.NewFileStore(path)
	require.NoError(t, err)

	_, err = s.Get("k")
	assert.Error(t, err)
	assert.Error(t, s.Set("k", []byte("v")))
}

func TestDefault_FileStoreOffDarwin(t *testing.T) {
	s, err := secret.Default(t.TempDir())
	require.NoError(t, err)
	assert.NotNil(t, s)
}
