package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreRoundTrip(t *testing.T) {
	store := NewStore(t.TempDir())
	assert.False(t, store.IsConfigured())
	assert.False(t, store.HasCredentials())

	settings := &Settings{
		Name:       "builder-1",
		ServerURL:  "https://outpost.example.test",
		WorkFolder: "_work",
		Labels:     []string{"linux", "x64"},
		Ephemeral:  true,
	}
	require.NoError(t, store.SaveSettings(settings))
	require.NoError(t, store.SaveCredentials(&Credentials{Scheme: "Bearer", Token: "tok-1"}))

	assert.True(t, store.IsConfigured())
	assert.True(t, store.HasCredentials())

	gotSettings, err := store.Settings()
	require.NoError(t, err)
	assert.Equal(t, settings, gotSettings)

	gotCredentials, err := store.Credentials()
	require.NoError(t, err)
	assert.Equal(t, "tok-1", gotCredentials.Token)
}

func TestStoreNotConfigured(t *testing.T) {
	store := NewStore(t.TempDir())

	_, err := store.Settings()
	require.ErrorIs(t, err, ErrNotConfigured)

	_, err = store.Credentials()
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestStoreRemoveIsIdempotent(t *testing.T) {
	store := NewStore(t.TempDir())
	require.NoError(t, store.SaveSettings(&Settings{Name: "builder-1"}))
	require.NoError(t, store.SaveCredentials(&Credentials{Token: "tok-1"}))

	require.NoError(t, store.Remove())
	assert.False(t, store.IsConfigured())
	assert.False(t, store.HasCredentials())

	require.NoError(t, store.Remove())
}

func TestCredentialFilePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file modes are not meaningful on windows")
	}

	root := t.TempDir()
	store := NewStore(root)
	require.NoError(t, store.SaveCredentials(&Credentials{Token: "tok-1"}))

	info, err := os.Stat(filepath.Join(root, ".credentials"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}
