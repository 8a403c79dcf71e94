package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/cyp0633/libcaldora-sync/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "cache", "davsync.db")
	s, err := Open(path, nil)
	require.NoError(t, err)
	return s, path
}

func TestStore_RoundTrip(t *testing.T) {
	s, _ := openTestStore(t)
	defer s.Close()

	_, err := s.Get("missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.Set("k", "v1"))
	require.NoError(t, s.Set("k", "v2"))

	got, err := s.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v2", got)

	require.NoError(t, s.Remove("k"))
	require.NoError(t, s.Remove("k"))
	_, err = s.Get("k")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_SurvivesReopen(t *testing.T) {
	s, path := openTestStore(t)
	require.NoError(t, s.Set("davsync:pending", `[{"id":"1"}]`))
	require.NoError(t, s.Close())

	reopened, err := Open(path, nil)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get("davsync:pending")
	require.NoError(t, err)
	assert.Equal(t, `[{"id":"1"}]`, got)
}

func TestStore_Keys(t *testing.T) {
	s, _ := openTestStore(t)
	defer s.Close()

	require.NoError(t, s.Set("davsync:events:/b/", "[]"))
	require.NoError(t, s.Set("davsync:events:/a/", "[]"))
	require.NoError(t, s.Set("davsync:contacts:/a/", "[]"))

	keys, err := s.Keys("davsync:events:")
	require.NoError(t, err)
	assert.Equal(t, []string{"davsync:events:/a/", "davsync:events:/b/"}, keys)
}
