package objectstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyFor(t *testing.T) {
	assert.Equal(t, "tx/5f/5f3a9b", KeyFor("5f3a9b"))
	assert.Equal(t, "tx/ab/ab", KeyFor("ab"))
}

func TestLocalDisk_PutGet(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalDisk(dir)
	require.NoError(t, err)

	key := KeyFor("abcdef123456")
	require.NoError(t, store.Put(key, []byte("raw-payload")))

	got, err := store.Get(key)
	require.NoError(t, err)
	assert.Equal(t, []byte("raw-payload"), got)
}

func TestLocalDisk_GetMissing(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalDisk(dir)
	require.NoError(t, err)

	_, err = store.Get(KeyFor("doesnotexist"))
	assert.Error(t, err)
}
