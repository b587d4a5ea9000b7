package translog

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLog_InsertLookupRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parcel.transactions.yaml")
	log, err := Open(path)
	require.NoError(t, err)

	_, ok := log.Lookup("deadbeef")
	assert.False(t, ok)

	require.NoError(t, log.Insert("deadbeef", Record{TargetPath: "/dest/a", BytesCommitted: 128}))

	rec, ok := log.Lookup("deadbeef")
	require.True(t, ok)
	assert.Equal(t, "/dest/a", rec.TargetPath)
	assert.Equal(t, int64(128), rec.BytesCommitted)

	require.NoError(t, log.Remove("deadbeef"))
	_, ok = log.Lookup("deadbeef")
	assert.False(t, ok)
}

func TestLog_SurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parcel.transactions.yaml")

	log1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, log1.Insert("abc123", Record{TargetPath: "/dest/b", BytesCommitted: 64}))

	log2, err := Open(path)
	require.NoError(t, err)
	rec, ok := log2.Lookup("abc123")
	require.True(t, ok)
	assert.Equal(t, "/dest/b", rec.TargetPath)
	assert.Equal(t, int64(64), rec.BytesCommitted)
}

func TestLog_CorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parcel.transactions.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not: valid: yaml: ["), 0644))

	log, err := Open(path)
	require.NoError(t, err)
	_, ok := log.Lookup("anything")
	assert.False(t, ok)

	require.NoError(t, log.Insert("fresh", Record{TargetPath: "/x", BytesCommitted: 0}))
	rec, ok := log.Lookup("fresh")
	require.True(t, ok)
	assert.Equal(t, "/x", rec.TargetPath)
}

func TestLog_ConcurrentMutation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parcel.transactions.yaml")
	log, err := Open(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			hash := "hash" + string(rune('a'+i))
			require.NoError(t, log.Insert(hash, Record{TargetPath: "/x", BytesCommitted: int64(i)}))
		}(i)
	}
	wg.Wait()

	for i := 0; i < 16; i++ {
		hash := "hash" + string(rune('a'+i))
		_, ok := log.Lookup(hash)
		assert.True(t, ok)
	}
}
