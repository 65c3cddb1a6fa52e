package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFollowCacheGetPut(t *testing.T) {
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	s := New(filepath.Join(t.TempDir(), "data"), WithClock(func() time.Time { return now }))
	fc := s.FollowCache()

	_, ok, err := fc.Get("did:plc:seed")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = fc.Put("did:plc:seed", []string{"did:plc:x", "did:plc:y"})
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(s.Root(), "crawl_cache", "did_plc_seed.json"))
	require.NoError(t, err)

	entry, ok, err := fc.Get("did:plc:seed")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"did:plc:x", "did:plc:y"}, entry.Follows)
	assert.True(t, now.Equal(entry.CrawledAt))

	// a fresh store reads the same entry back from disk
	again, ok, err := New(s.Root()).FollowCache().Get("did:plc:seed")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, entry.Follows, again.Follows)
}

func TestFollowCacheEmptyListIsAnEntry(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "data"))
	_, err := s.FollowCache().Put("did:plc:quiet", nil)
	require.NoError(t, err)

	entry, ok, err := New(s.Root()).FollowCache().Get("did:plc:quiet")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, entry.Follows)
}

func TestFollowCacheOverwrite(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "data"))
	fc := s.FollowCache()

	_, err := fc.Put("did:plc:seed", []string{"did:plc:x"})
	require.NoError(t, err)
	_, err = fc.Put("did:plc:seed", []string{"did:plc:z"})
	require.NoError(t, err)

	entry, ok, err := New(s.Root()).FollowCache().Get("did:plc:seed")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"did:plc:z"}, entry.Follows)
}

func TestFollowCacheClearAndList(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := New(filepath.Join(t.TempDir(), "data"), WithClock(func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}))
	fc := s.FollowCache()

	_, err := fc.Put("did:plc:one", []string{"did:plc:x"})
	require.NoError(t, err)
	_, err = fc.Put("did:plc:two", []string{"did:plc:x", "did:plc:y"})
	require.NoError(t, err)

	seeds, err := fc.List()
	require.NoError(t, err)
	require.Len(t, seeds, 2)
	assert.Equal(t, "did:plc:two", seeds[0].DID)
	assert.Equal(t, 2, seeds[0].Follows)

	require.NoError(t, fc.Clear("did:plc:two"))
	_, ok, err := fc.Get("did:plc:two")
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := fc.ClearAll()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	seeds, err = fc.List()
	require.NoError(t, err)
	assert.Empty(t, seeds)
}

func TestFollowCacheListKeepsSeedDID(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "data"))
	fc := s.FollowCache()

	_, err := fc.Put("did:web:my_lab.example.org", []string{"did:plc:x"})
	require.NoError(t, err)

	seeds, err := New(s.Root()).FollowCache().List()
	require.NoError(t, err)
	require.Len(t, seeds, 1)
	assert.Equal(t, "did:web:my_lab.example.org", seeds[0].DID)

	require.NoError(t, fc.Clear(seeds[0].DID))
	_, ok, err := fc.Get("did:web:my_lab.example.org")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFollowCacheCorruptEntry(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "data"))
	fc := s.FollowCache()
	require.NoError(t, s.EnsureDirs())

	_, err := fc.Put("did:plc:good", []string{"did:plc:x"})
	require.NoError(t, err)
	bad := filepath.Join(s.Root(), "crawl_cache", "did_plc_bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o644))

	_, _, err = fc.Get("did:plc:bad")
	assert.ErrorIs(t, err, ErrCorrupt)
	_, err = fc.List()
	assert.ErrorIs(t, err, ErrCorrupt)

	// clearing everything still works, so the operator can recover
	n, err := fc.ClearAll()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	_, err = os.Stat(bad)
	assert.True(t, os.IsNotExist(err))
	_, ok, err := fc.Get("did:plc:good")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFollowCacheRejectsEmptyDID(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "data"))
	_, err := s.FollowCache().Put("", []string{"did:plc:x"})
	assert.Error(t, err)
}

func TestFollowCacheStaysInsideCacheDir(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "data"))
	p, err := s.FollowCache().path("../../etc/passwd")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(p, filepath.Join(s.Root(), "crawl_cache")+string(filepath.Separator)), p)
}
