package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/dgraph-io/ristretto"

	"github.com/bskygeo/listkeeper/models"
)

// FollowCache memoizes "who does this seed follow" on disk, one file per
// seed. Entries never expire; a crawl that finds any entry for a seed skips
// the network fetch for it.
type FollowCache struct {
	s    *Store
	memo *ristretto.Cache
}

func newFollowCache(s *Store) *FollowCache {
	memo, _ := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     1e4,
		BufferItems: 64,
	})
	return &FollowCache{s: s, memo: memo}
}

func (c *FollowCache) dir() string {
	return filepath.Join(c.s.root, cacheDir)
}

// fileName maps a DID to its cache file name, did:plc:abc -> did_plc_abc.json
func fileName(did string) string {
	return strings.ReplaceAll(did, ":", "_") + ext
}

func (c *FollowCache) path(did string) (string, error) {
	if did == "" {
		return "", errors.New("empty did")
	}
	p, err := securejoin.SecureJoin(c.dir(), fileName(did))
	if err != nil {
		return "", fmt.Errorf("invalid cache path for %s: %w", did, err)
	}
	return p, nil
}

// Get returns the cached follow list for a seed. The boolean is false when
// the seed has never been crawled.
func (c *FollowCache) Get(did string) (*models.FollowCacheEntry, bool, error) {
	if c.memo != nil {
		if v, ok := c.memo.Get(did); ok {
			return v.(*models.FollowCacheEntry), true, nil
		}
	}

	p, err := c.path(did)
	if err != nil {
		return nil, false, err
	}
	if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}

	var entry models.FollowCacheEntry
	found, err := c.s.loadFile(p, &entry)
	if err != nil || !found {
		return nil, false, err
	}

	c.remember(did, &entry)
	return &entry, true, nil
}

// Put stores the follow list for a seed, replacing any earlier snapshot.
func (c *FollowCache) Put(did string, follows []string) (*models.FollowCacheEntry, error) {
	p, err := c.path(did)
	if err != nil {
		return nil, err
	}

	if follows == nil {
		follows = []string{}
	}
	entry := &models.FollowCacheEntry{
		DID:       did,
		Follows:   follows,
		CrawledAt: c.s.now().UTC(),
	}
	if err := c.s.saveFile(p, entry); err != nil {
		return nil, err
	}

	c.remember(did, entry)
	return entry, nil
}

// Clear drops the snapshot for one seed so the next crawl fetches it again.
func (c *FollowCache) Clear(did string) error {
	p, err := c.path(did)
	if err != nil {
		return err
	}
	if c.memo != nil {
		c.memo.Del(did)
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	os.Remove(p + ".lock")
	return nil
}

// ClearAll removes every snapshot and returns how many were removed.
// Entries that no longer decode are removed too.
func (c *FollowCache) ClearAll() (int, error) {
	names, err := c.files()
	if err != nil {
		return 0, err
	}
	for _, name := range names {
		p := filepath.Join(c.dir(), name)
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return 0, err
		}
		os.Remove(p + ".lock")
	}
	if c.memo != nil {
		c.memo.Clear()
	}
	return len(names), nil
}

func (c *FollowCache) files() ([]string, error) {
	entries, err := os.ReadDir(c.dir())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ext) {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

type CachedSeed struct {
	DID       string
	Follows   int
	CrawledAt time.Time
}

// List returns a summary of every cached seed, most recent first.
func (c *FollowCache) List() ([]CachedSeed, error) {
	names, err := c.files()
	if err != nil {
		return nil, err
	}

	var out []CachedSeed
	for _, name := range names {
		var entry models.FollowCacheEntry
		found, err := c.s.loadFile(filepath.Join(c.dir(), name), &entry)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		did := entry.DID
		if did == "" {
			// entries written before the DID was recorded; lossy for DIDs with '_'
			did = strings.ReplaceAll(strings.TrimSuffix(name, ext), "_", ":")
		}
		out = append(out, CachedSeed{
			DID:       did,
			Follows:   len(entry.Follows),
			CrawledAt: entry.CrawledAt,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CrawledAt.After(out[j].CrawledAt)
	})
	return out, nil
}

func (c *FollowCache) remember(did string, entry *models.FollowCacheEntry) {
	if c.memo == nil {
		return
	}
	c.memo.Set(did, entry, 1)
	c.memo.Wait()
}
