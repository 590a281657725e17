package sourcehosting

import (
	"container/list"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oncallops/incident-core/internal/apperrors"
)

const (
	// DefaultCacheCapacityBytes bounds the clone cache's total on-disk size (§5).
	DefaultCacheCapacityBytes int64 = 2 << 30 // 2 GiB
	// DefaultCacheEntryTTL is how long a clone stays valid before the next
	// Acquire re-clones it rather than reusing the cached working copy.
	DefaultCacheEntryTTL = 2 * time.Hour
)

// entry tracks one cloned repository working copy on disk.
type entry struct {
	key       string
	path      string
	sizeBytes int64
	clonedAt  time.Time
}

// CloneCache is an LRU-by-access directory cache for the source-hosting
// adapter's optional deeper mode, where context-gathering clones a working
// copy instead of round-tripping the REST API file-by-file. Bounded by total
// size (default 2 GiB) and per-entry TTL (default 2h); eviction is plain
// LRU recency-of-access, not size-weighted. One sync.Mutex per repository key
// keeps concurrent FetchContext calls for the same repo from cloning twice,
// while calls against different repos proceed independently (§5).
type CloneCache struct {
	baseDir  string
	capacity int64
	ttl      time.Duration
	clone    func(dir, key string) (int64, error)

	mu       sync.Mutex
	order    *list.List               // front = most recently used
	elements map[string]*list.Element // key -> element holding *entry
	used     int64

	repoLocks sync.Map // key string -> *sync.Mutex
}

// CloneCacheConfig configures a CloneCache. Clone performs the actual clone
// (or equivalent working-copy materialization) into dir and reports its
// on-disk size; it is a field rather than a hard dependency on a git binary
// so tests can substitute a fake.
type CloneCacheConfig struct {
	BaseDir  string
	Capacity int64
	TTL      time.Duration
	Clone    func(dir, key string) (int64, error)
}

func NewCloneCache(cfg CloneCacheConfig) *CloneCache {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCacheCapacityBytes
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultCacheEntryTTL
	}
	return &CloneCache{
		baseDir:  cfg.BaseDir,
		capacity: cfg.Capacity,
		ttl:      cfg.TTL,
		clone:    cfg.Clone,
		order:    list.New(),
		elements: make(map[string]*list.Element),
	}
}

// lockFor returns the single-writer mutex for a repository key, creating it
// on first use.
func (c *CloneCache) lockFor(key string) *sync.Mutex {
	v, _ := c.repoLocks.LoadOrStore(key, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Acquire returns the filesystem path to a fresh-enough working copy for
// key, cloning (or re-cloning, if the cached copy is older than the TTL)
// under the per-repository lock so concurrent callers for the same repo
// share one clone instead of racing.
func (c *CloneCache) Acquire(key string) (string, error) {
	repoLock := c.lockFor(key)
	repoLock.Lock()
	defer repoLock.Unlock()

	if path, ok := c.freshPath(key); ok {
		return path, nil
	}
	return c.reclone(key)
}

func (c *CloneCache) freshPath(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.elements[key]
	if !ok {
		return "", false
	}
	e := el.Value.(*entry)
	if nowFunc().Sub(e.clonedAt) > c.ttl {
		return "", false
	}
	c.order.MoveToFront(el)
	return e.path, true
}

func (c *CloneCache) reclone(key string) (string, error) {
	dir := filepath.Join(c.baseDir, sanitizeKey(key))
	if err := os.RemoveAll(dir); err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrorTypeInternal, "clone cache: clear stale entry")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrorTypeInternal, "clone cache: create entry dir")
	}
	size, err := c.clone(dir, key)
	if err != nil {
		_ = os.RemoveAll(dir)
		return "", apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "clone cache: clone failed")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.elements[key]; ok {
		c.order.Remove(old)
		c.used -= old.Value.(*entry).sizeBytes
		delete(c.elements, key)
	}
	e := &entry{key: key, path: dir, sizeBytes: size, clonedAt: nowFunc()}
	c.elements[key] = c.order.PushFront(e)
	c.used += size
	c.evictLocked()
	return dir, nil
}

// evictLocked drops least-recently-used entries until total usage fits
// within capacity. Caller holds c.mu.
func (c *CloneCache) evictLocked() {
	for c.used > c.capacity {
		back := c.order.Back()
		if back == nil {
			return
		}
		e := back.Value.(*entry)
		c.order.Remove(back)
		delete(c.elements, e.key)
		c.used -= e.sizeBytes
		_ = os.RemoveAll(e.path)
	}
}

// Evict removes a cached entry on demand, e.g. when a backend reports the
// working copy is corrupt.
func (c *CloneCache) Evict(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.elements[key]
	if !ok {
		return
	}
	e := el.Value.(*entry)
	c.order.Remove(el)
	delete(c.elements, key)
	c.used -= e.sizeBytes
	_ = os.RemoveAll(e.path)
}

// UsedBytes reports current total cache usage, for metrics/tests.
func (c *CloneCache) UsedBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.used
}

func sanitizeKey(key string) string {
	out := make([]rune, 0, len(key))
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

// nowFunc is indirected so tests can simulate TTL expiry without sleeping.
var nowFunc = time.Now
