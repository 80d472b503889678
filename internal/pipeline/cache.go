package pipeline

import (
	"bufio"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"sync"
)

// Digest is a SHA-256 content hash.
type Digest [32]byte

func (d Digest) String() string { return hex.EncodeToString(d[:]) }

// CacheKey hashes the raw module bytes together with every option that
// changes the output, so a hit is exactly a prior run of this compile.
func CacheKey(moduleBytes []byte, opts Options) Digest {
	h := sha256.New()
	var hdr [8]byte
	binary.LittleEndian.PutUint16(hdr[0:], resultSchema)
	hdr[2] = uint8(opts.Target)
	hdr[3] = uint8(opts.Bounds)
	if opts.Unwind {
		hdr[4] = 1
	}
	h.Write(hdr[:])
	h.Write(moduleBytes)
	var d Digest
	h.Sum(d[:0])
	return d
}

// DiskCache stores assembled module results keyed by content digest.
// Entries are written atomically; a crashed writer never leaves a
// half-written entry behind. Safe for concurrent use.
type DiskCache struct {
	mu  sync.RWMutex
	dir string
}

// OpenDiskCache opens the cache at the standard user location,
// creating it if needed.
func OpenDiskCache(app string) (*DiskCache, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		base = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(base, app)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &DiskCache{dir: dir}, nil
}

// OpenDiskCacheAt opens the cache at an explicit directory.
func OpenDiskCacheAt(dir string) (*DiskCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &DiskCache{dir: dir}, nil
}

func (c *DiskCache) pathFor(key Digest) string {
	return filepath.Join(c.dir, "modules", key.String()+".mp")
}

// Put serializes res under key. The temp-file-and-rename dance keeps
// concurrent readers off partial writes.
func (c *DiskCache) Put(key Digest, res *Result) error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.pathFor(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(p), "tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())

	w := bufio.NewWriter(f)
	if err := res.Encode(w); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), p)
}

// Get loads the result stored under key. A missing entry and a stale
// schema both report a clean miss.
func (c *DiskCache) Get(key Digest) (*Result, bool, error) {
	if c == nil {
		return nil, false, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	f, err := os.Open(c.pathFor(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer f.Close()

	res, err := DecodeResult(bufio.NewReader(f))
	if err != nil {
		return nil, false, nil
	}
	return res, true, nil
}

// DropAll removes every cached entry.
func (c *DiskCache) DropAll() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return os.RemoveAll(filepath.Join(c.dir, "modules"))
}
