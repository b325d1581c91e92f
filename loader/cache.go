package loader

import (
	"crypto/sha256"
	"encoding/hex"
	stderrors "errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/briolang/brio/abi"
)

// Digest identifies an image artifact by content.
type Digest [sha256.Size]byte

// ComputeDigest hashes raw artifact bytes.
func ComputeDigest(data []byte) Digest {
	return sha256.Sum256(data)
}

// String returns the hex form of the digest.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Bump when the Summary layout changes so stale entries self-invalidate.
const cacheSchemaVersion uint16 = 1

// Summary is the cached metadata of a decoded image, keyed by its content
// digest. It lets tooling answer "what's in this artifact" without decoding
// the full image again.
type Summary struct {
	Schema       uint16
	ABIVersion   uint32
	Name         string
	Dependencies []string
	Functions    []string
	Externs      []string
	Types        []string
	CodeSize     uint32
}

// Summarize extracts the cacheable metadata from a decoded image.
func Summarize(img *abi.ModuleImage) *Summary {
	s := &Summary{
		Schema:     cacheSchemaVersion,
		ABIVersion: img.Version,
		Name:       img.Name,
		CodeSize:   uint32(len(img.Code)),
	}
	s.Dependencies = append(s.Dependencies, img.Dependencies...)
	for i, p := range img.Dispatch.Prototypes {
		if img.Dispatch.Flags[i]&abi.FlagExtern != 0 {
			s.Externs = append(s.Externs, p.Name)
		} else {
			s.Functions = append(s.Functions, p.Name)
		}
	}
	for _, t := range img.Types {
		s.Types = append(s.Types, t.Name)
	}
	return s
}

// Cache is an on-disk metadata cache of decoded image summaries. Writes are
// atomic (temp file plus rename); a nil *Cache is a valid no-op cache.
type Cache struct {
	mu  sync.RWMutex
	dir string
}

// OpenCache initializes a cache under the standard user cache location for
// the given application name.
func OpenCache(app string) (*Cache, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		base = filepath.Join(home, ".cache")
	}
	return OpenCacheDir(filepath.Join(base, app))
}

// OpenCacheDir initializes a cache rooted at an explicit directory.
func OpenCacheDir(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Cache{dir: dir}, nil
}

func (c *Cache) pathFor(key Digest) string {
	return filepath.Join(c.dir, "images", key.String()+".mp")
}

// Put serializes and writes a summary under its content digest.
func (c *Cache) Put(key Digest, s *Summary) error {
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

	if err := msgpack.NewEncoder(f).Encode(s); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), p)
}

// Get reads the summary for a digest. A miss (absent entry or stale schema)
// returns false with no error.
func (c *Cache) Get(key Digest, out *Summary) (bool, error) {
	if c == nil {
		return false, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	f, err := os.Open(c.pathFor(key))
	if err != nil {
		if stderrors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	if err := msgpack.NewDecoder(f).Decode(out); err != nil {
		return false, err
	}
	if out.Schema != cacheSchemaVersion {
		return false, nil
	}
	return true, nil
}
