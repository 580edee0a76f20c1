// Package cache stores lifted programs keyed by a digest of their inputs.
//
// Entries are gob-encoded into a LevelDB database with a small in-memory
// LRU in front of it. The database is locked by a single process at a time.
package cache

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/benbjohnson/wp"
	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"go.uber.org/zap"
)

// DefaultSize is the number of programs kept in memory.
const DefaultSize = 16

// ErrConflict is returned when the database is opened by another process.
var ErrConflict = errors.New("cache: database in use")

// Digest is a content-derived cache key.
type Digest uint64

// String returns the hex representation of the digest.
func (d Digest) String() string { return fmt.Sprintf("%016x", uint64(d)) }

func (d Digest) key() []byte { return []byte("prog/" + d.String()) }

// NewDigest returns the digest of a configuration, the loader that builds
// the program and the contents of the input files. A directory contributes
// only its own .go files in name order, not the packages it imports, so
// callers pass every source file the program is built from.
func NewDigest(config []byte, loader string, paths ...string) (Digest, error) {
	h := xxhash.New()
	write := func(p []byte) {
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], uint64(len(p)))
		h.Write(n[:])
		h.Write(p)
	}

	write([]byte(loader))
	write(config)
	for _, path := range paths {
		files, err := sourceFiles(path)
		if err != nil {
			return 0, err
		}
		for _, file := range files {
			buf, err := os.ReadFile(file)
			if err != nil {
				return 0, err
			}
			write([]byte(filepath.Base(file)))
			write(buf)
		}
	}
	return Digest(h.Sum64()), nil
}

func sourceFiles(path string) ([]string, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	} else if !fi.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var a []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".go") {
			a = append(a, filepath.Join(path, e.Name()))
		}
	}
	sort.Strings(a)
	return a, nil
}

// Cache is a persistent store of lifted programs.
type Cache struct {
	db     *leveldb.DB
	memory *lru.Cache[Digest, *wp.Program]
	stats  Stats

	Logger *zap.Logger
}

// Open opens or creates the cache database at path.
func Open(path string, size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultSize
	}

	db, err := leveldb.OpenFile(path, nil)
	if errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, storage.ErrLocked) {
		return nil, errors.Wrap(ErrConflict, path)
	} else if err != nil {
		return nil, errors.Wrap(err, "cache: open")
	}

	memory, err := lru.New[Digest, *wp.Program](size)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Cache{db: db, memory: memory, Logger: zap.NewNop()}, nil
}

// Close releases the database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Stats returns counters for the lifetime of the cache.
func (c *Cache) Stats() Stats { return c.stats }

// Load returns the program stored under d. Returns nil if not found.
func (c *Cache) Load(d Digest) (*wp.Program, error) {
	if prog, ok := c.memory.Get(d); ok {
		c.stats.Hits++
		return prog, nil
	}

	buf, err := c.db.Get(d.key(), nil)
	if err == leveldb.ErrNotFound {
		c.stats.Misses++
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrap(err, "cache: load")
	}

	var prog wp.Program
	if err := gob.NewDecoder(bytes.NewReader(buf)).Decode(&prog); err != nil {
		return nil, errors.Wrapf(err, "cache: decode %s", d)
	}
	c.memory.Add(d, &prog)
	c.stats.Hits++
	return &prog, nil
}

// Save stores prog under d. An existing entry is replaced. Node attributes
// other than addresses are not stored.
func (c *Cache) Save(d Digest, prog *wp.Program) error {
	_, err := c.save(d, prog)
	return err
}

func (c *Cache) save(d Digest, prog *wp.Program) (*wp.Program, error) {
	other := *prog
	other.Subs = make([]*wp.Subroutine, len(prog.Subs))
	for i, sub := range prog.Subs {
		other.Subs[i] = wp.StripAttrs(sub)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&other); err != nil {
		return nil, errors.Wrapf(err, "cache: encode %s", d)
	}
	if err := c.db.Put(d.key(), buf.Bytes(), nil); err != nil {
		return nil, errors.Wrap(err, "cache: save")
	}
	c.memory.Add(d, &other)
	return &other, nil
}

// GetOrBuild returns the program stored under d. On a miss the program is
// built with fn and saved, and the stored copy is returned.
func (c *Cache) GetOrBuild(d Digest, fn func() (*wp.Program, error)) (*wp.Program, error) {
	if prog, err := c.Load(d); err != nil {
		return nil, err
	} else if prog != nil {
		c.Logger.Debug("[cache] hit", zap.Stringer("digest", d))
		return prog, nil
	}

	c.Logger.Debug("[cache] build", zap.Stringer("digest", d))
	prog, err := fn()
	if err != nil {
		return nil, err
	}
	c.stats.Builds++
	return c.save(d, prog)
}

// Stats represents cache counters.
type Stats struct {
	Hits   int
	Misses int
	Builds int
}
