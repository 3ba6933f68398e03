// Package cache persists parsed documents between runs. A DocCache is
// loaded once at the start of a run, updated with fresh parse results and
// saved once at the end.
package cache

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/zeebo/blake3"

	"rstdocs/internal/ast"
)

// DefaultDecodedSize bounds how many decoded documents stay in memory.
const DefaultDecodedSize = 512

// ErrEmpty is returned by LoadDoc when nothing has been loaded or put.
var ErrEmpty = errors.New("cache: empty")

// MissError reports a path absent from a populated cache.
type MissError struct {
	Path string
}

func (e *MissError) Error() string {
	return fmt.Sprintf("cache: %q not found", e.Path)
}

// Entry is one cached document.
type Entry struct {
	Path       string    `cbor:"1,keyasint"`
	Hash       string    `cbor:"2,keyasint,omitempty"`
	ModTime    time.Time `cbor:"3,keyasint,omitempty"`
	Root       []byte    `cbor:"4,keyasint"`
	Directives []string  `cbor:"5,keyasint,omitempty"`
	Roles      []string  `cbor:"6,keyasint,omitempty"`
}

// Backend stores the flat collection of entries.
type Backend interface {
	Load(ctx context.Context) ([]Entry, error)
	Save(ctx context.Context, entries []Entry) error
}

// NormalizePath returns the cache key of a document path.
func NormalizePath(p string) string { return ast.NormalizePath(p) }

// HashText returns the hex BLAKE3 digest of a source text.
func HashText(text string) string {
	sum := blake3.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// DocCache maps normalized paths to serialized trees.
type DocCache struct {
	backend Backend

	mu      sync.RWMutex
	entries map[string]Entry
	decoded *lru.Cache[string, *ast.Document]
}

// New returns an empty cache over backend. decodedSize <= 0 selects
// DefaultDecodedSize.
func New(backend Backend, decodedSize int) (*DocCache, error) {
	if decodedSize <= 0 {
		decodedSize = DefaultDecodedSize
	}
	decoded, err := lru.New[string, *ast.Document](decodedSize)
	if err != nil {
		return nil, err
	}
	return &DocCache{
		backend: backend,
		entries: make(map[string]Entry),
		decoded: decoded,
	}, nil
}

// Load replaces the contents with everything stored in the backend.
func (c *DocCache) Load(ctx context.Context) error {
	entries, err := c.backend.Load(ctx)
	if err != nil {
		return fmt.Errorf("cache: load: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]Entry, len(entries))
	for _, e := range entries {
		e.Path = NormalizePath(e.Path)
		c.entries[e.Path] = e
	}
	c.decoded.Purge()
	return nil
}

// Put stores or replaces an entry.
func (c *DocCache) Put(e Entry) {
	e.Path = NormalizePath(e.Path)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[e.Path] = e
	c.decoded.Remove(e.Path)
}

// Remove drops an entry, for sources that no longer exist.
func (c *DocCache) Remove(path string) {
	path = NormalizePath(path)
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, path)
	c.decoded.Remove(path)
}

// Entry returns the raw entry for path.
func (c *DocCache) Entry(path string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[NormalizePath(path)]
	return e, ok
}

// Fresh reports whether path is cached with the given content hash.
func (c *DocCache) Fresh(path, hash string) bool {
	e, ok := c.Entry(path)
	return ok && hash != "" && e.Hash == hash
}

// Len returns the number of entries.
func (c *DocCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Paths returns every cached path, sorted.
func (c *DocCache) Paths() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.entries))
	for p := range c.entries {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// LoadDoc decodes the document stored under path. Decoded documents are
// shared between callers and must not be modified.
func (c *DocCache) LoadDoc(path string) (*ast.Document, error) {
	key := NormalizePath(path)
	if doc, ok := c.decoded.Get(key); ok {
		return doc, nil
	}

	c.mu.RLock()
	e, ok := c.entries[key]
	empty := len(c.entries) == 0
	c.mu.RUnlock()
	if empty {
		return nil, ErrEmpty
	}
	if !ok {
		return nil, &MissError{Path: key}
	}

	root, err := ast.Unmarshal(e.Root)
	if err != nil {
		return nil, fmt.Errorf("cache: decode %s: %w", key, err)
	}
	doc := &ast.Document{
		Root:       root,
		Path:       key,
		ModTime:    e.ModTime,
		Directives: e.Directives,
		Roles:      e.Roles,
	}
	c.decoded.Add(key, doc)
	return doc, nil
}

// Save writes every entry to the backend in path order.
func (c *DocCache) Save(ctx context.Context) error {
	c.mu.RLock()
	entries := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		entries = append(entries, e)
	}
	c.mu.RUnlock()
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	if err := c.backend.Save(ctx, entries); err != nil {
		return fmt.Errorf("cache: save: %w", err)
	}
	return nil
}
