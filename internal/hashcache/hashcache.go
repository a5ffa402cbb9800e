// Package hashcache implements spec.md §4.A: content hashing of byte
// ranges and a set-membership test for known override identifiers.
package hashcache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Kind is one of the three override subdirectories.
type Kind string

const (
	KindImages  Kind = "images"
	KindBuffers Kind = "buffers"
	KindShaders Kind = "shaders"
)

// Hash returns the canonical lower-case 64-hex SHA-256 digest of b.
func Hash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Cache is the in-memory set of content hashes for which a replacement
// asset exists on disk, loaded once per kind by enumerating files under
// <root>/<kind> and taking the file stem. Read-only after load (spec.md
// §5: "the override cache is read-only after CreateInstance").
type Cache struct {
	root string
	mu   sync.RWMutex
	byKind map[Kind]map[string]struct{}
}

// Load walks <root>/images, <root>/buffers and <root>/shaders and records
// every file stem found as a known hash for that kind. A missing
// subdirectory is not an error: overrides for that kind are simply absent.
func Load(root string) (*Cache, error) {
	c := &Cache{
		root:   root,
		byKind: make(map[Kind]map[string]struct{}, 3),
	}
	for _, kind := range []Kind{KindImages, KindBuffers, KindShaders} {
		set := make(map[string]struct{})
		dir := filepath.Join(root, string(kind))
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				c.byKind[kind] = set
				continue
			}
			return nil, fmt.Errorf("hashcache: read %s: %w", dir, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			name := e.Name()
			stem := strings.TrimSuffix(name, filepath.Ext(name))
			set[strings.ToLower(stem)] = struct{}{}
		}
		c.byKind[kind] = set
	}
	return c, nil
}

// HasOverride reports whether a replacement asset exists for hash under
// kind.
func (c *Cache) HasOverride(kind Kind, hash string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	set, ok := c.byKind[kind]
	if !ok {
		return false
	}
	_, ok = set[strings.ToLower(hash)]
	return ok
}

// OverridePath returns the path of the override file for hash under kind
// with the given extension (without the leading dot), e.g.
// OverridePath(KindImages, hash, "png").
func (c *Cache) OverridePath(kind Kind, hash, ext string) string {
	return filepath.Join(c.root, string(kind), strings.ToLower(hash)+"."+ext)
}

// Root returns the override directory root this cache was loaded from.
func (c *Cache) Root() string { return c.root }
