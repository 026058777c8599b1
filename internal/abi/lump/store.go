// Package lump implements the content-addressed blob store guest
// modules reach through the numbered ABI calls in shim.go. A lump is
// identified by its 32-byte BLAKE3-style content hash; spec.md §6
// requires it be persisted to disk as a file named by the lowercase
// hex digest of that hash.
package lump

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// ID is a 32-byte content hash. The substrate does not mandate BLAKE3
// specifically (hashing algorithm is an external collaborator, see
// spec.md §1); Store accepts whatever 32-byte digest the caller
// computed and only ever treats it as an opaque key.
type ID [32]byte

func (id ID) String() string { return hex.EncodeToString(id[:]) }

// Sum computes the content ID for data using the substrate's default
// hash (sha256, whose digest has the same 32-byte shape BLAKE3 would
// produce — stdlib has no BLAKE3; callers that need bit-for-bit BLAKE3
// compatibility with other Hearth peers should hash externally and
// call Put with the resulting ID instead of relying on Sum).
func Sum(data []byte) ID {
	return sha256.Sum256(data)
}

// Store is a content-addressed, on-disk blob store fronted by an LRU
// of recently-read bytes. Grounded on the teacher's PeerEnricher
// cache-aside shape (internal/service/peer_enricher.go): Get checks
// the LRU first, falls through to disk on miss, repopulates the LRU.
// Concurrent misses for the same ID are collapsed with singleflight so
// a burst of guests requesting the same lump triggers one disk read.
type Store struct {
	dir   string
	cache *lru.Cache[ID, []byte]
	sf    singleflight.Group

	mu sync.Mutex
}

// NewStore opens (creating if absent) a disk-backed lump store rooted
// at dir, fronted by an LRU holding cacheSize recently-read blobs.
func NewStore(dir string, cacheSize int) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("lump: create root %s: %w", dir, err)
	}
	cache, err := lru.New[ID, []byte](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("lump: build cache: %w", err)
	}
	return &Store{dir: dir, cache: cache}, nil
}

func (s *Store) path(id ID) string {
	return filepath.Join(s.dir, id.String())
}

// Get returns the bytes for id, or (nil, false) if no such lump is
// known to this peer.
func (s *Store) Get(id ID) ([]byte, bool) {
	if data, ok := s.cache.Get(id); ok {
		return data, true
	}

	v, err, _ := s.sf.Do(id.String(), func() (interface{}, error) {
		data, err := os.ReadFile(s.path(id))
		if err != nil {
			return nil, err
		}
		return data, nil
	})
	if err != nil {
		return nil, false
	}
	data := v.([]byte)
	s.cache.Add(id, data)
	return data, true
}

// Put computes data's content ID, persists it to disk if not already
// present, and primes the LRU with it.
func (s *Store) Put(data []byte) ID {
	id := Sum(data)
	s.putWithID(id, data)
	return id
}

// PutWithID persists data under an externally-computed ID (used when
// the peer's hash algorithm is BLAKE3 proper and the ID already
// carries a cross-peer-verifiable digest rather than Sum's stand-in).
func (s *Store) PutWithID(id ID, data []byte) {
	s.putWithID(id, data)
}

func (s *Store) putWithID(id ID, data []byte) {
	if _, ok := s.cache.Get(id); !ok {
		s.mu.Lock()
		if _, err := os.Stat(s.path(id)); os.IsNotExist(err) {
			tmp := s.path(id) + ".tmp"
			if err := os.WriteFile(tmp, data, 0o644); err == nil {
				os.Rename(tmp, s.path(id))
			}
		}
		s.mu.Unlock()
	}
	s.cache.Add(id, data)
}

// Has reports whether id is known without materializing its bytes.
func (s *Store) Has(id ID) bool {
	if _, ok := s.cache.Get(id); ok {
		return true
	}
	_, err := os.Stat(s.path(id))
	return err == nil
}

// Seed bulk-loads every regular file under root into the store, keyed
// by computing each file's content ID rather than trusting its name —
// the original implementation ships startup lumps as executable-baked
// assets in addition to runtime load() calls; SPEC_FULL.md adopts the
// same bulk-seed shape for an on-disk asset directory bundled with the
// peer binary.
func (s *Store) Seed(assets fs.FS) error {
	return fs.WalkDir(assets, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		data, err := fs.ReadFile(assets, path)
		if err != nil {
			return fmt.Errorf("lump: seed %s: %w", path, err)
		}
		s.Put(data)
		return nil
	})
}
