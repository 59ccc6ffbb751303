// Package diskstore is an optional on-disk cache of generated patches,
// keyed by the patch's X and Y coordinates. It exists to avoid re-running the field
// sampler for patches a process has already generated once; it is not a
// substitute for the snapshot codec, which remains the sole source of truth
// for a simulator's full state (agents, RNG, tick, coordinator).
package diskstore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/df-mc/goleveldb/leveldb"
	"github.com/df-mc/goleveldb/leveldb/opt"

	"github.com/jbw-sim/jbw/world"
)

// Store is a goleveldb-backed cache of patches, safe for concurrent use.
type Store struct {
	mu sync.Mutex
	db *leveldb.DB
}

// Open opens (creating if necessary) a patch cache rooted at dir.
func Open(dir string) (*Store, error) {
	db, err := leveldb.OpenFile(dir, &opt.Options{})
	if err != nil {
		return nil, fmt.Errorf("diskstore: open %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func patchKey(coord world.PatchCoord) []byte {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(coord.X))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(coord.Y))
	return buf[:]
}

// Put caches entry under coord, overwriting any previous value. Put
// satisfies world.PatchCache, so a *Store can be installed directly via
// world.PatchStore.SetCache.
func (s *Store) Put(coord world.PatchCoord, entry world.PatchCacheEntry) error {
	var buf bytes.Buffer
	if err := encodeEntry(&buf, entry); err != nil {
		return fmt.Errorf("diskstore: encode patch %v: %w", coord, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.Put(patchKey(coord), buf.Bytes(), nil); err != nil {
		return fmt.Errorf("diskstore: put patch %v: %w", coord, err)
	}
	return nil
}

// Get returns the cached entry at coord, if present.
func (s *Store) Get(coord world.PatchCoord) (world.PatchCacheEntry, bool, error) {
	s.mu.Lock()
	data, err := s.db.Get(patchKey(coord), nil)
	s.mu.Unlock()
	if err == leveldb.ErrNotFound {
		return world.PatchCacheEntry{}, false, nil
	}
	if err != nil {
		return world.PatchCacheEntry{}, false, fmt.Errorf("diskstore: get patch %v: %w", coord, err)
	}
	entry, err := decodeEntry(bytes.NewReader(data))
	if err != nil {
		return world.PatchCacheEntry{}, false, fmt.Errorf("diskstore: decode patch %v: %w", coord, err)
	}
	return entry, true, nil
}

// Delete removes the cached entry at coord, if any.
func (s *Store) Delete(coord world.PatchCoord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.Delete(patchKey(coord), nil); err != nil {
		return fmt.Errorf("diskstore: delete patch %v: %w", coord, err)
	}
	return nil
}
