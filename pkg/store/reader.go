package store

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/crnlab/rxngraph/pkg/graph"
)

// ErrNotFound is returned for a metadata key absent from the store.
var ErrNotFound = errors.New("store: key not found")

// Store is a read-only view over a merged store with O(1) positional
// lookup. Opening takes no write lock, so any number of reader processes
// (one per data-loading worker) can share a store.
//
// In partition mode the visible index range is a deterministic, disjoint,
// near-equal slice of the full range, computed once at open time; readers
// of distinct partitions consume non-overlapping slices without
// coordination.
type Store struct {
	db     *badger.DB
	logger *zap.Logger

	// start/length bound the visible window in the full record range.
	start  int
	length int
}

// Open opens a merged store read-only over its full index range.
func Open(path string, logger *zap.Logger) (*Store, error) {
	return OpenPartition(path, 0, 1, logger)
}

// OpenPartition opens a merged store read-only, restricted to partition
// shardIndex of totalShards. The partitions of all indices together cover
// the full range exactly once, and any two differ in size by at most one.
func OpenPartition(path string, shardIndex, totalShards int, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if totalShards < 1 || shardIndex < 0 || shardIndex >= totalShards {
		return nil, fmt.Errorf("store: partition %d of %d", shardIndex, totalShards)
	}

	db, err := badger.Open(openOptions(path, true))
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	s := &Store{db: db, logger: logger}
	total, err := s.totalLength(path)
	if err != nil {
		db.Close()
		return nil, err
	}

	sizes := splitSizes(total, totalShards)
	start := 0
	for i := 0; i < shardIndex; i++ {
		start += sizes[i]
	}
	s.start = start
	s.length = sizes[shardIndex]
	return s, nil
}

// totalLength reads the "length" metadata, falling back to counting the
// positional keys present. The fallback serves hand-authored or legacy
// stores and is a reported, degraded mode.
func (s *Store) totalLength(path string) (int, error) {
	var total int
	err := s.metadata(KeyLength, &total)
	if err == nil {
		return total, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return 0, err
	}

	count := 0
	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if _, ok := positionalIndex(it.Item().Key()); ok {
				count++
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("store: count entries in %s: %w", path, err)
	}
	s.logger.Warn("store has no length key, falling back to entry count",
		zap.String("path", path),
		zap.Int("entries", count))
	return count, nil
}

// Length returns the number of records visible through this handle.
func (s *Store) Length() int { return s.length }

// Get deserializes record i of the visible range into out.
func (s *Store) Get(i int, out any) error {
	if i < 0 || i >= s.length {
		return fmt.Errorf("store: index %d out of range [0,%d)", i, s.length)
	}
	return s.get(positionalKey(s.start+i), out)
}

// Metadata deserializes the named metadata value into out. Positional
// keys are not reachable through Metadata.
func (s *Store) Metadata(key string, out any) error {
	if _, ok := positionalIndex([]byte(key)); ok {
		return fmt.Errorf("store: %q is a positional key", key)
	}
	return s.metadata(key, out)
}

func (s *Store) metadata(key string, out any) error {
	return s.get([]byte(key), out)
}

func (s *Store) get(key []byte, out any) error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %q", ErrNotFound, key)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return decode(val, out)
		})
	})
}

// Dtype returns the dataset's numeric type name.
func (s *Store) Dtype() (string, error) {
	var v string
	err := s.Metadata(KeyDtype, &v)
	return v, err
}

// FeatureSize returns the per-node-type feature widths.
func (s *Store) FeatureSize() (map[graph.NodeType]int, error) {
	var v map[graph.NodeType]int
	err := s.Metadata(KeyFeatureSize, &v)
	return v, err
}

// FeatureName returns the per-node-type feature column names.
func (s *Store) FeatureName() (map[graph.NodeType][]string, error) {
	var v map[graph.NodeType][]string
	err := s.Metadata(KeyFeatureName, &v)
	return v, err
}

// Fingerprint returns the merger's content fingerprint.
func (s *Store) Fingerprint() (string, error) {
	var v string
	err := s.Metadata(KeyFingerprint, &v)
	return v, err
}

// Close releases the store handle.
func (s *Store) Close() error {
	return s.db.Close()
}
