// Package store persists dataset samples in an embedded BadgerDB
// key-value store.
//
// A store is a flat mapping from string keys to msgpack payloads with two
// key classes: contiguous ASCII decimal keys "0".."N-1" hold one sample
// each, and a small set of named metadata keys hold dataset-wide values.
// The classification rule is shared by writer, merger and reader: a key is
// positional iff it parses as a base-10 non-negative integer; everything
// else is metadata. Metadata key names are chosen to never parse as
// integers, so the two classes cannot collide.
//
// Writing is sharded: one worker per shard store, no shared write access,
// then a single-threaded merge renumbers all positional records into one
// dense range. Reading is read-only and lock-free so many training
// workers can open the same store concurrently.
package store

import (
	"fmt"
	"strconv"

	"github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"
)

// Metadata keys written once per store.
const (
	KeyLength      = "length"
	KeyDtype       = "dtype"
	KeyFeatureSize = "feature_size"
	KeyFeatureName = "feature_name"

	// KeyFingerprint holds the blake2b content fingerprint the merger
	// computes over all sample payloads in final order.
	KeyFingerprint = "fingerprint"
)

// Metadata is the set of dataset-wide key/value pairs written alongside
// the positional records.
type Metadata map[string]any

// positionalIndex classifies a key. It returns the record position and
// true iff the key is an ASCII base-10 non-negative integer.
func positionalIndex(key []byte) (int, bool) {
	if len(key) == 0 {
		return 0, false
	}
	for _, c := range key {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(string(key))
	if err != nil {
		return 0, false
	}
	return n, true
}

// positionalKey renders a record position as a store key.
func positionalKey(i int) []byte {
	return []byte(strconv.Itoa(i))
}

// encode serializes a value for storage.
func encode(v any) ([]byte, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("store: encode: %w", err)
	}
	return data, nil
}

// decode deserializes a stored payload into out.
func decode(data []byte, out any) error {
	if err := msgpack.Unmarshal(data, out); err != nil {
		return fmt.Errorf("store: decode: %w", err)
	}
	return nil
}

// openOptions is the shared Badger configuration. The store holds large
// values, so the memtable and value log are tuned down the same way for
// writers and readers.
func openOptions(path string, readOnly bool) badger.Options {
	opts := badger.DefaultOptions(path).
		WithLogger(nil).
		WithMemTableSize(16 << 20).
		WithValueLogFileSize(64 << 20).
		WithNumMemtables(2).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024).
		WithBlockCacheSize(32 << 20).
		WithIndexCacheSize(16 << 20)
	if readOnly {
		// Read-only opens take no exclusive lock, so many reader
		// processes can share one store.
		opts = opts.WithReadOnly(true)
	}
	return opts
}

// splitSizes partitions total records into parts near-equal bins, the
// remainder distributed to the first bins. The same split drives shard
// writing and partitioned reading, so both sides agree on boundaries.
func splitSizes(total, parts int) []int {
	q, r := total/parts, total%parts
	sizes := make([]int, parts)
	for i := range sizes {
		sizes[i] = q
		if i < r {
			sizes[i]++
		}
	}
	return sizes
}
