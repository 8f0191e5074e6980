package store

import (
	"encoding/hex"
	"fmt"
	"os"
	"sort"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
)

// MergeShards combines shard stores into one output store with dense
// contiguous positional keys: shard 0's records first in their original
// relative order, then shard 1's, and so on.
//
// Metadata keys are copied last-shard-wins; all shards are expected to
// carry identical metadata and no conflict detection beyond that is
// attempted. After all records are copied the merger writes the corrected
// total "length" and a blake2b fingerprint over the sample payloads in
// final order, then syncs the output. Shard stores are deleted only after
// the output is durable, so a crash can lose the merge but never the
// inputs.
//
// Must run only after every shard writer has completed and closed; the
// merge assumes no concurrent writers.
func MergeShards(shardPaths []string, outPath string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	out, err := badger.Open(openOptions(outPath, false))
	if err != nil {
		return fmt.Errorf("store: open merge output %s: %w", outPath, err)
	}

	hasher, err := blake2b.New256(nil)
	if err != nil {
		out.Close()
		return fmt.Errorf("store: fingerprint hasher: %w", err)
	}

	idx := 0
	for _, shardPath := range shardPaths {
		records, meta, err := readShard(shardPath)
		if err != nil {
			out.Close()
			return err
		}
		for _, rec := range records {
			if err := putValue(out, positionalKey(idx), rec.value); err != nil {
				out.Close()
				return fmt.Errorf("store: merge record %d: %w", idx, err)
			}
			hasher.Write(rec.value)
			idx++
		}
		for key, value := range meta {
			if err := putValue(out, []byte(key), value); err != nil {
				out.Close()
				return fmt.Errorf("store: merge metadata %q: %w", key, err)
			}
		}
		logger.Info("shard merged",
			zap.String("shard", shardPath),
			zap.Int("records", len(records)),
			zap.Int("total", idx))
	}

	lengthData, err := encode(idx)
	if err != nil {
		out.Close()
		return err
	}
	if err := putValue(out, []byte(KeyLength), lengthData); err != nil {
		out.Close()
		return fmt.Errorf("store: merge length: %w", err)
	}

	fingerprint, err := encode(hex.EncodeToString(hasher.Sum(nil)))
	if err != nil {
		out.Close()
		return err
	}
	if err := putValue(out, []byte(KeyFingerprint), fingerprint); err != nil {
		out.Close()
		return fmt.Errorf("store: merge fingerprint: %w", err)
	}

	if err := out.Sync(); err != nil {
		out.Close()
		return fmt.Errorf("store: sync merge output: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("store: close merge output: %w", err)
	}

	// Inputs go away only once the output is fully durable.
	for _, shardPath := range shardPaths {
		if err := os.RemoveAll(shardPath); err != nil {
			return fmt.Errorf("store: delete shard %s: %w", shardPath, err)
		}
		logger.Debug("shard deleted", zap.String("shard", shardPath))
	}
	return nil
}

type mergeRecord struct {
	pos   int
	value []byte
}

// readShard loads a shard's positional records (sorted by position, so the
// shard's own sample order survives renumbering) and its metadata. Only
// keys actually present are trusted; a partially written shard simply
// contributes fewer records.
func readShard(path string) ([]mergeRecord, map[string][]byte, error) {
	db, err := badger.Open(openOptions(path, true))
	if err != nil {
		return nil, nil, fmt.Errorf("store: open shard %s: %w", path, err)
	}
	defer db.Close()

	var records []mergeRecord
	meta := make(map[string][]byte)
	err = db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if pos, ok := positionalIndex(key); ok {
				records = append(records, mergeRecord{pos: pos, value: value})
			} else {
				meta[string(key)] = value
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("store: read shard %s: %w", path, err)
	}

	// Badger iterates lexicographically ("10" before "2"); restore the
	// numeric record order.
	sort.Slice(records, func(i, j int) bool { return records[i].pos < records[j].pos })
	return records, meta, nil
}

func putValue(db *badger.DB, key, value []byte) error {
	return db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}
