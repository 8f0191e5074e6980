package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ShardWriter writes one worker's slice of the dataset into its own shard
// store. A shard is owned exclusively by its writer; isolation comes from
// partitioning the sample sequence upfront, not from locking.
type ShardWriter struct {
	db     *badger.DB
	path   string
	logger *zap.Logger
}

// NewShardWriter opens (and creates) the shard store at path.
func NewShardWriter(path string, logger *zap.Logger) (*ShardWriter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := badger.Open(openOptions(path, false))
	if err != nil {
		return nil, fmt.Errorf("store: open shard %s: %w", path, err)
	}
	return &ShardWriter{db: db, path: path, logger: logger}, nil
}

// Write persists the samples under positional keys 0..len-1 in the given
// order, then the shard's own "length" and the dataset-wide metadata.
//
// Each key/value pair commits in its own transaction, so a crash mid-write
// leaves a shard with some but not all records; the merge step only trusts
// keys actually present.
func (w *ShardWriter) Write(samples []any, meta Metadata) error {
	for i, s := range samples {
		data, err := encode(s)
		if err != nil {
			return fmt.Errorf("store: shard %s sample %d: %w", w.path, i, err)
		}
		if err := w.put(positionalKey(i), data); err != nil {
			return fmt.Errorf("store: shard %s sample %d: %w", w.path, i, err)
		}
	}

	lengthData, err := encode(len(samples))
	if err != nil {
		return err
	}
	if err := w.put([]byte(KeyLength), lengthData); err != nil {
		return fmt.Errorf("store: shard %s length: %w", w.path, err)
	}

	for key, v := range meta {
		if _, ok := positionalIndex([]byte(key)); ok {
			return fmt.Errorf("store: metadata key %q parses as a positional index", key)
		}
		data, err := encode(v)
		if err != nil {
			return fmt.Errorf("store: shard %s metadata %q: %w", w.path, key, err)
		}
		if err := w.put([]byte(key), data); err != nil {
			return fmt.Errorf("store: shard %s metadata %q: %w", w.path, key, err)
		}
	}

	w.logger.Debug("shard written",
		zap.String("path", w.path),
		zap.Int("samples", len(samples)),
		zap.Int("metadata_keys", len(meta)))
	return nil
}

func (w *ShardWriter) put(key, value []byte) error {
	return w.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

// Close syncs and closes the shard store.
func (w *ShardWriter) Close() error {
	if err := w.db.Sync(); err != nil {
		w.db.Close()
		return fmt.Errorf("store: sync shard %s: %w", w.path, err)
	}
	return w.db.Close()
}

// Path returns the shard store location.
func (w *ShardWriter) Path() string { return w.path }

// WriteSharded splits samples into numShards near-equal contiguous chunks
// (remainder to the first shards) and writes each chunk into its own shard
// store under dir, one goroutine per shard.
//
// Shard names embed a per-run id, so two runs sharing a scratch directory
// cannot collide. Any worker error cancels the group and fails the whole
// job: a failed worker must never be followed by a merge. The returned
// paths are in shard order and only valid when err is nil; the errgroup
// Wait is the synchronization barrier the merge step requires.
func WriteSharded(ctx context.Context, dir string, samples []any, meta Metadata, numShards int, logger *zap.Logger) ([]string, error) {
	if numShards < 1 {
		return nil, fmt.Errorf("store: numShards %d, want >= 1", numShards)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create %s: %w", dir, err)
	}

	runID := uuid.NewString()[:8]
	paths := make([]string, numShards)
	for i := range paths {
		paths[i] = filepath.Join(dir, fmt.Sprintf("_tmp_data.%s.%04d", runID, i))
	}

	sizes := splitSizes(len(samples), numShards)
	g, ctx := errgroup.WithContext(ctx)
	offset := 0
	for i := 0; i < numShards; i++ {
		chunk := samples[offset : offset+sizes[i]]
		path := paths[i]
		shard := i
		offset += sizes[i]

		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			w, err := NewShardWriter(path, logger)
			if err != nil {
				return err
			}
			if err := w.Write(chunk, meta); err != nil {
				w.Close()
				return err
			}
			if err := w.Close(); err != nil {
				return err
			}
			logger.Info("shard complete",
				zap.Int("shard", shard),
				zap.Int("samples", len(chunk)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("store: shard write failed: %w", err)
	}
	return paths, nil
}
