package dataset

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/crnlab/rxngraph/pkg/reaction"
	"github.com/crnlab/rxngraph/pkg/store"
)

// Sample is one persisted dataset record: a fully merged reaction graph
// and its label, self-contained so training workers deserialize samples
// without touching the molecule list.
type Sample struct {
	Graph *reaction.ReactionGraph `msgpack:"graph"`
	Label *Label                  `msgpack:"label"`
}

// Samples merges every accepted reaction into a self-contained sample.
// Reactions whose label carries a reverse target get the reverse graph
// attached. Merge failures abort: the network already validated every
// record, so a failure here is a programming error, not bad input.
func (d *Dataset) Samples(builder *reaction.Builder) ([]*Sample, error) {
	out := make([]*Sample, len(d.Network.Reactions))
	for i, rec := range d.Network.Reactions {
		reactants, products, err := d.Network.ParticipantGraphs(rec)
		if err != nil {
			return nil, fmt.Errorf("dataset: sample %d: %w", i, err)
		}

		lbl := d.Labels[i]
		var g *reaction.ReactionGraph
		if lbl.HasReverse() {
			g, _, err = builder.BuildWithReverse(rec, reactants, products)
		} else {
			g, _, err = builder.Build(rec, reactants, products)
		}
		if err != nil {
			return nil, fmt.Errorf("dataset: sample %d: %w", i, err)
		}
		out[i] = &Sample{Graph: g, Label: lbl}
	}
	return out, nil
}

// StoreMetadata builds the metadata record set persisted alongside the
// samples.
func (d *Dataset) StoreMetadata() store.Metadata {
	return store.Metadata{
		store.KeyDtype:       d.Statistics.Dtype,
		store.KeyFeatureSize: d.Statistics.FeatureSize,
		store.KeyFeatureName: d.Statistics.FeatureName,
	}
}

// WriteStore persists the dataset as a merged sample store named name
// under dir, writing shards with numWorkers parallel writers first. It
// returns the merged store path.
func (d *Dataset) WriteStore(ctx context.Context, builder *reaction.Builder, dir, name string, numWorkers int, logger *zap.Logger) (string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	samples, err := d.Samples(builder)
	if err != nil {
		return "", err
	}
	payload := make([]any, len(samples))
	for i, s := range samples {
		payload[i] = s
	}

	shardPaths, err := store.WriteSharded(ctx, dir, payload, d.StoreMetadata(), numWorkers, logger)
	if err != nil {
		return "", err
	}

	outPath := filepath.Join(dir, name)
	if err := store.MergeShards(shardPaths, outPath, logger); err != nil {
		return "", err
	}
	logger.Info("dataset store written",
		zap.String("path", outPath),
		zap.Int("samples", len(samples)))
	return outPath, nil
}
