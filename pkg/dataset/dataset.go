// Package dataset assembles reaction datasets: molecule graphs from a
// featurizer, raw reaction records, standardized features and labels, and
// train/validation/test splits.
//
// Assembly is a single pass that tolerates per-record failures (a molecule
// that cannot be featurized, a record with inconsistent mappings) by
// flagging them and continuing; it never tolerates a corrupt precomputed
// statistics state, which fails the whole build.
package dataset

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/crnlab/rxngraph/pkg/graph"
	"github.com/crnlab/rxngraph/pkg/reaction"
	"github.com/crnlab/rxngraph/pkg/scale"
)

// Molecule is the minimal view of an input molecule the builder needs:
// the element symbol of each atom. Featurization itself lives behind
// Grapher.
type Molecule interface {
	Species() []string
}

// GraphBuilt is an optional capability of a Molecule: one that already
// carries its featurized graph. The builder checks for it explicitly and
// skips the Grapher for such molecules.
type GraphBuilt interface {
	MoleculeGraph() *graph.MoleculeGraph
}

// Grapher featurizes molecules into typed-node graphs. The species list
// passed to BuildGraph is the dataset-wide vocabulary, so one-hot element
// encodings are consistent across all molecules of a dataset.
type Grapher interface {
	BuildGraph(mol Molecule, index int, species []string) (*graph.MoleculeGraph, error)
	FeatureSize() map[graph.NodeType]int
	FeatureName() map[graph.NodeType][]string
}

// LabelPolicy selects how regression labels are standardized.
type LabelPolicy int

const (
	// LabelIntensive standardizes with dataset-wide mean and std.
	LabelIntensive LabelPolicy = iota
	// LabelExtensive divides each label by its reaction's atom count.
	LabelExtensive
)

// Builder holds everything needed to assemble one dataset.
type Builder struct {
	Grapher   Grapher
	Molecules []Molecule
	Records   []*reaction.RawRecord

	// Dtype is the numeric type consumers should materialize features
	// as; "float32" or "float64". Stored as metadata, features are kept
	// as float64 in memory either way.
	Dtype string

	FeatureTransform bool
	LabelTransform   bool
	LabelPolicy      LabelPolicy

	// Classifier switches labels to one-hot category targets with
	// Categories classes. Classification labels are never standardized.
	Classifier bool
	Categories int

	// State supplies precomputed statistics (typically from the training
	// set). When set, its species list and scaler moments are used
	// verbatim; a missing required field is fatal.
	State *scale.DatasetStatistics

	// SpeciesOverride fixes the species vocabulary instead of deriving
	// it from the molecules, e.g. to featurize a subset against the full
	// dataset's vocabulary. Ignored when State is set.
	SpeciesOverride []string

	Logger *zap.Logger
}

// Dataset is the assembled result: the validated reaction network, one
// label per accepted reaction, and the statistics of the standardization
// pass.
type Dataset struct {
	Network    *reaction.Network
	Labels     []*Label
	Statistics *scale.DatasetStatistics
}

// Build runs the assembly pass.
func (b *Builder) Build() (*Dataset, error) {
	logger := b.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if b.Dtype != "float32" && b.Dtype != "float64" {
		return nil, fmt.Errorf("dataset: dtype %q, want float32 or float64", b.Dtype)
	}
	if b.Grapher == nil {
		return nil, fmt.Errorf("dataset: no grapher")
	}

	species, speciesOverride, err := b.resolveSpecies()
	if err != nil {
		return nil, err
	}

	graphs := b.buildGraphs(species, logger)

	stats := &scale.DatasetStatistics{
		Dtype:           b.Dtype,
		FeatureSize:     b.Grapher.FeatureSize(),
		FeatureName:     b.Grapher.FeatureName(),
		Species:         species,
		SpeciesOverride: speciesOverride,
	}

	if b.FeatureTransform {
		if err := b.scaleFeatures(graphs, stats, logger); err != nil {
			return nil, err
		}
	}

	records, labels := b.decodeRecords(logger)
	network := reaction.BuildNetwork(graphs, records, logger)

	accepted := make([]*Label, 0, len(network.Reactions))
	for _, rawIdx := range network.RawIndices {
		accepted = append(accepted, labels[rawIdx])
	}

	if b.LabelTransform && !b.Classifier {
		if err := b.scaleLabels(network, accepted, stats, logger); err != nil {
			return nil, err
		}
	}

	logger.Info("dataset assembled",
		zap.Int("molecules", len(b.Molecules)),
		zap.Int("reactions", network.Len()),
		zap.Int("rejected", len(b.Records)-network.Len()))

	return &Dataset{Network: network, Labels: accepted, Statistics: stats}, nil
}

// resolveSpecies decides the species vocabulary. Precedence: precomputed
// state, explicit override, then derivation from the molecules. The
// override is recorded in the statistics so downstream consumers can see
// the vocabulary did not come from this dataset's molecules.
func (b *Builder) resolveSpecies() ([]string, bool, error) {
	if b.State != nil {
		if err := b.State.RequireSpecies(); err != nil {
			return nil, false, err
		}
		return b.State.Species, b.State.SpeciesOverride, nil
	}
	if b.SpeciesOverride != nil {
		return b.SpeciesOverride, true, nil
	}

	set := map[string]struct{}{}
	for _, mol := range b.Molecules {
		if mol == nil {
			continue
		}
		for _, sp := range mol.Species() {
			set[sp] = struct{}{}
		}
	}
	species := make([]string, 0, len(set))
	for sp := range set {
		species = append(species, sp)
	}
	sort.Strings(species)
	return species, false, nil
}

// buildGraphs featurizes every molecule. Failures become nil entries so
// the graph list stays aligned with the molecule list; records touching a
// nil entry are rejected at network build.
func (b *Builder) buildGraphs(species []string, logger *zap.Logger) []*graph.MoleculeGraph {
	graphs := make([]*graph.MoleculeGraph, len(b.Molecules))
	for i, mol := range b.Molecules {
		if mol == nil {
			continue
		}
		if built, ok := mol.(GraphBuilt); ok {
			graphs[i] = built.MoleculeGraph()
			continue
		}
		g, err := b.Grapher.BuildGraph(mol, i, species)
		if err != nil {
			logger.Warn("molecule featurization failed",
				zap.Int("molecule", i),
				zap.Error(err))
			continue
		}
		graphs[i] = g
	}
	return graphs
}

func (b *Builder) scaleFeatures(graphs []*graph.MoleculeGraph, stats *scale.DatasetStatistics, logger *zap.Logger) error {
	var scaler *scale.HeteroGraphFeatureScaler
	var err error
	if b.State != nil {
		if err = b.State.RequireFeatureState(); err != nil {
			return err
		}
		scaler, err = scale.NewHeteroGraphFeatureScalerWithState(b.State.FeatureMean, b.State.FeatureStd, logger)
		if err != nil {
			return err
		}
	} else {
		scaler = scale.NewHeteroGraphFeatureScaler(logger)
	}

	if err := scaler.Apply(graphs); err != nil {
		return fmt.Errorf("dataset: feature standardization: %w", err)
	}
	stats.FeatureMean = scaler.Mean
	stats.FeatureStd = scaler.Std
	logger.Info("features standardized", zap.Int("node_types", len(scaler.Mean)))
	return nil
}

// decodeRecords converts raw entries into records and labels, both
// aligned 1:1 with the raw ordering. A raw entry that cannot produce a
// record or a label yields nil placeholders, which the network flags as
// failed.
func (b *Builder) decodeRecords(logger *zap.Logger) ([]*reaction.Record, []*Label) {
	records := make([]*reaction.Record, len(b.Records))
	labels := make([]*Label, len(b.Records))
	for i, raw := range b.Records {
		if raw == nil {
			continue
		}
		rec, err := raw.Record()
		if err == nil {
			var lbl *Label
			if b.Classifier {
				lbl, err = classificationLabel(raw, b.Categories)
			} else {
				lbl, err = regressionLabel(raw)
			}
			if err == nil {
				records[i] = rec
				labels[i] = lbl
				continue
			}
		}
		logger.Warn("record rejected",
			zap.String("record_id", raw.ID),
			zap.Int("raw_index", i),
			zap.Error(err))
	}
	return records, labels
}

// scaleLabels standardizes the accepted regression labels in place and
// records the scaler state both per label and in the statistics.
func (b *Builder) scaleLabels(network *reaction.Network, labels []*Label, stats *scale.DatasetStatistics, logger *zap.Logger) error {
	if len(labels) == 0 {
		return nil
	}

	values := make([]float64, len(labels))
	for i, l := range labels {
		values[i] = l.Regression.Value
	}

	var scaler scale.Scaler
	switch b.LabelPolicy {
	case LabelExtensive:
		// Divisors derive from the records, so precomputed state needs
		// no extra fields here.
		scaler = &scale.ExtensiveScaler{Divisors: network.AtomCounts()}
	default:
		std := &scale.StandardScaler{}
		if b.State != nil {
			if err := b.State.RequireLabelState(); err != nil {
				return err
			}
			std.Mean = b.State.LabelMean
			std.Std = b.State.LabelStd
		}
		scaler = std
	}

	scaled, means, stds, err := scaler.Apply(values)
	if err != nil {
		return fmt.Errorf("dataset: label standardization: %w", err)
	}

	for i, l := range labels {
		mean, sd := means[i], stds[i]
		l.Regression.Value = scaled[i]
		l.Regression.ScalerMean = &mean
		l.Regression.ScalerStd = &sd
		if l.Regression.Reverse != nil {
			rev := (*l.Regression.Reverse - mean) / sd
			l.Regression.Reverse = &rev
		}
	}

	if b.LabelPolicy == LabelIntensive {
		stats.LabelMean = &means[0]
		stats.LabelStd = &stds[0]
		logger.Info("labels standardized",
			zap.Float64("mean", means[0]),
			zap.Float64("std", stds[0]))
	} else {
		logger.Info("labels standardized", zap.String("policy", "extensive"))
	}
	return nil
}

// Len returns the number of accepted reactions.
func (d *Dataset) Len() int { return d.Network.Len() }

// Get returns the shared network, the record, and the label of reaction i.
func (d *Dataset) Get(i int) (*reaction.Network, *reaction.Record, *Label, error) {
	n, rec, err := d.Network.Get(i)
	if err != nil {
		return nil, nil, nil, err
	}
	return n, rec, d.Labels[i], nil
}

// Failed exposes the per-raw-record failure flags.
func (d *Dataset) Failed() []bool { return d.Network.Failed }
