package dataset

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crnlab/rxngraph/pkg/graph"
	"github.com/crnlab/rxngraph/pkg/reaction"
	"github.com/crnlab/rxngraph/pkg/scale"
	"github.com/crnlab/rxngraph/pkg/store"
)

// testMol carries just the element symbols.
type testMol struct {
	species []string
}

func (m *testMol) Species() []string { return m.species }

// prebuiltMol also carries its own featurized graph.
type prebuiltMol struct {
	testMol
	g *graph.MoleculeGraph
}

func (m *prebuiltMol) MoleculeGraph() *graph.MoleculeGraph { return m.g }

// testGrapher featurizes deterministically: atom row i of molecule k is
// {i, k}, bond rows are {k}, the global row is {k}.
type testGrapher struct {
	failAt map[int]bool
}

func (g *testGrapher) BuildGraph(mol Molecule, index int, species []string) (*graph.MoleculeGraph, error) {
	if g.failAt[index] {
		return nil, fmt.Errorf("no parameters for molecule %d", index)
	}
	n := len(mol.Species())
	atoms := make([][]float64, n)
	for i := range atoms {
		atoms[i] = []float64{float64(i), float64(index)}
	}
	bonds := make([][]float64, n-1)
	for i := range bonds {
		bonds[i] = []float64{float64(index)}
	}
	am, err := graph.NewFeatureMatrix(atoms)
	if err != nil {
		return nil, err
	}
	bm, err := graph.NewFeatureMatrix(bonds)
	if err != nil {
		return nil, err
	}
	gm, err := graph.NewFeatureMatrix([][]float64{{float64(index)}})
	if err != nil {
		return nil, err
	}
	return graph.NewMoleculeGraph(index, map[graph.NodeType]*graph.FeatureMatrix{
		graph.NodeAtom:   am,
		graph.NodeBond:   bm,
		graph.NodeGlobal: gm,
	})
}

func (g *testGrapher) FeatureSize() map[graph.NodeType]int {
	return map[graph.NodeType]int{graph.NodeAtom: 2, graph.NodeBond: 1, graph.NodeGlobal: 1}
}

func (g *testGrapher) FeatureName() map[graph.NodeType][]string {
	return map[graph.NodeType][]string{
		graph.NodeAtom:   {"pos", "mol"},
		graph.NodeBond:   {"mol"},
		graph.NodeGlobal: {"mol"},
	}
}

// rawRecord builds a balanced 3-atom, 2-bond A -> B record.
func rawRecord(id string, reactant, product int, value float64, valueRev *float64) *reaction.RawRecord {
	v := value
	return &reaction.RawRecord{
		Reactants:   []int{reactant},
		Products:    []int{product},
		AtomMapping: [][][]int{{{0, 1, 2}}, {{0, 1, 2}}},
		BondMapping: [][][]int{{{0, 1}}, {{0, 1}}},
		TotalAtoms:  3,
		TotalBonds:  2,
		ID:          id,
		Value:       &v,
		ValueReverse: valueRev,
	}
}

func threeAtomMolecules(n int) []Molecule {
	mols := make([]Molecule, n)
	for i := range mols {
		mols[i] = &testMol{species: []string{"C", "H", "O"}}
	}
	return mols
}

func newTestBuilder(mols []Molecule, records []*reaction.RawRecord) *Builder {
	return &Builder{
		Grapher:   &testGrapher{},
		Molecules: mols,
		Records:   records,
		Dtype:     "float64",
	}
}

func TestBuilder_Build(t *testing.T) {
	t.Run("assembles_network_and_labels", func(t *testing.T) {
		b := newTestBuilder(threeAtomMolecules(3), []*reaction.RawRecord{
			rawRecord("r0", 0, 1, 1.5, nil),
			rawRecord("r1", 1, 2, -0.5, nil),
		})
		ds, err := b.Build()
		require.NoError(t, err)

		assert.Equal(t, 2, ds.Len())
		assert.Equal(t, []bool{false, false}, ds.Failed())

		_, rec, lbl, err := ds.Get(1)
		require.NoError(t, err)
		assert.Equal(t, "r1", rec.ID)
		require.NotNil(t, lbl.Regression)
		assert.Equal(t, -0.5, lbl.Regression.Value)
		assert.Nil(t, lbl.Classification)
	})

	t.Run("species_derived_sorted_unique", func(t *testing.T) {
		mols := []Molecule{
			&testMol{species: []string{"O", "H", "H"}},
			&testMol{species: []string{"C", "H"}},
		}
		b := newTestBuilder(mols, nil)
		ds, err := b.Build()
		require.NoError(t, err)
		assert.Equal(t, []string{"C", "H", "O"}, ds.Statistics.Species)
		assert.False(t, ds.Statistics.SpeciesOverride)
	})

	t.Run("species_override_is_recorded", func(t *testing.T) {
		b := newTestBuilder(threeAtomMolecules(1), nil)
		b.SpeciesOverride = []string{"C", "H", "N", "O"}
		ds, err := b.Build()
		require.NoError(t, err)
		assert.Equal(t, []string{"C", "H", "N", "O"}, ds.Statistics.Species)
		assert.True(t, ds.Statistics.SpeciesOverride)
	})

	t.Run("precomputed_state_wins_over_override", func(t *testing.T) {
		b := newTestBuilder(threeAtomMolecules(1), nil)
		b.SpeciesOverride = []string{"X"}
		b.State = &scale.DatasetStatistics{Species: []string{"C", "H"}}
		ds, err := b.Build()
		require.NoError(t, err)
		assert.Equal(t, []string{"C", "H"}, ds.Statistics.Species)
	})

	t.Run("state_without_species_is_corrupt", func(t *testing.T) {
		b := newTestBuilder(threeAtomMolecules(1), nil)
		b.State = &scale.DatasetStatistics{}
		_, err := b.Build()
		assert.ErrorIs(t, err, scale.ErrCorruptState)
	})

	t.Run("rejects_unknown_dtype", func(t *testing.T) {
		b := newTestBuilder(threeAtomMolecules(1), nil)
		b.Dtype = "float16"
		_, err := b.Build()
		assert.Error(t, err)
	})

	t.Run("failed_featurization_flags_dependent_records", func(t *testing.T) {
		b := newTestBuilder(threeAtomMolecules(3), []*reaction.RawRecord{
			rawRecord("ok", 0, 2, 1.0, nil),
			rawRecord("broken", 0, 1, 2.0, nil),
		})
		b.Grapher = &testGrapher{failAt: map[int]bool{1: true}}
		ds, err := b.Build()
		require.NoError(t, err)
		assert.Equal(t, 1, ds.Len())
		assert.Equal(t, []bool{false, true}, ds.Failed())
		assert.Equal(t, []string{"broken"}, ds.Network.RejectedIDs)
	})

	t.Run("record_without_value_is_flagged", func(t *testing.T) {
		bad := rawRecord("no_value", 0, 1, 0, nil)
		bad.Value = nil
		b := newTestBuilder(threeAtomMolecules(2), []*reaction.RawRecord{bad})
		ds, err := b.Build()
		require.NoError(t, err)
		assert.Equal(t, 0, ds.Len())
		assert.Equal(t, []bool{true}, ds.Failed())
	})

	t.Run("prebuilt_molecule_skips_grapher", func(t *testing.T) {
		g := &testGrapher{}
		pre, err := g.BuildGraph(&testMol{species: []string{"C", "H", "O"}}, 7, nil)
		require.NoError(t, err)

		b := newTestBuilder([]Molecule{
			&prebuiltMol{testMol: testMol{species: []string{"C", "H", "O"}}, g: pre},
		}, nil)
		b.Grapher = &testGrapher{failAt: map[int]bool{0: true}}
		ds, err := b.Build()
		require.NoError(t, err)
		assert.Same(t, pre, ds.Network.Molecules[0])
	})
}

func TestBuilder_FeatureTransform(t *testing.T) {
	t.Run("computes_and_records_moments", func(t *testing.T) {
		b := newTestBuilder(threeAtomMolecules(2), nil)
		b.FeatureTransform = true
		ds, err := b.Build()
		require.NoError(t, err)

		require.Contains(t, ds.Statistics.FeatureMean, graph.NodeAtom)
		require.Contains(t, ds.Statistics.FeatureStd, graph.NodeAtom)
		// Atom column 0 is {0,1,2} per molecule: mean 1 across both.
		assert.InDelta(t, 1.0, ds.Statistics.FeatureMean[graph.NodeAtom][0], 1e-12)
		// Row 0 of molecule 0 was {0, 0}; scaled column 0 is (0-1)/std.
		m := ds.Network.Molecules[0].FeatureMatrixFor(graph.NodeAtom)
		assert.Negative(t, m.At(0, 0))
	})

	t.Run("state_moments_are_used_verbatim", func(t *testing.T) {
		b := newTestBuilder(threeAtomMolecules(2), nil)
		b.FeatureTransform = true
		b.State = &scale.DatasetStatistics{
			Species: []string{"C", "H", "O"},
			FeatureMean: map[graph.NodeType][]float64{
				graph.NodeAtom: {10, 0}, graph.NodeBond: {0}, graph.NodeGlobal: {0},
			},
			FeatureStd: map[graph.NodeType][]float64{
				graph.NodeAtom: {2, 1}, graph.NodeBond: {1}, graph.NodeGlobal: {1},
			},
		}
		ds, err := b.Build()
		require.NoError(t, err)
		// Atom row 0 of molecule 0 was {0, 0}; (0-10)/2 = -5.
		m := ds.Network.Molecules[0].FeatureMatrixFor(graph.NodeAtom)
		assert.InDelta(t, -5.0, m.At(0, 0), 1e-12)
	})

	t.Run("state_without_moments_is_corrupt", func(t *testing.T) {
		b := newTestBuilder(threeAtomMolecules(1), nil)
		b.FeatureTransform = true
		b.State = &scale.DatasetStatistics{Species: []string{"C"}}
		_, err := b.Build()
		assert.ErrorIs(t, err, scale.ErrCorruptState)
	})
}

func TestBuilder_LabelTransform(t *testing.T) {
	rev := 4.0
	records := func() []*reaction.RawRecord {
		return []*reaction.RawRecord{
			rawRecord("a", 0, 1, 1.0, &rev),
			rawRecord("b", 1, 2, 3.0, nil),
		}
	}

	t.Run("intensive_standardization", func(t *testing.T) {
		b := newTestBuilder(threeAtomMolecules(3), records())
		b.LabelTransform = true
		ds, err := b.Build()
		require.NoError(t, err)

		// Values {1, 3}: mean 2, sample std sqrt(2).
		assert.InDelta(t, -1.0/math.Sqrt2, ds.Labels[0].Regression.Value, 1e-12)
		assert.InDelta(t, 1.0/math.Sqrt2, ds.Labels[1].Regression.Value, 1e-12)
		assert.InDelta(t, math.Sqrt2, *ds.Labels[0].Regression.Reverse, 1e-12)

		require.NotNil(t, ds.Statistics.LabelMean)
		assert.InDelta(t, 2.0, *ds.Statistics.LabelMean, 1e-12)
		assert.InDelta(t, math.Sqrt2, *ds.Statistics.LabelStd, 1e-12)

		got, err := scale.Descale(
			[]float64{ds.Labels[0].Regression.Value},
			[]float64{*ds.Labels[0].Regression.ScalerMean},
			[]float64{*ds.Labels[0].Regression.ScalerStd})
		require.NoError(t, err)
		assert.InDelta(t, 1.0, got[0], 1e-12)
	})

	t.Run("extensive_divides_by_atom_count", func(t *testing.T) {
		b := newTestBuilder(threeAtomMolecules(3), records())
		b.LabelTransform = true
		b.LabelPolicy = LabelExtensive
		ds, err := b.Build()
		require.NoError(t, err)

		assert.InDelta(t, 1.0/3.0, ds.Labels[0].Regression.Value, 1e-12)
		assert.InDelta(t, 3.0, *ds.Labels[0].Regression.ScalerStd, 1e-12)
		assert.Zero(t, *ds.Labels[0].Regression.ScalerMean)
		assert.Nil(t, ds.Statistics.LabelMean)
	})

	t.Run("state_moments_are_used_verbatim", func(t *testing.T) {
		mean, std := 10.0, 2.0
		b := newTestBuilder(threeAtomMolecules(3), records())
		b.LabelTransform = true
		b.State = &scale.DatasetStatistics{
			Species:   []string{"C", "H", "O"},
			LabelMean: &mean,
			LabelStd:  &std,
		}
		ds, err := b.Build()
		require.NoError(t, err)
		assert.InDelta(t, (1.0-10.0)/2.0, ds.Labels[0].Regression.Value, 1e-12)
	})

	t.Run("state_without_label_moments_is_corrupt", func(t *testing.T) {
		b := newTestBuilder(threeAtomMolecules(3), records())
		b.LabelTransform = true
		b.State = &scale.DatasetStatistics{Species: []string{"C", "H", "O"}}
		_, err := b.Build()
		assert.ErrorIs(t, err, scale.ErrCorruptState)
	})
}

func TestBuilder_Classifier(t *testing.T) {
	t.Run("one_hot_labels", func(t *testing.T) {
		rev := 0.0
		b := newTestBuilder(threeAtomMolecules(2), []*reaction.RawRecord{
			rawRecord("c0", 0, 1, 2.0, &rev),
		})
		b.Classifier = true
		b.Categories = 3
		ds, err := b.Build()
		require.NoError(t, err)

		lbl := ds.Labels[0]
		require.NotNil(t, lbl.Classification)
		assert.Nil(t, lbl.Regression)
		assert.Equal(t, []float64{0, 0, 1}, lbl.Classification.OneHot)
		assert.Equal(t, []float64{1, 0, 0}, lbl.Classification.Reverse)
	})

	t.Run("category_out_of_range_is_flagged", func(t *testing.T) {
		b := newTestBuilder(threeAtomMolecules(2), []*reaction.RawRecord{
			rawRecord("c0", 0, 1, 5.0, nil),
		})
		b.Classifier = true
		b.Categories = 3
		ds, err := b.Build()
		require.NoError(t, err)
		assert.Equal(t, 0, ds.Len())
		assert.Equal(t, []bool{true}, ds.Failed())
	})

	t.Run("classifier_labels_are_never_scaled", func(t *testing.T) {
		b := newTestBuilder(threeAtomMolecules(2), []*reaction.RawRecord{
			rawRecord("c0", 0, 1, 1.0, nil),
		})
		b.Classifier = true
		b.Categories = 2
		b.LabelTransform = true
		ds, err := b.Build()
		require.NoError(t, err)
		assert.Equal(t, []float64{0, 1}, ds.Labels[0].Classification.OneHot)
		assert.Nil(t, ds.Statistics.LabelMean)
	})
}

func TestDataset_Samples(t *testing.T) {
	rev := 2.5
	b := newTestBuilder(threeAtomMolecules(3), []*reaction.RawRecord{
		rawRecord("fwd_only", 0, 1, 1.0, nil),
		rawRecord("with_rev", 1, 2, 2.0, &rev),
	})
	ds, err := b.Build()
	require.NoError(t, err)

	samples, err := ds.Samples(reaction.NewBuilder(nil))
	require.NoError(t, err)
	require.Len(t, samples, 2)

	assert.Nil(t, samples[0].Graph.Reverse)
	assert.NotNil(t, samples[1].Graph.Reverse)
	assert.Equal(t, 3, samples[0].Graph.TotalAtoms)
	assert.Equal(t, "with_rev", samples[1].Label.ID)
}

func TestDataset_WriteStore(t *testing.T) {
	recs := []*reaction.RawRecord{
		rawRecord("r0", 0, 1, 1.0, nil),
		rawRecord("r1", 1, 2, 2.0, nil),
		rawRecord("r2", 2, 3, 3.0, nil),
	}
	recs[1].ExtraInfo = map[string]any{"functional_group": "carbonyl"}
	b := newTestBuilder(threeAtomMolecules(4), recs)
	ds, err := b.Build()
	require.NoError(t, err)

	dir := t.TempDir()
	outPath, err := ds.WriteStore(context.Background(), reaction.NewBuilder(nil), dir, "data", 2, nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "data"), outPath)

	s, err := store.Open(outPath, nil)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, 3, s.Length())

	var sample Sample
	require.NoError(t, s.Get(1, &sample))
	assert.Equal(t, "r1", sample.Label.ID)
	assert.Equal(t, 3, sample.Graph.TotalAtoms)
	assert.Equal(t, 2.0, sample.Label.Regression.Value)
	assert.Equal(t, "carbonyl", sample.Label.ExtraInfo["functional_group"])

	dtype, err := s.Dtype()
	require.NoError(t, err)
	assert.Equal(t, "float64", dtype)

	size, err := s.FeatureSize()
	require.NoError(t, err)
	assert.Equal(t, 2, size[graph.NodeAtom])
}
