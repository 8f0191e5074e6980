package dataset

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/crnlab/rxngraph/pkg/graph"
)

// PrebuiltMolecule is a molecule whose featurized graph was produced
// elsewhere and loaded from disk. It satisfies the GraphBuilt capability,
// so the builder uses the graph as-is.
type PrebuiltMolecule struct {
	Elements []string
	Graph    *graph.MoleculeGraph
}

// Species implements Molecule.
func (m *PrebuiltMolecule) Species() []string { return m.Elements }

// MoleculeGraph implements GraphBuilt.
func (m *PrebuiltMolecule) MoleculeGraph() *graph.MoleculeGraph { return m.Graph }

// moleculeEntry is the on-disk shape of one molecule: its element symbols
// and one feature matrix per node type. A null entry marks a molecule
// that failed upstream featurization and keeps the index space aligned.
type moleculeEntry struct {
	Species  []string                                `yaml:"species"`
	Features map[graph.NodeType]*graph.FeatureMatrix `yaml:"features"`
}

// LoadMolecules reads a YAML list of pre-featurized molecules. Null
// entries come back as nil molecules; records referencing them are
// flagged at network build.
func LoadMolecules(path string) ([]Molecule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: read molecules: %w", err)
	}
	var entries []*moleculeEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("dataset: decode molecules %s: %w", path, err)
	}

	mols := make([]Molecule, len(entries))
	for i, e := range entries {
		if e == nil {
			continue
		}
		for t, m := range e.Features {
			if m == nil || m.NumRows*m.NumCols != len(m.Data) {
				return nil, fmt.Errorf("dataset: molecule %d: malformed %q matrix", i, t)
			}
		}
		if atoms := e.Features[graph.NodeAtom]; atoms != nil && atoms.NumRows != len(e.Species) {
			return nil, fmt.Errorf("dataset: molecule %d: %d atom rows for %d species",
				i, atoms.NumRows, len(e.Species))
		}
		g, err := graph.NewMoleculeGraph(i, e.Features)
		if err != nil {
			return nil, fmt.Errorf("dataset: molecule %d: %w", i, err)
		}
		mols[i] = &PrebuiltMolecule{Elements: e.Species, Graph: g}
	}
	return mols, nil
}

// StaticGrapher serves feature metadata derived from pre-featurized
// molecules and refuses to featurize anything itself. Pair it with
// molecules loaded by LoadMolecules.
type StaticGrapher struct {
	sizes map[graph.NodeType]int
	names map[graph.NodeType][]string
}

// NewStaticGrapher derives the per-node-type feature widths from the
// molecules' graphs. Column names are synthesized as f0, f1, ...
func NewStaticGrapher(mols []Molecule) (*StaticGrapher, error) {
	g := &StaticGrapher{
		sizes: map[graph.NodeType]int{},
		names: map[graph.NodeType][]string{},
	}
	for i, mol := range mols {
		built, ok := mol.(GraphBuilt)
		if !ok {
			continue
		}
		mg := built.MoleculeGraph()
		if mg == nil {
			continue
		}
		for _, t := range mg.NodeTypes() {
			m := mg.FeatureMatrixFor(t)
			if m.Rows() == 0 {
				continue
			}
			w := m.Cols()
			if prev, ok := g.sizes[t]; ok && prev != w {
				return nil, fmt.Errorf("dataset: molecule %d: node type %q width %d, others have %d", i, t, w, prev)
			}
			g.sizes[t] = w
		}
	}
	for t, w := range g.sizes {
		names := make([]string, w)
		for j := range names {
			names[j] = fmt.Sprintf("f%d", j)
		}
		g.names[t] = names
	}
	return g, nil
}

// BuildGraph implements Grapher. StaticGrapher cannot featurize; every
// molecule is expected to carry its own graph.
func (g *StaticGrapher) BuildGraph(_ Molecule, index int, _ []string) (*graph.MoleculeGraph, error) {
	return nil, fmt.Errorf("dataset: molecule %d has no prebuilt graph", index)
}

// FeatureSize implements Grapher.
func (g *StaticGrapher) FeatureSize() map[graph.NodeType]int { return g.sizes }

// FeatureName implements Grapher.
func (g *StaticGrapher) FeatureName() map[graph.NodeType][]string { return g.names }
