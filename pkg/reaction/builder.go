package reaction

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/crnlab/rxngraph/pkg/graph"
)

// ReactionGraph is the merged representation of one reaction.
//
// Atom and bond feature rows sit at the unified indices given by the
// record's mappings. Both per-side layers are kept (models build reaction
// features from the reactant/product pair); AtomFeatures and BondFeatures
// are the overlay view where a position written by both sides takes the
// product-side row, matching the forward reaction direction.
type ReactionGraph struct {
	ID string

	TotalAtoms int
	TotalBonds int

	AtomFeatures *graph.FeatureMatrix
	BondFeatures *graph.FeatureMatrix

	ReactantAtoms *graph.FeatureMatrix
	ReactantBonds *graph.FeatureMatrix
	ProductAtoms  *graph.FeatureMatrix
	ProductBonds  *graph.FeatureMatrix

	// GlobalFeatures is the single reaction-level global node row, the
	// element-wise mean of the participant global rows.
	GlobalFeatures *graph.FeatureMatrix

	// Reverse is the product-to-reactant variant, attached only when the
	// record defines one. It reuses the same merge with mappings swapped,
	// so models needing the time-reversed reaction do not rebuild
	// features from raw molecules.
	Reverse *ReactionGraph `msgpack:",omitempty"`
}

// MergeAudit is the feature-length bookkeeping of one merge. A mismatch
// between written rows and the declared node counts is surfaced as a
// dataset-construction warning, not a fatal error.
type MergeAudit struct {
	ReactionID string

	// WrittenRows counts distinct unified positions written per node
	// type; DeclaredRows is what the record claims.
	WrittenRows  map[graph.NodeType]int
	DeclaredRows map[graph.NodeType]int

	// HasBonds records, per side and participant, whether the
	// participant contributed at least one mapped bond.
	HasBonds [2][]bool
}

// OK reports whether every node type's written rows match the declaration.
func (a *MergeAudit) OK() bool {
	for t, declared := range a.DeclaredRows {
		if a.WrittenRows[t] != declared {
			return false
		}
	}
	return true
}

// Builder merges participant molecule graphs into reaction graphs.
type Builder struct {
	logger *zap.Logger
}

// NewBuilder returns a merge builder. Pass nil to keep it quiet.
func NewBuilder(logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{logger: logger}
}

// Build merges the resolved participant graphs of rec (reactants then
// products, in record order) into one reaction graph.
//
// Every participant's per-atom and per-bond feature rows are copied to
// the unified positions given by the mappings. A position written twice
// within one side is a structural error: a side's index space must
// partition, not overlap, across its participants. Audit mismatches
// (written rows != declared counts) are reported on the returned
// MergeAudit and logged, never raised.
func (b *Builder) Build(rec *Record, reactants, products []*graph.MoleculeGraph) (*ReactionGraph, *MergeAudit, error) {
	return b.build(rec, reactants, products, false)
}

// BuildWithReverse merges the forward graph and attaches the
// product-to-reactant variant.
func (b *Builder) BuildWithReverse(rec *Record, reactants, products []*graph.MoleculeGraph) (*ReactionGraph, *MergeAudit, error) {
	g, audit, err := b.build(rec, reactants, products, false)
	if err != nil {
		return nil, audit, err
	}
	rev, _, err := b.build(rec, reactants, products, true)
	if err != nil {
		return nil, audit, err
	}
	g.Reverse = rev
	return g, audit, nil
}

func (b *Builder) build(rec *Record, reactants, products []*graph.MoleculeGraph, reverse bool) (*ReactionGraph, *MergeAudit, error) {
	atomMap, bondMap := rec.AtomMapping, rec.BondMapping
	if reverse {
		atomMap = swapSides(atomMap)
		bondMap = swapSides(bondMap)
		reactants, products = products, reactants
	}

	sides := [2][]*graph.MoleculeGraph{reactants, products}
	audit := &MergeAudit{
		ReactionID:   rec.ID,
		WrittenRows:  map[graph.NodeType]int{},
		DeclaredRows: map[graph.NodeType]int{graph.NodeAtom: rec.TotalAtoms, graph.NodeBond: rec.TotalBonds, graph.NodeGlobal: 1},
	}

	// Participant count vs mapping entry count is a structural error,
	// never silently ignored.
	for _, s := range []Side{SideReactants, SideProducts} {
		if len(atomMap[s]) != len(sides[s]) {
			return nil, audit, fmt.Errorf("%w: record %q: %d %s atom mappings for %d graphs",
				ErrStructuralMapping, rec.ID, len(atomMap[s]), s, len(sides[s]))
		}
		if len(bondMap[s]) != len(sides[s]) {
			return nil, audit, fmt.Errorf("%w: record %q: %d %s bond mappings for %d graphs",
				ErrStructuralMapping, rec.ID, len(bondMap[s]), s, len(sides[s]))
		}
		hb := make([]bool, len(bondMap[s]))
		for i, mp := range bondMap[s] {
			hb[i] = len(mp) > 0
		}
		audit.HasBonds[s] = hb
	}

	atomCols, err := featureWidth(sides, graph.NodeAtom)
	if err != nil {
		return nil, audit, fmt.Errorf("record %q: %w", rec.ID, err)
	}
	bondCols, err := featureWidth(sides, graph.NodeBond)
	if err != nil {
		return nil, audit, fmt.Errorf("record %q: %w", rec.ID, err)
	}
	globalCols, err := featureWidth(sides, graph.NodeGlobal)
	if err != nil {
		return nil, audit, fmt.Errorf("record %q: %w", rec.ID, err)
	}

	out := &ReactionGraph{
		ID:            rec.ID,
		TotalAtoms:    rec.TotalAtoms,
		TotalBonds:    rec.TotalBonds,
		ReactantAtoms: graph.Zeros(rec.TotalAtoms, atomCols),
		ProductAtoms:  graph.Zeros(rec.TotalAtoms, atomCols),
		ReactantBonds: graph.Zeros(rec.TotalBonds, bondCols),
		ProductBonds:  graph.Zeros(rec.TotalBonds, bondCols),
	}

	atomWritten := [2][]bool{make([]bool, rec.TotalAtoms), make([]bool, rec.TotalAtoms)}
	bondWritten := [2][]bool{make([]bool, rec.TotalBonds), make([]bool, rec.TotalBonds)}

	for _, s := range []Side{SideReactants, SideProducts} {
		atomLayer, bondLayer := out.ReactantAtoms, out.ReactantBonds
		if s == SideProducts {
			atomLayer, bondLayer = out.ProductAtoms, out.ProductBonds
		}
		if err := copySide(rec.ID, s, "atom", sides[s], graph.NodeAtom, atomMap[s], atomLayer, atomWritten[s]); err != nil {
			return nil, audit, err
		}
		if err := copySide(rec.ID, s, "bond", sides[s], graph.NodeBond, bondMap[s], bondLayer, bondWritten[s]); err != nil {
			return nil, audit, err
		}
	}

	out.AtomFeatures = overlay(out.ReactantAtoms, out.ProductAtoms, atomWritten)
	out.BondFeatures = overlay(out.ReactantBonds, out.ProductBonds, bondWritten)
	out.GlobalFeatures = meanGlobal(sides, globalCols)

	audit.WrittenRows[graph.NodeAtom] = countCovered(atomWritten)
	audit.WrittenRows[graph.NodeBond] = countCovered(bondWritten)
	audit.WrittenRows[graph.NodeGlobal] = out.GlobalFeatures.Rows()
	if !audit.OK() {
		b.logger.Warn("merged feature rows do not match declared node counts",
			zap.String("reaction_id", rec.ID),
			zap.Any("written", audit.WrittenRows),
			zap.Any("declared", audit.DeclaredRows))
	}
	return out, audit, nil
}

// copySide places one side's feature rows into its unified layer.
func copySide(id string, s Side, kind string, graphs []*graph.MoleculeGraph, t graph.NodeType, mapping [][]int, layer *graph.FeatureMatrix, written []bool) error {
	for p, locals := range mapping {
		g := graphs[p]
		if g == nil {
			return fmt.Errorf("%w: record %q: %s participant %d is nil", ErrMissingParticipant, id, s, p)
		}
		m := g.FeatureMatrixFor(t)
		for local, unified := range locals {
			if unified < 0 || unified >= layer.Rows() {
				return fmt.Errorf("%w: record %q: %s %s participant %d local %d maps to %d, space is [0,%d)",
					ErrStructuralMapping, id, s, kind, p, local, unified, layer.Rows())
			}
			if written[unified] {
				return fmt.Errorf("%w: record %q: %s %s index %d written twice",
					ErrStructuralMapping, id, s, kind, unified)
			}
			if m == nil || local >= m.Rows() {
				return fmt.Errorf("%w: record %q: %s %s participant %d has no row %d",
					ErrStructuralMapping, id, s, kind, p, local)
			}
			copy(layer.Row(unified), m.Row(local))
			written[unified] = true
		}
	}
	return nil
}

// overlay combines the per-side layers: positions the product side wrote
// come from the product layer, remaining written positions from the
// reactant layer.
func overlay(reactant, product *graph.FeatureMatrix, written [2][]bool) *graph.FeatureMatrix {
	out := graph.Zeros(reactant.Rows(), reactant.Cols())
	for i := 0; i < out.Rows(); i++ {
		switch {
		case written[SideProducts][i]:
			copy(out.Row(i), product.Row(i))
		case written[SideReactants][i]:
			copy(out.Row(i), reactant.Row(i))
		}
	}
	return out
}

// meanGlobal averages every participant's global node row into the single
// reaction-level global node. cols is the shared global feature width,
// already validated by featureWidth.
func meanGlobal(sides [2][]*graph.MoleculeGraph, cols int) *graph.FeatureMatrix {
	var n int
	for _, gs := range sides {
		for _, g := range gs {
			if g == nil {
				continue
			}
			if m := g.FeatureMatrixFor(graph.NodeGlobal); m != nil {
				n += m.Rows()
			}
		}
	}
	if n == 0 {
		return graph.Zeros(1, 0)
	}
	out := graph.Zeros(1, cols)
	row := out.Row(0)
	for _, gs := range sides {
		for _, g := range gs {
			if g == nil {
				continue
			}
			m := g.FeatureMatrixFor(graph.NodeGlobal)
			if m == nil {
				continue
			}
			for i := 0; i < m.Rows(); i++ {
				for j, v := range m.Row(i) {
					row[j] += v
				}
			}
		}
	}
	for j := range row {
		row[j] /= float64(n)
	}
	return out
}

func featureWidth(sides [2][]*graph.MoleculeGraph, t graph.NodeType) (int, error) {
	width := -1
	for _, gs := range sides {
		for _, g := range gs {
			if g == nil {
				continue
			}
			m := g.FeatureMatrixFor(t)
			if m == nil || m.Rows() == 0 {
				continue
			}
			if width >= 0 && m.Cols() != width {
				return 0, fmt.Errorf("node type %q has widths %d and %d across participants", t, width, m.Cols())
			}
			width = m.Cols()
		}
	}
	if width < 0 {
		width = 0
	}
	return width, nil
}

func swapSides(m Mapping) Mapping {
	return Mapping{m[SideProducts], m[SideReactants]}
}

func countCovered(written [2][]bool) int {
	n := 0
	for i := range written[0] {
		if written[0][i] || written[1][i] {
			n++
		}
	}
	return n
}
