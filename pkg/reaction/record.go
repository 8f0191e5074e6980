// Package reaction implements the reaction-mapping and graph-merge engine.
//
// A ReactionRecord describes one reaction's participant molecules and the
// correspondence between each participant's local atom/bond indices and the
// reaction's unified index space. The builder merges the participant
// molecule graphs into a single reaction graph along those correspondences,
// and the network indexes all records of a dataset snapshot with
// referential-integrity validation.
package reaction

import (
	"errors"
	"fmt"

	"github.com/crnlab/rxngraph/pkg/graph"
)

// Side selects the reactant or product half of a reaction.
type Side int

const (
	SideReactants Side = 0
	SideProducts  Side = 1
)

func (s Side) String() string {
	if s == SideReactants {
		return "reactants"
	}
	return "products"
}

// ErrStructuralMapping marks a record whose atom/bond mappings do not
// partition the unified index space, or whose mapping participant count
// disagrees with the participant list. Such records are rejected and the
// pipeline continues.
var ErrStructuralMapping = errors.New("reaction: structural mapping error")

// ErrMissingParticipant marks a record referencing a molecule graph that
// is absent or nil (for example when upstream featurization failed).
var ErrMissingParticipant = errors.New("reaction: missing participant")

// Mapping holds, for both sides, one slice per participant mapping that
// participant's local index to a unified index:
// Mapping[side][participant][local] = unified.
type Mapping [2][][]int

// Record describes one reaction. Created once from raw label data and
// never mutated afterwards; re-scaling makes a revised copy.
type Record struct {
	// ReactantIDs and ProductIDs are molecule indices into the dataset's
	// molecule list, in order. A species occurring twice repeats.
	ReactantIDs []int
	ProductIDs  []int

	AtomMapping Mapping
	BondMapping Mapping

	// TotalAtoms and TotalBonds size the unified index space.
	TotalAtoms int
	TotalBonds int

	// ID is an opaque provenance identifier, e.g. the originating
	// reaction key. Used only for logging and debugging.
	ID string

	// ExtraInfo is a free-form auxiliary payload, opaque to the engine.
	ExtraInfo map[string]any
}

// RawRecord is the decoded form of one raw label entry, mirroring the
// YAML layout of the upstream label files.
type RawRecord struct {
	Reactants    []int          `yaml:"reactants"`
	Products     []int          `yaml:"products"`
	AtomMapping  [][][]int      `yaml:"atom_mapping"`
	BondMapping  [][][]int      `yaml:"bond_mapping"`
	TotalAtoms   int            `yaml:"total_atoms"`
	TotalBonds   int            `yaml:"total_bonds"`
	ID           string         `yaml:"id"`
	Value        *float64       `yaml:"value"`
	ValueReverse *float64       `yaml:"value_rev"`
	Environment  string         `yaml:"environment"`
	ReactionType string         `yaml:"reaction_type"`
	ExtraInfo    map[string]any `yaml:"extra_info"`
}

// Record converts the raw entry into an immutable Record.
func (r *RawRecord) Record() (*Record, error) {
	am, err := mappingFromRaw(r.AtomMapping)
	if err != nil {
		return nil, fmt.Errorf("%w: record %q atom_mapping: %v", ErrStructuralMapping, r.ID, err)
	}
	bm, err := mappingFromRaw(r.BondMapping)
	if err != nil {
		return nil, fmt.Errorf("%w: record %q bond_mapping: %v", ErrStructuralMapping, r.ID, err)
	}
	return &Record{
		ReactantIDs: r.Reactants,
		ProductIDs:  r.Products,
		AtomMapping: am,
		BondMapping: bm,
		TotalAtoms:  r.TotalAtoms,
		TotalBonds:  r.TotalBonds,
		ID:          r.ID,
		ExtraInfo:   r.ExtraInfo,
	}, nil
}

func mappingFromRaw(raw [][][]int) (Mapping, error) {
	var m Mapping
	if len(raw) != 2 {
		return m, fmt.Errorf("want 2 sides, have %d", len(raw))
	}
	m[SideReactants] = raw[0]
	m[SideProducts] = raw[1]
	return m, nil
}

// participants returns the molecule ids of one side.
func (r *Record) participants(s Side) []int {
	if s == SideReactants {
		return r.ReactantIDs
	}
	return r.ProductIDs
}

// ValidateMappings checks the structural invariants that do not need the
// participant graphs:
//
//   - each side of each mapping has one entry per participant;
//   - no unified index is written twice within a side;
//   - no unified index is out of range;
//   - the union of both sides covers the unified space with no gaps.
//
// Duplicates are checked per side because a balanced reaction maps the
// same unified atom from its reactant and its product participant.
func (r *Record) ValidateMappings() error {
	if err := r.validateMapping("atom", r.AtomMapping, r.TotalAtoms); err != nil {
		return err
	}
	return r.validateMapping("bond", r.BondMapping, r.TotalBonds)
}

func (r *Record) validateMapping(kind string, m Mapping, total int) error {
	covered := make([]bool, total)
	for _, side := range []Side{SideReactants, SideProducts} {
		if len(m[side]) != len(r.participants(side)) {
			return fmt.Errorf("%w: record %q: %d %s %s mappings for %d participants",
				ErrStructuralMapping, r.ID, len(m[side]), side, kind, len(r.participants(side)))
		}
		seen := make([]bool, total)
		for p, locals := range m[side] {
			for local, unified := range locals {
				if unified < 0 || unified >= total {
					return fmt.Errorf("%w: record %q: %s %s participant %d local %d maps to %d, space is [0,%d)",
						ErrStructuralMapping, r.ID, side, kind, p, local, unified, total)
				}
				if seen[unified] {
					return fmt.Errorf("%w: record %q: %s %s index %d written twice",
						ErrStructuralMapping, r.ID, side, kind, unified)
				}
				seen[unified] = true
				covered[unified] = true
			}
		}
	}
	for i, ok := range covered {
		if !ok {
			return fmt.Errorf("%w: record %q: %s index %d never written",
				ErrStructuralMapping, r.ID, kind, i)
		}
	}
	return nil
}

// ValidateConservation checks the single most important invariant of a
// balanced reaction: the unified atom count equals the sum of atom counts
// over the reactant graphs and, independently, over the product graphs.
// A violation means malformed input and must fail fast rather than
// silently misalign feature rows.
func (r *Record) ValidateConservation(reactants, products []*graph.MoleculeGraph) error {
	for _, side := range []struct {
		name   Side
		graphs []*graph.MoleculeGraph
	}{
		{SideReactants, reactants},
		{SideProducts, products},
	} {
		sum := 0
		for _, g := range side.graphs {
			if g == nil {
				return fmt.Errorf("%w: record %q: nil %s graph", ErrMissingParticipant, r.ID, side.name)
			}
			sum += g.NumNodes(graph.NodeAtom)
		}
		if sum != r.TotalAtoms {
			return fmt.Errorf("%w: record %q: %s carry %d atoms, total_atoms is %d",
				ErrStructuralMapping, r.ID, side.name, sum, r.TotalAtoms)
		}
	}
	return nil
}
