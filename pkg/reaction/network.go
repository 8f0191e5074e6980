package reaction

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/crnlab/rxngraph/pkg/graph"
)

// Network is the in-memory index over all molecule graphs and accepted
// reaction records of one dataset snapshot.
//
// Records referencing a missing or nil molecule graph, or failing
// structural validation, are excluded at construction and flagged in
// Failed; they are never silently dropped. Accepted reactions receive
// dense ids in acceptance order, which is the dataset's iteration order
// and is stable across repeated construction for the same inputs.
type Network struct {
	Molecules []*graph.MoleculeGraph
	Reactions []*Record

	// Failed is aligned 1:1 with the original raw record ordering (not
	// the filtered one), so callers can correlate failures back to
	// input rows.
	Failed []bool

	// RawIndices maps each accepted reaction id back to its position in
	// the original raw ordering.
	RawIndices []int

	// RejectedIDs records the provenance ids of excluded records.
	RejectedIDs []string
}

// BuildNetwork validates records against the molecule graphs and indexes
// the accepted ones. Per-record failures are recovered locally so one bad
// input does not abort a batch job; each is logged with its id.
func BuildNetwork(molecules []*graph.MoleculeGraph, records []*Record, logger *zap.Logger) *Network {
	if logger == nil {
		logger = zap.NewNop()
	}
	n := &Network{
		Molecules: molecules,
		Failed:    make([]bool, len(records)),
	}

	for i, rec := range records {
		if rec == nil {
			n.Failed[i] = true
			logger.Warn("reaction rejected", zap.Int("raw_index", i),
				zap.String("reason", "unparseable record"))
			continue
		}
		reactants, products, err := resolve(molecules, rec)
		if err == nil {
			err = rec.ValidateMappings()
		}
		if err == nil {
			err = rec.ValidateConservation(reactants, products)
		}
		if err != nil {
			n.Failed[i] = true
			n.RejectedIDs = append(n.RejectedIDs, rec.ID)
			logger.Warn("reaction rejected",
				zap.String("reaction_id", rec.ID),
				zap.Int("raw_index", i),
				zap.Error(err))
			continue
		}
		n.Reactions = append(n.Reactions, rec)
		n.RawIndices = append(n.RawIndices, i)
	}
	return n
}

// resolve looks up a record's participant graphs in record order.
func resolve(molecules []*graph.MoleculeGraph, rec *Record) (reactants, products []*graph.MoleculeGraph, err error) {
	lookup := func(side Side, ids []int) ([]*graph.MoleculeGraph, error) {
		gs := make([]*graph.MoleculeGraph, len(ids))
		for i, id := range ids {
			if id < 0 || id >= len(molecules) || molecules[id] == nil {
				return nil, fmt.Errorf("%w: record %q: %s molecule %d unresolved",
					ErrMissingParticipant, rec.ID, side, id)
			}
			gs[i] = molecules[id]
		}
		return gs, nil
	}
	if reactants, err = lookup(SideReactants, rec.ReactantIDs); err != nil {
		return nil, nil, err
	}
	if products, err = lookup(SideProducts, rec.ProductIDs); err != nil {
		return nil, nil, err
	}
	return reactants, products, nil
}

// Len returns the number of accepted reactions.
func (n *Network) Len() int { return len(n.Reactions) }

// Get returns the shared network reference and the record with reaction
// id i. The network is not copied per item: many reactions share
// overlapping molecule graphs.
func (n *Network) Get(i int) (*Network, *Record, error) {
	if i < 0 || i >= len(n.Reactions) {
		return nil, nil, fmt.Errorf("reaction id %d out of range [0,%d)", i, len(n.Reactions))
	}
	return n, n.Reactions[i], nil
}

// ParticipantGraphs resolves a record's reactant and product graphs in
// record order. The record must have been accepted by this network.
func (n *Network) ParticipantGraphs(rec *Record) (reactants, products []*graph.MoleculeGraph, err error) {
	return resolve(n.Molecules, rec)
}

// AtomCounts returns, aligned with the accepted reaction order, the total
// atom count of each reaction. Used as the divisor source for extensive
// label scaling.
func (n *Network) AtomCounts() []float64 {
	counts := make([]float64, len(n.Reactions))
	for i, rec := range n.Reactions {
		counts[i] = float64(rec.TotalAtoms)
	}
	return counts
}
