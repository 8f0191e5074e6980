// Package graph defines the typed-node molecule graph consumed by the
// reaction merge engine.
//
// A MoleculeGraph is produced by an external grapher/featurizer and carries
// one dense feature matrix per node type. The merge engine only needs node
// counts, a stable index, and the ability to swap feature matrices in place
// (which is how standardization writes scaled features back).
package graph

import (
	"fmt"
	"sort"
)

// NodeType identifies one node class of a heterogeneous molecule graph.
type NodeType string

const (
	// NodeAtom rows carry per-atom features.
	NodeAtom NodeType = "atom"
	// NodeBond rows carry per-bond features; bonds are represented as nodes.
	NodeBond NodeType = "bond"
	// NodeGlobal is the single molecule-level state node.
	NodeGlobal NodeType = "global"
)

// FeatureMatrix is a dense row-major matrix of float64 features.
// Row i holds the feature vector of node i of one node type.
type FeatureMatrix struct {
	NumRows int       `msgpack:"rows" yaml:"rows"`
	NumCols int       `msgpack:"cols" yaml:"cols"`
	Data    []float64 `msgpack:"data" yaml:"data"`
}

// NewFeatureMatrix builds a matrix from per-row feature vectors.
// All rows must have the same width.
func NewFeatureMatrix(rows [][]float64) (*FeatureMatrix, error) {
	if len(rows) == 0 {
		return &FeatureMatrix{}, nil
	}
	cols := len(rows[0])
	m := &FeatureMatrix{
		NumRows: len(rows),
		NumCols: cols,
		Data:    make([]float64, 0, len(rows)*cols),
	}
	for i, r := range rows {
		if len(r) != cols {
			return nil, fmt.Errorf("row %d has %d columns, want %d", i, len(r), cols)
		}
		m.Data = append(m.Data, r...)
	}
	return m, nil
}

// Zeros returns a rows x cols matrix of zeros.
func Zeros(rows, cols int) *FeatureMatrix {
	return &FeatureMatrix{
		NumRows: rows,
		NumCols: cols,
		Data:    make([]float64, rows*cols),
	}
}

// Rows returns the number of feature rows.
func (m *FeatureMatrix) Rows() int { return m.NumRows }

// Cols returns the feature width.
func (m *FeatureMatrix) Cols() int { return m.NumCols }

// Row returns row i as a slice aliasing the underlying storage.
func (m *FeatureMatrix) Row(i int) []float64 {
	return m.Data[i*m.NumCols : (i+1)*m.NumCols]
}

// At returns the element at (i, j).
func (m *FeatureMatrix) At(i, j int) float64 {
	return m.Data[i*m.NumCols+j]
}

// SetRow overwrites row i with v.
func (m *FeatureMatrix) SetRow(i int, v []float64) error {
	if len(v) != m.NumCols {
		return fmt.Errorf("row width %d, want %d", len(v), m.NumCols)
	}
	copy(m.Row(i), v)
	return nil
}

// Clone returns a deep copy of the matrix.
func (m *FeatureMatrix) Clone() *FeatureMatrix {
	c := &FeatureMatrix{NumRows: m.NumRows, NumCols: m.NumCols}
	c.Data = make([]float64, len(m.Data))
	copy(c.Data, m.Data)
	return c
}

// MoleculeGraph is one molecule's heterogeneous graph.
//
// Immutable after construction except SetFeatures, which replaces a feature
// matrix in place during standardization. Index is the molecule's position
// in the dataset's molecule list and is stable for the dataset's lifetime.
type MoleculeGraph struct {
	Index    int                         `msgpack:"index"`
	Features map[NodeType]*FeatureMatrix `msgpack:"features"`
}

// NewMoleculeGraph builds a graph from per-node-type feature matrices.
// Node counts are derived from the matrix row counts.
func NewMoleculeGraph(index int, features map[NodeType]*FeatureMatrix) (*MoleculeGraph, error) {
	if index < 0 {
		return nil, fmt.Errorf("molecule index %d is negative", index)
	}
	g := &MoleculeGraph{
		Index:    index,
		Features: make(map[NodeType]*FeatureMatrix, len(features)),
	}
	for t, m := range features {
		if m == nil {
			return nil, fmt.Errorf("molecule %d: nil feature matrix for node type %q", index, t)
		}
		g.Features[t] = m
	}
	return g, nil
}

// NumNodes returns the node count for one node type.
func (g *MoleculeGraph) NumNodes(t NodeType) int {
	m, ok := g.Features[t]
	if !ok {
		return 0
	}
	return m.Rows()
}

// FeatureMatrixFor returns the feature matrix for one node type,
// or nil if the type is absent.
func (g *MoleculeGraph) FeatureMatrixFor(t NodeType) *FeatureMatrix {
	return g.Features[t]
}

// SetFeatures replaces the feature matrix for one node type. The
// replacement must keep the node count, since indices into the graph
// remain live across scaling.
func (g *MoleculeGraph) SetFeatures(t NodeType, m *FeatureMatrix) error {
	old, ok := g.Features[t]
	if !ok {
		return fmt.Errorf("molecule %d: unknown node type %q", g.Index, t)
	}
	if m.Rows() != old.Rows() {
		return fmt.Errorf("molecule %d: node type %q has %d nodes, replacement has %d rows",
			g.Index, t, old.Rows(), m.Rows())
	}
	g.Features[t] = m
	return nil
}

// NodeTypes returns the graph's node types in sorted order so iteration
// over a graph is deterministic.
func (g *MoleculeGraph) NodeTypes() []NodeType {
	ts := make([]NodeType, 0, len(g.Features))
	for t := range g.Features {
		ts = append(ts, t)
	}
	sort.Slice(ts, func(i, j int) bool { return ts[i] < ts[j] })
	return ts
}
