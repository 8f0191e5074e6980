package scale

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/crnlab/rxngraph/pkg/graph"
)

// HeteroGraphFeatureScaler standardizes the feature matrices of a set of
// molecule graphs, per node type and per feature column.
//
// When Mean and Std are nil, column moments are computed over the rows of
// all graphs together. When supplied (e.g. reusing training-set state),
// they are used verbatim; a partially supplied state is ErrCorruptState.
// Scaling happens in place through MoleculeGraph.SetFeatures.
type HeteroGraphFeatureScaler struct {
	Mean map[graph.NodeType][]float64
	Std  map[graph.NodeType][]float64

	logger *zap.Logger
}

// NewHeteroGraphFeatureScaler returns a scaler that computes its own
// moments. Pass nil for logger to keep it quiet.
func NewHeteroGraphFeatureScaler(logger *zap.Logger) *HeteroGraphFeatureScaler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HeteroGraphFeatureScaler{logger: logger}
}

// NewHeteroGraphFeatureScalerWithState returns a scaler that applies the
// supplied moments verbatim.
func NewHeteroGraphFeatureScalerWithState(mean, std map[graph.NodeType][]float64, logger *zap.Logger) (*HeteroGraphFeatureScaler, error) {
	if mean == nil || std == nil {
		return nil, fmt.Errorf("%w: feature scaler mean/std not found", ErrCorruptState)
	}
	s := NewHeteroGraphFeatureScaler(logger)
	s.Mean = mean
	s.Std = std
	return s, nil
}

// Apply standardizes every graph's features in place. After a successful
// call, Mean and Std hold the moments that were used.
func (s *HeteroGraphFeatureScaler) Apply(graphs []*graph.MoleculeGraph) error {
	if len(graphs) == 0 {
		return nil
	}

	types := map[graph.NodeType]int{} // node type -> feature width
	for _, g := range graphs {
		if g == nil {
			continue
		}
		for _, t := range g.NodeTypes() {
			w := g.FeatureMatrixFor(t).Cols()
			if prev, ok := types[t]; ok && prev != w {
				return fmt.Errorf("scale: node type %q has widths %d and %d across graphs", t, prev, w)
			}
			types[t] = w
		}
	}

	if s.Mean == nil {
		s.Mean = make(map[graph.NodeType][]float64, len(types))
		s.Std = make(map[graph.NodeType][]float64, len(types))
		for t, w := range types {
			mean, std := columnMoments(graphs, t, w)
			s.Mean[t] = mean
			s.Std[t] = std
			s.logger.Debug("computed feature moments",
				zap.String("node_type", string(t)),
				zap.Int("columns", w))
		}
	}

	for t, w := range types {
		mean, okM := s.Mean[t]
		std, okS := s.Std[t]
		if !okM || !okS {
			return fmt.Errorf("%w: no feature state for node type %q", ErrCorruptState, t)
		}
		if len(mean) != w || len(std) != w {
			return fmt.Errorf("%w: node type %q state width %d, want %d", ErrCorruptState, t, len(mean), w)
		}
		for _, g := range graphs {
			if g == nil || g.FeatureMatrixFor(t) == nil {
				continue
			}
			m := g.FeatureMatrixFor(t)
			for i := 0; i < m.Rows(); i++ {
				row := m.Row(i)
				for j := range row {
					d := std[j]
					if d == 0 {
						d = 1
					}
					row[j] = (row[j] - mean[j]) / d
				}
			}
		}
	}
	return nil
}

// columnMoments computes per-column mean and Bessel-corrected sample std
// (N-1 divisor) over the rows of all graphs' matrices for one node type.
func columnMoments(graphs []*graph.MoleculeGraph, t graph.NodeType, width int) (mean, std []float64) {
	mean = make([]float64, width)
	std = make([]float64, width)
	var n float64
	for _, g := range graphs {
		if g == nil || g.FeatureMatrixFor(t) == nil {
			continue
		}
		m := g.FeatureMatrixFor(t)
		for i := 0; i < m.Rows(); i++ {
			row := m.Row(i)
			for j, v := range row {
				mean[j] += v
			}
			n++
		}
	}
	if n == 0 {
		for j := range std {
			std[j] = 1
		}
		return mean, std
	}
	for j := range mean {
		mean[j] /= n
	}
	if n < 2 {
		return mean, std
	}
	for _, g := range graphs {
		if g == nil || g.FeatureMatrixFor(t) == nil {
			continue
		}
		m := g.FeatureMatrixFor(t)
		for i := 0; i < m.Rows(); i++ {
			row := m.Row(i)
			for j, v := range row {
				d := v - mean[j]
				std[j] += d * d
			}
		}
	}
	for j := range std {
		std[j] = math.Sqrt(std[j] / (n - 1))
	}
	return mean, std
}
