package scale

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/crnlab/rxngraph/pkg/graph"
)

// DatasetStatistics is the immutable statistics value produced by one
// standardization pass. It is threaded explicitly to consumers (and
// persisted next to the dataset) instead of living on a mutable dataset
// object, so validation/test sets can reuse training-set state exactly.
type DatasetStatistics struct {
	Dtype       string                       `yaml:"dtype"`
	FeatureSize map[graph.NodeType]int       `yaml:"feature_size"`
	FeatureName map[graph.NodeType][]string  `yaml:"feature_name"`
	FeatureMean map[graph.NodeType][]float64 `yaml:"feature_scaler_mean"`
	FeatureStd  map[graph.NodeType][]float64 `yaml:"feature_scaler_std"`
	LabelMean   *float64                     `yaml:"label_scaler_mean"`
	LabelStd    *float64                     `yaml:"label_scaler_std"`
	Species     []string                     `yaml:"species"`

	// SpeciesOverride records that Species came from an explicit caller
	// override rather than being computed from the molecules.
	SpeciesOverride bool `yaml:"species_override,omitempty"`
}

// RequireFeatureState returns ErrCorruptState when the feature scaler
// moments are absent. Called before reusing a persisted state for
// feature standardization.
func (s *DatasetStatistics) RequireFeatureState() error {
	if s.FeatureMean == nil {
		return fmt.Errorf("%w: feature_scaler_mean not found", ErrCorruptState)
	}
	if s.FeatureStd == nil {
		return fmt.Errorf("%w: feature_scaler_std not found", ErrCorruptState)
	}
	return nil
}

// RequireLabelState returns ErrCorruptState when the label scaler moments
// are absent.
func (s *DatasetStatistics) RequireLabelState() error {
	if s.LabelMean == nil {
		return fmt.Errorf("%w: label_scaler_mean not found", ErrCorruptState)
	}
	if s.LabelStd == nil {
		return fmt.Errorf("%w: label_scaler_std not found", ErrCorruptState)
	}
	return nil
}

// RequireSpecies returns ErrCorruptState when the species list is absent.
func (s *DatasetStatistics) RequireSpecies() error {
	if len(s.Species) == 0 {
		return fmt.Errorf("%w: species not found", ErrCorruptState)
	}
	return nil
}

// SaveStatistics writes the statistics to a YAML file.
func SaveStatistics(path string, s *DatasetStatistics) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal statistics: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write statistics: %w", err)
	}
	return nil
}

// LoadStatistics reads a statistics file written by SaveStatistics.
// Field presence is checked by the Require* methods at the point of use,
// since which fields are required depends on which transformers run.
func LoadStatistics(path string) (*DatasetStatistics, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read statistics: %w", err)
	}
	var s DatasetStatistics
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	return &s, nil
}
