package dataset

import (
	"fmt"

	"github.com/crnlab/rxngraph/pkg/reaction"
)

// Regression is a scalar reaction target, optionally with the target of
// the reverse reaction. After label standardization ScalerMean and
// ScalerStd hold the state needed to invert the transform for this
// sample; both are nil on an unscaled label.
type Regression struct {
	Value   float64  `msgpack:"value"`
	Reverse *float64 `msgpack:"value_rev,omitempty"`

	ScalerMean *float64 `msgpack:"scaler_mean,omitempty"`
	ScalerStd  *float64 `msgpack:"scaler_stdev,omitempty"`
}

// Classification is a one-hot encoded category target. Reverse is nil
// when the record defines no reverse-direction target.
type Classification struct {
	OneHot  []float64 `msgpack:"value"`
	Reverse []float64 `msgpack:"value_rev,omitempty"`
}

// Label is one reaction's target. Exactly one of Regression and
// Classification is set, resolved once when the raw record is decoded;
// consumers branch on which pointer is non-nil instead of inspecting a
// loosely typed payload.
type Label struct {
	ID           string `msgpack:"id"`
	Environment  string `msgpack:"environment,omitempty"`
	ReactionType string `msgpack:"reaction_type,omitempty"`

	// ExtraInfo is the record's free-form provenance payload, carried
	// through to the persisted sample unchanged.
	ExtraInfo map[string]any `msgpack:"extra_info,omitempty"`

	Regression     *Regression     `msgpack:"regression,omitempty"`
	Classification *Classification `msgpack:"classification,omitempty"`
}

// HasReverse reports whether the label carries a reverse-direction target.
func (l *Label) HasReverse() bool {
	switch {
	case l.Regression != nil:
		return l.Regression.Reverse != nil
	case l.Classification != nil:
		return l.Classification.Reverse != nil
	}
	return false
}

// regressionLabel builds the scalar-target label of one raw record.
func regressionLabel(raw *reaction.RawRecord) (*Label, error) {
	if raw.Value == nil {
		return nil, fmt.Errorf("record %q has no value", raw.ID)
	}
	reg := &Regression{Value: *raw.Value}
	if raw.ValueReverse != nil {
		rev := *raw.ValueReverse
		reg.Reverse = &rev
	}
	return &Label{
		ID:           raw.ID,
		Environment:  raw.Environment,
		ReactionType: raw.ReactionType,
		ExtraInfo:    raw.ExtraInfo,
		Regression:   reg,
	}, nil
}

// classificationLabel builds a one-hot label. The raw value is the
// category index and must lie in [0, categories).
func classificationLabel(raw *reaction.RawRecord, categories int) (*Label, error) {
	if categories < 2 {
		return nil, fmt.Errorf("classification needs >= 2 categories, have %d", categories)
	}
	vec, err := oneHotVector(raw.Value, categories, raw.ID)
	if err != nil {
		return nil, err
	}
	cls := &Classification{OneHot: vec}
	if raw.ValueReverse != nil {
		if cls.Reverse, err = oneHotVector(raw.ValueReverse, categories, raw.ID); err != nil {
			return nil, err
		}
	}
	return &Label{
		ID:             raw.ID,
		Environment:    raw.Environment,
		ReactionType:   raw.ReactionType,
		ExtraInfo:      raw.ExtraInfo,
		Classification: cls,
	}, nil
}

func oneHotVector(value *float64, categories int, id string) ([]float64, error) {
	if value == nil {
		return nil, fmt.Errorf("record %q has no value", id)
	}
	idx := int(*value)
	if idx < 0 || idx >= categories {
		return nil, fmt.Errorf("record %q: category %d outside [0,%d)", id, idx, categories)
	}
	out := make([]float64, categories)
	out[idx] = 1
	return out, nil
}
