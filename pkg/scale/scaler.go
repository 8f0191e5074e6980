// Package scale provides invertible standardization for features and labels.
//
// Two policies exist, selected per column:
//
//   - intensive quantities use (x - mean) / std with dataset-wide moments;
//   - extensive quantities (those that grow with system size, e.g. the
//     energy of a whole molecule) are divided by a per-sample size count.
//
// The extensive path records its state as mean=0 and std=divisor, so both
// policies invert through the same Descale multiply-and-add.
package scale

import (
	"errors"
	"fmt"
	"math"
)

// ErrCorruptState marks a supplied scaler state that is missing required
// fields. Construction must stop on it rather than silently recompute
// statistics that would disagree with a previously trained model.
var ErrCorruptState = errors.New("scale: corrupt state")

// Scaler standardizes a column of values and reports enough state to
// exactly invert the transform later.
type Scaler interface {
	// Apply scales x and returns the scaled values together with
	// per-element mean and std state.
	Apply(x []float64) (scaled, mean, std []float64, err error)

	// ApplyWithState scales x using previously recorded state verbatim.
	ApplyWithState(x, mean, std []float64) ([]float64, error)
}

// StandardScaler standardizes intensive quantities as (x - mean) / std.
//
// When Mean and Std are set, they are used verbatim (reusing training-set
// statistics on a validation or test set). When nil, moments are computed
// from the data.
type StandardScaler struct {
	Mean *float64
	Std  *float64
}

// Apply implements Scaler.
func (s *StandardScaler) Apply(x []float64) ([]float64, []float64, []float64, error) {
	if len(x) == 0 {
		return nil, nil, nil, errors.New("scale: empty input")
	}

	var mean, std float64
	switch {
	case s.Mean != nil && s.Std != nil:
		mean, std = *s.Mean, *s.Std
	case s.Mean != nil || s.Std != nil:
		return nil, nil, nil, fmt.Errorf("%w: mean and std must both be set", ErrCorruptState)
	default:
		mean, std = moments(x)
	}
	if std == 0 {
		std = 1
	}

	scaled := make([]float64, len(x))
	means := make([]float64, len(x))
	stds := make([]float64, len(x))
	for i, v := range x {
		scaled[i] = (v - mean) / std
		means[i] = mean
		stds[i] = std
	}
	return scaled, means, stds, nil
}

// ApplyWithState implements Scaler.
func (s *StandardScaler) ApplyWithState(x, mean, std []float64) ([]float64, error) {
	if len(mean) != len(x) || len(std) != len(x) {
		return nil, fmt.Errorf("%w: state length %d/%d, want %d", ErrCorruptState, len(mean), len(std), len(x))
	}
	scaled := make([]float64, len(x))
	for i, v := range x {
		d := std[i]
		if d == 0 {
			d = 1
		}
		scaled[i] = (v - mean[i]) / d
	}
	return scaled, nil
}

// ExtensiveScaler divides each value by its sample's size count.
// Divisors must be aligned with the values passed to Apply.
type ExtensiveScaler struct {
	Divisors []float64
}

// Apply implements Scaler. The recorded state is mean=0, std=divisor,
// which makes de-scaling identical to the intensive path.
func (s *ExtensiveScaler) Apply(x []float64) ([]float64, []float64, []float64, error) {
	if len(s.Divisors) != len(x) {
		return nil, nil, nil, fmt.Errorf("scale: %d divisors for %d values", len(s.Divisors), len(x))
	}
	scaled := make([]float64, len(x))
	means := make([]float64, len(x))
	stds := make([]float64, len(x))
	for i, v := range x {
		d := s.Divisors[i]
		if d <= 0 {
			return nil, nil, nil, fmt.Errorf("scale: divisor %v at sample %d", d, i)
		}
		scaled[i] = v / d
		stds[i] = d
	}
	return scaled, means, stds, nil
}

// ApplyWithState implements Scaler.
func (s *ExtensiveScaler) ApplyWithState(x, mean, std []float64) ([]float64, error) {
	if len(mean) != len(x) || len(std) != len(x) {
		return nil, fmt.Errorf("%w: state length %d/%d, want %d", ErrCorruptState, len(mean), len(std), len(x))
	}
	scaled := make([]float64, len(x))
	for i, v := range x {
		if std[i] == 0 {
			return nil, fmt.Errorf("scale: zero divisor at sample %d", i)
		}
		scaled[i] = (v - mean[i]) / std[i]
	}
	return scaled, nil
}

// Descale inverts either policy: x' * std + mean.
func Descale(x, mean, std []float64) ([]float64, error) {
	if len(mean) != len(x) || len(std) != len(x) {
		return nil, fmt.Errorf("scale: state length %d/%d, want %d", len(mean), len(std), len(x))
	}
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = v*std[i] + mean[i]
	}
	return out, nil
}

// moments returns the mean and Bessel-corrected sample standard
// deviation (N-1 divisor) of x. A single value has no spread; its std is
// reported as 0 and replaced by 1 at the point of use.
func moments(x []float64) (mean, std float64) {
	for _, v := range x {
		mean += v
	}
	mean /= float64(len(x))
	if len(x) < 2 {
		return mean, 0
	}
	var ss float64
	for _, v := range x {
		d := v - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / float64(len(x)-1))
}
