package dataset

import (
	"fmt"
	"math/rand"

	"github.com/crnlab/rxngraph/pkg/reaction"
)

// Subset is a view over a subset of a dataset's reactions. Indices refer
// to the parent dataset and are not required to be sorted.
type Subset struct {
	parent  *Dataset
	Indices []int
}

// Len returns the subset size.
func (s *Subset) Len() int { return len(s.Indices) }

// Get returns item i of the subset.
func (s *Subset) Get(i int) (*reaction.Network, *reaction.Record, *Label, error) {
	if i < 0 || i >= len(s.Indices) {
		return nil, nil, nil, fmt.Errorf("dataset: subset index %d out of range [0,%d)", i, len(s.Indices))
	}
	return s.parent.Get(s.Indices[i])
}

// Split partitions the dataset into train/validation/test subsets by a
// seeded permutation of the reaction indices. The train fraction is the
// remainder: train = 1 - validation - test.
func Split(d *Dataset, validation, test float64, seed int64) (train, val, tst *Subset, err error) {
	if err := checkFractions(validation, test); err != nil {
		return nil, nil, nil, err
	}
	size := d.Len()
	numVal := int(float64(size) * validation)
	numTest := int(float64(size) * test)
	numTrain := size - numVal - numTest

	idx := rand.New(rand.NewSource(seed)).Perm(size)
	return &Subset{parent: d, Indices: idx[:numTrain]},
		&Subset{parent: d, Indices: idx[numTrain : numTrain+numVal]},
		&Subset{parent: d, Indices: idx[numTrain+numVal:]},
		nil
}

// SplitGrouped partitions like Split but keeps all reactions sharing a
// provenance id (Label.ID) together: a group lands entirely in the test
// set or entirely in train/validation. The test set is filled group by
// group in permuted group order until it reaches its target size, so it
// may exceed the target by part of one group.
func SplitGrouped(d *Dataset, validation, test float64, seed int64) (train, val, tst *Subset, err error) {
	if err := checkFractions(validation, test); err != nil {
		return nil, nil, nil, err
	}
	size := d.Len()
	numVal := int(float64(size) * validation)
	numTest := int(float64(size) * test)
	numTrain := size - numVal - numTest

	// Group in first-seen order so the grouping itself is deterministic;
	// only the permutation consumes randomness.
	var order []string
	groups := map[string][]int{}
	for i, l := range d.Labels {
		if _, ok := groups[l.ID]; !ok {
			order = append(order, l.ID)
		}
		groups[l.ID] = append(groups[l.ID], i)
	}

	rng := rand.New(rand.NewSource(seed))
	var testIdx, trainVal []int
	for _, gi := range rng.Perm(len(order)) {
		g := groups[order[gi]]
		if len(testIdx) < numTest {
			testIdx = append(testIdx, g...)
		} else {
			trainVal = append(trainVal, g...)
		}
	}

	// Train and validation split at the item level within the remainder.
	perm := rng.Perm(len(trainVal))
	shuffled := make([]int, len(trainVal))
	for i, p := range perm {
		shuffled[i] = trainVal[p]
	}
	if numTrain > len(shuffled) {
		numTrain = len(shuffled)
	}
	return &Subset{parent: d, Indices: shuffled[:numTrain]},
		&Subset{parent: d, Indices: shuffled[numTrain:]},
		&Subset{parent: d, Indices: testIdx},
		nil
}

func checkFractions(validation, test float64) error {
	if validation < 0 || test < 0 || validation+test >= 1 {
		return fmt.Errorf("dataset: validation %v + test %v must be non-negative and sum below 1", validation, test)
	}
	return nil
}
