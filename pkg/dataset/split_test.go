package dataset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crnlab/rxngraph/pkg/reaction"
)

// splitFixture builds a dataset of n accepted reactions; ids assigns the
// provenance id of each reaction (defaults to a unique id per reaction).
func splitFixture(t *testing.T, n int, ids []string) *Dataset {
	t.Helper()
	records := make([]*reaction.RawRecord, n)
	for i := range records {
		id := "r" + string(rune('a'+i))
		if ids != nil {
			id = ids[i]
		}
		records[i] = rawRecord(id, 0, 1, float64(i), nil)
	}
	ds, err := newTestBuilder(threeAtomMolecules(2), records).Build()
	require.NoError(t, err)
	require.Equal(t, n, ds.Len())
	return ds
}

func TestSplit(t *testing.T) {
	ds := splitFixture(t, 20, nil)

	t.Run("sizes_follow_fractions", func(t *testing.T) {
		train, val, tst, err := Split(ds, 0.1, 0.2, 35)
		require.NoError(t, err)
		assert.Equal(t, 14, train.Len())
		assert.Equal(t, 2, val.Len())
		assert.Equal(t, 4, tst.Len())
	})

	t.Run("partitions_are_disjoint_and_cover", func(t *testing.T) {
		train, val, tst, err := Split(ds, 0.25, 0.25, 7)
		require.NoError(t, err)
		seen := map[int]int{}
		for _, sub := range []*Subset{train, val, tst} {
			for _, idx := range sub.Indices {
				seen[idx]++
			}
		}
		require.Len(t, seen, 20)
		for idx, count := range seen {
			assert.Equal(t, 1, count, "index %d", idx)
		}
	})

	t.Run("same_seed_same_split", func(t *testing.T) {
		a, _, _, err := Split(ds, 0.1, 0.1, 42)
		require.NoError(t, err)
		b, _, _, err := Split(ds, 0.1, 0.1, 42)
		require.NoError(t, err)
		assert.Equal(t, a.Indices, b.Indices)
	})

	t.Run("subset_get_delegates_to_parent", func(t *testing.T) {
		train, _, _, err := Split(ds, 0.1, 0.1, 1)
		require.NoError(t, err)
		_, rec, lbl, err := train.Get(0)
		require.NoError(t, err)
		assert.Equal(t, rec.ID, lbl.ID)

		_, _, _, err = train.Get(train.Len())
		assert.Error(t, err)
	})

	t.Run("rejects_bad_fractions", func(t *testing.T) {
		_, _, _, err := Split(ds, 0.5, 0.5, 0)
		assert.Error(t, err)
		_, _, _, err = Split(ds, -0.1, 0.2, 0)
		assert.Error(t, err)
	})
}

func TestSplitGrouped(t *testing.T) {
	// Four groups of three reactions each, sharing a provenance id
	// within a group.
	ids := []string{
		"m0", "m0", "m0",
		"m1", "m1", "m1",
		"m2", "m2", "m2",
		"m3", "m3", "m3",
	}
	ds := splitFixture(t, len(ids), ids)

	groupOf := func(idx int) string { return ds.Labels[idx].ID }

	t.Run("groups_never_straddle_the_test_boundary", func(t *testing.T) {
		for seed := int64(0); seed < 10; seed++ {
			train, val, tst, err := SplitGrouped(ds, 0.2, 0.25, seed)
			require.NoError(t, err)

			testGroups := map[string]bool{}
			for _, idx := range tst.Indices {
				testGroups[groupOf(idx)] = true
			}
			for _, sub := range []*Subset{train, val} {
				for _, idx := range sub.Indices {
					assert.False(t, testGroups[groupOf(idx)],
						"seed %d: group %s in both test and train/val", seed, groupOf(idx))
				}
			}
		}
	})

	t.Run("partitions_cover_everything_once", func(t *testing.T) {
		train, val, tst, err := SplitGrouped(ds, 0.2, 0.25, 3)
		require.NoError(t, err)
		seen := map[int]int{}
		for _, sub := range []*Subset{train, val, tst} {
			for _, idx := range sub.Indices {
				seen[idx]++
			}
		}
		require.Len(t, seen, len(ids))
		for _, count := range seen {
			require.Equal(t, 1, count)
		}
	})

	t.Run("test_fills_whole_groups_to_target", func(t *testing.T) {
		// Target is 3 (0.25 of 12); one whole group of 3 fills it.
		_, _, tst, err := SplitGrouped(ds, 0.2, 0.25, 3)
		require.NoError(t, err)
		assert.Equal(t, 3, tst.Len())
	})
}
