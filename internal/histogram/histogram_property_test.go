package histogram

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestProperty_DistinctCount validates the central estimator invariant: for
// clients that strictly increment their generation by one per report starting
// from zero, the total equals the number of distinct clients that reported at
// least once, regardless of how their reports interleave.
func TestProperty_DistinctCount(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("total equals distinct reporting clients", prop.ForAll(
		func(clients int, schedule []int) bool {
			h := New()
			gens := make([]int, clients)
			seen := make(map[int]bool)

			for _, pick := range schedule {
				c := pick % clients
				h.Observe(gens[c])
				gens[c]++
				seen[c] = true
			}

			return h.Total() == int64(len(seen))
		},
		gen.IntRange(1, 20),
		gen.SliceOf(gen.IntRange(0, 1<<20)),
	))

	properties.Property("relocation conserves the total", prop.ForAll(
		func(reports []int) bool {
			h := New()
			for _, g := range reports {
				before := h.Total()
				occupied := g > 0 && h.Bucket(g-1) > 0
				h.Observe(g)

				// A report either relocates an existing token (total
				// unchanged) or creates a new one (total + 1).
				if occupied {
					if h.Total() != before {
						return false
					}
				} else if h.Total() != before+1 {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 200)),
	))

	properties.Property("buckets grow monotonically and stay non-negative", prop.ForAll(
		func(reports []int) bool {
			h := New()
			prevLen := 0
			for _, g := range reports {
				h.Observe(g)
				if h.Generations() < prevLen {
					return false
				}
				prevLen = h.Generations()
				for i := 0; i < h.Generations(); i++ {
					if h.Bucket(i) < 0 {
						return false
					}
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 100)),
	))

	properties.TestingRun(t)
}
