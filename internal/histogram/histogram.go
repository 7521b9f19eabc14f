// Package histogram implements the per-channel generation histogram used to
// estimate the number of distinct client installations from generation reports.
//
// Clients carry no stable identity. Each successful check-in reports a
// locally-incrementing generation counter, and the histogram tracks how many
// clients currently sit at each generation. When a client reports generation g
// its previous token at g-1 (if any) is relocated, so repeat reports from the
// same client are not double-counted. The sum of all buckets is the distinct
// client estimate.
package histogram

// Histogram tracks client occupancy per generation for a single channel.
// The bucket slice grows monotonically and never shrinks; unseen intermediate
// generations hold zero.
type Histogram struct {
	buckets []int64
}

// New returns an empty histogram.
func New() *Histogram {
	return &Histogram{}
}

// FromBuckets constructs a histogram from a previously serialized bucket
// sequence. The slice is copied.
func FromBuckets(buckets []int64) *Histogram {
	h := &Histogram{buckets: make([]int64, len(buckets))}
	copy(h.buckets, buckets)
	return h
}

// Observe folds one generation report into the histogram. The caller must
// have validated g >= 0.
//
// A client's first observed generation is whatever it reports (earlier
// reports may have been lost), so every report is treated as "this client now
// occupies bucket g". If a token exists at g-1 it is the same client
// advancing and is relocated; otherwise a new token is created at g. When the
// predecessor bucket is empty because an intermediate generation was never
// observed, the new token inflates the estimate. That overcount is a known
// property of the algorithm, characterized by the simulator, and is left
// uncorrected here.
func (h *Histogram) Observe(g int) {
	if need := g + 1 - len(h.buckets); need > 0 {
		h.buckets = append(h.buckets, make([]int64, need)...)
	}

	if g > 0 && h.buckets[g-1] > 0 {
		h.buckets[g-1]--
	}
	h.buckets[g]++
}

// Total returns the distinct-client estimate: the sum of all buckets.
func (h *Histogram) Total() int64 {
	var sum int64
	for _, n := range h.buckets {
		sum += n
	}
	return sum
}

// Generations returns the number of buckets, i.e. the highest observed
// generation plus one. Zero for an empty histogram.
func (h *Histogram) Generations() int {
	return len(h.buckets)
}

// Bucket returns the occupancy of generation g, zero if g is out of range.
func (h *Histogram) Bucket(g int) int64 {
	if g < 0 || g >= len(h.buckets) {
		return 0
	}
	return h.buckets[g]
}

// Buckets returns a copy of the bucket sequence for serialization.
func (h *Histogram) Buckets() []int64 {
	out := make([]int64, len(h.buckets))
	copy(out, h.buckets)
	return out
}
