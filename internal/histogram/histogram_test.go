package histogram

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHistogram_SingleClientAdvances(t *testing.T) {
	h := New()

	h.Observe(0)
	assert.Equal(t, int64(1), h.Total())
	assert.Equal(t, []int64{1}, h.Buckets())

	// Same client reports the next generation: token relocates, total unchanged.
	h.Observe(1)
	assert.Equal(t, int64(1), h.Total())
	assert.Equal(t, []int64{0, 1}, h.Buckets())
}

func TestHistogram_TwoClientsCollideAtZero(t *testing.T) {
	h := New()

	h.Observe(0)
	h.Observe(0)
	assert.Equal(t, int64(2), h.Total())
	assert.Equal(t, []int64{2}, h.Buckets())
}

func TestHistogram_FirstSightingAtNonZeroGeneration(t *testing.T) {
	h := New()

	// A client whose earlier reports were lost shows up already at generation 5.
	h.Observe(5)
	assert.Equal(t, int64(1), h.Total())
	assert.Equal(t, 6, h.Generations())
	assert.Equal(t, int64(1), h.Bucket(5))
	assert.Equal(t, int64(0), h.Bucket(4))
}

func TestHistogram_EmptyPredecessorCreatesToken(t *testing.T) {
	h := New()

	// One client walks 0 -> 1.
	h.Observe(0)
	h.Observe(1)

	// A report at generation 3 finds bucket 2 empty: a new token is created
	// rather than relocating anything. Known overcount behavior.
	h.Observe(3)
	assert.Equal(t, int64(2), h.Total())
	assert.Equal(t, []int64{0, 1, 0, 1}, h.Buckets())
}

func TestHistogram_InterleavedClients(t *testing.T) {
	h := New()

	// Three clients at different speeds, each strictly incrementing from 0.
	gens := []int{0, 0, 0, 1, 1, 2, 2, 1, 3, 2}
	for _, g := range gens {
		h.Observe(g)
	}
	assert.Equal(t, int64(3), h.Total())
}

func TestHistogram_BucketsNeverShrink(t *testing.T) {
	h := New()

	h.Observe(10)
	assert.Equal(t, 11, h.Generations())

	h.Observe(0)
	assert.Equal(t, 11, h.Generations())
}

func TestHistogram_RoundTrip(t *testing.T) {
	h := New()
	for _, g := range []int{0, 1, 2, 0, 1, 0} {
		h.Observe(g)
	}

	restored := FromBuckets(h.Buckets())
	assert.Equal(t, h.Total(), restored.Total())
	assert.Equal(t, h.Buckets(), restored.Buckets())

	// The restored histogram keeps working.
	restored.Observe(3)
	assert.Equal(t, h.Total(), restored.Total())
}

func TestHistogram_BucketsReturnsCopy(t *testing.T) {
	h := New()
	h.Observe(0)

	b := h.Buckets()
	b[0] = 99
	assert.Equal(t, int64(1), h.Bucket(0))
}

func TestHistogram_EmptyTotal(t *testing.T) {
	h := New()
	assert.Equal(t, int64(0), h.Total())
	assert.Equal(t, 0, h.Generations())
}
