// Package simulate is the correctness oracle for the generation histogram.
// It drives synthetic clients with adversarial behavior (random reporting
// failures, staggered onboarding, long dormancy) against a single histogram
// and checks after every phase that the distinct-client estimate matches the
// number of clients introduced.
package simulate

import (
	"fmt"
	"log"
	"math/rand"

	"github.com/machinecensus/machinecensus/internal/errors"
	"github.com/machinecensus/machinecensus/internal/histogram"
)

// client is one simulated installation. There is a single behavior type
// carrying a report probability: 1.0 models a reliable client, anything
// lower a client whose check-ins randomly fail. The local generation only
// advances on a successful report, mirroring real client behavior.
type client struct {
	generation int
	reportProb float64
}

// tick attempts one check-in. On success it returns the generation to
// report and advances the local counter.
func (c *client) tick(rng *rand.Rand) (int, bool) {
	if c.reportProb < 1.0 && rng.Float64() >= c.reportProb {
		return 0, false
	}
	g := c.generation
	c.generation++
	return g, true
}

// Simulator drives clients against a histogram.
type Simulator struct {
	rng     *rand.Rand
	hist    *histogram.Histogram
	clients []*client
	logger  *log.Logger
}

// NewSimulator creates a simulator with a seeded source so failures are
// reproducible.
func NewSimulator(seed int64, logger *log.Logger) *Simulator {
	if logger == nil {
		logger = log.Default()
	}
	return &Simulator{
		rng:    rand.New(rand.NewSource(seed)),
		hist:   histogram.New(),
		logger: logger,
	}
}

// addClients introduces n clients with the given report probability.
// dormantTicks models late onboarding: the client advances its generation
// locally for that many ticks without ever reporting, then joins.
func (s *Simulator) addClients(n int, reportProb float64, dormantTicks int) {
	for i := 0; i < n; i++ {
		c := &client{reportProb: reportProb}
		for t := 0; t < dormantTicks; t++ {
			c.tick(s.rng)
		}
		s.clients = append(s.clients, c)
	}
}

// addUnreliableClients introduces n clients with report probabilities drawn
// uniformly from [minProb, 1.0].
func (s *Simulator) addUnreliableClients(n int, minProb float64, dormantTicks int) {
	for i := 0; i < n; i++ {
		p := minProb + s.rng.Float64()*(1.0-minProb)
		c := &client{reportProb: p}
		for t := 0; t < dormantTicks; t++ {
			c.tick(s.rng)
		}
		s.clients = append(s.clients, c)
	}
}

// iterate runs n ticks over all clients, feeding successful reports into the
// histogram.
func (s *Simulator) iterate(n int) {
	for t := 0; t < n; t++ {
		for _, c := range s.clients {
			if g, ok := c.tick(s.rng); ok {
				s.hist.Observe(g)
			}
		}
	}
}

// checkInvariant verifies the distinct-count invariant after a phase.
func (s *Simulator) checkInvariant(phase string) error {
	total := s.hist.Total()
	want := int64(len(s.clients))
	if total != want {
		return errors.NewSimulationError(fmt.Sprintf(
			"%s: histogram total %d, want %d distinct clients", phase, total, want))
	}
	s.logger.Printf("simulate: %s ok, %d clients, %d generations",
		phase, want, s.hist.Generations())
	return nil
}

// Run executes the full adversarial scenario. It returns a SIMULATION error
// on the first invariant violation.
func (s *Simulator) Run() error {
	// Phase 1: 50 clients that fail to report 0-50% of the time.
	s.addUnreliableClients(50, 0.5, 0)
	s.iterate(100)
	if err := s.checkInvariant("phase 1 (unreliable clients)"); err != nil {
		return err
	}

	// Phase 2: 20 clients that report every tick.
	s.addClients(20, 1.0, 0)
	s.iterate(25)
	if err := s.checkInvariant("phase 2 (reliable clients)"); err != nil {
		return err
	}

	// Phase 3: 30 clients that were incrementing for 30 ticks without ever
	// phoning home, then start reporting.
	s.addClients(30, 1.0, 30)
	s.iterate(25)
	if err := s.checkInvariant("phase 3 (late onboarding)"); err != nil {
		return err
	}

	// Phase 4: 30 more late-onboarding clients that also randomly fail.
	s.addUnreliableClients(30, 0.5, 30)
	s.iterate(25)
	if err := s.checkInvariant("phase 4 (late onboarding, unreliable)"); err != nil {
		return err
	}

	s.dump()
	return nil
}

// Total exposes the current histogram total, mainly for tests.
func (s *Simulator) Total() int64 {
	return s.hist.Total()
}

// ClientCount returns the number of clients introduced so far.
func (s *Simulator) ClientCount() int {
	return len(s.clients)
}

// dump logs the non-empty buckets, matching the operator-facing output of
// an ingestion run.
func (s *Simulator) dump() {
	s.logger.Printf("simulate: generations: %d", s.hist.Generations())
	for g := 0; g < s.hist.Generations(); g++ {
		if n := s.hist.Bucket(g); n > 0 {
			s.logger.Printf("simulate: %d: %d", g, n)
		}
	}
}
