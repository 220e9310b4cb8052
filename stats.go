package spawncache

import (
	"sync"
	"time"
)

// Statistics is a point-in-time snapshot of a Cache's counters.
type Statistics struct {
	TotalRequests int64
	L1Hits        int64
	L2Hits        int64
	Misses        int64
	// Coalesced counts misses that reused another caller's factory call.
	// They are included in Misses.
	Coalesced     int64
	FactoryErrors int64

	AvgHitLatency  time.Duration
	AvgMissLatency time.Duration

	// EmbeddingFallbacks counts requests embedded with the hash fallback,
	// whatever the cause. LookupPanics covers the L1/L2 search only.
	EmbeddingFallbacks int64
	L2SearchFailures   int64
	L2WriteFailures    int64
	L2UpdateFailures   int64
	LookupPanics       int64

	L1Entries int
	Uptime    time.Duration
}

// Hits returns L1Hits + L2Hits.
func (s Statistics) Hits() int64 { return s.L1Hits + s.L2Hits }

// HitRate returns the fraction of requests served from cache.
func (s Statistics) HitRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.Hits()) / float64(s.TotalRequests)
}

// stats owns the live counters. A single mutex guards the whole block; it is
// never held across I/O.
type stats struct {
	mu sync.Mutex
	s  Statistics

	hitMean  float64
	missMean float64
	since    time.Time
	now      func() time.Time
}

func newStats(now func() time.Time) *stats {
	return &stats{now: now, since: now()}
}

func (st *stats) hit(tier Tier, latency time.Duration) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.TotalRequests++
	if tier == TierL1 {
		st.s.L1Hits++
	} else {
		st.s.L2Hits++
	}
	st.hitMean += (float64(latency) - st.hitMean) / float64(st.s.L1Hits+st.s.L2Hits)
}

func (st *stats) miss(latency time.Duration, coalesced bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.TotalRequests++
	st.s.Misses++
	if coalesced {
		st.s.Coalesced++
	}
	st.missMean += (float64(latency) - st.missMean) / float64(st.s.Misses)
}

func (st *stats) factoryError() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.TotalRequests++
	st.s.FactoryErrors++
}

type degradation int

const (
	degradedEmbed degradation = iota
	degradedL2Search
	degradedL2Write
	degradedL2Update
	degradedPanic
)

func (st *stats) degraded(d degradation) {
	st.mu.Lock()
	defer st.mu.Unlock()
	switch d {
	case degradedEmbed:
		st.s.EmbeddingFallbacks++
	case degradedL2Search:
		st.s.L2SearchFailures++
	case degradedL2Write:
		st.s.L2WriteFailures++
	case degradedL2Update:
		st.s.L2UpdateFailures++
	case degradedPanic:
		st.s.LookupPanics++
	}
}

func (st *stats) snapshot(l1Entries int) Statistics {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := st.s
	out.AvgHitLatency = time.Duration(st.hitMean)
	out.AvgMissLatency = time.Duration(st.missMean)
	out.L1Entries = l1Entries
	out.Uptime = st.now().Sub(st.since)
	return out
}

func (st *stats) reset() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s = Statistics{}
	st.hitMean, st.missMean = 0, 0
	st.since = st.now()
}
