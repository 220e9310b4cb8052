package spawncache

import (
	"sync"
	"testing"
	"time"
)

func TestStats_RunningMeans(t *testing.T) {
	now := time.Unix(1_000, 0)
	st := newStats(func() time.Time { return now })

	st.hit(TierL1, 10*time.Millisecond)
	st.hit(TierL2, 30*time.Millisecond)
	st.miss(100*time.Millisecond, false)
	st.miss(300*time.Millisecond, true)

	now = now.Add(time.Minute)
	s := st.snapshot(4)

	if s.TotalRequests != 4 || s.L1Hits != 1 || s.L2Hits != 1 || s.Misses != 2 || s.Coalesced != 1 {
		t.Fatalf("unexpected counters: %+v", s)
	}
	if s.AvgHitLatency != 20*time.Millisecond {
		t.Fatalf("AvgHitLatency = %v, want 20ms", s.AvgHitLatency)
	}
	if s.AvgMissLatency != 200*time.Millisecond {
		t.Fatalf("AvgMissLatency = %v, want 200ms", s.AvgMissLatency)
	}
	if s.L1Entries != 4 || s.Uptime != time.Minute {
		t.Fatalf("L1Entries = %d, Uptime = %v", s.L1Entries, s.Uptime)
	}
	if s.HitRate() != 0.5 {
		t.Fatalf("HitRate = %v, want 0.5", s.HitRate())
	}
}

func TestStats_Reset(t *testing.T) {
	now := time.Unix(1_000, 0)
	st := newStats(func() time.Time { return now })
	st.hit(TierL1, time.Second)
	st.degraded(degradedEmbed)
	st.factoryError()

	now = now.Add(time.Hour)
	st.reset()
	s := st.snapshot(0)
	if s.TotalRequests != 0 || s.EmbeddingFallbacks != 0 || s.AvgHitLatency != 0 || s.Uptime != 0 {
		t.Fatalf("reset left state behind: %+v", s)
	}
}

func TestStats_Concurrent(t *testing.T) {
	st := newStats(time.Now)
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				st.hit(TierL1, time.Millisecond)
				st.miss(time.Millisecond, false)
			}
		}()
	}
	wg.Wait()
	if s := st.snapshot(0); s.TotalRequests != 2000 {
		t.Fatalf("TotalRequests = %d, want 2000", s.TotalRequests)
	}
}
