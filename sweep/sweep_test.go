package sweep

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/goleak"

	"github.com/Keksclan/spawncache/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSweeper struct {
	calls atomic.Int32
	at    atomic.Int64
	n     int64
	err   error
	block chan struct{}
}

func (f *fakeSweeper) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	f.calls.Add(1)
	f.at.Store(now.UnixMilli())
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return f.n, f.err
}

func TestExpiryJob_Run(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	s := &fakeSweeper{n: 4}
	job := NewExpiryJob(s, nil, func() time.Time { return now })

	if err := job.Run(t.Context()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", s.calls.Load())
	}
	if s.at.Load() != now.UnixMilli() {
		t.Fatal("sweep did not use the injected clock")
	}
}

func TestExpiryJob_PropagatesError(t *testing.T) {
	boom := errors.New("store down")
	job := NewExpiryJob(&fakeSweeper{err: boom}, nil, nil)
	if err := job.Run(t.Context()); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}

func TestExpiryJob_CountsDeleted(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	job := NewExpiryJob(&fakeSweeper{n: 3}, m, nil)
	if err := job.Run(t.Context()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == "spawncache_sweep_deleted_total" {
			if got := mf.GetMetric()[0].GetCounter().GetValue(); got != 3 {
				t.Fatalf("sweep_deleted_total = %v, want 3", got)
			}
			return
		}
	}
	t.Fatal("sweep_deleted_total not gathered")
}

func TestScheduler_RejectsBadSpec(t *testing.T) {
	s := NewScheduler(nil)
	if err := s.AddJob(NewExpiryJob(&fakeSweeper{}, nil, nil), "not a cron spec"); err == nil {
		t.Fatal("expected error for invalid spec")
	}
}

func TestScheduler_NextAndStop(t *testing.T) {
	s := NewScheduler(nil)
	job := NewExpiryJob(&fakeSweeper{}, nil, nil)
	if err := s.AddJob(job, DefaultSpec); err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	s.Start(t.Context())

	next, ok := s.Next(job.Name())
	if !ok {
		t.Fatal("expected job entry")
	}
	if next.IsZero() || next.Minute()%15 != 0 {
		t.Fatalf("unexpected next run %v", next)
	}
	if _, ok := s.Next("missing"); ok {
		t.Fatal("unknown job must not report a next run")
	}

	s.Stop()
}

func TestScheduler_SkipsOverlappingRuns(t *testing.T) {
	s := NewScheduler(nil)
	f := &fakeSweeper{block: make(chan struct{})}
	run := s.wrap(NewExpiryJob(f, nil, nil), s.logger)
	s.ctx = t.Context()

	done := make(chan struct{})
	go func() {
		run()
		close(done)
	}()
	for f.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	run() // skipped while the first run blocks
	close(f.block)
	<-done

	if got := f.calls.Load(); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
}
