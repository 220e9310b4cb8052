package sweep

import (
	"context"
	"time"

	"github.com/Keksclan/spawncache/metrics"
)

// Sweeper deletes persisted records whose TTL elapsed before now.
type Sweeper interface {
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
}

// ExpiryJob enforces TTLs on the persistent tier.
type ExpiryJob struct {
	sweeper Sweeper
	metrics *metrics.Collector
	now     func() time.Time
}

// NewExpiryJob creates a job that sweeps s. m and now may be nil.
func NewExpiryJob(s Sweeper, m *metrics.Collector, now func() time.Time) *ExpiryJob {
	if now == nil {
		now = time.Now
	}
	return &ExpiryJob{sweeper: s, metrics: m, now: now}
}

func (j *ExpiryJob) Name() string { return "l2-expiry" }

// Run performs one sweep.
func (j *ExpiryJob) Run(ctx context.Context) error {
	n, err := j.sweeper.SweepExpired(ctx, j.now())
	if err != nil {
		return err
	}
	j.metrics.SweepDeleted(n)
	return nil
}
