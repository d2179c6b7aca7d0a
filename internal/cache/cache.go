package cache

import (
	"context"
	"time"
)

// ReportCache holds pre-serialized report payloads keyed by report
// name and parameters. Freshness is TTL-only: writers never
// invalidate, readers tolerate slightly stale reports.
type ReportCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error
}

type NoopReportCache struct{}

func NewNoop() NoopReportCache {
	return NoopReportCache{}
}

func (NoopReportCache) Get(_ context.Context, _ string) ([]byte, bool, error) {
	return nil, false, nil
}

func (NoopReportCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error {
	return nil
}
