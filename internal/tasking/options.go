package tasking

import (
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/opensensorhub/osh-addons-sub008/internal/infrastructure/telemetry"
)

// Options configures a family of stores sharing one database.
type Options struct {
	// Scope is stamped on every key the stores issue.
	Scope uint32

	// CacheMaxEntries and CacheTTL bound the command stream cache.
	// Zero values select DefaultCacheMaxEntries and DefaultCacheTTL.
	CacheMaxEntries int
	CacheTTL        time.Duration

	// Tracer and Metrics default to no-op implementations.
	Tracer  trace.Tracer
	Metrics *telemetry.Metrics
}

func (o Options) tracer() trace.Tracer {
	if o.Tracer != nil {
		return o.Tracer
	}
	return telemetry.Noop().Tracer
}
