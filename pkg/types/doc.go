/*
Package types holds the small shared vocabulary of exrcache: pool
statistics, eviction reasons, the progress callback used by long decodes
and the MetricsRecorder interface the cache reports through.

It has no dependencies on the rest of the module so that internal/cache
and internal/metrics can both import it without a cycle.
*/
package types
