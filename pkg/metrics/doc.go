/*
Package metrics defines and registers the Prometheus metrics exposed by a
running device process.

Metrics are grouped by the three pieces of the local client each exercises:
certificate ingest (add_batch), the manifest/block validator, and the
workspace-history cache. Ingest duration is an unlabeled Histogram; the
counters are CounterVecs labeled by outcome or rejection reason (the ingest
rejection counter uses a single label value), so a scrape can show
where the local state machine is spending time or rejecting input without
needing to parse logs.

Handler exposes the registry over HTTP for a Prometheus scraper; Timer is a
small helper for recording operation durations against a Histogram or
HistogramVec.
*/
package metrics
