// Package prometheus exposes authcore metrics as a prometheus.Collector.
//
// The collector reads Engine.MetricsSnapshot on every scrape, so it never
// holds state of its own. Counter names are authcore_*_total; latency
// histograms are authcore_*_latency_seconds and only carry samples when
// latency histograms are enabled on the engine.
package prometheus
