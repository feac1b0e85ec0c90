// Package metrics defines the sink interfaces used to observe booking
// decisions and walk-up queue transitions. Concrete sinks (Prometheus,
// InfluxDB) live in infra/metrics and register themselves with the factory so
// that NewSink can build them from configuration; several configured sinks are
// combined into a MultiSink.
package metrics
