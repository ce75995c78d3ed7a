package metrics

import "liqflow/logger"

// DropMetric identifies the metric name emitted when pipeline messages are dropped.
type DropMetric string

const (
	// DropMetricLiquidationRaw records raw liquidation frames dropped before normalisation.
	DropMetricLiquidationRaw DropMetric = "liquidation_messages_dropped"
	// DropMetricMalformedFrame records relevant frames that failed to decode.
	DropMetricMalformedFrame DropMetric = "malformed_frames_dropped"
	// DropMetricAlert records alerts that could not be delivered to the sink.
	DropMetricAlert DropMetric = "alerts_dropped"
)

// EmitDropMetric logs and emits a metric representing a dropped pipeline
// message. The metric value is always incremented by one so callers should
// invoke this helper for each dropped message. Optional metadata (exchange,
// symbol, stage) is added to the metric fields when provided which enables
// downstream aggregation per exchange and stage.
func EmitDropMetric(log *logger.Log, metric DropMetric, exchange, symbol, stage string) {
	fields := logger.Fields{}
	if exchange != "" {
		fields["exchange"] = exchange
	}
	if symbol != "" {
		fields["symbol"] = symbol
	}
	if stage != "" {
		fields["stage"] = stage
	}

	EmitMetric(log, "pipeline_drops", string(metric), 1, "counter", fields)
}
