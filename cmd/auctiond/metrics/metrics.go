package metrics

import (
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/global"
)

// Prefix is the prefix of all metrics exposed by the daemon.
const Prefix = "auctiond"

// Meter is the global meter used for metrics.
var Meter = metric.Must(global.Meter(Prefix))
