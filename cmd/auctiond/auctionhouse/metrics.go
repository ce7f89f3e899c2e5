package auctionhouse

import (
	"context"

	"github.com/textileio/auction-core/cmd/auctiond/metrics"
	sharedmetrics "github.com/textileio/auction-core/metrics"
	"go.opentelemetry.io/otel/metric"
)

var prefix = "auctionhouse"

func (h *AuctionHouse) initMetrics() {
	h.metricCreatedAuctions = metrics.Meter.NewInt64Counter(prefix + ".created_auctions_total")
	h.metricCommits = metrics.Meter.NewInt64Counter(prefix + ".commits_total")
	h.metricReveals = metrics.Meter.NewInt64Counter(prefix + ".reveals_total")
	h.metricFinalizes = metrics.Meter.NewInt64Counter(prefix + ".finalizes_total")
	h.metricRefunds = metrics.Meter.NewInt64Counter(prefix + ".refunds_total")
	h.metricCancels = metrics.Meter.NewInt64Counter(prefix + ".cancels_total")
}

func (h *AuctionHouse) incr(ctx context.Context, err error, m metric.Int64Counter) {
	sharedmetrics.MetricIncrCounter(ctx, err, m)
}
