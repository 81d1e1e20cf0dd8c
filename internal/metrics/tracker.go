package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/veldtlabs/veldt/pkg/types"
)

// Tracker publishes per-run quality metrics as key-value pairs to the
// external experiment-tracking collaborator over OTLP.
type Tracker struct {
	provider *sdkmetric.MeterProvider

	runDuration  metric.Float64Histogram
	tilesFetched metric.Int64Counter
	cacheHits    metric.Int64Counter
	tilesFailed  metric.Int64Counter
	pairsFailed  metric.Int64Counter
	fractions    metric.Float64Gauge
}

// NewTracker builds a Tracker exporting to the given OTLP gRPC endpoint.
// An empty endpoint returns a nil Tracker; all methods are nil-safe so
// callers need no branches.
func NewTracker(ctx context.Context, endpoint string) (*Tracker, error) {
	if endpoint == "" {
		return nil, nil
	}

	exporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP metric exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName("veldt"),
	))
	if err != nil {
		return nil, fmt.Errorf("building resource: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
	)

	meter := provider.Meter("github.com/veldtlabs/veldt")

	t := &Tracker{provider: provider}
	if t.runDuration, err = meter.Float64Histogram("veldt.run.duration_seconds"); err != nil {
		return nil, err
	}
	if t.tilesFetched, err = meter.Int64Counter("veldt.run.tiles_fetched"); err != nil {
		return nil, err
	}
	if t.cacheHits, err = meter.Int64Counter("veldt.run.tile_cache_hits"); err != nil {
		return nil, err
	}
	if t.tilesFailed, err = meter.Int64Counter("veldt.run.tiles_failed"); err != nil {
		return nil, err
	}
	if t.pairsFailed, err = meter.Int64Counter("veldt.run.pairs_failed"); err != nil {
		return nil, err
	}
	if t.fractions, err = meter.Float64Gauge("veldt.run.quality_fraction"); err != nil {
		return nil, err
	}
	return t, nil
}

// RecordRun publishes the quality metrics of a finished run.
func (t *Tracker) RecordRun(ctx context.Context, summary *types.RunSummary) {
	if t == nil {
		return
	}

	runAttr := metric.WithAttributes(attribute.String("run.id", summary.RunID))

	t.runDuration.Record(ctx, summary.FinishedAt.Sub(summary.StartedAt).Seconds(), runAttr)
	t.tilesFetched.Add(ctx, int64(summary.TilesFetched), runAttr)
	t.cacheHits.Add(ctx, int64(summary.TilesCached), runAttr)
	t.tilesFailed.Add(ctx, int64(summary.TilesFailed), runAttr)
	t.pairsFailed.Add(ctx, int64(len(summary.FailedPairs())), runAttr)

	dropped, interpolated, flagged := summary.QualityFractions()
	for kind, v := range map[string]float64{
		"dropped":      dropped,
		"interpolated": interpolated,
		"flagged":      flagged,
	} {
		t.fractions.Record(ctx, v, metric.WithAttributes(
			attribute.String("run.id", summary.RunID),
			attribute.String("kind", kind),
		))
	}
}

// Shutdown flushes pending metrics and stops the exporter.
func (t *Tracker) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return t.provider.Shutdown(ctx)
}
