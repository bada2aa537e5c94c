package metrics

import (
	"context"
	"sort"

	"github.com/prometheus/prometheus/prompb"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/mjasion/balena-home/vanmon/types"
)

// MetricPrefix is prepended to every snapshot field name.
const MetricPrefix = "vanmon_"

// BuildSnapshotTimeSeries turns readings into one series per device and
// snapshot field, named vanmon_<field> and labelled with the device name,
// kind and MAC. Samples keep reading order.
func BuildSnapshotTimeSeries(ctx context.Context, readings []*types.Reading) ([]prompb.TimeSeries, error) {
	_, span := otel.Tracer("metrics").Start(ctx, "metrics.BuildSnapshotTimeSeries")
	defer span.End()

	type seriesKey struct {
		metric string
		device string
		kind   string
		mac    string
	}
	series := make(map[seriesKey][]prompb.Sample)

	for _, r := range readings {
		if r == nil {
			continue
		}
		ts := r.Timestamp.UnixMilli()
		for _, m := range r.Metrics() {
			key := seriesKey{
				metric: MetricPrefix + m.Name,
				device: r.DeviceName,
				kind:   r.Kind.String(),
				mac:    r.MAC,
			}
			series[key] = append(series[key], prompb.Sample{Value: m.Value, Timestamp: ts})
		}
	}

	if len(series) == 0 {
		span.SetStatus(codes.Ok, "no snapshot readings")
		return nil, nil
	}

	keys := make([]seriesKey, 0, len(series))
	for k := range series {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].device != keys[j].device {
			return keys[i].device < keys[j].device
		}
		return keys[i].metric < keys[j].metric
	})

	timeSeries := make([]prompb.TimeSeries, 0, len(keys))
	for _, k := range keys {
		timeSeries = append(timeSeries, prompb.TimeSeries{
			// remote_write wants labels sorted by name
			Labels: []prompb.Label{
				{Name: "__name__", Value: k.metric},
				{Name: "device_kind", Value: k.kind},
				{Name: "device_name", Value: k.device},
				{Name: "mac", Value: k.mac},
			},
			Samples: series[k],
		})
	}

	span.SetAttributes(attribute.Int("metrics.time_series_count", len(timeSeries)))
	span.SetStatus(codes.Ok, "snapshot time series built")
	return timeSeries, nil
}
