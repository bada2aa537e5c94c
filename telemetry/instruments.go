package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

// Instruments are the event loop counters. A nil *Instruments records nothing.
type Instruments struct {
	events     otelmetric.Int64Counter
	dropped    otelmetric.Int64Counter
	accepted   otelmetric.Int64Counter
	suppressed otelmetric.Int64Counter
	decodeErrs otelmetric.Int64Counter
}

// NewInstruments creates the counters on the given meter provider.
func NewInstruments(mp otelmetric.MeterProvider) (*Instruments, error) {
	meter := mp.Meter("github.com/mjasion/balena-home/vanmon")

	var (
		in  Instruments
		err error
	)
	if in.events, err = meter.Int64Counter("vanmon.events",
		otelmetric.WithDescription("Radio events handled by the event loop")); err != nil {
		return nil, fmt.Errorf("vanmon.events: %w", err)
	}
	if in.dropped, err = meter.Int64Counter("vanmon.advertisements.dropped",
		otelmetric.WithDescription("Advertisements dropped by the classifier")); err != nil {
		return nil, fmt.Errorf("vanmon.advertisements.dropped: %w", err)
	}
	if in.accepted, err = meter.Int64Counter("vanmon.snapshots.accepted",
		otelmetric.WithDescription("Snapshots that changed a device's state")); err != nil {
		return nil, fmt.Errorf("vanmon.snapshots.accepted: %w", err)
	}
	if in.suppressed, err = meter.Int64Counter("vanmon.snapshots.suppressed",
		otelmetric.WithDescription("Snapshots equal to the cached state")); err != nil {
		return nil, fmt.Errorf("vanmon.snapshots.suppressed: %w", err)
	}
	if in.decodeErrs, err = meter.Int64Counter("vanmon.decode.failures",
		otelmetric.WithDescription("Frames that failed to decode")); err != nil {
		return nil, fmt.Errorf("vanmon.decode.failures: %w", err)
	}
	return &in, nil
}

// Event counts one radio event by name.
func (in *Instruments) Event(ctx context.Context, name string) {
	if in == nil {
		return
	}
	in.events.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("event", name)))
}

// Dropped counts an advertisement the classifier rejected.
func (in *Instruments) Dropped(ctx context.Context, reason string) {
	if in == nil {
		return
	}
	in.dropped.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("reason", reason)))
}

// Snapshot records a registry submission, accepted or suppressed.
func (in *Instruments) Snapshot(ctx context.Context, kind string, accepted bool) {
	if in == nil {
		return
	}
	opt := otelmetric.WithAttributes(attribute.String("kind", kind))
	if accepted {
		in.accepted.Add(ctx, 1, opt)
		return
	}
	in.suppressed.Add(ctx, 1, opt)
}

// DecodeFailure counts a frame of the given kind that failed to decode.
func (in *Instruments) DecodeFailure(ctx context.Context, kind string) {
	if in == nil {
		return
	}
	in.decodeErrs.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("kind", kind)))
}
