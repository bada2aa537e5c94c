package metrics

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gogo/protobuf/proto"
	"github.com/golang/snappy"
	"github.com/prometheus/prometheus/prompb"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mjasion/balena-home/vanmon/buffer"
	"github.com/mjasion/balena-home/vanmon/types"
)

const pushAttempts = 3

// TimeSeriesBuilder converts readings to Prometheus time series
type TimeSeriesBuilder func(ctx context.Context, readings []*types.Reading) ([]prompb.TimeSeries, error)

// Config contains configuration for the Prometheus pusher
type Config struct {
	URL               string
	Username          string
	Password          string
	PushInterval      time.Duration
	BatchSize         int
	TimeSeriesBuilder TimeSeriesBuilder
}

// Pusher drains the reading buffer into a Prometheus remote_write endpoint
type Pusher struct {
	cfg     Config
	client  *http.Client
	buffer  *buffer.RingBuffer[*types.Reading]
	logger  *zap.Logger
	backoff time.Duration
}

// New creates a Pusher. The builder defaults to BuildSnapshotTimeSeries.
func New(cfg Config, buf *buffer.RingBuffer[*types.Reading], logger *zap.Logger) *Pusher {
	if cfg.TimeSeriesBuilder == nil {
		cfg.TimeSeriesBuilder = BuildSnapshotTimeSeries
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 500
	}
	if cfg.PushInterval <= 0 {
		cfg.PushInterval = 15 * time.Second
	}

	return &Pusher{
		cfg: cfg,
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: otelhttp.NewTransport(
				http.DefaultTransport,
				otelhttp.WithSpanNameFormatter(func(string, *http.Request) string {
					return "prometheus.remote_write"
				}),
			),
		},
		buffer:  buf,
		logger:  logger,
		backoff: time.Second,
	}
}

// Run pushes buffered readings every push interval until ctx is done.
func (p *Pusher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.PushInterval)
	defer ticker.Stop()

	p.logger.Info("prometheus pusher started",
		zap.Duration("push_interval", p.cfg.PushInterval),
		zap.Int("batch_size", p.cfg.BatchSize),
	)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("prometheus pusher stopping")
			return
		case <-ticker.C:
			p.Flush(ctx)
		}
	}
}

// Flush drains the buffer and pushes it in batches. On failure the failed
// batch and everything after it go back into the buffer.
func (p *Pusher) Flush(ctx context.Context) int {
	readings := p.buffer.Drain()
	if len(readings) == 0 {
		p.logger.Debug("no readings to push")
		return 0
	}

	pushed := 0
	for start := 0; start < len(readings); start += p.cfg.BatchSize {
		end := min(start+p.cfg.BatchSize, len(readings))
		if err := p.Push(ctx, readings[start:end]); err != nil {
			p.logger.Error("failed to push batch, re-adding remaining readings to buffer",
				zap.Error(err),
				zap.Int("failed_readings", len(readings)-start),
			)
			p.buffer.Add(readings[start:]...)
			break
		}
		pushed += end - start
	}
	return pushed
}

// Push sends readings with up to three attempts and exponential backoff
func (p *Pusher) Push(ctx context.Context, readings []*types.Reading) error {
	ctx, span := otel.Tracer("metrics").Start(ctx, "metrics.Push",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.Int("metrics.total_readings", len(readings))),
	)
	defer span.End()

	if len(readings) == 0 {
		span.SetStatus(codes.Ok, "no readings to push")
		return nil
	}

	timeSeries, err := p.cfg.TimeSeriesBuilder(ctx, readings)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "builder failed")
		return fmt.Errorf("time series builder failed: %w", err)
	}
	if len(timeSeries) == 0 {
		span.SetStatus(codes.Ok, "no time series")
		return nil
	}

	data, err := proto.Marshal(&prompb.WriteRequest{Timeseries: timeSeries})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to marshal protobuf")
		return fmt.Errorf("failed to marshal protobuf: %w", err)
	}
	body := snappy.Encode(nil, data)
	span.SetAttributes(
		attribute.Int("metrics.time_series_count", len(timeSeries)),
		attribute.Int("metrics.compressed_size_bytes", len(body)),
	)

	var lastErr error
	for attempt := 1; attempt <= pushAttempts; attempt++ {
		lastErr = p.pushOnce(ctx, body)
		if lastErr == nil {
			p.logger.Info("successfully pushed metrics",
				zap.Int("readings", len(readings)),
				zap.Int("time_series", len(timeSeries)),
				zap.Int("attempt", attempt),
			)
			span.SetStatus(codes.Ok, "metrics pushed successfully")
			return nil
		}

		p.logger.Warn("failed to push metrics, will retry",
			zap.Int("attempt", attempt),
			zap.Error(lastErr),
		)
		span.AddEvent("push attempt failed", trace.WithAttributes(
			attribute.Int("metrics.attempt", attempt),
			attribute.String("error", lastErr.Error()),
		))

		if attempt < pushAttempts {
			select {
			case <-ctx.Done():
				span.RecordError(ctx.Err())
				span.SetStatus(codes.Error, "context cancelled")
				return ctx.Err()
			case <-time.After(p.backoff << (attempt - 1)):
			}
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "push failed")
	return fmt.Errorf("failed to push metrics after %d attempts: %w", pushAttempts, lastErr)
}

func (p *Pusher) pushOnce(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-protobuf")
	req.Header.Set("Content-Encoding", "snappy")
	req.Header.Set("X-Prometheus-Remote-Write-Version", "0.1.0")
	if p.cfg.Username != "" && p.cfg.Password != "" {
		req.SetBasicAuth(p.cfg.Username, p.cfg.Password)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("received non-2xx status code: %d, body: %s", resp.StatusCode, msg)
	}
	return nil
}
