// Package dispatcher runs the single event loop. Every radio event and every
// outside request is handled on one goroutine, which is the only place the
// registry and the fridge session are mutated.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mjasion/balena-home/vanmon/classifier"
	"github.com/mjasion/balena-home/vanmon/decoder"
	"github.com/mjasion/balena-home/vanmon/fridge"
	"github.com/mjasion/balena-home/vanmon/radio"
	"github.com/mjasion/balena-home/vanmon/registry"
	"github.com/mjasion/balena-home/vanmon/telemetry"
)

// Submit errors.
var (
	ErrQueueFull = errors.New("dispatcher queue full")
	ErrStopped   = errors.New("dispatcher stopped")
)

// Request is an action asked of the loop by another goroutine.
type Request uint8

const (
	StartScan Request = iota
	StopScan
	ConnectFridge
	DisconnectFridge
	// QueryFridge queries a ready fridge, or reconnects a disconnected one
	// when auto reconnect is on.
	QueryFridge
)

func (r Request) String() string {
	switch r {
	case StartScan:
		return "start_scan"
	case StopScan:
		return "stop_scan"
	case ConnectFridge:
		return "connect_fridge"
	case DisconnectFridge:
		return "disconnect_fridge"
	case QueryFridge:
		return "query_fridge"
	}
	return fmt.Sprintf("request(%d)", uint8(r))
}

// Config holds the scan parameters, reconnect policy and queue sizes.
type Config struct {
	ScanWindow       time.Duration
	ScanInterval     time.Duration
	AutoReconnect    bool
	EventQueueSize   int
	RequestQueueSize int
}

// Dispatcher is the event loop. Post and Submit are safe from any goroutine;
// everything else runs on the loop.
type Dispatcher struct {
	cfg         Config
	radio       radio.Radio
	registry    *registry.Registry
	classifier  *classifier.Classifier
	fridge      *fridge.Machine
	instruments *telemetry.Instruments
	logger      *zap.Logger

	events   chan radio.Event
	requests chan Request
	done     chan struct{}
}

// New wires the loop. fm may be nil when no fridge is registered; in may be
// nil when OpenTelemetry is off.
func New(cfg Config, r radio.Radio, reg *registry.Registry, cls *classifier.Classifier, fm *fridge.Machine, in *telemetry.Instruments, logger *zap.Logger) *Dispatcher {
	if cfg.EventQueueSize < 1 {
		cfg.EventQueueSize = 256
	}
	if cfg.RequestQueueSize < 1 {
		cfg.RequestQueueSize = 16
	}
	return &Dispatcher{
		cfg:         cfg,
		radio:       r,
		registry:    reg,
		classifier:  cls,
		fridge:      fm,
		instruments: in,
		logger:      logger,
		events:      make(chan radio.Event, cfg.EventQueueSize),
		requests:    make(chan Request, cfg.RequestQueueSize),
		done:        make(chan struct{}),
	}
}

// Post hands a radio event to the loop. It is safe to call from any
// goroutine and is meant to be installed as the radio's event handler.
// Scan results are dropped when the queue is full; other events wait for
// room until the loop stops.
func (d *Dispatcher) Post(ev radio.Event) {
	if _, ok := ev.(radio.ScanResult); ok {
		select {
		case d.events <- ev:
		default:
			d.instruments.Dropped(context.Background(), "queue_full")
		}
		return
	}

	select {
	case d.events <- ev:
	case <-d.done:
	}
}

// Submit queues a request without blocking.
func (d *Dispatcher) Submit(req Request) error {
	select {
	case <-d.done:
		return ErrStopped
	default:
	}
	select {
	case d.requests <- req:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrQueueFull, req)
	}
}

// Run processes events and requests until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer close(d.done)
	d.logger.Info("event loop started")

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("event loop stopping")
			return nil
		case ev := <-d.events:
			d.Handle(ctx, ev)
		case req := <-d.requests:
			d.Execute(req)
		}
	}
}

// Handle routes one event. It never blocks.
func (d *Dispatcher) Handle(ctx context.Context, ev radio.Event) {
	d.instruments.Event(ctx, ev.Name())

	switch e := ev.(type) {
	case radio.ScanResult:
		d.onScanResult(ctx, e)
	case radio.ScanComplete:
		d.logger.Info("scan complete")
	case radio.PeripheralConnected:
		d.onPeripheral(ctx, e, e.Address)
	case radio.ConnectFailed:
		d.onPeripheral(ctx, e, e.Address)
	case radio.PeripheralDisconnected,
		radio.ServiceFound,
		radio.ServiceSearchComplete,
		radio.CharacteristicFound,
		radio.CharacteristicSearchComplete,
		radio.DescriptorFound,
		radio.DescriptorSearchComplete,
		radio.Notification,
		radio.ReadResult,
		radio.WriteComplete,
		radio.ConnectionParamsUpdated:
		d.toFridge(ctx, ev)
	default:
		d.logger.Warn("unhandled radio event", zap.String("event", ev.Name()))
	}
}

func (d *Dispatcher) onScanResult(ctx context.Context, e radio.ScanResult) {
	dev, snap, err := d.classifier.Classify(e)
	if err != nil {
		reason := classifier.Reason(err)
		d.instruments.Dropped(ctx, reason)
		if errors.Is(err, classifier.ErrDecode) {
			d.instruments.DecodeFailure(ctx, dev.Kind.String())
			d.logger.Warn("failed to decode advertisement",
				zap.String("device", dev.Name),
				zap.Stringer("mac", e.Address),
				zap.Error(err))
			return
		}
		d.logger.Debug("advertisement dropped",
			zap.Stringer("mac", e.Address),
			zap.Int16("rssi", e.RSSI),
			zap.String("reason", reason))
		return
	}
	d.submit(ctx, dev.Address, snap)
}

func (d *Dispatcher) onPeripheral(ctx context.Context, ev radio.Event, addr radio.Address) {
	if d.fridge == nil || addr != d.fridge.Address() {
		d.logger.Warn("connection event for unexpected peripheral",
			zap.String("event", ev.Name()),
			zap.Stringer("mac", addr))
		return
	}
	d.toFridge(ctx, ev)
}

func (d *Dispatcher) toFridge(ctx context.Context, ev radio.Event) {
	if d.fridge == nil {
		d.logger.Warn("event for unknown connection", zap.String("event", ev.Name()))
		return
	}

	snap, err := d.fridge.Handle(ev)
	switch {
	case errors.Is(err, fridge.ErrUnknownConnection):
		d.logger.Warn("event for unknown connection", zap.String("event", ev.Name()), zap.Error(err))
		return
	case err != nil:
		d.instruments.DecodeFailure(ctx, decoder.KindFridge.String())
		d.logger.Warn("failed to decode fridge notification", zap.Error(err))
		return
	}
	if snap != nil {
		d.submit(ctx, d.fridge.Address(), snap)
	}
}

func (d *Dispatcher) submit(ctx context.Context, addr radio.Address, snap decoder.Snapshot) {
	change, ok := d.registry.Submit(addr, snap)
	d.instruments.Snapshot(ctx, snap.Kind().String(), ok)
	if !ok {
		return
	}
	d.logger.Info("device_update",
		zap.String("device", change.Name),
		zap.Stringer("mac", change.Address),
		zap.Stringer("kind", change.Kind),
		zap.Bool("toggle", change.Toggle))
}

// Execute performs one request on the loop goroutine.
func (d *Dispatcher) Execute(req Request) {
	var err error
	switch req {
	case StartScan:
		err = d.radio.StartScan(d.cfg.ScanWindow, d.cfg.ScanInterval)
	case StopScan:
		err = d.radio.StopScan()
	case ConnectFridge, DisconnectFridge, QueryFridge:
		if d.fridge == nil {
			d.logger.Debug("no fridge registered, ignoring request", zap.Stringer("request", req))
			return
		}
		err = d.executeFridge(req)
	default:
		err = fmt.Errorf("unknown request %s", req)
	}
	if err != nil {
		d.logger.Warn("request failed", zap.Stringer("request", req), zap.Error(err))
	}
}

func (d *Dispatcher) executeFridge(req Request) error {
	switch req {
	case ConnectFridge:
		return d.fridge.Connect()
	case DisconnectFridge:
		return d.fridge.Disconnect()
	}

	switch state := d.fridge.State(); {
	case state == fridge.Ready:
		return d.fridge.Query()
	case state == fridge.Disconnected && d.cfg.AutoReconnect:
		d.logger.Info("fridge disconnected, reconnecting")
		return d.fridge.Connect()
	default:
		d.logger.Debug("fridge not ready, skipping query", zap.Stringer("state", state))
		return nil
	}
}
