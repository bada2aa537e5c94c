//go:build linux

package radio

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"
)

const readBufferSize = 512

type attrRole uint8

const (
	roleValue attrRole = iota
	roleCCCD
)

type attribute struct {
	role        attrRole
	valueHandle AttrHandle
	char        *bluetooth.DeviceCharacteristic
}

type service struct {
	start, end AttrHandle
	svc        bluetooth.DeviceService
	chars      []*bluetooth.DeviceCharacteristic
	discovered bool
}

type link struct {
	addr     Address
	device   bluetooth.Device
	services []*service
	attrs    map[AttrHandle]attribute
	// characteristics with notifications on, by value handle
	subscribed map[AttrHandle]*bluetooth.DeviceCharacteristic
	closed     bool
}

func newLink(addr Address, device bluetooth.Device) *link {
	return &link{
		addr:       addr,
		device:     device,
		attrs:      make(map[AttrHandle]attribute),
		subscribed: make(map[AttrHandle]*bluetooth.DeviceCharacteristic),
	}
}

// BlueZ drives a BlueZ adapter through tinygo.org/x/bluetooth. Blocking
// library calls run on a single worker goroutine fed by a bounded queue, so
// every command returns immediately and reports its outcome as an Event.
type BlueZ struct {
	adapter *bluetooth.Adapter
	logger  *zap.Logger
	handler Handler

	commands chan func()
	scanning atomic.Bool

	// subMu serialises notification subscribe and unsubscribe
	subMu sync.Mutex

	mu       sync.Mutex
	links    map[ConnHandle]*link
	byAddr   map[Address]ConnHandle
	nextConn ConnHandle
}

// NewBlueZ creates an adapter wrapper with a command queue of queueSize.
func NewBlueZ(adapter *bluetooth.Adapter, queueSize int, logger *zap.Logger) *BlueZ {
	if adapter == nil {
		adapter = bluetooth.DefaultAdapter
	}
	if queueSize <= 0 {
		queueSize = 32
	}
	return &BlueZ{
		adapter:  adapter,
		logger:   logger,
		commands: make(chan func(), queueSize),
		links:    make(map[ConnHandle]*link),
		byAddr:   make(map[Address]ConnHandle),
		nextConn: 0x0040,
	}
}

// SetHandler sets the event sink. It must be called before Start.
func (b *BlueZ) SetHandler(h Handler) {
	b.handler = h
}

// Start enables the adapter and runs the command worker until ctx is done.
func (b *BlueZ) Start(ctx context.Context) error {
	if b.handler == nil {
		return fmt.Errorf("radio: no event handler set")
	}

	b.logger.Info("initializing BLE adapter")
	if err := b.adapter.Enable(); err != nil {
		return fmt.Errorf("failed to enable BLE adapter: %w", err)
	}
	b.adapter.SetConnectHandler(b.onConnectionChange)
	b.logger.Info("BLE adapter initialized successfully")

	go b.work(ctx)
	return nil
}

func (b *BlueZ) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			b.shutdown()
			return
		case cmd := <-b.commands:
			cmd()
		}
	}
}

func (b *BlueZ) shutdown() {
	if b.scanning.Load() {
		if err := b.adapter.StopScan(); err != nil {
			b.logger.Debug("stop scan on shutdown", zap.Error(err))
		}
	}

	b.mu.Lock()
	links := make([]*link, 0, len(b.links))
	for _, l := range b.links {
		links = append(links, l)
	}
	b.mu.Unlock()

	for _, l := range links {
		if err := l.device.Disconnect(); err != nil {
			b.logger.Warn("failed to disconnect on shutdown", zap.Stringer("mac", l.addr), zap.Error(err))
		}
	}
}

func (b *BlueZ) enqueue(cmd func()) error {
	select {
	case b.commands <- cmd:
		return nil
	default:
		return ErrBusy
	}
}

// StartScan starts a scan unless one is already running. BlueZ picks its own
// timing, so window and interval are advisory.
func (b *BlueZ) StartScan(window, interval time.Duration) error {
	if !b.scanning.CompareAndSwap(false, true) {
		return nil
	}

	b.logger.Info("starting BLE scan", zap.Duration("window", window), zap.Duration("interval", interval))
	go func() {
		defer b.scanning.Store(false)
		err := b.adapter.Scan(b.onScanResult)
		if err != nil {
			b.logger.Error("BLE scan stopped with error", zap.Error(err))
		}
		b.handler(ScanComplete{})
	}()
	return nil
}

// StopScan stops a running scan. Stopping an idle scanner is a no-op.
func (b *BlueZ) StopScan() error {
	if !b.scanning.Load() {
		return nil
	}
	b.logger.Info("stopping BLE scan")
	if err := b.adapter.StopScan(); err != nil {
		return fmt.Errorf("failed to stop BLE scan: %w", err)
	}
	return nil
}

func (b *BlueZ) onScanResult(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
	payload := result.AdvertisementPayload.Bytes()
	if payload == nil {
		md := result.AdvertisementPayload.ManufacturerData()
		if len(md) == 0 {
			return
		}
		elements := make([]ManufacturerData, len(md))
		for i, e := range md {
			elements[i] = ManufacturerData{CompanyID: e.CompanyID, Data: e.Data}
		}
		payload = BuildAdvertisement(elements)
	}

	b.handler(ScanResult{
		Address: fromMAC(result.Address.MAC),
		Kind:    AdvInd,
		RSSI:    result.RSSI,
		Payload: payload,
	})
}

// Connect opens a connection to addr.
func (b *BlueZ) Connect(addr Address) error {
	return b.enqueue(func() {
		b.logger.Debug("connecting", zap.Stringer("mac", addr))
		target := bluetooth.Address{MACAddress: bluetooth.MACAddress{MAC: toMAC(addr)}}
		device, err := b.adapter.Connect(target, bluetooth.ConnectionParams{})
		if err != nil {
			b.handler(ConnectFailed{Address: addr, Err: err})
			return
		}

		b.mu.Lock()
		old, stale := b.byAddr[addr]
		b.mu.Unlock()
		if stale {
			b.forget(old)
		}

		b.mu.Lock()
		conn := b.nextConn
		b.nextConn++
		b.links[conn] = newLink(addr, device)
		b.byAddr[addr] = conn
		b.mu.Unlock()

		b.handler(PeripheralConnected{Conn: conn, Address: addr})
	})
}

// Disconnect closes the connection to addr, if any.
func (b *BlueZ) Disconnect(addr Address) error {
	return b.enqueue(func() {
		b.mu.Lock()
		conn, ok := b.byAddr[addr]
		var l *link
		if ok {
			l = b.links[conn]
		}
		b.mu.Unlock()
		if l == nil {
			return
		}

		if err := l.device.Disconnect(); err != nil {
			b.logger.Warn("failed to disconnect", zap.Stringer("mac", addr), zap.Error(err))
		}
		b.forget(conn)
	})
}

func (b *BlueZ) onConnectionChange(device bluetooth.Device, connected bool) {
	if connected {
		return
	}
	addr := fromMAC(device.Address.MAC)

	b.mu.Lock()
	conn, ok := b.byAddr[addr]
	b.mu.Unlock()
	if ok {
		b.forget(conn)
	}
}

// forget drops a link, stops its notifications and posts the disconnect
// exactly once. BlueZ keeps characteristic paths across reconnects, so a
// subscription left running would keep firing for the dead handle.
func (b *BlueZ) forget(conn ConnHandle) {
	b.mu.Lock()
	l, ok := b.links[conn]
	if ok {
		delete(b.links, conn)
		if b.byAddr[l.addr] == conn {
			delete(b.byAddr, l.addr)
		}
		l.closed = true
	}
	b.mu.Unlock()
	if !ok {
		return
	}

	b.subMu.Lock()
	b.mu.Lock()
	subscribed := l.subscribed
	l.subscribed = nil
	b.mu.Unlock()
	for handle, char := range subscribed {
		if err := char.EnableNotifications(nil); err != nil {
			b.logger.Debug("failed to stop notifications",
				zap.Stringer("mac", l.addr),
				zap.Uint16("handle", uint16(handle)),
				zap.Error(err))
		}
	}
	b.subMu.Unlock()

	b.handler(PeripheralDisconnected{Conn: conn})
}

func (b *BlueZ) link(conn ConnHandle) (*link, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.links[conn]
	if !ok {
		return nil, fmt.Errorf("%w: 0x%04X", ErrUnknownConnection, uint16(conn))
	}
	return l, nil
}

// DiscoverServices finds the primary services matching uuid. Each one is
// given a synthetic handle range.
func (b *BlueZ) DiscoverServices(conn ConnHandle, uuid bluetooth.UUID) error {
	l, err := b.link(conn)
	if err != nil {
		return err
	}
	return b.enqueue(func() {
		services, err := l.device.DiscoverServices([]bluetooth.UUID{uuid})
		if err != nil {
			b.logger.Warn("service discovery failed", zap.Stringer("mac", l.addr), zap.Error(err))
		}

		b.mu.Lock()
		l.services = l.services[:0]
		for i := range services {
			start, end := serviceRange(i)
			l.services = append(l.services, &service{start: start, end: end, svc: services[i]})
		}
		found := append([]*service(nil), l.services...)
		b.mu.Unlock()

		for _, s := range found {
			b.handler(ServiceFound{Conn: conn, Start: s.start, End: s.end, UUID: s.svc.UUID()})
		}
		b.handler(ServiceSearchComplete{Conn: conn})
	})
}

// characteristics discovers and caches the characteristics of every service
// in [start, end]. Only called from the worker goroutine.
func (b *BlueZ) characteristics(l *link, start, end AttrHandle) []*service {
	b.mu.Lock()
	var in []*service
	for _, s := range l.services {
		if s.start >= start && s.end <= end {
			in = append(in, s)
		}
	}
	b.mu.Unlock()

	for _, s := range in {
		if s.discovered {
			continue
		}
		chars, err := s.svc.DiscoverCharacteristics(nil)
		if err != nil {
			b.logger.Warn("characteristic discovery failed", zap.Stringer("mac", l.addr), zap.Error(err))
			continue
		}

		b.mu.Lock()
		s.chars = make([]*bluetooth.DeviceCharacteristic, len(chars))
		s.discovered = true
		for j := range chars {
			// one shared pointer per characteristic, so the subscription
			// state lives on the same value that is later unsubscribed
			char := &chars[j]
			s.chars[j] = char
			value := valueHandle(s.start, j)
			l.attrs[value] = attribute{role: roleValue, valueHandle: value, char: char}
			l.attrs[value+1] = attribute{role: roleCCCD, valueHandle: value, char: char}
		}
		b.mu.Unlock()
	}
	return in
}

func charUUIDs(chars []*bluetooth.DeviceCharacteristic) []bluetooth.UUID {
	uuids := make([]bluetooth.UUID, len(chars))
	for i, c := range chars {
		uuids[i] = c.UUID()
	}
	return uuids
}

// DiscoverCharacteristics reports every characteristic in [start, end].
func (b *BlueZ) DiscoverCharacteristics(conn ConnHandle, start, end AttrHandle) error {
	l, err := b.link(conn)
	if err != nil {
		return err
	}
	return b.enqueue(func() {
		for _, s := range b.characteristics(l, start, end) {
			for _, ev := range characteristicEvents(conn, s.start, charUUIDs(s.chars)) {
				b.handler(ev)
			}
		}
		b.handler(CharacteristicSearchComplete{Conn: conn})
	})
}

// DiscoverDescriptors enumerates attributes in [start, end] in Find
// Information order: the declaration, the value attribute carrying the
// characteristic UUID, then the CCCD.
func (b *BlueZ) DiscoverDescriptors(conn ConnHandle, start, end AttrHandle) error {
	l, err := b.link(conn)
	if err != nil {
		return err
	}
	return b.enqueue(func() {
		for _, s := range b.characteristics(l, start, end) {
			for _, ev := range descriptorEvents(conn, s.start, charUUIDs(s.chars)) {
				b.handler(ev)
			}
		}
		b.handler(DescriptorSearchComplete{Conn: conn})
	})
}

func (b *BlueZ) attribute(conn ConnHandle, handle AttrHandle) (*link, attribute, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.links[conn]
	if !ok {
		return nil, attribute{}, fmt.Errorf("%w: 0x%04X", ErrUnknownConnection, uint16(conn))
	}
	a, ok := l.attrs[handle]
	if !ok {
		return nil, attribute{}, fmt.Errorf("%w: 0x%04X", ErrUnknownHandle, uint16(handle))
	}
	return l, a, nil
}

// Write writes data to handle. Writing NotifyEnable to a CCCD subscribes to
// the characteristic; any other CCCD value unsubscribes. Value writes go
// through WriteValue without a type option, so BlueZ sends a write request
// when the characteristic supports one and a command otherwise; ack cannot
// be forced either way.
func (b *BlueZ) Write(conn ConnHandle, handle AttrHandle, data []byte, ack bool) error {
	l, a, err := b.attribute(conn, handle)
	if err != nil {
		return err
	}
	payload := bytes.Clone(data)

	return b.enqueue(func() {
		var err error
		switch {
		case a.role == roleCCCD && bytes.Equal(payload, NotifyEnable):
			err = b.subscribe(conn, l, a)
		case a.role == roleCCCD:
			err = b.unsubscribe(l, a)
		default:
			if ack {
				b.logger.Debug("acknowledged write left to BlueZ", zap.Uint16("handle", uint16(handle)))
			}
			_, err = a.char.WriteWithoutResponse(payload)
		}
		b.handler(WriteComplete{Conn: conn, Handle: handle, Err: err})
	})
}

func (b *BlueZ) subscribe(conn ConnHandle, l *link, a attribute) error {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	b.mu.Lock()
	closed := l.closed
	_, active := l.subscribed[a.valueHandle]
	b.mu.Unlock()
	switch {
	case closed:
		return fmt.Errorf("%w: 0x%04X", ErrUnknownConnection, uint16(conn))
	case active:
		return nil
	}

	value := a.valueHandle
	err := a.char.EnableNotifications(func(buf []byte) {
		b.handler(Notification{Conn: conn, ValueHandle: value, Payload: bytes.Clone(buf)})
	})
	if err != nil {
		return err
	}

	b.mu.Lock()
	l.subscribed[value] = a.char
	b.mu.Unlock()
	return nil
}

func (b *BlueZ) unsubscribe(l *link, a attribute) error {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	b.mu.Lock()
	_, active := l.subscribed[a.valueHandle]
	delete(l.subscribed, a.valueHandle)
	b.mu.Unlock()
	if !active {
		return nil
	}
	return a.char.EnableNotifications(nil)
}

// Read reads the value at handle.
func (b *BlueZ) Read(conn ConnHandle, handle AttrHandle) error {
	_, a, err := b.attribute(conn, handle)
	if err != nil {
		return err
	}
	return b.enqueue(func() {
		buf := make([]byte, readBufferSize)
		n, err := a.char.Read(buf)
		if err != nil {
			b.logger.Warn("read failed", zap.Uint16("handle", uint16(handle)), zap.Error(err))
			return
		}
		b.handler(ReadResult{Conn: conn, ValueHandle: a.valueHandle, Payload: buf[:n]})
	})
}

// tinygo stores MAC octets least significant first.
func fromMAC(mac bluetooth.MAC) Address {
	var a Address
	for i := range a {
		a[i] = mac[len(mac)-1-i]
	}
	return a
}

func toMAC(a Address) bluetooth.MAC {
	var mac bluetooth.MAC
	for i := range mac {
		mac[i] = a[len(a)-1-i]
	}
	return mac
}
