package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"tinygo.org/x/bluetooth"

	"github.com/mjasion/balena-home/vanmon/classifier"
	"github.com/mjasion/balena-home/vanmon/decoder"
	"github.com/mjasion/balena-home/vanmon/fridge"
	"github.com/mjasion/balena-home/vanmon/radio"
	"github.com/mjasion/balena-home/vanmon/registry"
)

var (
	hygroAddr  = radio.MustParseAddress("A4:C1:38:00:11:22")
	fridgeAddr = radio.MustParseAddress("FF:22:10:00:00:01")
)

const conn radio.ConnHandle = 0x40

type fakeRadio struct {
	mu  sync.Mutex
	ops []string
}

func (f *fakeRadio) record(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, op)
	return nil
}

func (f *fakeRadio) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...)
}

func (f *fakeRadio) StartScan(_, _ time.Duration) error { return f.record("start_scan") }
func (f *fakeRadio) StopScan() error { return f.record("stop_scan") }
func (f *fakeRadio) Connect(radio.Address) error { return f.record("connect") }
func (f *fakeRadio) Disconnect(radio.Address) error { return f.record("disconnect") }
func (f *fakeRadio) Read(radio.ConnHandle, radio.AttrHandle) error { return f.record("read") }

func (f *fakeRadio) DiscoverServices(radio.ConnHandle, bluetooth.UUID) error {
	return f.record("discover_services")
}

func (f *fakeRadio) DiscoverCharacteristics(radio.ConnHandle, radio.AttrHandle, radio.AttrHandle) error {
	return f.record("discover_characteristics")
}

func (f *fakeRadio) DiscoverDescriptors(radio.ConnHandle, radio.AttrHandle, radio.AttrHandle) error {
	return f.record("discover_descriptors")
}

func (f *fakeRadio) Write(radio.ConnHandle, radio.AttrHandle, []byte, bool) error {
	return f.record("write")
}

type harness struct {
	d       *Dispatcher
	radio   *fakeRadio
	machine *fridge.Machine
	changes []registry.Change
	logs    *observer.ObservedLogs
}

func newHarness(t *testing.T, autoReconnect bool) *harness {
	t.Helper()
	h := &harness{radio: &fakeRadio{}}

	core, logs := observer.New(zapcore.DebugLevel)
	h.logs = logs
	logger := zap.New(core)

	reg := registry.New()
	cb := func(c registry.Change) { h.changes = append(h.changes, c) }
	if err := reg.Register(hygroAddr, nil, decoder.KindHygrometer, "cabin", cb); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(fridgeAddr, nil, decoder.KindFridge, "fridge", cb); err != nil {
		t.Fatal(err)
	}

	h.machine = fridge.NewMachine(h.radio, fridgeAddr, logger)
	h.d = New(Config{AutoReconnect: autoReconnect, EventQueueSize: 4, RequestQueueSize: 2},
		h.radio, reg, classifier.New(reg, classifier.DefaultMinRSSI), h.machine, nil, logger)
	return h
}

func hygroAdvert(tempRaw byte) []byte {
	p := make([]byte, 25)
	copy(p, []byte{0x02, 0x01, 0x06, 0x15, 0xFF, 0xF0, 0xFF, 0x15})
	copy(p[19:], []byte{0xB8, 0x0B, tempRaw, 0x01, 0x20, 0x03})
	return p
}

func fridgeFrame(current int8) []byte {
	f := make([]byte, 20)
	f[0], f[1] = 0xFE, 0xFE
	f[6] = 1
	f[8] = 4
	f[18] = byte(current)
	return f
}

func (h *harness) readyFridge(t *testing.T) {
	t.Helper()
	h.d.Execute(ConnectFridge)
	for _, ev := range []radio.Event{
		radio.PeripheralConnected{Conn: conn, Address: fridgeAddr},
		radio.ServiceFound{Conn: conn, Start: 0x10, End: 0x10F, UUID: fridge.ServiceUUID},
		radio.ServiceSearchComplete{Conn: conn},
		radio.CharacteristicFound{Conn: conn, DefHandle: 0x12, ValueHandle: 0x13, UUID: fridge.CommandUUID},
		radio.CharacteristicFound{Conn: conn, DefHandle: 0x15, ValueHandle: 0x16, UUID: fridge.NotifyUUID},
		radio.CharacteristicSearchComplete{Conn: conn},
		radio.DescriptorFound{Conn: conn, Handle: 0x13, UUID: fridge.CommandUUID},
		radio.DescriptorFound{Conn: conn, Handle: 0x17, UUID: radio.CCCDUUID},
		radio.DescriptorSearchComplete{Conn: conn},
	} {
		h.d.Handle(context.Background(), ev)
	}
	if h.machine.State() != fridge.Ready {
		t.Fatalf("fridge state = %s, want ready", h.machine.State())
	}
}

func TestHandleScanResultAcceptsChanges(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	scan := radio.ScanResult{Address: hygroAddr, Kind: radio.AdvInd, RSSI: -50, Payload: hygroAdvert(0x68)}
	h.d.Handle(ctx, scan)
	h.d.Handle(ctx, scan)
	scan.Payload = hygroAdvert(0x70)
	h.d.Handle(ctx, scan)

	if len(h.changes) != 2 {
		t.Fatalf("Expected 2 changes, got %d", len(h.changes))
	}
	if !h.changes[0].Toggle || h.changes[1].Toggle {
		t.Errorf("toggles = %v, %v; want true, false", h.changes[0].Toggle, h.changes[1].Toggle)
	}
	if n := h.logs.FilterMessage("device_update").Len(); n != 2 {
		t.Errorf("Expected 2 device_update logs, got %d", n)
	}
}

func TestHandleScanResultNoiseIsDebug(t *testing.T) {
	h := newHarness(t, false)

	h.d.Handle(context.Background(), radio.ScanResult{Address: hygroAddr, Kind: radio.AdvInd, RSSI: -90, Payload: hygroAdvert(0x68)})
	h.d.Handle(context.Background(), radio.ScanResult{Address: radio.MustParseAddress("11:22:33:44:55:66"), Kind: radio.AdvInd, RSSI: -50, Payload: hygroAdvert(0x68)})

	if len(h.changes) != 0 {
		t.Fatalf("Expected no changes, got %d", len(h.changes))
	}
	dropped := h.logs.FilterMessage("advertisement dropped").All()
	if len(dropped) != 2 {
		t.Fatalf("Expected 2 drop logs, got %d", len(dropped))
	}
	for _, e := range dropped {
		if e.Level != zapcore.DebugLevel {
			t.Errorf("drop logged at %s, want debug", e.Level)
		}
	}
	if dropped[0].ContextMap()["reason"] != "weak_signal" || dropped[1].ContextMap()["reason"] != "unregistered" {
		t.Errorf("unexpected reasons %v, %v", dropped[0].ContextMap()["reason"], dropped[1].ContextMap()["reason"])
	}
}

func TestFridgeNotificationReachesRegistry(t *testing.T) {
	h := newHarness(t, false)
	h.readyFridge(t)

	h.d.Handle(context.Background(), radio.Notification{Conn: conn, ValueHandle: 0x16, Payload: fridgeFrame(6)})
	if len(h.changes) != 1 {
		t.Fatalf("Expected 1 change, got %d", len(h.changes))
	}
	snap, ok := h.changes[0].Snapshot.(decoder.Fridge)
	if !ok || snap.CurrentTemperature != 6 || snap.TargetTemperature != 4 {
		t.Errorf("unexpected snapshot %#v", h.changes[0].Snapshot)
	}

	bad := fridgeFrame(6)
	bad[0] = 0x00
	h.d.Handle(context.Background(), radio.Notification{Conn: conn, ValueHandle: 0x16, Payload: bad})
	if h.logs.FilterMessage("failed to decode fridge notification").FilterLevelExact(zapcore.WarnLevel).Len() != 1 {
		t.Error("Expected a warning for the bad frame")
	}
	if h.machine.State() != fridge.Ready {
		t.Errorf("state = %s, want ready after bad frame", h.machine.State())
	}
}

func TestUnknownConnectionIsWarned(t *testing.T) {
	h := newHarness(t, false)

	h.d.Handle(context.Background(), radio.Notification{Conn: 0x99, ValueHandle: 0x16, Payload: fridgeFrame(1)})
	h.d.Handle(context.Background(), radio.PeripheralConnected{Conn: 0x41, Address: hygroAddr})

	if n := h.logs.FilterMessage("event for unknown connection").FilterLevelExact(zapcore.WarnLevel).Len(); n != 1 {
		t.Errorf("Expected 1 unknown connection warning, got %d", n)
	}
	if n := h.logs.FilterMessage("connection event for unexpected peripheral").Len(); n != 1 {
		t.Errorf("Expected 1 unexpected peripheral warning, got %d", n)
	}
	if len(h.changes) != 0 {
		t.Errorf("Expected no changes, got %d", len(h.changes))
	}
}

func TestQueryFridge(t *testing.T) {
	h := newHarness(t, true)

	// disconnected with auto reconnect: connect
	h.d.Execute(QueryFridge)
	if got := h.radio.calls(); len(got) != 1 || got[0] != "connect" {
		t.Fatalf("calls = %v, want [connect]", got)
	}
	if h.machine.State() != fridge.Connecting {
		t.Fatalf("state = %s, want connecting", h.machine.State())
	}

	// connecting: nothing
	h.d.Execute(QueryFridge)
	if got := h.radio.calls(); len(got) != 1 {
		t.Fatalf("calls = %v, want no new call while connecting", got)
	}
}

func TestQueryFridgeWhenReady(t *testing.T) {
	h := newHarness(t, false)
	h.readyFridge(t)
	before := len(h.radio.calls())

	h.d.Execute(QueryFridge)
	got := h.radio.calls()
	if len(got) != before+1 || got[len(got)-1] != "write" {
		t.Errorf("calls = %v, want a trailing write", got)
	}
}

func TestQueryFridgeNoReconnect(t *testing.T) {
	h := newHarness(t, false)
	h.d.Execute(QueryFridge)
	if got := h.radio.calls(); len(got) != 0 {
		t.Errorf("calls = %v, want none", got)
	}
}

func TestSubmitQueueFull(t *testing.T) {
	h := newHarness(t, false)

	for i := 0; i < 2; i++ {
		if err := h.d.Submit(StartScan); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}
	if err := h.d.Submit(StartScan); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Submit() error = %v, want ErrQueueFull", err)
	}
}

func TestRunProcessesEventsAndRequests(t *testing.T) {
	h := newHarness(t, false)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.d.Run(ctx)
	}()

	if err := h.d.Submit(StartScan); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	h.d.Post(radio.ScanComplete{})

	deadline := time.After(2 * time.Second)
	for {
		if h.logs.FilterMessage("scan complete").Len() == 1 && len(h.radio.calls()) == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("loop did not process: calls=%v", h.radio.calls())
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-done

	if err := h.d.Submit(StopScan); !errors.Is(err, ErrStopped) {
		t.Errorf("Submit() after stop error = %v, want ErrStopped", err)
	}
	// must not block once the loop is gone
	h.d.Post(radio.PeripheralDisconnected{Conn: conn})
}

func TestPostDropsScanResultsWhenFull(t *testing.T) {
	h := newHarness(t, false)
	for i := 0; i < 10; i++ {
		h.d.Post(radio.ScanResult{Address: hygroAddr})
	}
	if len(h.d.events) != cap(h.d.events) {
		t.Errorf("queue length = %d, want %d", len(h.d.events), cap(h.d.events))
	}
}

func TestRequestString(t *testing.T) {
	if QueryFridge.String() != "query_fridge" || Request(42).String() != "request(42)" {
		t.Error("unexpected request names")
	}
}
