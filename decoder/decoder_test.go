package decoder

import (
	"errors"
	"testing"
)

func TestDecodeSolar(t *testing.T) {
	data := []byte{
		0x03,       // state: bulk
		0x00,       // error
		0xE2, 0x04, // battery voltage: 1250
		0x37, 0x00, // charging current: 55 -> 5.5 A
		0x78, 0x00, // yield today: 120
		0x2D, 0x00, // solar power: 45 W
		0xFF, 0x01, // external load: not available
	}

	got, err := DecodeSolar(data)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	want := Solar{
		Mode:                   "bulk",
		State:                  3,
		Error:                  0,
		BatteryVoltage:         1250,
		BatteryChargingCurrent: 5.5,
		YieldToday:             120,
		SolarPower:             45,
		ExternalDeviceLoad:     0,
	}
	if got != want {
		t.Errorf("DecodeSolar() = %+v, want %+v", got, want)
	}
}

func TestDecodeSolar_NegativeCurrent(t *testing.T) {
	data := []byte{0x05, 0x00, 0xE2, 0x04, 0xF4, 0xFF, 0x00, 0x00, 0x00, 0x00, 0x20, 0x00}

	got, err := DecodeSolar(data)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if got.BatteryChargingCurrent != -1.2 {
		t.Errorf("Expected current -1.2, got %v", got.BatteryChargingCurrent)
	}
	if got.Mode != "float" {
		t.Errorf("Expected mode float, got %s", got.Mode)
	}
	if got.ExternalDeviceLoad != 0x20 {
		t.Errorf("Expected load 32, got %d", got.ExternalDeviceLoad)
	}
}

func TestDecodeSolar_Errors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, ErrShortFrame},
		{"one byte short", make([]byte, 11), ErrShortFrame},
		{"unknown state", []byte{0x02, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}, ErrUnknownMode},
		{"state out of table", []byte{0xFF, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}, ErrUnknownMode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeSolar(tt.data); !errors.Is(err, tt.want) {
				t.Errorf("DecodeSolar() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDecodeDCDC(t *testing.T) {
	data := []byte{
		0x05,       // state: float
		0x00,       // error
		0x28, 0x05, // input voltage: 1320
		0x82, 0x05, // output voltage: 1410
		0x81, 0x00, 0x00, 0x00, // off reason
	}

	got, err := DecodeDCDC(data)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	want := DCDC{Mode: "float", State: 5, InputVoltage: 1320, OutputVoltage: 1410, OffReason: 0x81}
	if got != want {
		t.Errorf("DecodeDCDC() = %+v, want %+v", got, want)
	}

	if _, err := DecodeDCDC(data[:9]); !errors.Is(err, ErrShortFrame) {
		t.Errorf("Expected ErrShortFrame, got %v", err)
	}
	data[0] = 0x01
	if _, err := DecodeDCDC(data); !errors.Is(err, ErrUnknownMode) {
		t.Errorf("Expected ErrUnknownMode, got %v", err)
	}
}

func TestDecodeMonitor(t *testing.T) {
	data := []byte{
		0xDC, 0x05, // remaining: 1500 min
		0x2D, 0x05, // voltage: 13.25 V
		0x00, 0x00, // alarm
		0x00, 0x00, // aux
		0x3C, 0xF6, 0xFF, // current: -2500 mA
		0xD2, 0x04, // consumed: 12.34 Ah
		0x34, 0x12, // soc raw 0x1234
	}

	got, err := DecodeMonitor(data)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if got.RemainingMins != 999 {
		t.Errorf("Expected remaining minutes clamped to 999, got %d", got.RemainingMins)
	}
	if got.RemainingHours != 25 || got.RemainingMinutes != 0 {
		t.Errorf("Expected 25h 0m, got %dh %dm", got.RemainingHours, got.RemainingMinutes)
	}
	if got.Voltage != 13.25 {
		t.Errorf("Expected voltage 13.25, got %v", got.Voltage)
	}
	if got.Current != -2.5 {
		t.Errorf("Expected current -2.5, got %v", got.Current)
	}
	if got.ConsumedAh != 12.34 {
		t.Errorf("Expected consumed 12.34, got %v", got.ConsumedAh)
	}
	wantSOC := float64((0x1234&0x3FFF)>>4) / 10
	if got.SOC != wantSOC || got.SOC != 29.1 {
		t.Errorf("Expected soc %v, got %v", wantSOC, got.SOC)
	}
}

func TestDecodeMonitor_RemainingOverflow(t *testing.T) {
	data := make([]byte, 15)
	data[0], data[1] = 0x70, 0x17 // 6000 min = 100 h
	data[8], data[9], data[10] = 0xDC, 0x05, 0x00

	got, err := DecodeMonitor(data)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if got.RemainingMins != 999 || got.RemainingHours != 99 || got.RemainingMinutes != 99 {
		t.Errorf("Expected 999/99/99, got %d/%d/%d", got.RemainingMins, got.RemainingHours, got.RemainingMinutes)
	}
	if got.Current != 1.5 {
		t.Errorf("Expected current 1.5, got %v", got.Current)
	}
}

func TestDecodeMonitor_ShortFrame(t *testing.T) {
	if _, err := DecodeMonitor(make([]byte, 14)); !errors.Is(err, ErrShortFrame) {
		t.Errorf("Expected ErrShortFrame, got %v", err)
	}
}

func TestInt24(t *testing.T) {
	tests := []struct {
		in   []byte
		want int32
	}{
		{[]byte{0x00, 0x00, 0x00}, 0},
		{[]byte{0xFF, 0xFF, 0x7F}, 8388607},
		{[]byte{0x00, 0x00, 0x80}, -8388608},
		{[]byte{0xFF, 0xFF, 0xFF}, -1},
	}
	for _, tt := range tests {
		if got := int24(tt.in); got != tt.want {
			t.Errorf("int24(% X) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestDecodeHygrometer(t *testing.T) {
	data := make([]byte, 25)
	copy(data[19:], []byte{
		0xB8, 0x0B, // voltage: 3.0 V
		0x68, 0x01, // temperature: 22.5 °C
		0x20, 0x03, // humidity: 50 %
	})

	got, err := DecodeHygrometer(data)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	want := Hygrometer{Temperature: 22.5, Humidity: 50, Voltage: 3}
	if got != want {
		t.Errorf("DecodeHygrometer() = %+v, want %+v", got, want)
	}

	data[21], data[22] = 0xB0, 0xFF
	got, _ = DecodeHygrometer(data)
	if got.Temperature != -5 {
		t.Errorf("Expected temperature -5, got %v", got.Temperature)
	}

	if _, err := DecodeHygrometer(data[:24]); !errors.Is(err, ErrShortFrame) {
		t.Errorf("Expected ErrShortFrame, got %v", err)
	}
}

func fridgeFrame(runMode, target, current int8) []byte {
	frame := make([]byte, 20)
	frame[0], frame[1] = 0xFE, 0xFE
	frame[6] = byte(runMode)
	frame[8] = byte(target)
	frame[18] = byte(current)
	return frame
}

func TestDecodeFridge(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
		want  Fridge
	}{
		{
			name:  "active",
			frame: fridgeFrame(1, -3, 4),
			want:  Fridge{RunMode: "active", RunModeRaw: 1, TargetTemperature: -3, CurrentTemperature: 4},
		},
		{
			name:  "idle",
			frame: fridgeFrame(0, 5, 5),
			want:  Fridge{RunMode: "idle", RunModeRaw: 0, TargetTemperature: 5, CurrentTemperature: 5},
		},
		{
			name:  "other run mode is idle",
			frame: fridgeFrame(2, -18, -17),
			want:  Fridge{RunMode: "idle", RunModeRaw: 2, TargetTemperature: -18, CurrentTemperature: -17},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeFridge(tt.frame)
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if got != tt.want {
				t.Errorf("DecodeFridge() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDecodeFridge_Errors(t *testing.T) {
	bad := fridgeFrame(1, 0, 0)
	bad[1] = 0xFD
	if _, err := DecodeFridge(bad); !errors.Is(err, ErrBadMagic) {
		t.Errorf("Expected ErrBadMagic, got %v", err)
	}
	if _, err := DecodeFridge([]byte{0xFE}); !errors.Is(err, ErrBadMagic) {
		t.Errorf("Expected ErrBadMagic for 1 byte, got %v", err)
	}
	if _, err := DecodeFridge(fridgeFrame(1, 0, 0)[:18]); !errors.Is(err, ErrShortFrame) {
		t.Errorf("Expected ErrShortFrame, got %v", err)
	}
}

func TestDecode(t *testing.T) {
	snap, err := Decode(KindFridge, fridgeFrame(1, 2, 3))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if snap.Kind() != KindFridge {
		t.Errorf("Expected fridge snapshot, got %s", snap.Kind())
	}
	if snap != (Fridge{RunMode: "active", RunModeRaw: 1, TargetTemperature: 2, CurrentTemperature: 3}) {
		t.Errorf("unexpected snapshot %+v", snap)
	}

	snap, err = Decode(KindSolar, make([]byte, 3))
	if !errors.Is(err, ErrShortFrame) || snap != nil {
		t.Errorf("Expected nil snapshot and ErrShortFrame, got %v, %v", snap, err)
	}

	if _, err := Decode(KindUnknown, nil); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("Expected ErrUnknownKind, got %v", err)
	}
}

func TestSnapshotEquality(t *testing.T) {
	var a, b Snapshot = Hygrometer{Temperature: 20}, Hygrometer{Temperature: 20}
	if a != b {
		t.Error("equal snapshots compare unequal")
	}
	b = Hygrometer{Temperature: 20.0625}
	if a == b {
		t.Error("different snapshots compare equal")
	}
	var s Snapshot = Solar{}
	var d Snapshot = DCDC{}
	if s == d {
		t.Error("snapshots of different kinds compare equal")
	}
}

func TestKind(t *testing.T) {
	for _, name := range []string{"solar", "DCDC", " Monitor ", "hygrometer", "fridge"} {
		k, err := ParseKind(name)
		if err != nil {
			t.Errorf("ParseKind(%q) error = %v", name, err)
			continue
		}
		if k.String() == "" || k == KindUnknown {
			t.Errorf("ParseKind(%q) = %v", name, k)
		}
	}
	if _, err := ParseKind("inverter"); err == nil {
		t.Error("Expected error for unknown kind")
	}

	encrypted := map[Kind]bool{
		KindSolar: true, KindDCDC: true, KindMonitor: true,
		KindHygrometer: false, KindFridge: false,
	}
	for k, want := range encrypted {
		if k.Encrypted() != want {
			t.Errorf("%s.Encrypted() = %v, want %v", k, k.Encrypted(), want)
		}
	}
}

func TestMetrics(t *testing.T) {
	m := Monitor{Voltage: 12.5, SOC: 80}.Metrics()
	found := map[string]float64{}
	for _, metric := range m {
		found[metric.Name] = metric.Value
	}
	if found["voltage"] != 12.5 || found["soc"] != 80 {
		t.Errorf("unexpected metrics %v", m)
	}
}

func TestMinFrameLen(t *testing.T) {
	for _, kind := range []Kind{KindSolar, KindDCDC, KindMonitor, KindHygrometer, KindFridge} {
		n := MinFrameLen(kind)
		if n == 0 {
			t.Errorf("MinFrameLen(%s) = 0", kind)
			continue
		}
		if _, err := Decode(kind, make([]byte, n-1)); !errors.Is(err, ErrShortFrame) {
			t.Errorf("Decode(%s, %d bytes) error = %v, want ErrShortFrame", kind, n-1, err)
		}
	}
	if got := MinFrameLen(KindUnknown); got != 0 {
		t.Errorf("MinFrameLen(unknown) = %d, want 0", got)
	}
}
