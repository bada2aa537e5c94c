// Package decoder turns fixed-layout telemetry frames into snapshots. All
// decoders are pure and validate the frame length before reading.
package decoder

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Decode errors. The event loop logs them and drops the frame.
var (
	ErrShortFrame  = errors.New("frame too short")
	ErrUnknownMode = errors.New("unknown device state")
	ErrBadMagic    = errors.New("bad frame magic")
	ErrUnknownKind = errors.New("no decoder for device kind")
)

const (
	solarFrameLen      = 12
	dcdcFrameLen       = 10
	monitorFrameLen    = 15
	hygrometerFrameLen = 25
	fridgeFrameLen     = 19

	hygrometerOffset = 19
	loadNotAvailable = 0x1FF
	remainingMinsMax = 999
	remainingHourMax = 99
)

// FridgeMagic starts every fridge frame, in both directions.
var FridgeMagic = [2]byte{0xFE, 0xFE}

var modes = map[uint8]string{
	0: "off",
	3: "bulk",
	4: "absorb",
	5: "float",
}

// ModeName maps a charger state code to its name.
func ModeName(state uint8) (string, error) {
	name, ok := modes[state]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrUnknownMode, state)
	}
	return name, nil
}

// MinFrameLen is the shortest frame the decoder for kind accepts, or 0 for
// an unknown kind.
func MinFrameLen(kind Kind) int {
	switch kind {
	case KindSolar:
		return solarFrameLen
	case KindDCDC:
		return dcdcFrameLen
	case KindMonitor:
		return monitorFrameLen
	case KindHygrometer:
		return hygrometerFrameLen
	case KindFridge:
		return fridgeFrameLen
	}
	return 0
}

func checkLen(kind Kind, data []byte, want int) error {
	if len(data) < want {
		return fmt.Errorf("%w: %s frame needs at least %d bytes, got %d", ErrShortFrame, kind, want, len(data))
	}
	return nil
}

// Decode dispatches data to the decoder for kind.
func Decode(kind Kind, data []byte) (Snapshot, error) {
	switch kind {
	case KindSolar:
		return snapshot[Solar](DecodeSolar(data))
	case KindDCDC:
		return snapshot[DCDC](DecodeDCDC(data))
	case KindMonitor:
		return snapshot[Monitor](DecodeMonitor(data))
	case KindHygrometer:
		return snapshot[Hygrometer](DecodeHygrometer(data))
	case KindFridge:
		return snapshot[Fridge](DecodeFridge(data))
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
}

func snapshot[T Snapshot](s T, err error) (Snapshot, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}

// DecodeSolar decodes a solar charger cleartext block.
// Format (little endian):
// - Byte 0: state
// - Byte 1: error code
// - Bytes 2-3: battery voltage (int16, raw)
// - Bytes 4-5: charging current in 0.1 A (int16)
// - Bytes 6-7: yield today (uint16)
// - Bytes 8-9: solar power in W (uint16)
// - Bytes 10-11: external load (uint16, 0x1FF when not available)
func DecodeSolar(data []byte) (Solar, error) {
	if err := checkLen(KindSolar, data, solarFrameLen); err != nil {
		return Solar{}, err
	}
	mode, err := ModeName(data[0])
	if err != nil {
		return Solar{}, err
	}

	load := binary.LittleEndian.Uint16(data[10:12])
	if load == loadNotAvailable {
		load = 0
	}

	return Solar{
		Mode:                   mode,
		State:                  data[0],
		Error:                  data[1],
		BatteryVoltage:         int16(binary.LittleEndian.Uint16(data[2:4])),
		BatteryChargingCurrent: float64(int16(binary.LittleEndian.Uint16(data[4:6]))) / 10,
		YieldToday:             binary.LittleEndian.Uint16(data[6:8]),
		SolarPower:             binary.LittleEndian.Uint16(data[8:10]),
		ExternalDeviceLoad:     load,
	}, nil
}

// DecodeDCDC decodes a DC-DC charger cleartext block: state, error, input
// and output voltage (int16) and a uint32 off reason at byte 6.
func DecodeDCDC(data []byte) (DCDC, error) {
	if err := checkLen(KindDCDC, data, dcdcFrameLen); err != nil {
		return DCDC{}, err
	}
	mode, err := ModeName(data[0])
	if err != nil {
		return DCDC{}, err
	}

	return DCDC{
		Mode:          mode,
		State:         data[0],
		Error:         data[1],
		InputVoltage:  int16(binary.LittleEndian.Uint16(data[2:4])),
		OutputVoltage: int16(binary.LittleEndian.Uint16(data[4:6])),
		OffReason:     binary.LittleEndian.Uint32(data[6:10]),
	}, nil
}

// DecodeMonitor decodes a battery monitor cleartext block.
// Format (little endian):
// - Bytes 0-1: remaining minutes
// - Bytes 2-3: voltage in 10 mV
// - Bytes 4-5: alarm
// - Bytes 6-7: aux
// - Bytes 8-10: current in mA (24-bit signed)
// - Bytes 11-12: consumed in 10 mAh
// - Bytes 13-14: state of charge, bits 4-13 in 0.1 %
func DecodeMonitor(data []byte) (Monitor, error) {
	if err := checkLen(KindMonitor, data, monitorFrameLen); err != nil {
		return Monitor{}, err
	}

	remaining := binary.LittleEndian.Uint16(data[0:2])
	hours, minutes := remaining/60, remaining%60
	if hours > remainingHourMax {
		hours, minutes = remainingHourMax, remainingHourMax
	}

	socRaw := binary.LittleEndian.Uint16(data[13:15])

	return Monitor{
		RemainingMins:    min(remaining, remainingMinsMax),
		RemainingHours:   hours,
		RemainingMinutes: minutes,
		Voltage:          float64(binary.LittleEndian.Uint16(data[2:4])) / 100,
		Alarm:            binary.LittleEndian.Uint16(data[4:6]),
		Aux:              binary.LittleEndian.Uint16(data[6:8]),
		Current:          float64(int24(data[8:11])) / 1000,
		ConsumedAh:       float64(binary.LittleEndian.Uint16(data[11:13])) / 100,
		SOC:              float64((socRaw&0x3FFF)>>4) / 10,
	}, nil
}

// int24 sign-extends a 3-byte little endian value.
func int24(b []byte) int32 {
	ext := byte(0x00)
	if b[2]&0x80 != 0 {
		ext = 0xFF
	}
	return int32(binary.LittleEndian.Uint32([]byte{b[0], b[1], b[2], ext}))
}

// DecodeHygrometer decodes a full hygrometer advertisement. Voltage in mV,
// temperature and humidity in 1/16 units start at byte 19.
func DecodeHygrometer(data []byte) (Hygrometer, error) {
	if err := checkLen(KindHygrometer, data, hygrometerFrameLen); err != nil {
		return Hygrometer{}, err
	}
	d := data[hygrometerOffset:]

	return Hygrometer{
		Voltage:     float64(binary.LittleEndian.Uint16(d[0:2])) / 1000,
		Temperature: float64(int16(binary.LittleEndian.Uint16(d[2:4]))) / 16,
		Humidity:    float64(binary.LittleEndian.Uint16(d[4:6])) / 16,
	}, nil
}

// DecodeFridge decodes a fridge notify frame: run mode at byte 6, target
// temperature at 8 and current temperature at 18, all signed bytes.
func DecodeFridge(data []byte) (Fridge, error) {
	if len(data) < 2 || data[0] != FridgeMagic[0] || data[1] != FridgeMagic[1] {
		return Fridge{}, fmt.Errorf("%w: % X", ErrBadMagic, data[:min(len(data), 2)])
	}
	if err := checkLen(KindFridge, data, fridgeFrameLen); err != nil {
		return Fridge{}, err
	}

	runMode := int8(data[6])
	name := "idle"
	if runMode == 1 {
		name = "active"
	}

	return Fridge{
		RunMode:            name,
		RunModeRaw:         runMode,
		TargetTemperature:  int8(data[8]),
		CurrentTemperature: int8(data[18]),
	}, nil
}
