package decoder

// Metric is one numeric field of a snapshot.
type Metric struct {
	Name  string
	Value float64
}

// Snapshot is the decoded state of one device. Implementations are plain
// comparable structs, so two snapshots are equal iff == holds.
type Snapshot interface {
	Kind() Kind
	// Metrics lists the numeric fields, in a stable order.
	Metrics() []Metric
}

// Solar is a solar charge controller reading.
type Solar struct {
	Mode                   string  `json:"mode"`
	State                  uint8   `json:"state"`
	Error                  uint8   `json:"error"`
	BatteryVoltage         int16   `json:"battery_voltage"`
	BatteryChargingCurrent float64 `json:"battery_charging_current"`
	YieldToday             uint16  `json:"yield_today"`
	SolarPower             uint16  `json:"solar_power"`
	ExternalDeviceLoad     uint16  `json:"external_device_load"`
}

func (Solar) Kind() Kind { return KindSolar }

func (s Solar) Metrics() []Metric {
	return []Metric{
		{"state", float64(s.State)},
		{"error", float64(s.Error)},
		{"battery_voltage", float64(s.BatteryVoltage)},
		{"battery_charging_current", s.BatteryChargingCurrent},
		{"yield_today", float64(s.YieldToday)},
		{"solar_power", float64(s.SolarPower)},
		{"external_device_load", float64(s.ExternalDeviceLoad)},
	}
}

// DCDC is a DC-DC charger reading.
type DCDC struct {
	Mode          string `json:"mode"`
	State         uint8  `json:"state"`
	Error         uint8  `json:"error"`
	InputVoltage  int16  `json:"input_voltage"`
	OutputVoltage int16  `json:"output_voltage"`
	OffReason     uint32 `json:"off_reason"`
}

func (DCDC) Kind() Kind { return KindDCDC }

func (d DCDC) Metrics() []Metric {
	return []Metric{
		{"state", float64(d.State)},
		{"error", float64(d.Error)},
		{"input_voltage", float64(d.InputVoltage)},
		{"output_voltage", float64(d.OutputVoltage)},
		{"off_reason", float64(d.OffReason)},
	}
}

// Monitor is a battery monitor reading.
type Monitor struct {
	RemainingMins    uint16  `json:"remaining_mins"`
	RemainingHours   uint16  `json:"r_hours"`
	RemainingMinutes uint16  `json:"r_mins"`
	Voltage          float64 `json:"voltage"`
	Alarm            uint16  `json:"alarm"`
	Aux              uint16  `json:"aux"`
	Current          float64 `json:"current"`
	ConsumedAh       float64 `json:"consumed_ah"`
	SOC              float64 `json:"soc"`
}

func (Monitor) Kind() Kind { return KindMonitor }

func (m Monitor) Metrics() []Metric {
	return []Metric{
		{"remaining_mins", float64(m.RemainingMins)},
		{"voltage", m.Voltage},
		{"alarm", float64(m.Alarm)},
		{"aux", float64(m.Aux)},
		{"current", m.Current},
		{"consumed_ah", m.ConsumedAh},
		{"soc", m.SOC},
	}
}

// Hygrometer is a temperature and humidity reading.
type Hygrometer struct {
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	Voltage     float64 `json:"voltage"`
}

func (Hygrometer) Kind() Kind { return KindHygrometer }

func (h Hygrometer) Metrics() []Metric {
	return []Metric{
		{"temperature", h.Temperature},
		{"humidity", h.Humidity},
		{"voltage", h.Voltage},
	}
}

// Fridge is a refrigerator status reading, temperatures in °C.
type Fridge struct {
	RunMode            string `json:"run_mode"`
	RunModeRaw         int8   `json:"run_mode_raw"`
	TargetTemperature  int8   `json:"target_temperature"`
	CurrentTemperature int8   `json:"current_temperature"`
}

func (Fridge) Kind() Kind { return KindFridge }

func (f Fridge) Metrics() []Metric {
	return []Metric{
		{"run_mode", float64(f.RunModeRaw)},
		{"target_temperature", float64(f.TargetTemperature)},
		{"current_temperature", float64(f.CurrentTemperature)},
	}
}
