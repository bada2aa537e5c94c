package radio

import "tinygo.org/x/bluetooth"

// AdvertisementKind is the advertising PDU type reported with a scan result.
type AdvertisementKind uint8

const (
	AdvInd        AdvertisementKind = 0x00 // connectable and scannable undirected
	AdvDirectInd  AdvertisementKind = 0x01
	AdvScanInd    AdvertisementKind = 0x02 // scannable undirected
	AdvNonconnInd AdvertisementKind = 0x03
	ScanRsp       AdvertisementKind = 0x04
)

// Undirected reports whether the PDU is one of the two scannable undirected
// kinds that telemetry beacons use.
func (k AdvertisementKind) Undirected() bool {
	return k == AdvInd || k == AdvScanInd
}

// Event is a single notification from the radio layer. The set of
// implementations is closed: only the types in this file satisfy it.
type Event interface {
	// Name is a stable identifier used in logs and metrics.
	Name() string
	event()
}

// ScanResult is one received advertisement.
type ScanResult struct {
	Address Address
	Kind    AdvertisementKind
	RSSI    int16
	Payload []byte
}

// ScanComplete is posted when a scan ends.
type ScanComplete struct{}

// PeripheralConnected is posted once a connect request reached the peripheral.
type PeripheralConnected struct {
	Conn    ConnHandle
	Address Address
}

// ConnectFailed is posted when a connect request could not be completed.
type ConnectFailed struct {
	Address Address
	Err     error
}

// PeripheralDisconnected is posted when a connection ends, for any reason.
type PeripheralDisconnected struct {
	Conn ConnHandle
}

// ServiceFound reports one primary service and its attribute range.
type ServiceFound struct {
	Conn  ConnHandle
	Start AttrHandle
	End   AttrHandle
	UUID  bluetooth.UUID
}

// ServiceSearchComplete and the other search-complete events end a discovery.
type ServiceSearchComplete struct {
	Conn ConnHandle
}

// CharacteristicFound reports one characteristic declaration.
type CharacteristicFound struct {
	Conn        ConnHandle
	DefHandle   AttrHandle
	ValueHandle AttrHandle
	Properties  uint8
	UUID        bluetooth.UUID
}

type CharacteristicSearchComplete struct {
	Conn ConnHandle
}

// DescriptorFound reports one attribute found by descriptor discovery.
type DescriptorFound struct {
	Conn   ConnHandle
	Handle AttrHandle
	UUID   bluetooth.UUID
}

type DescriptorSearchComplete struct {
	Conn ConnHandle
}

// Notification carries a value pushed by the peripheral.
type Notification struct {
	Conn        ConnHandle
	ValueHandle AttrHandle
	Payload     []byte
}

// ReadResult carries the value returned by a read request.
type ReadResult struct {
	Conn        ConnHandle
	ValueHandle AttrHandle
	Payload     []byte
}

// WriteComplete acknowledges a write request. Err is set when the write failed.
type WriteComplete struct {
	Conn   ConnHandle
	Handle AttrHandle
	Err    error
}

// ConnectionParamsUpdated reports new link parameters.
type ConnectionParamsUpdated struct {
	Conn               ConnHandle
	Interval           uint16
	Latency            uint16
	SupervisionTimeout uint16
}

func (ScanResult) Name() string                   { return "scan_result" }
func (ScanComplete) Name() string                 { return "scan_complete" }
func (PeripheralConnected) Name() string          { return "peripheral_connected" }
func (ConnectFailed) Name() string                { return "connect_failed" }
func (PeripheralDisconnected) Name() string       { return "peripheral_disconnected" }
func (ServiceFound) Name() string                 { return "service_found" }
func (ServiceSearchComplete) Name() string        { return "service_search_complete" }
func (CharacteristicFound) Name() string          { return "characteristic_found" }
func (CharacteristicSearchComplete) Name() string { return "characteristic_search_complete" }
func (DescriptorFound) Name() string              { return "descriptor_found" }
func (DescriptorSearchComplete) Name() string     { return "descriptor_search_complete" }
func (Notification) Name() string                 { return "notification" }
func (ReadResult) Name() string                   { return "read_result" }
func (WriteComplete) Name() string                { return "write_complete" }
func (ConnectionParamsUpdated) Name() string      { return "connection_params_updated" }

func (ScanResult) event()                   {}
func (ScanComplete) event()                 {}
func (PeripheralConnected) event()          {}
func (ConnectFailed) event()                {}
func (PeripheralDisconnected) event()       {}
func (ServiceFound) event()                 {}
func (ServiceSearchComplete) event()        {}
func (CharacteristicFound) event()          {}
func (CharacteristicSearchComplete) event() {}
func (DescriptorFound) event()              {}
func (DescriptorSearchComplete) event()     {}
func (Notification) event()                 {}
func (ReadResult) event()                   {}
func (WriteComplete) event()                {}
func (ConnectionParamsUpdated) event()      {}
