// Package radio defines the contract between the BLE stack and the telemetry
// core: the events the stack delivers, the commands it accepts, and a BlueZ
// implementation on top of tinygo.org/x/bluetooth.
package radio

import (
	"errors"
	"time"

	"tinygo.org/x/bluetooth"
)

// Well known GATT UUIDs.
var (
	CCCDUUID            = bluetooth.New16BitUUID(0x2902)
	CharDeclarationUUID = bluetooth.New16BitUUID(0x2803)
)

// NotifyEnable is the CCCD value that turns notifications on.
var NotifyEnable = []byte{0x01, 0x00}

var (
	// ErrBusy is returned when a command cannot be queued without blocking.
	ErrBusy = errors.New("radio command queue full")
	// ErrUnknownConnection is returned for commands naming a connection
	// handle the stack does not know.
	ErrUnknownConnection = errors.New("unknown connection handle")
	// ErrUnknownHandle is returned for commands naming an attribute handle
	// that was never discovered.
	ErrUnknownHandle = errors.New("unknown attribute handle")
)

// Handler receives every event from the radio layer, one at a time.
type Handler func(Event)

// Radio is the command side of the radio layer. Implementations must not
// block the caller: results are reported later as events.
type Radio interface {
	StartScan(window, interval time.Duration) error
	StopScan() error
	Connect(addr Address) error
	Disconnect(addr Address) error
	DiscoverServices(conn ConnHandle, uuid bluetooth.UUID) error
	DiscoverCharacteristics(conn ConnHandle, start, end AttrHandle) error
	DiscoverDescriptors(conn ConnHandle, start, end AttrHandle) error
	Write(conn ConnHandle, handle AttrHandle, data []byte, ack bool) error
	Read(conn ConnHandle, handle AttrHandle) error
}
