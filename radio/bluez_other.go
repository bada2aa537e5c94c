//go:build !linux

package radio

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"
)

var errUnsupported = errors.New("radio: BlueZ adapter is only available on linux")

// BlueZ is unavailable outside linux; every command fails.
type BlueZ struct{}

func NewBlueZ(_ *bluetooth.Adapter, _ int, _ *zap.Logger) *BlueZ { return &BlueZ{} }

func (b *BlueZ) SetHandler(Handler) {}
func (b *BlueZ) Start(context.Context) error { return errUnsupported }
func (b *BlueZ) StartScan(_, _ time.Duration) error { return errUnsupported }
func (b *BlueZ) StopScan() error { return nil }
func (b *BlueZ) Connect(Address) error { return errUnsupported }
func (b *BlueZ) Disconnect(Address) error { return nil }

func (b *BlueZ) DiscoverServices(ConnHandle, bluetooth.UUID) error { return errUnsupported }

func (b *BlueZ) DiscoverCharacteristics(ConnHandle, AttrHandle, AttrHandle) error {
	return errUnsupported
}

func (b *BlueZ) DiscoverDescriptors(ConnHandle, AttrHandle, AttrHandle) error {
	return errUnsupported
}

func (b *BlueZ) Write(ConnHandle, AttrHandle, []byte, bool) error { return errUnsupported }
func (b *BlueZ) Read(ConnHandle, AttrHandle) error { return errUnsupported }
