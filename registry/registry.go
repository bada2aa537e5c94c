// Package registry holds the known peripherals and their last accepted
// snapshot, and suppresses updates that carry no new information.
//
// A Registry is owned by the event loop: registration happens before the
// loop starts and every later call comes from the loop goroutine.
package registry

import (
	"errors"
	"fmt"
	"time"

	"github.com/mjasion/balena-home/vanmon/cipher"
	"github.com/mjasion/balena-home/vanmon/decoder"
	"github.com/mjasion/balena-home/vanmon/radio"
)

// Registration errors. All are configuration errors, fatal before scanning.
var (
	ErrDuplicateIdentity = errors.New("device already registered")
	ErrInvalidKey        = errors.New("invalid device key")
	ErrKeyRequired       = errors.New("device kind requires a key")
	ErrUnexpectedKey     = errors.New("device kind does not use a key")
	ErrUnknownKind       = errors.New("unknown device kind")
)

// Change is an accepted snapshot, emitted once per differing update.
type Change struct {
	Address   radio.Address
	Name      string
	Kind      decoder.Kind
	Toggle    bool
	Snapshot  decoder.Snapshot
	Timestamp time.Time
}

// Callback receives accepted changes. It runs on the event loop and must
// not block.
type Callback func(Change)

// Device is the registration data of one peripheral.
type Device struct {
	Address radio.Address
	Name    string
	Kind    decoder.Kind
	// Key is nil for unencrypted kinds.
	Key *cipher.Key
}

type entry struct {
	Device
	callback Callback
	last     decoder.Snapshot
	toggle   bool
}

// Registry maps peripheral addresses to their device entry.
type Registry struct {
	devices map[radio.Address]*entry
	order   []radio.Address
	now     func() time.Time
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		devices: make(map[radio.Address]*entry),
		now:     time.Now,
	}
}

// Register adds a device. key must be 16 bytes for encrypted kinds and
// empty otherwise. cb may be nil.
func (r *Registry) Register(addr radio.Address, key []byte, kind decoder.Kind, name string, cb Callback) error {
	if _, ok := r.devices[addr]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateIdentity, addr)
	}
	if !kind.Valid() {
		return fmt.Errorf("%w: %s", ErrUnknownKind, addr)
	}

	dev := Device{Address: addr, Name: name, Kind: kind}
	switch {
	case kind.Encrypted() && len(key) == 0:
		return fmt.Errorf("%w: %s is %s", ErrKeyRequired, addr, kind)
	case !kind.Encrypted() && len(key) != 0:
		return fmt.Errorf("%w: %s is %s", ErrUnexpectedKey, addr, kind)
	case kind.Encrypted():
		k, err := cipher.NewKey(key)
		if err != nil {
			return fmt.Errorf("%w for %s: %w", ErrInvalidKey, addr, err)
		}
		dev.Key = k
	}

	if dev.Name == "" {
		dev.Name = addr.String()
	}
	r.devices[addr] = &entry{Device: dev, callback: cb}
	r.order = append(r.order, addr)
	return nil
}

// Lookup returns the registration of addr.
func (r *Registry) Lookup(addr radio.Address) (Device, bool) {
	e, ok := r.devices[addr]
	if !ok {
		return Device{}, false
	}
	return e.Device, true
}

// Devices lists registered devices in registration order.
func (r *Registry) Devices() []Device {
	out := make([]Device, 0, len(r.order))
	for _, addr := range r.order {
		out = append(out, r.devices[addr].Device)
	}
	return out
}

// ByKind returns the first registered device of kind.
func (r *Registry) ByKind(kind decoder.Kind) (Device, bool) {
	for _, addr := range r.order {
		if e := r.devices[addr]; e.Kind == kind {
			return e.Device, true
		}
	}
	return Device{}, false
}

// Submit offers a decoded snapshot for addr. An equal snapshot is
// suppressed and leaves all state untouched. Otherwise the snapshot is
// stored, the liveness toggle flips, the callback runs and the change is
// returned.
func (r *Registry) Submit(addr radio.Address, snap decoder.Snapshot) (Change, bool) {
	e, ok := r.devices[addr]
	if !ok || snap == nil {
		return Change{}, false
	}
	if e.last != nil && e.last == snap {
		return Change{}, false
	}

	e.last = snap
	e.toggle = !e.toggle
	change := Change{
		Address:   addr,
		Name:      e.Name,
		Kind:      e.Kind,
		Toggle:    e.toggle,
		Snapshot:  snap,
		Timestamp: r.now(),
	}
	if e.callback != nil {
		e.callback(change)
	}
	return change, true
}

// Last returns the last accepted snapshot of addr and the current toggle.
func (r *Registry) Last(addr radio.Address) (decoder.Snapshot, bool) {
	e, ok := r.devices[addr]
	if !ok {
		return nil, false
	}
	return e.last, e.toggle
}
