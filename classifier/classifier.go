// Package classifier filters scan results and turns the ones from registered
// devices into snapshots.
package classifier

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/mjasion/balena-home/vanmon/decoder"
	"github.com/mjasion/balena-home/vanmon/radio"
	"github.com/mjasion/balena-home/vanmon/registry"
)

// DefaultMinRSSI is the weakest signal still trusted, exclusive.
const DefaultMinRSSI int16 = -85

// Drop reasons. All except ErrDecode are expected noise on a shared channel.
var (
	ErrWeakSignal       = errors.New("signal too weak")
	ErrMalformed        = errors.New("malformed advertisement")
	ErrUnsupportedKind  = errors.New("unsupported advertisement kind")
	ErrUnknownSignature = errors.New("unknown manufacturer signature")
	ErrUnregistered     = errors.New("unregistered device")
	ErrFamilyMismatch   = errors.New("signature does not match device kind")
	ErrDecode           = errors.New("decode failed")
)

var (
	encryptedSignature = []byte{0xE1, 0x02, 0x10}
	plainSignature     = []byte{0xF0, 0xFF, 0x15}
)

const (
	flagsTypeOffset = 1
	flagsType       = 0x01
	signatureStart  = 5
	signatureEnd    = 8
	nonceOffset     = 12
	cipherOffset    = 15
)

type family uint8

const (
	familyEncrypted family = iota
	familyPlain
)

// Reason returns a short label for the drop reason in err, for logs and
// metrics.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrWeakSignal):
		return "weak_signal"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	case errors.Is(err, ErrUnsupportedKind):
		return "unsupported_kind"
	case errors.Is(err, ErrUnknownSignature):
		return "unknown_signature"
	case errors.Is(err, ErrUnregistered):
		return "unregistered"
	case errors.Is(err, ErrFamilyMismatch):
		return "family_mismatch"
	case errors.Is(err, ErrDecode):
		return "decode"
	}
	return "other"
}

// Classifier applies the scan filters in order and decodes what survives.
type Classifier struct {
	registry *registry.Registry
	minRSSI  int16
}

// New creates a Classifier. Results at or below minRSSI are dropped.
func New(reg *registry.Registry, minRSSI int16) *Classifier {
	return &Classifier{registry: reg, minRSSI: minRSSI}
}

// Classify returns the device a scan result belongs to and its decoded
// snapshot, or an error naming why the result was dropped.
func (c *Classifier) Classify(ev radio.ScanResult) (registry.Device, decoder.Snapshot, error) {
	if ev.RSSI <= c.minRSSI {
		return registry.Device{}, nil, fmt.Errorf("%w: %d dBm", ErrWeakSignal, ev.RSSI)
	}
	p := ev.Payload
	if len(p) <= flagsTypeOffset || p[flagsTypeOffset] != flagsType {
		return registry.Device{}, nil, fmt.Errorf("%w: no flags structure", ErrMalformed)
	}
	if !ev.Kind.Undirected() {
		return registry.Device{}, nil, fmt.Errorf("%w: %d", ErrUnsupportedKind, ev.Kind)
	}
	if len(p) < signatureEnd {
		return registry.Device{}, nil, fmt.Errorf("%w: %d bytes", ErrMalformed, len(p))
	}

	var fam family
	switch sig := p[signatureStart:signatureEnd]; {
	case bytes.Equal(sig, encryptedSignature):
		fam = familyEncrypted
	case bytes.Equal(sig, plainSignature):
		fam = familyPlain
	default:
		return registry.Device{}, nil, fmt.Errorf("%w: % X", ErrUnknownSignature, sig)
	}

	dev, ok := c.registry.Lookup(ev.Address)
	if !ok {
		return registry.Device{}, nil, fmt.Errorf("%w: %s", ErrUnregistered, ev.Address)
	}

	var (
		snap decoder.Snapshot
		err  error
	)
	switch fam {
	case familyEncrypted:
		if !dev.Kind.Encrypted() || dev.Key == nil {
			return dev, nil, fmt.Errorf("%w: %s is %s", ErrFamilyMismatch, ev.Address, dev.Kind)
		}
		if want := cipherOffset + decoder.MinFrameLen(dev.Kind); len(p) < want {
			return dev, nil, fmt.Errorf("%w: %d bytes, %s needs %d", ErrMalformed, len(p), dev.Kind, want)
		}
		nonce := [2]byte{p[nonceOffset], p[nonceOffset+1]}
		snap, err = decoder.Decode(dev.Kind, dev.Key.Decrypt(nonce, p[cipherOffset:]))
	case familyPlain:
		if dev.Kind != decoder.KindHygrometer {
			return dev, nil, fmt.Errorf("%w: %s is %s", ErrFamilyMismatch, ev.Address, dev.Kind)
		}
		if want := decoder.MinFrameLen(decoder.KindHygrometer); len(p) < want {
			return dev, nil, fmt.Errorf("%w: %d bytes, %s needs %d", ErrMalformed, len(p), dev.Kind, want)
		}
		snap, err = decoder.Decode(decoder.KindHygrometer, p)
	}
	if err != nil {
		return dev, nil, fmt.Errorf("%w: %s: %w", ErrDecode, dev.Name, err)
	}
	return dev, snap, nil
}
