package types

import (
	"time"

	"github.com/mjasion/balena-home/vanmon/decoder"
	"github.com/mjasion/balena-home/vanmon/registry"
)

// Reading is an accepted device change flattened for export.
type Reading struct {
	Timestamp  time.Time
	DeviceName string
	MAC        string
	Kind       decoder.Kind
	Toggle     bool
	Snapshot   decoder.Snapshot
}

// FromChange converts a registry change into a Reading.
func FromChange(c registry.Change) *Reading {
	return &Reading{
		Timestamp:  c.Timestamp,
		DeviceName: c.Name,
		MAC:        c.Address.String(),
		Kind:       c.Kind,
		Toggle:     c.Toggle,
		Snapshot:   c.Snapshot,
	}
}

// Metrics returns the numeric fields of the snapshot.
func (r *Reading) Metrics() []decoder.Metric {
	if r.Snapshot == nil {
		return nil
	}
	return r.Snapshot.Metrics()
}
