package decoder

import (
	"fmt"
	"strings"
)

// Kind identifies a device family and with it the frame layout to decode.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindSolar
	KindDCDC
	KindMonitor
	KindHygrometer
	KindFridge
)

var kindNames = map[Kind]string{
	KindSolar:      "solar",
	KindDCDC:       "dcdc",
	KindMonitor:    "monitor",
	KindHygrometer: "hygrometer",
	KindFridge:     "fridge",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Valid reports whether k is one of the known families.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// Encrypted reports whether the family broadcasts ciphered payloads and so
// needs a device key.
func (k Kind) Encrypted() bool {
	return k == KindSolar || k == KindDCDC || k == KindMonitor
}

// ParseKind maps a configuration name to a Kind.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return KindUnknown, fmt.Errorf("unknown device kind %q", s)
}
