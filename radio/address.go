package radio

import (
	"fmt"
	"net"
	"strings"
)

// Address is the 6-byte hardware address of a peripheral, in display order
// (first byte is the left-most octet of "AA:BB:CC:DD:EE:FF").
type Address [6]byte

// ConnHandle identifies a live connection to a peripheral.
type ConnHandle uint16

// AttrHandle identifies a GATT attribute within a connection.
type AttrHandle uint16

// ParseAddress parses a colon separated MAC address.
func ParseAddress(s string) (Address, error) {
	var addr Address
	hw, err := net.ParseMAC(strings.TrimSpace(s))
	if err != nil {
		return addr, fmt.Errorf("invalid MAC address %q: %w", s, err)
	}
	if len(hw) != len(addr) {
		return addr, fmt.Errorf("invalid MAC address %q: expected 6 bytes, got %d", s, len(hw))
	}
	copy(addr[:], hw)
	return addr, nil
}

// MustParseAddress is like ParseAddress but panics on error. Intended for
// tests and package level constants.
func MustParseAddress(s string) Address {
	addr, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return addr
}

// String returns the address formatted as upper case "XX:XX:XX:XX:XX:XX".
func (a Address) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", a[0], a[1], a[2], a[3], a[4], a[5])
}
