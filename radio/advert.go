package radio

import "encoding/binary"

// ManufacturerData is one manufacturer specific AD structure.
type ManufacturerData struct {
	CompanyID uint16
	Data      []byte
}

// adFlagsGeneralDiscoverable is the flags AD structure BlueZ strips from
// what it hands back: LE general discoverable, BR/EDR not supported.
var adFlagsGeneralDiscoverable = []byte{0x02, 0x01, 0x06}

const adTypeManufacturerData = 0xFF

// BuildAdvertisement rebuilds a raw advertising payload from its decoded
// manufacturer data. The result always starts with the flags structure, so
// manufacturer data begins at offset 3 just as on air.
func BuildAdvertisement(elements []ManufacturerData) []byte {
	size := len(adFlagsGeneralDiscoverable)
	for _, e := range elements {
		size += 4 + len(e.Data)
	}

	out := make([]byte, 0, size)
	out = append(out, adFlagsGeneralDiscoverable...)
	for _, e := range elements {
		// length covers type, company id and data
		l := 3 + len(e.Data)
		if l > 0xFF {
			continue
		}
		out = append(out, byte(l), adTypeManufacturerData)
		out = binary.LittleEndian.AppendUint16(out, e.CompanyID)
		out = append(out, e.Data...)
	}
	return out
}
