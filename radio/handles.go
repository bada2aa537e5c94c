package radio

import "tinygo.org/x/bluetooth"

const (
	// first synthesised service handle; each service owns a 0x100 block
	serviceHandleBase = 0x0010
	serviceBlockSize  = 0x0100
)

// serviceRange is the synthetic handle range of the i-th discovered service.
func serviceRange(i int) (start, end AttrHandle) {
	start = AttrHandle(serviceHandleBase + i*serviceBlockSize)
	return start, start + serviceBlockSize - 1
}

// valueHandle is the synthetic value handle of characteristic j: each
// characteristic takes a declaration, value and CCCD slot after the
// service declaration.
func valueHandle(serviceStart AttrHandle, j int) AttrHandle {
	return serviceStart + 1 + AttrHandle(3*j) + 1
}

// characteristicEvents lists the characteristics of one service as a
// characteristic search reports them.
func characteristicEvents(conn ConnHandle, serviceStart AttrHandle, uuids []bluetooth.UUID) []CharacteristicFound {
	out := make([]CharacteristicFound, 0, len(uuids))
	for j, uuid := range uuids {
		value := valueHandle(serviceStart, j)
		out = append(out, CharacteristicFound{
			Conn:        conn,
			DefHandle:   value - 1,
			ValueHandle: value,
			UUID:        uuid,
		})
	}
	return out
}

// descriptorEvents lists the attributes of one service in Find Information
// order: per characteristic the declaration, the value attribute carrying
// the characteristic UUID, then the CCCD.
func descriptorEvents(conn ConnHandle, serviceStart AttrHandle, uuids []bluetooth.UUID) []DescriptorFound {
	out := make([]DescriptorFound, 0, 3*len(uuids))
	for j, uuid := range uuids {
		value := valueHandle(serviceStart, j)
		out = append(out,
			DescriptorFound{Conn: conn, Handle: value - 1, UUID: CharDeclarationUUID},
			DescriptorFound{Conn: conn, Handle: value, UUID: uuid},
			DescriptorFound{Conn: conn, Handle: value + 1, UUID: CCCDUUID},
		)
	}
	return out
}
