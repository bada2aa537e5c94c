package radio

import (
	"testing"

	"tinygo.org/x/bluetooth"
)

var (
	testCommandUUID = bluetooth.New16BitUUID(0x1235)
	testNotifyUUID  = bluetooth.New16BitUUID(0x1236)
)

func TestServiceRange(t *testing.T) {
	tests := []struct {
		index      int
		start, end AttrHandle
	}{
		{0, 0x0010, 0x010F},
		{1, 0x0110, 0x020F},
		{2, 0x0210, 0x030F},
	}
	for _, tt := range tests {
		start, end := serviceRange(tt.index)
		if start != tt.start || end != tt.end {
			t.Errorf("serviceRange(%d) = 0x%04X-0x%04X, want 0x%04X-0x%04X", tt.index, start, end, tt.start, tt.end)
		}
	}
}

func TestValueHandle(t *testing.T) {
	tests := []struct {
		start AttrHandle
		index int
		want  AttrHandle
	}{
		{0x0010, 0, 0x0012},
		{0x0010, 1, 0x0015},
		{0x0010, 2, 0x0018},
		{0x0110, 0, 0x0112},
	}
	for _, tt := range tests {
		if got := valueHandle(tt.start, tt.index); got != tt.want {
			t.Errorf("valueHandle(0x%04X, %d) = 0x%04X, want 0x%04X", tt.start, tt.index, got, tt.want)
		}
	}
}

func TestCharacteristicEvents(t *testing.T) {
	start, end := serviceRange(0)
	got := characteristicEvents(0x40, start, []bluetooth.UUID{testCommandUUID, testNotifyUUID})
	if len(got) != 2 {
		t.Fatalf("Expected 2 characteristics, got %d", len(got))
	}

	for i, c := range got {
		if c.Conn != 0x40 {
			t.Errorf("char %d: conn = 0x%04X", i, c.Conn)
		}
		if c.DefHandle != c.ValueHandle-1 {
			t.Errorf("char %d: declaration 0x%04X not before value 0x%04X", i, c.DefHandle, c.ValueHandle)
		}
		if c.ValueHandle <= start || c.ValueHandle+1 > end {
			t.Errorf("char %d: value handle 0x%04X outside service range", i, c.ValueHandle)
		}
	}
	if got[0].UUID != testCommandUUID || got[0].ValueHandle != 0x0012 {
		t.Errorf("command char = %+v", got[0])
	}
	if got[1].UUID != testNotifyUUID || got[1].ValueHandle != 0x0015 {
		t.Errorf("notify char = %+v", got[1])
	}
}

func TestDescriptorEventsOrder(t *testing.T) {
	start, _ := serviceRange(0)
	uuids := []bluetooth.UUID{testCommandUUID, testNotifyUUID}
	chars := characteristicEvents(0x40, start, uuids)
	descs := descriptorEvents(0x40, start, uuids)

	if len(descs) != 3*len(uuids) {
		t.Fatalf("Expected %d descriptors, got %d", 3*len(uuids), len(descs))
	}

	for j, c := range chars {
		decl, value, cccd := descs[3*j], descs[3*j+1], descs[3*j+2]

		if decl.UUID != CharDeclarationUUID || decl.Handle != c.DefHandle {
			t.Errorf("char %d: declaration entry = %+v", j, decl)
		}
		// the value attribute is reported under the characteristic UUID
		if value.UUID != c.UUID || value.Handle != c.ValueHandle {
			t.Errorf("char %d: value entry = %+v, want handle 0x%04X uuid %s", j, value, c.ValueHandle, c.UUID)
		}
		if cccd.UUID != CCCDUUID || cccd.Handle != c.ValueHandle+1 {
			t.Errorf("char %d: CCCD entry = %+v, want handle 0x%04X", j, cccd, c.ValueHandle+1)
		}
	}

	for i := 1; i < len(descs); i++ {
		if descs[i].Handle <= descs[i-1].Handle {
			t.Errorf("handles not ascending at %d: 0x%04X after 0x%04X", i, descs[i].Handle, descs[i-1].Handle)
		}
	}
}

func TestDescriptorEventsEmpty(t *testing.T) {
	if got := descriptorEvents(0x40, 0x0010, nil); len(got) != 0 {
		t.Errorf("Expected no descriptors, got %d", len(got))
	}
}
