package fridge

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestCreatePacketQuery(t *testing.T) {
	got, err := CreatePacket(QueryPayload)
	if err != nil {
		t.Fatalf("CreatePacket() error = %v", err)
	}
	want := []byte{0xFE, 0xFE, 0x03, 0x01, 0x02, 0x00}
	if !bytes.Equal(got, want) {
		t.Errorf("CreatePacket() = % X, want % X", got, want)
	}
	if !bytes.Equal(queryPacket, want) {
		t.Errorf("queryPacket = % X, want % X", queryPacket, want)
	}
}

func TestCreatePacketChecksum(t *testing.T) {
	for n := 1; n <= 20; n++ {
		payload := make([]byte, n)
		for i := range payload {
			payload[i] = byte(0xF0 + i*7)
		}

		pkt, err := CreatePacket(payload)
		if err != nil {
			t.Fatalf("len %d: CreatePacket() error = %v", n, err)
		}
		if len(pkt) != n+5 {
			t.Fatalf("len %d: packet length = %d", n, len(pkt))
		}
		if pkt[0] != 0xFE || pkt[1] != 0xFE || int(pkt[2]) != n+2 {
			t.Errorf("len %d: bad header % X", n, pkt[:3])
		}
		if !bytes.Equal(pkt[3:3+n], payload) {
			t.Errorf("len %d: payload not copied", n)
		}

		var sum uint32
		for _, b := range pkt[:len(pkt)-2] {
			sum += uint32(b)
		}
		embedded := binary.BigEndian.Uint16(pkt[len(pkt)-2:])
		if embedded != uint16(sum%65536) {
			t.Errorf("len %d: checksum 0x%04X, want 0x%04X", n, embedded, sum%65536)
		}
	}
}

func TestChecksumWraps(t *testing.T) {
	b := bytes.Repeat([]byte{0xFF}, 300)
	if got := Checksum(b); got != uint16((300*0xFF)%65536) {
		t.Errorf("Checksum() = %d", got)
	}
}

func TestCreatePacketTooLong(t *testing.T) {
	if _, err := CreatePacket(make([]byte, 254)); err == nil {
		t.Error("Expected error for oversized payload")
	}
	if _, err := CreatePacket(make([]byte, 253)); err != nil {
		t.Errorf("Unexpected error for max payload: %v", err)
	}
}
