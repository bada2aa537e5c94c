package fridge

import (
	"encoding/binary"
	"fmt"

	"github.com/mjasion/balena-home/vanmon/decoder"
)

// QueryPayload asks the fridge for its current status.
var QueryPayload = []byte{0x01}

const (
	headerLen   = 3
	checksumLen = 2
	// the length byte counts the payload and the checksum
	maxPayloadLen = 0xFF - checksumLen
)

// CreatePacket frames payload for the command characteristic:
// FE FE, payload length + 2, payload, big endian sum of all preceding bytes.
func CreatePacket(payload []byte) ([]byte, error) {
	if len(payload) > maxPayloadLen {
		return nil, fmt.Errorf("payload too long: %d bytes, max %d", len(payload), maxPayloadLen)
	}

	pkt := make([]byte, 0, headerLen+len(payload)+checksumLen)
	pkt = append(pkt, decoder.FridgeMagic[0], decoder.FridgeMagic[1], byte(len(payload)+checksumLen))
	pkt = append(pkt, payload...)
	return binary.BigEndian.AppendUint16(pkt, Checksum(pkt)), nil
}

// Checksum is the sum of b modulo 65536.
func Checksum(b []byte) uint16 {
	var sum uint16
	for _, v := range b {
		sum += uint16(v)
	}
	return sum
}

func mustPacket(payload []byte) []byte {
	pkt, err := CreatePacket(payload)
	if err != nil {
		panic(err)
	}
	return pkt
}

// queryPacket is FE FE 03 01 02 00.
var queryPacket = mustPacket(QueryPayload)
