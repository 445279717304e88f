// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"encoding/binary"
	"fmt"

	"github.com/iotzf/modbus-go/slave"
)

// Snapshot format shared by the file and mmap backends. Bit spaces are
// packed LSB-first and registers are big-endian, the same conventions the
// wire codecs use, so a snapshot is portable across architectures. An
// 8-byte header makes the file self-describing.
//
//	header            : 8 bytes, magic "MBIM" + format version
//	coils             : 8192 bytes, 1 bit per coil
//	discrete inputs   : 8192 bytes, 1 bit per input
//	holding registers : 131072 bytes, big endian
//	input registers   : 131072 bytes, big endian
const (
	snapshotMagic   = 0x4D42494D // "MBIM"
	snapshotVersion = 1

	headerSize    = 8
	sizeBitSpace  = (slave.MaxAddress + 1) / 8
	sizeRegisters = (slave.MaxAddress + 1) * 2

	offsetCoils    = headerSize
	offsetDiscrete = offsetCoils + sizeBitSpace
	offsetHolding  = offsetDiscrete + sizeBitSpace
	offsetInput    = offsetHolding + sizeRegisters

	snapshotSize = offsetInput + sizeRegisters
)

// newSnapshot returns an all-zero snapshot with a valid header.
func newSnapshot() []byte {
	buf := make([]byte, snapshotSize)
	binary.BigEndian.PutUint32(buf[0:4], snapshotMagic)
	binary.BigEndian.PutUint32(buf[4:8], snapshotVersion)
	return buf
}

func checkSnapshot(data []byte) error {
	if len(data) != snapshotSize {
		return fmt.Errorf("snapshot is %d bytes, expected %d", len(data), snapshotSize)
	}
	if magic := binary.BigEndian.Uint32(data[0:4]); magic != snapshotMagic {
		return fmt.Errorf("bad snapshot magic 0x%08X", magic)
	}
	if version := binary.BigEndian.Uint32(data[4:8]); version != snapshotVersion {
		return fmt.Errorf("unsupported snapshot version %d", version)
	}
	return nil
}

// encodeRange serializes the cells covered by a write into buf and returns
// the changed byte span [start, end). For the bit spaces the span widens to
// whole bytes; the neighbor bits are re-read from the image, which is
// consistent because the write hook runs under the image lock.
func encodeRange(buf []byte, img *slave.Image, space slave.Space, address, quantity uint16) (int, int) {
	switch space {
	case slave.SpaceCoils:
		return encodeBitRange(buf[offsetCoils:], img.Coils, address, quantity, offsetCoils)
	case slave.SpaceDiscreteInputs:
		return encodeBitRange(buf[offsetDiscrete:], img.DiscreteInputs, address, quantity, offsetDiscrete)
	case slave.SpaceHoldingRegisters:
		return encodeRegisterRange(buf[offsetHolding:], img.HoldingRegisters, address, quantity, offsetHolding)
	case slave.SpaceInputRegisters:
		return encodeRegisterRange(buf[offsetInput:], img.InputRegisters, address, quantity, offsetInput)
	}
	return 0, 0
}

func encodeBitRange(area []byte, cells []byte, address, quantity uint16, base int) (int, int) {
	first := int(address) / 8
	last := (int(address) + int(quantity) + 7) / 8
	for b := first; b < last; b++ {
		var packed byte
		for bit := 0; bit < 8; bit++ {
			if cells[b*8+bit] != 0 {
				packed |= 1 << uint(bit)
			}
		}
		area[b] = packed
	}
	return base + first, base + last
}

func encodeRegisterRange(area []byte, cells []uint16, address, quantity uint16, base int) (int, int) {
	for i := 0; i < int(quantity); i++ {
		addr := int(address) + i
		binary.BigEndian.PutUint16(area[addr*2:], cells[addr])
	}
	return base + int(address)*2, base + (int(address)+int(quantity))*2
}

// encodeSnapshot serializes the whole image into buf.
func encodeSnapshot(buf []byte, img *slave.Image) {
	encodeBitArea(buf[offsetCoils:offsetDiscrete], img.Coils)
	encodeBitArea(buf[offsetDiscrete:offsetHolding], img.DiscreteInputs)
	encodeRegisterArea(buf[offsetHolding:offsetInput], img.HoldingRegisters)
	encodeRegisterArea(buf[offsetInput:snapshotSize], img.InputRegisters)
}

func encodeBitArea(area []byte, cells []byte) {
	for b := range area {
		var packed byte
		for bit := 0; bit < 8; bit++ {
			if cells[b*8+bit] != 0 {
				packed |= 1 << uint(bit)
			}
		}
		area[b] = packed
	}
}

func encodeRegisterArea(area []byte, cells []uint16) {
	for i, v := range cells {
		binary.BigEndian.PutUint16(area[i*2:], v)
	}
}

// decodeSnapshot validates the header and unpacks the snapshot into a
// fresh image.
func decodeSnapshot(data []byte) (*slave.Image, error) {
	if err := checkSnapshot(data); err != nil {
		return nil, err
	}

	img := slave.NewImage()
	decodeBitArea(data[offsetCoils:offsetDiscrete], img.Coils)
	decodeBitArea(data[offsetDiscrete:offsetHolding], img.DiscreteInputs)
	decodeRegisterArea(data[offsetHolding:offsetInput], img.HoldingRegisters)
	decodeRegisterArea(data[offsetInput:snapshotSize], img.InputRegisters)
	return img, nil
}

func decodeBitArea(area []byte, cells []byte) {
	for b, packed := range area {
		for bit := 0; bit < 8; bit++ {
			cells[b*8+bit] = (packed >> uint(bit)) & 1
		}
	}
}

func decodeRegisterArea(area []byte, cells []uint16) {
	for i := range cells {
		cells[i] = binary.BigEndian.Uint16(area[i*2:])
	}
}
