// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package datautil reshapes Modbus register data into wider scalar types
// under the four industry byte-order conventions.
package datautil

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/iotzf/modbus-go/modbus"
)

// ByteOrder selects how register bytes combine into wider scalars.
type ByteOrder int

const (
	// ABCD is big endian, the Modbus natural order.
	ABCD ByteOrder = iota
	// DCBA is little endian, whole-value byte reversal.
	DCBA
	// BADC swaps the bytes within each 16-bit word.
	BADC
	// CDAB swaps the 16-bit words.
	CDAB
)

func (o ByteOrder) String() string {
	switch o {
	case ABCD:
		return "ABCD"
	case DCBA:
		return "DCBA"
	case BADC:
		return "BADC"
	case CDAB:
		return "CDAB"
	default:
		return fmt.Sprintf("ByteOrder(%d)", int(o))
	}
}

// reorder4 maps 4 wire bytes into big-endian order for the given convention.
func (o ByteOrder) reorder4(b []byte) [4]byte {
	switch o {
	case DCBA:
		return [4]byte{b[3], b[2], b[1], b[0]}
	case BADC:
		return [4]byte{b[1], b[0], b[3], b[2]}
	case CDAB:
		return [4]byte{b[2], b[3], b[0], b[1]}
	default: // ABCD
		return [4]byte{b[0], b[1], b[2], b[3]}
	}
}

// reorder8 maps 8 wire bytes into big-endian order for the given convention.
// BADC swaps bytes within each word; CDAB reverses the word order across the
// whole value. Both mappings are involutions, so encode and decode share them.
func (o ByteOrder) reorder8(b []byte) [8]byte {
	switch o {
	case DCBA:
		return [8]byte{b[7], b[6], b[5], b[4], b[3], b[2], b[1], b[0]}
	case BADC:
		return [8]byte{b[1], b[0], b[3], b[2], b[5], b[4], b[7], b[6]}
	case CDAB:
		return [8]byte{b[6], b[7], b[4], b[5], b[2], b[3], b[0], b[1]}
	default: // ABCD
		return [8]byte{b[0], b[1], b[2], b[3], b[4], b[5], b[6], b[7]}
	}
}

// Uint16 decodes one 16-bit value. Only the byte-swap distinction matters
// at this width: ABCD/CDAB read big endian, DCBA/BADC little endian.
func (o ByteOrder) Uint16(b []byte) (uint16, error) {
	if len(b) < 2 {
		return 0, modbus.ErrInvalidDataLength
	}
	switch o {
	case DCBA, BADC:
		return binary.LittleEndian.Uint16(b), nil
	default:
		return binary.BigEndian.Uint16(b), nil
	}
}

// PutUint16 encodes one 16-bit value.
func (o ByteOrder) PutUint16(v uint16) [2]byte {
	var b [2]byte
	switch o {
	case DCBA, BADC:
		binary.LittleEndian.PutUint16(b[:], v)
	default:
		binary.BigEndian.PutUint16(b[:], v)
	}
	return b
}

// Uint32 decodes one 32-bit value.
func (o ByteOrder) Uint32(b []byte) (uint32, error) {
	if len(b) < 4 {
		return 0, modbus.ErrInvalidDataLength
	}
	r := o.reorder4(b)
	return binary.BigEndian.Uint32(r[:]), nil
}

// PutUint32 encodes one 32-bit value.
func (o ByteOrder) PutUint32(v uint32) [4]byte {
	var be [4]byte
	binary.BigEndian.PutUint32(be[:], v)
	return o.reorder4(be[:])
}

// Uint64 decodes one 64-bit value.
func (o ByteOrder) Uint64(b []byte) (uint64, error) {
	if len(b) < 8 {
		return 0, modbus.ErrInvalidDataLength
	}
	r := o.reorder8(b)
	return binary.BigEndian.Uint64(r[:]), nil
}

// PutUint64 encodes one 64-bit value.
func (o ByteOrder) PutUint64(v uint64) [8]byte {
	var be [8]byte
	binary.BigEndian.PutUint64(be[:], v)
	return o.reorder8(be[:])
}

// BytesToUint16Array converts register bytes to 16-bit values.
func BytesToUint16Array(data []byte, order ByteOrder) ([]uint16, error) {
	if len(data)%2 != 0 {
		return nil, modbus.ErrInvalidDataLength
	}
	result := make([]uint16, 0, len(data)/2)
	for i := 0; i < len(data); i += 2 {
		v, err := order.Uint16(data[i:])
		if err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	return result, nil
}

// Uint16ArrayToBytes converts 16-bit values to register bytes.
func Uint16ArrayToBytes(values []uint16, order ByteOrder) []byte {
	result := make([]byte, 0, len(values)*2)
	for _, v := range values {
		b := order.PutUint16(v)
		result = append(result, b[:]...)
	}
	return result
}

// BytesToUint32Array converts register bytes to 32-bit values.
func BytesToUint32Array(data []byte, order ByteOrder) ([]uint32, error) {
	if len(data)%4 != 0 {
		return nil, modbus.ErrInvalidDataLength
	}
	result := make([]uint32, 0, len(data)/4)
	for i := 0; i < len(data); i += 4 {
		v, err := order.Uint32(data[i:])
		if err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	return result, nil
}

// Uint32ArrayToBytes converts 32-bit values to register bytes.
func Uint32ArrayToBytes(values []uint32, order ByteOrder) []byte {
	result := make([]byte, 0, len(values)*4)
	for _, v := range values {
		b := order.PutUint32(v)
		result = append(result, b[:]...)
	}
	return result
}

// BytesToFloat32Array converts register bytes to IEEE-754 floats.
func BytesToFloat32Array(data []byte, order ByteOrder) ([]float32, error) {
	raw, err := BytesToUint32Array(data, order)
	if err != nil {
		return nil, err
	}
	result := make([]float32, len(raw))
	for i, v := range raw {
		result[i] = math.Float32frombits(v)
	}
	return result, nil
}

// Float32ArrayToBytes converts IEEE-754 floats to register bytes.
func Float32ArrayToBytes(values []float32, order ByteOrder) []byte {
	raw := make([]uint32, len(values))
	for i, v := range values {
		raw[i] = math.Float32bits(v)
	}
	return Uint32ArrayToBytes(raw, order)
}

// BytesToFloat64Array converts register bytes to IEEE-754 doubles.
func BytesToFloat64Array(data []byte, order ByteOrder) ([]float64, error) {
	if len(data)%8 != 0 {
		return nil, modbus.ErrInvalidDataLength
	}
	result := make([]float64, 0, len(data)/8)
	for i := 0; i < len(data); i += 8 {
		v, err := order.Uint64(data[i:])
		if err != nil {
			return nil, err
		}
		result = append(result, math.Float64frombits(v))
	}
	return result, nil
}

// Float64ArrayToBytes converts IEEE-754 doubles to register bytes.
func Float64ArrayToBytes(values []float64, order ByteOrder) []byte {
	result := make([]byte, 0, len(values)*8)
	for _, v := range values {
		b := order.PutUint64(math.Float64bits(v))
		result = append(result, b[:]...)
	}
	return result
}

// BytesToBoolArray unpacks count coil bits from LSB-first packed bytes.
func BytesToBoolArray(data []byte, count int) []bool {
	result := make([]bool, 0, count)
	for i := 0; i < count && i/8 < len(data); i++ {
		result = append(result, data[i/8]>>(uint(i)%8)&1 != 0)
	}
	return result
}

// BoolArrayToBytes packs coil bits LSB-first; unused high bits of the last
// byte stay zero.
func BoolArrayToBytes(values []bool) []byte {
	result := make([]byte, (len(values)+7)/8)
	for i, v := range values {
		if v {
			result[i/8] |= 1 << (uint(i) % 8)
		}
	}
	return result
}

// RegistersToBytes packs registers as wire bytes (big endian).
func RegistersToBytes(values []uint16) []byte {
	result := make([]byte, len(values)*2)
	for i, v := range values {
		binary.BigEndian.PutUint16(result[i*2:], v)
	}
	return result
}

// BytesToRegisters unpacks wire bytes (big endian) into registers.
func BytesToRegisters(data []byte) ([]uint16, error) {
	if len(data)%2 != 0 {
		return nil, modbus.ErrInvalidDataLength
	}
	result := make([]uint16, len(data)/2)
	for i := range result {
		result[i] = binary.BigEndian.Uint16(data[i*2:])
	}
	return result, nil
}
