// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package slave implements the server-side data model: per-unit register
// images, the function-code executor and the multi-slave registry that
// dispatches requests from any transport.
package slave

import (
	"encoding/binary"
	"fmt"
	"sync"
)

const (
	// MaxAddress is the highest addressable cell in each data space.
	MaxAddress = 65535
)

// Space identifies one of the four Modbus address spaces.
type Space int

const (
	SpaceCoils Space = iota
	SpaceDiscreteInputs
	SpaceHoldingRegisters
	SpaceInputRegisters
)

// Image holds the four data spaces of one slave unit, fully allocated over
// the 16-bit address range. A single RWMutex serializes writes and keeps
// any read range consistent with respect to concurrent multi-cell writes:
// a reader observes either all-pre or all-post state of a write, never a
// torn intermediate.
//
// The slices are exported so persistence backends can fill them on load and
// read changed cells from them; all protocol access goes through the methods.
type Image struct {
	mu sync.RWMutex

	// 0x Coils (Read/Write). Stored as 1 (ON) or 0 (OFF).
	Coils []byte
	// 1x Discrete Inputs (Read Only from the wire). Stored as 1 (ON) or 0 (OFF).
	DiscreteInputs []byte
	// 4x Holding Registers (Read/Write).
	HoldingRegisters []uint16
	// 3x Input Registers (Read Only from the wire).
	InputRegisters []uint16

	// onWrite, if set, runs after each mutation with the image lock held.
	// It must not call back into the image.
	onWrite func(space Space, address, quantity uint16)
}

// NewImage creates an image initialized to zero.
func NewImage() *Image {
	return &Image{
		Coils:            make([]byte, MaxAddress+1),
		DiscreteInputs:   make([]byte, MaxAddress+1),
		HoldingRegisters: make([]uint16, MaxAddress+1),
		InputRegisters:   make([]uint16, MaxAddress+1),
	}
}

// SetWriteHook registers fn to run after every mutation, for persistence
// backends that sync changed cells.
func (img *Image) SetWriteHook(fn func(space Space, address, quantity uint16)) {
	img.mu.Lock()
	defer img.mu.Unlock()
	img.onWrite = fn
}

func (img *Image) notify(space Space, address, quantity uint16) {
	if img.onWrite != nil {
		img.onWrite(space, address, quantity)
	}
}

// ReadCoils reads a range of coils packed LSB-first per Modbus convention.
func (img *Image) ReadCoils(address, quantity uint16) ([]byte, error) {
	img.mu.RLock()
	defer img.mu.RUnlock()

	if err := validateRange(address, quantity); err != nil {
		return nil, err
	}
	return packBits(img.Coils[address:], quantity), nil
}

// ReadDiscreteInputs reads a range of discrete inputs packed LSB-first.
func (img *Image) ReadDiscreteInputs(address, quantity uint16) ([]byte, error) {
	img.mu.RLock()
	defer img.mu.RUnlock()

	if err := validateRange(address, quantity); err != nil {
		return nil, err
	}
	return packBits(img.DiscreteInputs[address:], quantity), nil
}

// ReadHoldingRegisters reads a range of holding registers as big-endian bytes.
func (img *Image) ReadHoldingRegisters(address, quantity uint16) ([]byte, error) {
	img.mu.RLock()
	defer img.mu.RUnlock()

	if err := validateRange(address, quantity); err != nil {
		return nil, err
	}
	return packRegisters(img.HoldingRegisters[address:], quantity), nil
}

// ReadInputRegisters reads a range of input registers as big-endian bytes.
func (img *Image) ReadInputRegisters(address, quantity uint16) ([]byte, error) {
	img.mu.RLock()
	defer img.mu.RUnlock()

	if err := validateRange(address, quantity); err != nil {
		return nil, err
	}
	return packRegisters(img.InputRegisters[address:], quantity), nil
}

// WriteSingleCoil writes one coil.
func (img *Image) WriteSingleCoil(address uint16, on bool) error {
	img.mu.Lock()
	defer img.mu.Unlock()

	if on {
		img.Coils[address] = 1
	} else {
		img.Coils[address] = 0
	}
	img.notify(SpaceCoils, address, 1)
	return nil
}

// WriteMultipleCoils writes a range of coils from LSB-first packed bytes.
// All cells are updated under one lock acquisition, so concurrent readers
// never observe a partial write.
func (img *Image) WriteMultipleCoils(address, quantity uint16, data []byte) error {
	img.mu.Lock()
	defer img.mu.Unlock()

	if err := validateRange(address, quantity); err != nil {
		return err
	}
	expectedBytes := (int(quantity) + 7) / 8
	if len(data) < expectedBytes {
		return fmt.Errorf("insufficient data length")
	}

	for i := 0; i < int(quantity); i++ {
		byteIdx := i / 8
		bitIdx := uint(i % 8)
		img.Coils[int(address)+i] = (data[byteIdx] >> bitIdx) & 1
	}
	img.notify(SpaceCoils, address, quantity)
	return nil
}

// WriteSingleRegister writes one holding register.
func (img *Image) WriteSingleRegister(address, value uint16) error {
	img.mu.Lock()
	defer img.mu.Unlock()

	img.HoldingRegisters[address] = value
	img.notify(SpaceHoldingRegisters, address, 1)
	return nil
}

// WriteMultipleRegisters writes a range of holding registers from
// big-endian bytes, atomically with respect to concurrent readers.
func (img *Image) WriteMultipleRegisters(address, quantity uint16, data []byte) error {
	img.mu.Lock()
	defer img.mu.Unlock()

	if err := validateRange(address, quantity); err != nil {
		return err
	}
	if len(data) < int(quantity)*2 {
		return fmt.Errorf("insufficient data length")
	}

	for i := 0; i < int(quantity); i++ {
		img.HoldingRegisters[int(address)+i] = binary.BigEndian.Uint16(data[i*2:])
	}
	img.notify(SpaceHoldingRegisters, address, quantity)
	return nil
}

// Coil returns the value of one coil.
func (img *Image) Coil(address uint16) bool {
	img.mu.RLock()
	defer img.mu.RUnlock()
	return img.Coils[address] != 0
}

// SetCoil sets one coil directly, bypassing the wire value encoding.
func (img *Image) SetCoil(address uint16, on bool) {
	img.WriteSingleCoil(address, on)
}

// DiscreteInput returns the value of one discrete input.
func (img *Image) DiscreteInput(address uint16) bool {
	img.mu.RLock()
	defer img.mu.RUnlock()
	return img.DiscreteInputs[address] != 0
}

// SetDiscreteInput sets one discrete input. The wire cannot do this; it is
// the application-side feed for sensor state.
func (img *Image) SetDiscreteInput(address uint16, on bool) {
	img.mu.Lock()
	defer img.mu.Unlock()
	if on {
		img.DiscreteInputs[address] = 1
	} else {
		img.DiscreteInputs[address] = 0
	}
	img.notify(SpaceDiscreteInputs, address, 1)
}

// HoldingRegister returns the value of one holding register.
func (img *Image) HoldingRegister(address uint16) uint16 {
	img.mu.RLock()
	defer img.mu.RUnlock()
	return img.HoldingRegisters[address]
}

// SetHoldingRegister sets one holding register.
func (img *Image) SetHoldingRegister(address, value uint16) {
	img.WriteSingleRegister(address, value)
}

// InputRegister returns the value of one input register.
func (img *Image) InputRegister(address uint16) uint16 {
	img.mu.RLock()
	defer img.mu.RUnlock()
	return img.InputRegisters[address]
}

// SetInputRegister sets one input register, the application-side feed.
func (img *Image) SetInputRegister(address, value uint16) {
	img.mu.Lock()
	defer img.mu.Unlock()
	img.InputRegisters[address] = value
	img.notify(SpaceInputRegisters, address, 1)
}

// packBits packs quantity cells into Modbus LSB-first bit bytes. Unused
// high bits of the last byte stay zero.
func packBits(cells []byte, quantity uint16) []byte {
	byteCount := (int(quantity) + 7) / 8
	result := make([]byte, byteCount)
	for i := 0; i < int(quantity); i++ {
		if cells[i] != 0 {
			result[i/8] |= 1 << uint(i%8)
		}
	}
	return result
}

// packRegisters packs quantity registers into big-endian bytes.
func packRegisters(cells []uint16, quantity uint16) []byte {
	result := make([]byte, int(quantity)*2)
	for i := 0; i < int(quantity); i++ {
		binary.BigEndian.PutUint16(result[i*2:], cells[i])
	}
	return result
}

func validateRange(address, quantity uint16) error {
	if quantity == 0 {
		return fmt.Errorf("quantity must be greater than 0")
	}
	// address is 0-based.
	if int(address)+int(quantity) > MaxAddress+1 {
		return fmt.Errorf("address range out of bounds")
	}
	return nil
}
