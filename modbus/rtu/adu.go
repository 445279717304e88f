// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package rtu implements the Modbus RTU frame codec. The same framing is
// used verbatim by the RTU-over-TCP transport; only the serial resync
// behavior differs.
package rtu

import (
	"fmt"

	"github.com/iotzf/modbus-go/modbus"
	"github.com/iotzf/modbus-go/modbus/crc"
)

// ApplicationDataUnit is an RTU frame:
//
//	Slave Address   : 1 byte
//	Function        : 1 byte
//	Data            : 0 up to 252 bytes
//	CRC             : 2 bytes, low byte first
type ApplicationDataUnit struct {
	SlaveID byte
	Pdu     modbus.ProtocolDataUnit
}

// Decode parses and CRC-checks a complete RTU frame.
func Decode(raw []byte) (adu *ApplicationDataUnit, err error) {
	length := len(raw)
	if length < MinSize {
		err = fmt.Errorf("%w: frame length '%v' does not meet minimum '%v'", modbus.ErrInvalidDataLength, length, MinSize)
		return
	}

	checksum := uint16(raw[length-1])<<8 | uint16(raw[length-2])
	if computed := crc.Checksum(raw[0 : length-2]); checksum != computed {
		err = fmt.Errorf("%w: received '%04X', expected '%04X'", modbus.ErrCRCCheckFailed, checksum, computed)
		return
	}
	adu = &ApplicationDataUnit{}
	adu.SlaveID = raw[0]
	adu.Pdu.FunctionCode = raw[1]
	adu.Pdu.Data = raw[2 : length-2]
	return
}

// Encode serializes the ADU and appends the CRC trailer.
func (adu *ApplicationDataUnit) Encode() (raw []byte, err error) {
	length := len(adu.Pdu.Data) + 4
	if length > MaxSize {
		err = fmt.Errorf("%w: length of data '%v' must not be bigger than '%v'", modbus.ErrInvalidDataLength, length, MaxSize)
		return
	}
	raw = make([]byte, length)

	raw[0] = adu.SlaveID
	raw[1] = adu.Pdu.FunctionCode
	copy(raw[2:], adu.Pdu.Data)

	checksum := crc.Checksum(raw[0 : length-2])
	raw[length-1] = byte(checksum >> 8)
	raw[length-2] = byte(checksum)
	return
}

// Verify checks a response frame against its request.
func (req *ApplicationDataUnit) Verify(resp *ApplicationDataUnit) (err error) {
	length := len(resp.Pdu.Data) + 4
	if length < MinSize {
		err = fmt.Errorf("%w: response length '%v' does not meet minimum '%v'", modbus.ErrInvalidDataLength, length, MinSize)
		return
	}
	// Slave address must match
	if req.SlaveID != resp.SlaveID {
		err = fmt.Errorf("%w: response slave id '%v' does not match request '%v'", modbus.ErrProtocol, resp.SlaveID, req.SlaveID)
		return
	}
	return
}
