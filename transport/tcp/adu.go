// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package tcp

import (
	"fmt"

	"github.com/iotzf/modbus-go/modbus"
)

const (
	tcpMinSize = 8
	tcpMaxSize = 260

	// mbapHeaderSize covers transaction id, protocol id and length.
	mbapHeaderSize = 6
)

// ApplicationDataUnit is an MBAP-framed PDU:
//
//	Transaction ID  : 2 bytes, big endian
//	Protocol ID     : 2 bytes, big endian, always 0
//	Length          : 2 bytes, big endian, unit id + PDU
//	Unit ID         : 1 byte
//	Function        : 1 byte
//	Data            : 0 up to 252 bytes
//
// TCP provides integrity, so there is no CRC.
type ApplicationDataUnit struct {
	TransactionID uint16
	ProtocolID    uint16
	Length        uint16
	SlaveID       byte
	Pdu           modbus.ProtocolDataUnit
}

// Decode parses a complete MBAP frame.
func Decode(raw []byte) (adu *ApplicationDataUnit, err error) {
	if len(raw) < tcpMinSize {
		err = fmt.Errorf("%w: frame length '%v' does not meet minimum '%v'", modbus.ErrInvalidDataLength, len(raw), tcpMinSize)
		return
	}
	adu = &ApplicationDataUnit{}
	adu.TransactionID = uint16(raw[0])<<8 | uint16(raw[1])
	adu.ProtocolID = uint16(raw[2])<<8 | uint16(raw[3])
	adu.Length = uint16(raw[4])<<8 | uint16(raw[5])
	adu.SlaveID = raw[6]
	adu.Pdu.FunctionCode = raw[7]
	adu.Pdu.Data = raw[8:]

	if adu.ProtocolID != 0 {
		return nil, fmt.Errorf("%w: protocol id '%v' must be 0", modbus.ErrProtocol, adu.ProtocolID)
	}
	if int(adu.Length) != 2+len(adu.Pdu.Data) {
		return nil, fmt.Errorf("%w: mbap length '%v' does not match payload '%v'", modbus.ErrInvalidDataLength, adu.Length, 2+len(adu.Pdu.Data))
	}
	return
}

// Encode serializes the ADU. The Length field is derived from the PDU.
func (adu *ApplicationDataUnit) Encode() (raw []byte, err error) {
	length := len(adu.Pdu.Data) + 8
	if length > tcpMaxSize {
		err = fmt.Errorf("%w: length of data '%v' must not be bigger than '%v'", modbus.ErrInvalidDataLength, length, tcpMaxSize)
		return
	}
	adu.Length = uint16(2 + len(adu.Pdu.Data))
	raw = make([]byte, length)

	raw[0] = byte(adu.TransactionID >> 8)
	raw[1] = byte(adu.TransactionID >> 0)
	raw[2] = byte(adu.ProtocolID >> 8)
	raw[3] = byte(adu.ProtocolID >> 0)
	raw[4] = byte(adu.Length >> 8)
	raw[5] = byte(adu.Length >> 0)
	raw[6] = adu.SlaveID
	raw[7] = adu.Pdu.FunctionCode
	copy(raw[8:], adu.Pdu.Data)

	return
}

// Verify checks a response frame against its request.
func (req *ApplicationDataUnit) Verify(resp *ApplicationDataUnit) (err error) {
	if resp.TransactionID != req.TransactionID {
		err = fmt.Errorf("%w: response transaction id '%v' does not match request '%v'", modbus.ErrProtocol, resp.TransactionID, req.TransactionID)
		return
	}
	if resp.SlaveID != req.SlaveID {
		err = fmt.Errorf("%w: response unit id '%v' does not match request '%v'", modbus.ErrProtocol, resp.SlaveID, req.SlaveID)
		return
	}
	return
}
