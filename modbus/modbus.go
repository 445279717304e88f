// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package modbus defines the transport-independent Modbus protocol model:
// function codes, exception codes, the Protocol Data Unit and the shared
// error taxonomy used by every framing codec and transport.
package modbus

// Function Codes
const (
	FuncCodeReadCoils              = 0x01
	FuncCodeReadDiscreteInputs     = 0x02
	FuncCodeReadHoldingRegisters   = 0x03
	FuncCodeReadInputRegisters     = 0x04
	FuncCodeWriteSingleCoil        = 0x05
	FuncCodeWriteSingleRegister    = 0x06
	FuncCodeWriteMultipleCoils     = 0x0F
	FuncCodeWriteMultipleRegisters = 0x10

	// High bit of the function code marks an exception response.
	ExceptionFlag = 0x80
)

// Quantity limits per function code (Modbus Application Protocol v1.1b3).
const (
	MaxQuantityCoilRead      = 2000
	MaxQuantityDiscreteRead  = 2000
	MaxQuantityRegisterRead  = 125
	MaxQuantityCoilWrite     = 1968
	MaxQuantityRegisterWrite = 123
)

// Coil values on the wire for WriteSingleCoil.
const (
	CoilOn  = 0xFF00
	CoilOff = 0x0000
)

// BroadcastSlaveID addresses every slave on the bus. Valid for writes only;
// a broadcast request produces no response.
const BroadcastSlaveID = 0

// ValidFuncCode reports whether code is one of the supported function codes.
func ValidFuncCode(code byte) bool {
	switch code {
	case FuncCodeReadCoils,
		FuncCodeReadDiscreteInputs,
		FuncCodeReadHoldingRegisters,
		FuncCodeReadInputRegisters,
		FuncCodeWriteSingleCoil,
		FuncCodeWriteSingleRegister,
		FuncCodeWriteMultipleCoils,
		FuncCodeWriteMultipleRegisters:
		return true
	}
	return false
}

// IsWriteFuncCode reports whether code mutates slave state. Only these are
// legal under the broadcast slave id.
func IsWriteFuncCode(code byte) bool {
	switch code {
	case FuncCodeWriteSingleCoil,
		FuncCodeWriteSingleRegister,
		FuncCodeWriteMultipleCoils,
		FuncCodeWriteMultipleRegisters:
		return true
	}
	return false
}

// ProtocolDataUnit is the framing-independent portion of a Modbus frame.
type ProtocolDataUnit struct {
	FunctionCode byte
	Data         []byte
}

// IsException reports whether the PDU carries an exception response.
func (pdu ProtocolDataUnit) IsException() bool {
	return pdu.FunctionCode&ExceptionFlag != 0
}

// NewExceptionPDU builds the exception response for funcCode.
func NewExceptionPDU(funcCode byte, code ExceptionCode) ProtocolDataUnit {
	return ProtocolDataUnit{
		FunctionCode: funcCode | ExceptionFlag,
		Data:         []byte{byte(code)},
	}
}
