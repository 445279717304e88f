// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package slave

import (
	"encoding/binary"

	"github.com/iotzf/modbus-go/modbus"
)

// Process executes a request PDU against the image and returns the response
// PDU. Malformed or out-of-range requests yield exception responses, never
// errors: at this layer every well-framed request has an answer.
func (img *Image) Process(req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	switch req.FunctionCode {
	case modbus.FuncCodeReadCoils:
		return img.handleReadBits(req, modbus.MaxQuantityCoilRead, img.ReadCoils)
	case modbus.FuncCodeReadDiscreteInputs:
		return img.handleReadBits(req, modbus.MaxQuantityDiscreteRead, img.ReadDiscreteInputs)
	case modbus.FuncCodeReadHoldingRegisters:
		return img.handleReadRegisters(req, img.ReadHoldingRegisters)
	case modbus.FuncCodeReadInputRegisters:
		return img.handleReadRegisters(req, img.ReadInputRegisters)
	case modbus.FuncCodeWriteSingleCoil:
		return img.handleWriteSingleCoil(req)
	case modbus.FuncCodeWriteSingleRegister:
		return img.handleWriteSingleRegister(req)
	case modbus.FuncCodeWriteMultipleCoils:
		return img.handleWriteMultipleCoils(req)
	case modbus.FuncCodeWriteMultipleRegisters:
		return img.handleWriteMultipleRegisters(req)
	default:
		return modbus.NewExceptionPDU(req.FunctionCode, modbus.ExceptionCodeIllegalFunction)
	}
}

func (img *Image) handleReadBits(req modbus.ProtocolDataUnit, maxQuantity uint16, read func(address, quantity uint16) ([]byte, error)) modbus.ProtocolDataUnit {
	if len(req.Data) != 4 {
		return modbus.NewExceptionPDU(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])

	if quantity < 1 || quantity > maxQuantity {
		return modbus.NewExceptionPDU(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	if int(address)+int(quantity) > MaxAddress+1 {
		return modbus.NewExceptionPDU(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress)
	}

	data, err := read(address, quantity)
	if err != nil {
		return modbus.NewExceptionPDU(req.FunctionCode, modbus.ExceptionCodeSlaveDeviceFailure)
	}

	respData := make([]byte, 1+len(data))
	respData[0] = byte(len(data))
	copy(respData[1:], data)

	return modbus.ProtocolDataUnit{
		FunctionCode: req.FunctionCode,
		Data:         respData,
	}
}

func (img *Image) handleReadRegisters(req modbus.ProtocolDataUnit, read func(address, quantity uint16) ([]byte, error)) modbus.ProtocolDataUnit {
	if len(req.Data) != 4 {
		return modbus.NewExceptionPDU(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])

	if quantity < 1 || quantity > modbus.MaxQuantityRegisterRead {
		return modbus.NewExceptionPDU(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	if int(address)+int(quantity) > MaxAddress+1 {
		return modbus.NewExceptionPDU(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress)
	}

	data, err := read(address, quantity)
	if err != nil {
		return modbus.NewExceptionPDU(req.FunctionCode, modbus.ExceptionCodeSlaveDeviceFailure)
	}

	respData := make([]byte, 1+len(data))
	respData[0] = byte(len(data))
	copy(respData[1:], data)

	return modbus.ProtocolDataUnit{
		FunctionCode: req.FunctionCode,
		Data:         respData,
	}
}

func (img *Image) handleWriteSingleCoil(req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	if len(req.Data) != 4 {
		return modbus.NewExceptionPDU(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	value := binary.BigEndian.Uint16(req.Data[2:4])

	// Only the two canonical wire values are legal.
	if value != modbus.CoilOn && value != modbus.CoilOff {
		return modbus.NewExceptionPDU(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}

	if err := img.WriteSingleCoil(address, value == modbus.CoilOn); err != nil {
		return modbus.NewExceptionPDU(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress)
	}

	return req // Echo request
}

func (img *Image) handleWriteSingleRegister(req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	if len(req.Data) != 4 {
		return modbus.NewExceptionPDU(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	value := binary.BigEndian.Uint16(req.Data[2:4])

	if err := img.WriteSingleRegister(address, value); err != nil {
		return modbus.NewExceptionPDU(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress)
	}

	return req // Echo request
}

func (img *Image) handleWriteMultipleCoils(req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	if len(req.Data) < 6 {
		return modbus.NewExceptionPDU(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])
	byteCount := req.Data[4]

	if quantity < 1 || quantity > modbus.MaxQuantityCoilWrite {
		return modbus.NewExceptionPDU(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	if int(byteCount) != (int(quantity)+7)/8 || len(req.Data)-5 != int(byteCount) {
		return modbus.NewExceptionPDU(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	if int(address)+int(quantity) > MaxAddress+1 {
		return modbus.NewExceptionPDU(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress)
	}

	if err := img.WriteMultipleCoils(address, quantity, req.Data[5:]); err != nil {
		return modbus.NewExceptionPDU(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress)
	}

	respData := make([]byte, 4)
	binary.BigEndian.PutUint16(respData[0:2], address)
	binary.BigEndian.PutUint16(respData[2:4], quantity)

	return modbus.ProtocolDataUnit{
		FunctionCode: req.FunctionCode,
		Data:         respData,
	}
}

func (img *Image) handleWriteMultipleRegisters(req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	if len(req.Data) < 6 {
		return modbus.NewExceptionPDU(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])
	byteCount := req.Data[4]

	if quantity < 1 || quantity > modbus.MaxQuantityRegisterWrite {
		return modbus.NewExceptionPDU(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	if int(byteCount) != int(quantity)*2 || len(req.Data)-5 != int(byteCount) {
		return modbus.NewExceptionPDU(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	if int(address)+int(quantity) > MaxAddress+1 {
		return modbus.NewExceptionPDU(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress)
	}

	if err := img.WriteMultipleRegisters(address, quantity, req.Data[5:]); err != nil {
		return modbus.NewExceptionPDU(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress)
	}

	respData := make([]byte, 4)
	binary.BigEndian.PutUint16(respData[0:2], address)
	binary.BigEndian.PutUint16(respData[2:4], quantity)

	return modbus.ProtocolDataUnit{
		FunctionCode: req.FunctionCode,
		Data:         respData,
	}
}
