// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/iotzf/modbus-go/modbus"
)

const (
	stateSlaveID = 1 << iota
	stateFunctionCode
	stateReadLength
	stateReadPayload
	stateCRC
)

type InvalidLengthError struct {
	Length byte
}

func (e *InvalidLengthError) Error() string {
	return fmt.Sprintf("invalid length received: %d", e.Length)
}

// CalculateResponseLength returns the expected length of a response ADU
// for the request adu. RTU frames carry no length field, so the response
// shape must be derived from the request's function code and quantity.
func CalculateResponseLength(adu []byte) int {
	length := MinSize
	switch adu[1] {
	case modbus.FuncCodeReadCoils,
		modbus.FuncCodeReadDiscreteInputs:
		count := int(binary.BigEndian.Uint16(adu[4:]))
		length += 1 + count/8
		if count%8 != 0 {
			length++
		}
	case modbus.FuncCodeReadHoldingRegisters,
		modbus.FuncCodeReadInputRegisters:
		count := int(binary.BigEndian.Uint16(adu[4:]))
		length += 1 + count*2
	case modbus.FuncCodeWriteSingleCoil,
		modbus.FuncCodeWriteSingleRegister,
		modbus.FuncCodeWriteMultipleCoils,
		modbus.FuncCodeWriteMultipleRegisters:
		length += 4
	default:
	}
	return length
}

// CalculateRequestLength returns the expected total length of a request ADU
// based on the header bytes read so far.
func CalculateRequestLength(funcCode byte, header []byte) (int, error) {
	switch funcCode {
	case modbus.FuncCodeReadCoils,
		modbus.FuncCodeReadDiscreteInputs,
		modbus.FuncCodeReadHoldingRegisters,
		modbus.FuncCodeReadInputRegisters,
		modbus.FuncCodeWriteSingleCoil,
		modbus.FuncCodeWriteSingleRegister:
		// Fixed 8 bytes: [SlaveID, Func, Addr(2), Val(2), CRC(2)]
		return 8, nil
	case modbus.FuncCodeWriteMultipleCoils,
		modbus.FuncCodeWriteMultipleRegisters:
		// Req: [SlaveID, Func, Addr(2), Quant(2), ByteCount(1), Data(N), CRC(2)]
		// ByteCount is at offset 6, so 7 header bytes bound the length.
		if len(header) < 7 {
			return 0, fmt.Errorf("need 7 bytes to determine length for 0x%02X, got %d", funcCode, len(header))
		}

		byteCount := int(header[6])
		return 7 + byteCount + 2, nil
	default:
		return 0, fmt.Errorf("%w: 0x%02X", modbus.ErrInvalidFunctionCode, funcCode)
	}
}

// ReadResponse reads an RTU frame incrementally from the reader.
// It uses a state machine keyed on the expected SlaveID and FunctionCode,
// discarding noise bytes until a frame candidate starts. An exception
// response (function code with the high bit set) is detected and read as a
// single-byte payload.
func ReadResponse(slaveID, functionCode byte, r io.Reader, deadline time.Time) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("reader is nil")
	}

	buf := make([]byte, 1)
	data := make([]byte, MaxSize)

	state := stateSlaveID
	var length, toRead byte
	var n, crcCount int

	for {
		if time.Now().After(deadline) {
			return nil, modbus.ErrTimeout
		}

		if _, err := io.ReadAtLeast(r, buf, 1); err != nil {
			return nil, err
		}

		switch state {
		case stateSlaveID:
			if buf[0] == slaveID {
				state = stateFunctionCode
				data[n] = buf[0]
				n++
				continue
			}
		case stateFunctionCode:
			if buf[0] == functionCode {
				switch functionCode {
				case modbus.FuncCodeReadCoils,
					modbus.FuncCodeReadDiscreteInputs,
					modbus.FuncCodeReadHoldingRegisters,
					modbus.FuncCodeReadInputRegisters:

					state = stateReadLength
				case modbus.FuncCodeWriteSingleCoil,
					modbus.FuncCodeWriteSingleRegister,
					modbus.FuncCodeWriteMultipleCoils,
					modbus.FuncCodeWriteMultipleRegisters:

					state = stateReadPayload
					toRead = 4
				default:
					return nil, fmt.Errorf("%w: 0x%02X", modbus.ErrInvalidFunctionCode, functionCode)
				}
				data[n] = buf[0]
				n++
				continue
			} else if buf[0] == functionCode|modbus.ExceptionFlag {
				state = stateReadPayload
				data[n] = buf[0]
				n++
				toRead = 1
			}
		case stateReadLength:
			length = buf[0]
			if length > MaxSize-5 || length == 0 {
				return nil, &InvalidLengthError{Length: length}
			}
			toRead = length
			data[n] = length
			n++
			state = stateReadPayload
		case stateReadPayload:
			data[n] = buf[0]
			toRead--
			n++
			if toRead == 0 {
				state = stateCRC
			}
		case stateCRC:
			data[n] = buf[0]
			crcCount++
			n++
			if crcCount == 2 {
				return data[:n], nil
			}
		}
	}
}
