// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import (
	"errors"
	"fmt"
)

// ExceptionCode is a Modbus exception code carried in an exception response.
type ExceptionCode byte

const (
	ExceptionCodeIllegalFunction                    ExceptionCode = 0x01
	ExceptionCodeIllegalDataAddress                 ExceptionCode = 0x02
	ExceptionCodeIllegalDataValue                   ExceptionCode = 0x03
	ExceptionCodeSlaveDeviceFailure                 ExceptionCode = 0x04
	ExceptionCodeAcknowledge                        ExceptionCode = 0x05
	ExceptionCodeSlaveDeviceBusy                    ExceptionCode = 0x06
	ExceptionCodeMemoryParityError                  ExceptionCode = 0x08
	ExceptionCodeGatewayPathUnavailable             ExceptionCode = 0x0A
	ExceptionCodeGatewayTargetDeviceFailedToRespond ExceptionCode = 0x0B
)

// Valid reports whether the code belongs to the standard exception set.
func (e ExceptionCode) Valid() bool {
	switch e {
	case ExceptionCodeIllegalFunction,
		ExceptionCodeIllegalDataAddress,
		ExceptionCodeIllegalDataValue,
		ExceptionCodeSlaveDeviceFailure,
		ExceptionCodeAcknowledge,
		ExceptionCodeSlaveDeviceBusy,
		ExceptionCodeMemoryParityError,
		ExceptionCodeGatewayPathUnavailable,
		ExceptionCodeGatewayTargetDeviceFailedToRespond:
		return true
	}
	return false
}

func (e ExceptionCode) String() string {
	switch e {
	case ExceptionCodeIllegalFunction:
		return "illegal function"
	case ExceptionCodeIllegalDataAddress:
		return "illegal data address"
	case ExceptionCodeIllegalDataValue:
		return "illegal data value"
	case ExceptionCodeSlaveDeviceFailure:
		return "slave device failure"
	case ExceptionCodeAcknowledge:
		return "acknowledge"
	case ExceptionCodeSlaveDeviceBusy:
		return "slave device busy"
	case ExceptionCodeMemoryParityError:
		return "memory parity error"
	case ExceptionCodeGatewayPathUnavailable:
		return "gateway path unavailable"
	case ExceptionCodeGatewayTargetDeviceFailedToRespond:
		return "gateway target device failed to respond"
	default:
		return fmt.Sprintf("unknown exception (0x%02X)", byte(e))
	}
}

// Error is a well-formed exception response received from the peer. It is
// distinct from transport failures so callers can tell "the device said no"
// apart from "the device is unreachable".
type Error struct {
	FunctionCode  byte
	ExceptionCode ExceptionCode
}

func (e *Error) Error() string {
	return fmt.Sprintf("modbus: exception %s (function 0x%02X)", e.ExceptionCode, e.FunctionCode&^ExceptionFlag)
}

// Is matches any *Error, or one with the same exception code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.ExceptionCode == 0 || t.ExceptionCode == e.ExceptionCode
}

// Sentinel errors shared across codecs and transports.
var (
	// ErrInvalidFunctionCode reports a function code outside the supported set.
	ErrInvalidFunctionCode = errors.New("modbus: invalid function code")
	// ErrInvalidExceptionCode reports an exception response whose code is unknown.
	ErrInvalidExceptionCode = errors.New("modbus: invalid exception code")
	// ErrInvalidDataLength reports a structurally well-formed frame whose payload
	// length disagrees with the function code's rules.
	ErrInvalidDataLength = errors.New("modbus: invalid data length")
	// ErrCRCCheckFailed reports an RTU frame whose CRC trailer does not match.
	ErrCRCCheckFailed = errors.New("modbus: crc check failed")
	// ErrProtocol reports an envelope violation: nonzero MBAP protocol id,
	// transaction or unit id mismatch.
	ErrProtocol = errors.New("modbus: protocol error")
	// ErrTimeout reports that no response arrived within the configured deadline.
	ErrTimeout = errors.New("modbus: request timed out")
	// ErrSlaveNotFound reports a request addressed to an unregistered slave id.
	ErrSlaveNotFound = errors.New("modbus: slave not found")
	// ErrNoResponse marks a request that must not be answered (broadcast, or a
	// frame the server drops by convention). It never reaches API callers.
	ErrNoResponse = errors.New("modbus: no response")
)

// ResponseError converts an exception response PDU into a typed error.
// It returns nil if the PDU is not an exception.
func ResponseError(pdu ProtocolDataUnit) error {
	if !pdu.IsException() {
		return nil
	}
	if len(pdu.Data) != 1 {
		return fmt.Errorf("%w: exception response carries %d data bytes", ErrInvalidDataLength, len(pdu.Data))
	}
	code := ExceptionCode(pdu.Data[0])
	if !code.Valid() {
		return fmt.Errorf("%w: 0x%02X", ErrInvalidExceptionCode, pdu.Data[0])
	}
	return &Error{FunctionCode: pdu.FunctionCode, ExceptionCode: code}
}
