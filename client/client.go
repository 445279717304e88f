// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package client exposes the typed Modbus master API over any of the three
// transports. Every operation validates its quantities before encoding and
// surfaces peer exceptions as *modbus.Error, distinct from transport
// failures.
package client

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/iotzf/modbus-go/datautil"
	"github.com/iotzf/modbus-go/modbus"
	"github.com/iotzf/modbus-go/transport"
	"github.com/iotzf/modbus-go/transport/rtu"
	"github.com/iotzf/modbus-go/transport/rtuovertcp"
	"github.com/iotzf/modbus-go/transport/tcp"
)

// DefaultTimeout bounds each request/response exchange.
const DefaultTimeout = 1000 * time.Millisecond

// Client is a Modbus master session bound to one transport and a default
// slave id. The *WithSlaveID variants override the default per call.
type Client struct {
	transport transport.Client
	slaveID   byte
}

// NewTCP creates a Modbus TCP client.
func NewTCP(host string, port int, slaveID byte) *Client {
	t := tcp.NewClient(fmt.Sprintf("%s:%d", host, port))
	t.Timeout = DefaultTimeout
	return &Client{transport: t, slaveID: slaveID}
}

// NewRTU creates a Modbus RTU client on a serial device. Line settings
// default to 8N1 at the given baud rate.
func NewRTU(device string, slaveID byte, baudRate int) *Client {
	t := rtu.NewClient(rtu.Config{
		Device:   device,
		BaudRate: baudRate,
		Timeout:  DefaultTimeout,
	})
	return &Client{transport: t, slaveID: slaveID}
}

// NewRTUConfig creates a Modbus RTU client with full line control.
func NewRTUConfig(cfg rtu.Config, slaveID byte) *Client {
	return &Client{transport: rtu.NewClient(cfg), slaveID: slaveID}
}

// NewRTUOverTCP creates a client speaking RTU framing over a TCP stream.
func NewRTUOverTCP(host string, port int, slaveID byte) *Client {
	t := rtuovertcp.NewClient(fmt.Sprintf("%s:%d", host, port))
	t.Timeout = DefaultTimeout
	return &Client{transport: t, slaveID: slaveID}
}

// NewWithTransport wraps an existing transport client.
func NewWithTransport(t transport.Client, slaveID byte) *Client {
	return &Client{transport: t, slaveID: slaveID}
}

// SetTimeout overrides the request timeout when the transport supports it.
func (c *Client) SetTimeout(d time.Duration) {
	if t, ok := c.transport.(interface{ SetTimeout(time.Duration) }); ok {
		t.SetTimeout(d)
	}
}

// Connect opens the underlying transport.
func (c *Client) Connect(ctx context.Context) error {
	return c.transport.Connect(ctx)
}

// Close tears down the session. No reconnection is attempted afterwards.
func (c *Client) Close() error {
	return c.transport.Close()
}

// ReadCoils reads count coil states starting at address.
func (c *Client) ReadCoils(ctx context.Context, address, count uint16) ([]bool, error) {
	return c.ReadCoilsWithSlaveID(ctx, c.slaveID, address, count)
}

// ReadCoilsWithSlaveID reads coils from an explicitly addressed slave.
func (c *Client) ReadCoilsWithSlaveID(ctx context.Context, slaveID byte, address, count uint16) ([]bool, error) {
	data, err := c.readBits(ctx, slaveID, modbus.FuncCodeReadCoils, address, count, modbus.MaxQuantityCoilRead)
	if err != nil {
		return nil, err
	}
	return datautil.BytesToBoolArray(data, int(count)), nil
}

// ReadDiscreteInputs reads count discrete input states starting at address.
func (c *Client) ReadDiscreteInputs(ctx context.Context, address, count uint16) ([]bool, error) {
	return c.ReadDiscreteInputsWithSlaveID(ctx, c.slaveID, address, count)
}

// ReadDiscreteInputsWithSlaveID reads discrete inputs from an explicitly addressed slave.
func (c *Client) ReadDiscreteInputsWithSlaveID(ctx context.Context, slaveID byte, address, count uint16) ([]bool, error) {
	data, err := c.readBits(ctx, slaveID, modbus.FuncCodeReadDiscreteInputs, address, count, modbus.MaxQuantityDiscreteRead)
	if err != nil {
		return nil, err
	}
	return datautil.BytesToBoolArray(data, int(count)), nil
}

// ReadHoldingRegisters reads count holding registers starting at address.
func (c *Client) ReadHoldingRegisters(ctx context.Context, address, count uint16) ([]uint16, error) {
	return c.ReadHoldingRegistersWithSlaveID(ctx, c.slaveID, address, count)
}

// ReadHoldingRegistersWithSlaveID reads holding registers from an explicitly addressed slave.
func (c *Client) ReadHoldingRegistersWithSlaveID(ctx context.Context, slaveID byte, address, count uint16) ([]uint16, error) {
	data, err := c.readRegisters(ctx, slaveID, modbus.FuncCodeReadHoldingRegisters, address, count)
	if err != nil {
		return nil, err
	}
	return datautil.BytesToRegisters(data)
}

// ReadInputRegisters reads count input registers starting at address.
func (c *Client) ReadInputRegisters(ctx context.Context, address, count uint16) ([]uint16, error) {
	return c.ReadInputRegistersWithSlaveID(ctx, c.slaveID, address, count)
}

// ReadInputRegistersWithSlaveID reads input registers from an explicitly addressed slave.
func (c *Client) ReadInputRegistersWithSlaveID(ctx context.Context, slaveID byte, address, count uint16) ([]uint16, error) {
	data, err := c.readRegisters(ctx, slaveID, modbus.FuncCodeReadInputRegisters, address, count)
	if err != nil {
		return nil, err
	}
	return datautil.BytesToRegisters(data)
}

// WriteSingleCoil writes one coil.
func (c *Client) WriteSingleCoil(ctx context.Context, address uint16, on bool) error {
	return c.WriteSingleCoilWithSlaveID(ctx, c.slaveID, address, on)
}

// WriteSingleCoilWithSlaveID writes one coil on an explicitly addressed slave.
func (c *Client) WriteSingleCoilWithSlaveID(ctx context.Context, slaveID byte, address uint16, on bool) error {
	value := uint16(modbus.CoilOff)
	if on {
		value = modbus.CoilOn
	}
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:2], address)
	binary.BigEndian.PutUint16(data[2:4], value)

	resp, err := c.send(ctx, slaveID, modbus.ProtocolDataUnit{
		FunctionCode: modbus.FuncCodeWriteSingleCoil,
		Data:         data,
	})
	if err != nil {
		return err
	}
	return verifyEcho(resp, data)
}

// WriteSingleRegister writes one holding register.
func (c *Client) WriteSingleRegister(ctx context.Context, address, value uint16) error {
	return c.WriteSingleRegisterWithSlaveID(ctx, c.slaveID, address, value)
}

// WriteSingleRegisterWithSlaveID writes one holding register on an explicitly addressed slave.
func (c *Client) WriteSingleRegisterWithSlaveID(ctx context.Context, slaveID byte, address, value uint16) error {
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:2], address)
	binary.BigEndian.PutUint16(data[2:4], value)

	resp, err := c.send(ctx, slaveID, modbus.ProtocolDataUnit{
		FunctionCode: modbus.FuncCodeWriteSingleRegister,
		Data:         data,
	})
	if err != nil {
		return err
	}
	return verifyEcho(resp, data)
}

// WriteMultipleCoils writes len(values) coils starting at address.
func (c *Client) WriteMultipleCoils(ctx context.Context, address uint16, values []bool) error {
	return c.WriteMultipleCoilsWithSlaveID(ctx, c.slaveID, address, values)
}

// WriteMultipleCoilsWithSlaveID writes coils on an explicitly addressed slave.
func (c *Client) WriteMultipleCoilsWithSlaveID(ctx context.Context, slaveID byte, address uint16, values []bool) error {
	count := len(values)
	if count < 1 || count > modbus.MaxQuantityCoilWrite {
		return fmt.Errorf("%w: quantity '%v' must be between '%v' and '%v'", modbus.ErrInvalidDataLength, count, 1, modbus.MaxQuantityCoilWrite)
	}
	packed := datautil.BoolArrayToBytes(values)

	data := make([]byte, 5+len(packed))
	binary.BigEndian.PutUint16(data[0:2], address)
	binary.BigEndian.PutUint16(data[2:4], uint16(count))
	data[4] = byte(len(packed))
	copy(data[5:], packed)

	resp, err := c.send(ctx, slaveID, modbus.ProtocolDataUnit{
		FunctionCode: modbus.FuncCodeWriteMultipleCoils,
		Data:         data,
	})
	if err != nil {
		return err
	}
	return verifyWriteMultiple(resp, address, uint16(count))
}

// WriteMultipleRegisters writes len(values) holding registers starting at address.
func (c *Client) WriteMultipleRegisters(ctx context.Context, address uint16, values []uint16) error {
	return c.WriteMultipleRegistersWithSlaveID(ctx, c.slaveID, address, values)
}

// WriteMultipleRegistersWithSlaveID writes holding registers on an explicitly addressed slave.
func (c *Client) WriteMultipleRegistersWithSlaveID(ctx context.Context, slaveID byte, address uint16, values []uint16) error {
	count := len(values)
	if count < 1 || count > modbus.MaxQuantityRegisterWrite {
		return fmt.Errorf("%w: quantity '%v' must be between '%v' and '%v'", modbus.ErrInvalidDataLength, count, 1, modbus.MaxQuantityRegisterWrite)
	}
	packed := datautil.RegistersToBytes(values)

	data := make([]byte, 5+len(packed))
	binary.BigEndian.PutUint16(data[0:2], address)
	binary.BigEndian.PutUint16(data[2:4], uint16(count))
	data[4] = byte(len(packed))
	copy(data[5:], packed)

	resp, err := c.send(ctx, slaveID, modbus.ProtocolDataUnit{
		FunctionCode: modbus.FuncCodeWriteMultipleRegisters,
		Data:         data,
	})
	if err != nil {
		return err
	}
	return verifyWriteMultiple(resp, address, uint16(count))
}

func (c *Client) readBits(ctx context.Context, slaveID, funcCode byte, address, count, maxQuantity uint16) ([]byte, error) {
	if count < 1 || count > maxQuantity {
		return nil, fmt.Errorf("%w: quantity '%v' must be between '%v' and '%v'", modbus.ErrInvalidDataLength, count, 1, maxQuantity)
	}
	resp, err := c.send(ctx, slaveID, readRequestPDU(funcCode, address, count))
	if err != nil {
		return nil, err
	}
	expected := (int(count) + 7) / 8
	return verifyByteCount(resp, expected)
}

func (c *Client) readRegisters(ctx context.Context, slaveID, funcCode byte, address, count uint16) ([]byte, error) {
	if count < 1 || count > modbus.MaxQuantityRegisterRead {
		return nil, fmt.Errorf("%w: quantity '%v' must be between '%v' and '%v'", modbus.ErrInvalidDataLength, count, 1, modbus.MaxQuantityRegisterRead)
	}
	resp, err := c.send(ctx, slaveID, readRequestPDU(funcCode, address, count))
	if err != nil {
		return nil, err
	}
	return verifyByteCount(resp, int(count)*2)
}

// send performs the request/response exchange and converts exception
// responses into typed errors.
func (c *Client) send(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	resp, err := c.transport.Send(ctx, slaveID, pdu)
	if err != nil {
		return modbus.ProtocolDataUnit{}, err
	}
	if err := modbus.ResponseError(resp); err != nil {
		return modbus.ProtocolDataUnit{}, err
	}
	if resp.FunctionCode != pdu.FunctionCode {
		return modbus.ProtocolDataUnit{}, fmt.Errorf("%w: response function code '%v' does not match request '%v'", modbus.ErrProtocol, resp.FunctionCode, pdu.FunctionCode)
	}
	return resp, nil
}

func readRequestPDU(funcCode byte, address, count uint16) modbus.ProtocolDataUnit {
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:2], address)
	binary.BigEndian.PutUint16(data[2:4], count)
	return modbus.ProtocolDataUnit{FunctionCode: funcCode, Data: data}
}

func verifyByteCount(resp modbus.ProtocolDataUnit, expected int) ([]byte, error) {
	if len(resp.Data) < 1 {
		return nil, fmt.Errorf("%w: empty read response", modbus.ErrInvalidDataLength)
	}
	byteCount := int(resp.Data[0])
	if byteCount != expected || len(resp.Data)-1 != byteCount {
		return nil, fmt.Errorf("%w: response byte count '%v', expected '%v'", modbus.ErrInvalidDataLength, byteCount, expected)
	}
	return resp.Data[1:], nil
}

func verifyEcho(resp modbus.ProtocolDataUnit, request []byte) error {
	if len(resp.Data) != len(request) {
		return fmt.Errorf("%w: response length '%v' does not match request '%v'", modbus.ErrInvalidDataLength, len(resp.Data), len(request))
	}
	for i := range request {
		if resp.Data[i] != request[i] {
			return fmt.Errorf("%w: single write response does not echo the request", modbus.ErrProtocol)
		}
	}
	return nil
}

func verifyWriteMultiple(resp modbus.ProtocolDataUnit, address, count uint16) error {
	if len(resp.Data) != 4 {
		return fmt.Errorf("%w: write multiple response length '%v'", modbus.ErrInvalidDataLength, len(resp.Data))
	}
	respAddr := binary.BigEndian.Uint16(resp.Data[0:2])
	respCount := binary.BigEndian.Uint16(resp.Data[2:4])
	if respAddr != address || respCount != count {
		return fmt.Errorf("%w: write multiple response '%v/%v' does not match request '%v/%v'", modbus.ErrProtocol, respAddr, respCount, address, count)
	}
	return nil
}
