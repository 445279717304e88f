// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtuovertcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/iotzf/modbus-go/modbus"
	rtupacket "github.com/iotzf/modbus-go/modbus/rtu"
)

const (
	tcpTimeout = 1 * time.Second
)

// Client implements a Modbus RTU over TCP client session. RTU framing has
// no correlation id, so any timeout or framing error resets the connection
// to restore a clean frame boundary.
type Client struct {
	Address string
	Timeout time.Duration

	mu   sync.Mutex
	conn net.Conn
}

// NewClient allocates and initializes an RTU over TCP Client.
func NewClient(address string) *Client {
	return &Client{
		Address: address,
		Timeout: tcpTimeout,
	}
}

// Send sends a PDU to a slave and returns the paired response PDU.
func (mb *Client) Send(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if err := mb.connect(); err != nil {
		return modbus.ProtocolDataUnit{}, fmt.Errorf("modbus: failed to connect to %s: %w", mb.Address, err)
	}

	adu := &rtupacket.ApplicationDataUnit{
		SlaveID: slaveID,
		Pdu:     pdu,
	}

	aduBytes, err := adu.Encode()
	if err != nil {
		return modbus.ProtocolDataUnit{}, fmt.Errorf("failed to encode ADU: %w", err)
	}

	deadline := time.Now().Add(mb.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err = mb.conn.SetDeadline(deadline); err != nil {
		mb.close()
		return modbus.ProtocolDataUnit{}, err
	}

	if _, err := mb.conn.Write(aduBytes); err != nil {
		mb.close()
		return modbus.ProtocolDataUnit{}, fmt.Errorf("failed to write to connection: %w", err)
	}

	// The response is a strict RTU frame; reuse the serial framer.
	respBytes, err := rtupacket.ReadResponse(slaveID, pdu.FunctionCode, mb.conn, deadline)
	if err != nil {
		// A late response would be misattributed to the next request, so
		// the connection is closed rather than resynchronized.
		mb.close()
		if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, modbus.ErrTimeout) {
			return modbus.ProtocolDataUnit{}, modbus.ErrTimeout
		}
		return modbus.ProtocolDataUnit{}, fmt.Errorf("failed to read response: %w", err)
	}

	respAdu, err := rtupacket.Decode(respBytes)
	if err != nil {
		mb.close()
		return modbus.ProtocolDataUnit{}, fmt.Errorf("failed to decode response ADU: %w", err)
	}

	if err := adu.Verify(respAdu); err != nil {
		mb.close()
		return modbus.ProtocolDataUnit{}, fmt.Errorf("verification failed: %w", err)
	}

	return respAdu.Pdu, nil
}

// SetTimeout overrides the per-request timeout.
func (mb *Client) SetTimeout(d time.Duration) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.Timeout = d
}

// Connect implements the transport Client interface.
func (mb *Client) Connect(ctx context.Context) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.connect()
}

// Close implements the transport Client interface.
func (mb *Client) Close() error {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.close()
	return nil
}

// connect ensures there is an active connection. Caller must hold the mutex.
func (mb *Client) connect() error {
	if mb.conn != nil {
		return nil
	}
	conn, err := net.DialTimeout("tcp", mb.Address, mb.Timeout)
	if err != nil {
		return err
	}
	mb.conn = conn
	return nil
}

// close closes the connection and resets the state. Caller must hold the mutex.
func (mb *Client) close() {
	if mb.conn != nil {
		mb.conn.Close()
		mb.conn = nil
	}
}
