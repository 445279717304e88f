// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package tcp

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/iotzf/modbus-go/modbus"
)

const (
	tcpTimeout = 1 * time.Second
)

// Client implements a Modbus TCP client session over a single persistent
// connection. Transaction ids increment per request; a response whose
// transaction id matches an earlier timed-out request is discarded instead
// of being paired with the current one.
type Client struct {
	Address string
	Timeout time.Duration

	mu            sync.Mutex
	conn          net.Conn
	transactionID uint16
	// stale holds transaction ids of requests that timed out but whose
	// responses may still arrive on the stream.
	stale map[uint16]struct{}
}

// NewClient allocates and initializes a TCP Client.
func NewClient(address string) *Client {
	return &Client{
		Address: address,
		Timeout: tcpTimeout,
		stale:   make(map[uint16]struct{}),
	}
}

// Send sends a PDU to a slave and returns the paired response PDU.
func (mb *Client) Send(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if err := mb.connect(); err != nil {
		return modbus.ProtocolDataUnit{}, fmt.Errorf("modbus: failed to connect to %s: %w", mb.Address, err)
	}

	mb.transactionID++
	adu := &ApplicationDataUnit{
		TransactionID: mb.transactionID,
		ProtocolID:    0,
		SlaveID:       slaveID,
		Pdu:           pdu,
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
		return modbus.ProtocolDataUnit{}, err
	}

	slog.Debug("send to modbus tcp slave", "request", hex.EncodeToString(aduBytes))
	if _, err := mb.conn.Write(aduBytes); err != nil {
		mb.close()
		return modbus.ProtocolDataUnit{}, fmt.Errorf("failed to write to connection: %w", err)
	}

	respAdu, err := mb.readMatching(adu)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			// The response may still arrive later; remember the id so the
			// next request can skip it instead of closing the session.
			mb.stale[adu.TransactionID] = struct{}{}
			return modbus.ProtocolDataUnit{}, modbus.ErrTimeout
		}
		mb.close()
		return modbus.ProtocolDataUnit{}, err
	}

	if err := adu.Verify(respAdu); err != nil {
		mb.close()
		return modbus.ProtocolDataUnit{}, fmt.Errorf("verification failed: %w", err)
	}

	return respAdu.Pdu, nil
}

// readMatching reads frames off the stream until one carries the pending
// transaction id. Frames for stale (timed-out) transactions are discarded;
// any other id is a protocol error.
func (mb *Client) readMatching(req *ApplicationDataUnit) (*ApplicationDataUnit, error) {
	for {
		raw, err := mb.readFrame()
		if err != nil {
			return nil, err
		}

		respAdu, err := Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to decode response ADU: %w", err)
		}

		if respAdu.TransactionID == req.TransactionID {
			return respAdu, nil
		}
		if _, ok := mb.stale[respAdu.TransactionID]; ok {
			delete(mb.stale, respAdu.TransactionID)
			slog.Debug("discarding late response", "tid", respAdu.TransactionID)
			continue
		}
		return nil, fmt.Errorf("%w: unexpected transaction id '%v'", modbus.ErrProtocol, respAdu.TransactionID)
	}
}

func (mb *Client) readFrame() ([]byte, error) {
	mbapHeader := make([]byte, mbapHeaderSize)
	if _, err := io.ReadFull(mb.conn, mbapHeader); err != nil {
		return nil, err
	}

	length := int(mbapHeader[4])<<8 | int(mbapHeader[5])
	if length < 2 || mbapHeaderSize+length > tcpMaxSize {
		return nil, fmt.Errorf("%w: mbap length '%v' out of range", modbus.ErrInvalidDataLength, length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(mb.conn, payload); err != nil {
		return nil, err
	}

	response := make([]byte, mbapHeaderSize+length)
	copy(response, mbapHeader)
	copy(response[mbapHeaderSize:], payload)

	slog.Debug("recv from modbus tcp slave", "response", hex.EncodeToString(response))
	return response, nil
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

// close closes the connection and resets session state. Caller must hold the mutex.
func (mb *Client) close() {
	if mb.conn != nil {
		mb.conn.Close()
		mb.conn = nil
	}
	mb.stale = make(map[uint16]struct{})
}
