// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/iotzf/modbus-go/modbus"
	rtupacket "github.com/iotzf/modbus-go/modbus/rtu"
)

// Client implements a Modbus RTU master on a serial line.
type Client struct {
	rtuSerialTransporter
}

// NewClient allocates and initializes an RTU Client.
func NewClient(cfg Config) *Client {
	cfg.fixup()

	client := &Client{}
	client.serialPort.Config = cfg
	client.IdleTimeout = serialIdleTimeout
	return client
}

// Send sends a PDU to the addressed slave and reads the paired response.
func (mb *Client) Send(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	adu := &rtupacket.ApplicationDataUnit{
		SlaveID: slaveID,
		Pdu:     pdu,
	}

	aduBytes, err := adu.Encode()
	if err != nil {
		return modbus.ProtocolDataUnit{}, fmt.Errorf("failed to encode ADU: %w", err)
	}

	respBytes, err := mb.rtuSerialTransporter.Send(ctx, aduBytes)
	if err != nil {
		return modbus.ProtocolDataUnit{}, err
	}

	respAdu, err := rtupacket.Decode(respBytes)
	if err != nil {
		return modbus.ProtocolDataUnit{}, fmt.Errorf("failed to decode response ADU: %w", err)
	}

	if err := adu.Verify(respAdu); err != nil {
		return modbus.ProtocolDataUnit{}, fmt.Errorf("verification failed: %w", err)
	}

	return respAdu.Pdu, nil
}

// SetTimeout overrides the response wait timeout. It takes effect for
// ports opened afterwards; call it before Connect.
func (mb *Client) SetTimeout(d time.Duration) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.serialPort.Config.Timeout = d
}

// rtuSerialTransporter implements underlying serial comms.
type rtuSerialTransporter struct {
	serialPort
}

func (mb *rtuSerialTransporter) Send(ctx context.Context, aduRequest []byte) (aduResponse []byte, err error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if err = mb.connect(ctx); err != nil {
		return
	}
	mb.lastActivity = time.Now()
	mb.startCloseTimer()

	slog.Debug("send to modbus slave", "request", hex.EncodeToString(aduRequest))
	if _, err = mb.port.Write(aduRequest); err != nil {
		mb.close()
		return
	}

	// Hold off for the inter-frame silent interval plus the time the
	// response occupies on the wire before draining the port.
	bytesToRead := rtupacket.CalculateResponseLength(aduRequest)
	select {
	case <-ctx.Done():
		// Desynchronized mid-request; drop the port so the next request
		// starts on a clean frame boundary.
		mb.close()
		return nil, ctx.Err()
	case <-time.After(mb.calculateDelay(len(aduRequest) + bytesToRead)):
	}

	data, err := rtupacket.ReadResponse(aduRequest[0], aduRequest[1], mb.port, time.Now().Add(mb.Config.Timeout))
	if err != nil {
		// RTU has no correlation id; a late frame would pair with the
		// wrong request, so the session closes on timeout too.
		mb.close()
		if errors.Is(err, modbus.ErrTimeout) {
			return nil, modbus.ErrTimeout
		}
		return nil, err
	}
	slog.Debug("recv from modbus slave", "response", hex.EncodeToString(data))
	aduResponse = data
	return
}

// calculateDelay calculates the needed delay to separate frames
// (3.5 character times, 1.75 ms floor above 19200 baud).
func (mb *rtuSerialTransporter) calculateDelay(chars int) time.Duration {
	var characterDelay, frameDelay int

	if mb.BaudRate <= 0 || mb.BaudRate > 19200 {
		characterDelay = 750
		frameDelay = 1750
	} else {
		characterDelay = 15000000 / mb.BaudRate
		frameDelay = 35000000 / mb.BaudRate
	}
	return time.Duration(characterDelay*chars+frameDelay) * time.Microsecond
}
