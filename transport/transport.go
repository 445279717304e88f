// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package transport defines the contracts shared by the three Modbus wire
// transports (TCP, RTU, RTU over TCP). Servers decode inbound frames and
// hand the PDU plus slave id to a RequestHandler; clients wrap a PDU in the
// transport's framing and pair it with the matching response.
package transport

import (
	"context"

	"github.com/iotzf/modbus-go/modbus"
)

// RequestHandler executes one Modbus request against slave state and returns
// the response PDU. Two sentinel errors steer the server's reply policy:
// modbus.ErrNoResponse suppresses the reply entirely (broadcast), and
// modbus.ErrSlaveNotFound marks a request for an unregistered slave id, which
// TCP-framed servers answer with a GatewayTargetDeviceFailedToRespond
// exception and the serial RTU server drops.
type RequestHandler func(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error)

// Server accepts requests from external masters and dispatches them to a
// RequestHandler.
type Server interface {
	// Run drives the accept/read loop until ctx is canceled or a terminal
	// error occurs. It blocks; call it in a goroutine.
	Run(ctx context.Context, handler RequestHandler) error
	Close() error
}

// Client sends request PDUs to a remote slave and returns the paired
// response PDU.
type Client interface {
	Send(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error)
	Connect(ctx context.Context) error
	Close() error
}
