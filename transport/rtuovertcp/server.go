// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package rtuovertcp tunnels strict RTU framing, CRC trailer included,
// through TCP connections. Gateways that bridge serial segments expect the
// CRC to be present and valid even though TCP already guarantees integrity.
package rtuovertcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/iotzf/modbus-go/modbus"
	rtupacket "github.com/iotzf/modbus-go/modbus/rtu"
	"github.com/iotzf/modbus-go/transport"
)

// Server implements a Modbus RTU over TCP Server.
// It listens on a TCP port and handles incoming connections as Modbus RTU streams.
type Server struct {
	Address  string
	listener net.Listener
}

// NewServer creates a new RTU over TCP Server.
func NewServer(address string) *Server {
	return &Server{
		Address: address,
	}
}

// Run starts the accept loop and blocks until ctx is canceled.
func (s *Server) Run(ctx context.Context, handler transport.RequestHandler) error {
	listener, err := net.Listen("tcp", s.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.Address, err)
	}
	s.listener = listener
	slog.Info("RTU over TCP server listening", "addr", s.Address)

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				slog.Error("Failed to accept connection", "err", err)
				continue
			}
		}
		go s.handleConnection(ctx, conn, handler)
	}
}

// Close closes the server listener.
func (s *Server) Close() error {
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn, handler transport.RequestHandler) {
	defer conn.Close()
	slog.Info("New RTU over TCP client connected", "addr", conn.RemoteAddr())

	buf := make([]byte, rtupacket.MaxSize)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// 1. Read the first byte (slave id) to detect the start of a frame.
		n, err := conn.Read(buf[:1])
		if err != nil {
			if err != io.EOF {
				slog.Error("Connection read error", "addr", conn.RemoteAddr(), "err", err)
			}
			return
		}
		if n == 0 {
			continue
		}

		// 2. Read enough header bytes to determine the frame length; 7 bytes
		// total covers the ByteCount field of the variable-length functions.
		current := 1
		need := 7

		for current < need {
			n, err := conn.Read(buf[current:need])
			if err != nil {
				return
			}
			current += n
		}

		// 3. Determine the expected length from the function code.
		functionCode := buf[1]
		expectedLen, err := rtupacket.CalculateRequestLength(functionCode, buf[:current])
		if err != nil {
			// The stream has no length field to skip by, so a frame of
			// unknown shape desynchronizes it; close to reset state.
			slog.Warn("Invalid RTU frame header, closing connection", "func", functionCode, "err", err)
			return
		}

		// 4. Read the remaining body.
		for current < expectedLen {
			n, err := conn.Read(buf[current:expectedLen])
			if err != nil {
				return
			}
			current += n
		}

		// 5. Decode and verify the CRC.
		adu, err := rtupacket.Decode(buf[:expectedLen])
		if err != nil {
			// CRC mismatch: drop the frame silently, Modbus convention.
			slog.Warn("RTU frame dropped", "err", err)
			continue
		}

		// 6. Dispatch.
		respPdu, err := handler(ctx, adu.SlaveID, adu.Pdu)
		if err != nil {
			if errors.Is(err, modbus.ErrNoResponse) {
				continue
			}
			exceptionCode := modbus.ExceptionCodeSlaveDeviceFailure
			if errors.Is(err, modbus.ErrSlaveNotFound) {
				exceptionCode = modbus.ExceptionCodeGatewayTargetDeviceFailedToRespond
			}
			respPdu = modbus.NewExceptionPDU(adu.Pdu.FunctionCode, exceptionCode)
		}

		// 7. Send the response.
		respAdu := &rtupacket.ApplicationDataUnit{
			SlaveID: adu.SlaveID,
			Pdu:     respPdu,
		}

		respRaw, err := respAdu.Encode()
		if err != nil {
			slog.Error("Failed to encode response", "err", err)
			continue
		}

		if _, err := conn.Write(respRaw); err != nil {
			slog.Error("Failed to write response", "err", err)
			return
		}
	}
}
