// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package tcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/iotzf/modbus-go/modbus"
	"github.com/iotzf/modbus-go/transport"
)

// Server implements a Modbus TCP Server. Each accepted connection is served
// by its own goroutine; one request is outstanding per connection at a time.
type Server struct {
	Address string

	listener net.Listener
}

// NewServer creates a new TCP Server.
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
	slog.Info("Modbus TCP server listening", "addr", s.Address)

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
	slog.Info("New TCP client connected", "addr", conn.RemoteAddr())

	buf := make([]byte, tcpMaxSize)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// MBAP framing is unambiguous: 6-byte header, then length bytes
		// (unit id plus PDU).
		if _, err := io.ReadFull(conn, buf[:mbapHeaderSize]); err != nil {
			if err != io.EOF {
				slog.Error("Failed to read MBAP header", "addr", conn.RemoteAddr(), "err", err)
			} else {
				slog.Info("TCP client disconnected gracefully", "addr", conn.RemoteAddr())
			}
			return
		}

		length := int(buf[4])<<8 | int(buf[5])
		if length < 2 || mbapHeaderSize+length > tcpMaxSize {
			slog.Error("Invalid MBAP length, closing connection", "addr", conn.RemoteAddr(), "length", length)
			return
		}
		if _, err := io.ReadFull(conn, buf[mbapHeaderSize:mbapHeaderSize+length]); err != nil {
			slog.Error("Failed to read MBAP payload", "addr", conn.RemoteAddr(), "err", err)
			return
		}

		adu, err := Decode(buf[:mbapHeaderSize+length])
		if err != nil {
			// A structural violation desynchronizes the stream; close.
			slog.Error("Failed to decode TCP request", "addr", conn.RemoteAddr(), "err", err)
			return
		}

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

		respAdu := &ApplicationDataUnit{
			TransactionID: adu.TransactionID,
			ProtocolID:    adu.ProtocolID,
			SlaveID:       adu.SlaveID,
			Pdu:           respPdu,
		}

		respRaw, err := respAdu.Encode()
		if err != nil {
			slog.Error("Failed to encode TCP response", "err", err)
			continue
		}

		if _, err := conn.Write(respRaw); err != nil {
			slog.Error("Failed to write response to connection", "err", err)
			return
		}
	}
}
