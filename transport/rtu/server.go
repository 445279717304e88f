// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/grid-x/serial"
	rtupacket "github.com/iotzf/modbus-go/modbus/rtu"
	"github.com/iotzf/modbus-go/transport"
)

// Server implements a Modbus RTU slave on a serial line. The bus is
// single-master, so a single read loop serves the port. Frames that fail
// the CRC check and requests for unregistered slave ids are dropped
// without reply; the master's timeout is the error signal.
type Server struct {
	Config Config

	port io.ReadWriteCloser
}

// NewServer creates a new RTU Server.
func NewServer(cfg Config) *Server {
	cfg.fixup()
	return &Server{
		Config: cfg,
	}
}

// Run opens the serial port and blocks scanning frames until ctx is canceled.
func (s *Server) Run(ctx context.Context, handler transport.RequestHandler) error {
	port, err := serial.Open(s.Config.serialConfig())
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", s.Config.Device, err)
	}
	s.port = port
	defer port.Close()
	slog.Info("Modbus RTU server listening", "device", s.Config.Device)

	go func() {
		<-ctx.Done()
		port.Close()
	}()

	return s.scanLoop(ctx, port, handler)
}

func (s *Server) scanLoop(ctx context.Context, port io.ReadWriteCloser, handler transport.RequestHandler) error {
	buf := make([]byte, rtupacket.MaxSize)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		// Read 1 byte to unblock; the OS read timeout configured on the
		// port bounds the wait and doubles as the inter-frame gap.
		n, err := port.Read(buf[:1])
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}
		if n == 0 {
			continue
		}

		// Read up to 7 bytes total; that covers the ByteCount field of the
		// variable-length write functions.
		current := 1
		need := 7

		for current < need {
			n, err := port.Read(buf[current:need])
			if err != nil {
				break
			}
			current += n
		}

		if current < 2 {
			continue
		}

		functionCode := buf[1]

		expectedLen, err := rtupacket.CalculateRequestLength(functionCode, buf[:current])
		if err != nil {
			// Unknown shape; discard and wait for the next silent interval.
			continue
		}

		for current < expectedLen {
			n, err := port.Read(buf[current:expectedLen])
			if err != nil {
				break
			}
			current += n
		}

		if current != expectedLen {
			continue
		}

		adu, err := rtupacket.Decode(buf[:expectedLen])
		if err != nil {
			// CRC mismatch: drop silently, the master will time out.
			continue
		}

		respPdu, err := handler(ctx, adu.SlaveID, adu.Pdu)
		if err != nil {
			// Broadcast and unaddressed requests produce no reply on a
			// serial bus; answering would collide with another device.
			if ctx.Err() != nil {
				return nil
			}
			continue
		}

		respAdu := &rtupacket.ApplicationDataUnit{
			SlaveID: adu.SlaveID,
			Pdu:     respPdu,
		}
		respRaw, err := respAdu.Encode()
		if err != nil {
			slog.Error("Failed to encode RTU response", "err", err)
			continue
		}

		if _, err := port.Write(respRaw); err != nil {
			slog.Error("Failed to write RTU response", "err", err)
		}
	}
}

// Close closes the serial port.
func (s *Server) Close() error {
	if s.port != nil {
		return s.port.Close()
	}
	return nil
}
