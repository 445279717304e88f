// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.
package tcp

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/iotzf/modbus-go/modbus"
	"github.com/iotzf/modbus-go/slave"
)

func TestClient_Send(t *testing.T) {
	registry := slave.NewRegistry()
	img := registry.AddSlave(1)
	img.SetHoldingRegister(0x6B, 0x022B)
	img.SetHoldingRegister(0x6D, 0x0064)

	addr, cancel := startServer(t, registry)
	defer cancel()

	c := NewClient(addr)
	defer c.Close()

	// Wait for server startup via retry dial.
	dialWithRetry(t, addr).Close()

	resp, err := c.Send(context.Background(), 1, modbus.ProtocolDataUnit{
		FunctionCode: 0x03,
		Data:         []byte{0x00, 0x6B, 0x00, 0x03},
	})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	want := []byte{0x06, 0x02, 0x2B, 0x00, 0x00, 0x00, 0x64}
	if resp.FunctionCode != 0x03 || !bytes.Equal(resp.Data, want) {
		t.Errorf("response = %02X % X, want 03 % X", resp.FunctionCode, resp.Data, want)
	}
}

func TestClient_TimeoutThenDiscardLateResponse(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	// A hand-rolled peer: swallows the first request, then on the second
	// request first emits the late response for the first transaction and
	// only afterwards the matching one.
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		buf := make([]byte, 260)

		// Request 1: read and stay silent.
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		first, err := Decode(append([]byte(nil), buf[:n]...))
		if err != nil {
			return
		}

		// Request 2: reply late-then-matching.
		n, err = conn.Read(buf)
		if err != nil {
			return
		}
		second, err := Decode(append([]byte(nil), buf[:n]...))
		if err != nil {
			return
		}

		lateResp := &ApplicationDataUnit{
			TransactionID: first.TransactionID,
			SlaveID:       first.SlaveID,
			Pdu:           modbus.ProtocolDataUnit{FunctionCode: 0x03, Data: []byte{0x02, 0x00, 0x01}},
		}
		lateRaw, _ := lateResp.Encode()
		conn.Write(lateRaw)

		matchResp := &ApplicationDataUnit{
			TransactionID: second.TransactionID,
			SlaveID:       second.SlaveID,
			Pdu:           modbus.ProtocolDataUnit{FunctionCode: 0x03, Data: []byte{0x02, 0x00, 0x02}},
		}
		matchRaw, _ := matchResp.Encode()
		conn.Write(matchRaw)
	}()

	c := NewClient(l.Addr().String())
	c.Timeout = 200 * time.Millisecond
	defer c.Close()

	req := modbus.ProtocolDataUnit{FunctionCode: 0x03, Data: []byte{0x00, 0x00, 0x00, 0x01}}

	if _, err := c.Send(context.Background(), 1, req); !errors.Is(err, modbus.ErrTimeout) {
		t.Fatalf("first Send error = %v, want ErrTimeout", err)
	}

	resp, err := c.Send(context.Background(), 1, req)
	if err != nil {
		t.Fatalf("second Send failed: %v", err)
	}
	if !bytes.Equal(resp.Data, []byte{0x02, 0x00, 0x02}) {
		t.Errorf("second response data = % X, want the matching transaction's payload", resp.Data)
	}
}

func TestClient_UnexpectedTransactionClosesSession(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		buf := make([]byte, 260)
		if _, err := conn.Read(buf); err != nil {
			return
		}
		// Reply with a transaction id that was never issued.
		bogus := &ApplicationDataUnit{
			TransactionID: 0x7777,
			SlaveID:       1,
			Pdu:           modbus.ProtocolDataUnit{FunctionCode: 0x03, Data: []byte{0x02, 0x00, 0x01}},
		}
		raw, _ := bogus.Encode()
		conn.Write(raw)
	}()

	c := NewClient(l.Addr().String())
	c.Timeout = 500 * time.Millisecond
	defer c.Close()

	req := modbus.ProtocolDataUnit{FunctionCode: 0x03, Data: []byte{0x00, 0x00, 0x00, 0x01}}
	if _, err := c.Send(context.Background(), 1, req); !errors.Is(err, modbus.ErrProtocol) {
		t.Fatalf("Send error = %v, want ErrProtocol", err)
	}
	if c.conn != nil {
		t.Error("session should be closed after a protocol error")
	}
}
