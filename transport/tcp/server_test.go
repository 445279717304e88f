// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.
package tcp

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/iotzf/modbus-go/slave"
)

// startServer runs a Server backed by a registry and returns its address.
func startServer(t *testing.T, registry *slave.Registry) (string, context.CancelFunc) {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	l.Close() // Close so Server can bind to it immediately

	s := NewServer(addr)
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		s.Run(ctx, registry.Handle)
	}()
	return addr, cancel
}

func dialWithRetry(t *testing.T, addr string) net.Conn {
	t.Helper()
	var conn net.Conn
	var err error
	for i := 0; i < 20; i++ {
		conn, err = net.Dial("tcp", addr)
		if err == nil {
			return conn
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Failed to connect to server after retries, last error: %v", err)
	return nil
}

func TestServer_ReadWrite(t *testing.T) {
	registry := slave.NewRegistry()
	img := registry.AddSlave(1)
	img.SetHoldingRegister(1, 0xAABB)

	addr, cancel := startServer(t, registry)
	defer cancel()

	conn := dialWithRetry(t, addr)
	defer conn.Close()

	// ReadHoldingRegisters addr 1 count 1.
	req := []byte{0x00, 0x7B, 0x00, 0x00, 0x00, 0x06, 0x01, 0x03, 0x00, 0x01, 0x00, 0x01}
	if _, err := conn.Write(req); err != nil {
		t.Fatalf("Failed to write request: %v", err)
	}

	resp := readFrame(t, conn)
	want := []byte{0x00, 0x7B, 0x00, 0x00, 0x00, 0x05, 0x01, 0x03, 0x02, 0xAA, 0xBB}
	if !bytes.Equal(resp, want) {
		t.Errorf("response = % X, want % X", resp, want)
	}

	// WriteMultipleRegisters addr 1 count 2 values 0x1234 0x5678.
	req2 := []byte{0x00, 0x7C, 0x00, 0x00, 0x00, 0x0B, 0x01, 0x10, 0x00, 0x01, 0x00, 0x02, 0x04, 0x12, 0x34, 0x56, 0x78}
	if _, err := conn.Write(req2); err != nil {
		t.Fatalf("Failed to write request 2: %v", err)
	}
	resp = readFrame(t, conn)
	want = []byte{0x00, 0x7C, 0x00, 0x00, 0x00, 0x06, 0x01, 0x10, 0x00, 0x01, 0x00, 0x02}
	if !bytes.Equal(resp, want) {
		t.Errorf("response = % X, want % X", resp, want)
	}
	if v := img.HoldingRegister(1); v != 0x1234 {
		t.Errorf("register 1 = 0x%04X, want 0x1234", v)
	}
	if v := img.HoldingRegister(2); v != 0x5678 {
		t.Errorf("register 2 = 0x%04X, want 0x5678", v)
	}
}

func TestServer_ExceptionOutOfRange(t *testing.T) {
	registry := slave.NewRegistry()
	registry.AddSlave(1)

	addr, cancel := startServer(t, registry)
	defer cancel()

	conn := dialWithRetry(t, addr)
	defer conn.Close()

	// ReadCoils at 0xFFFF count 1 overflows the address space.
	req := []byte{0x00, 0x05, 0x00, 0x00, 0x00, 0x06, 0x01, 0x01, 0xFF, 0xFF, 0x00, 0x01}
	if _, err := conn.Write(req); err != nil {
		t.Fatalf("Failed to write request: %v", err)
	}

	resp := readFrame(t, conn)
	want := []byte{0x00, 0x05, 0x00, 0x00, 0x00, 0x03, 0x01, 0x81, 0x02}
	if !bytes.Equal(resp, want) {
		t.Errorf("response = % X, want % X", resp, want)
	}
}

func TestServer_UnregisteredSlave(t *testing.T) {
	registry := slave.NewRegistry()
	registry.AddSlave(1)

	addr, cancel := startServer(t, registry)
	defer cancel()

	conn := dialWithRetry(t, addr)
	defer conn.Close()

	// Unit 9 is not registered: gateway target failed to respond.
	req := []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x06, 0x09, 0x03, 0x00, 0x00, 0x00, 0x01}
	if _, err := conn.Write(req); err != nil {
		t.Fatalf("Failed to write request: %v", err)
	}

	resp := readFrame(t, conn)
	want := []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x03, 0x09, 0x83, 0x0B}
	if !bytes.Equal(resp, want) {
		t.Errorf("response = % X, want % X", resp, want)
	}
}

func TestServer_BroadcastNoReply(t *testing.T) {
	registry := slave.NewRegistry()
	imgA := registry.AddSlave(1)
	imgB := registry.AddSlave(2)

	addr, cancel := startServer(t, registry)
	defer cancel()

	conn := dialWithRetry(t, addr)
	defer conn.Close()

	// Broadcast WriteSingleRegister to unit 0: applied everywhere, no reply.
	req := []byte{0x00, 0x02, 0x00, 0x00, 0x00, 0x06, 0x00, 0x06, 0x00, 0x05, 0x12, 0x34}
	if _, err := conn.Write(req); err != nil {
		t.Fatalf("Failed to write request: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	buf := make([]byte, 16)
	if n, err := conn.Read(buf); err == nil {
		t.Errorf("broadcast produced a reply: % X", buf[:n])
	}

	if v := imgA.HoldingRegister(5); v != 0x1234 {
		t.Errorf("slave 1 register 5 = 0x%04X, want 0x1234", v)
	}
	if v := imgB.HoldingRegister(5); v != 0x1234 {
		t.Errorf("slave 2 register 5 = 0x%04X, want 0x1234", v)
	}

	// The connection must still serve the next request.
	conn.SetReadDeadline(time.Time{})
	req2 := []byte{0x00, 0x03, 0x00, 0x00, 0x00, 0x06, 0x01, 0x03, 0x00, 0x05, 0x00, 0x01}
	if _, err := conn.Write(req2); err != nil {
		t.Fatalf("Failed to write request: %v", err)
	}
	resp := readFrame(t, conn)
	want := []byte{0x00, 0x03, 0x00, 0x00, 0x00, 0x05, 0x01, 0x03, 0x02, 0x12, 0x34}
	if !bytes.Equal(resp, want) {
		t.Errorf("response = % X, want % X", resp, want)
	}
}

func TestServer_LifeCycle(t *testing.T) {
	registry := slave.NewRegistry()
	registry.AddSlave(1)

	_, cancel := startServer(t, registry)
	time.Sleep(50 * time.Millisecond)
	cancel()
	time.Sleep(50 * time.Millisecond)
	// Should shutdown gracefully
}

// readFrame reads one MBAP frame off the connection.
func readFrame(t *testing.T, conn net.Conn) []byte {
	t.Helper()
	header := make([]byte, 6)
	if _, err := io.ReadFull(conn, header); err != nil {
		t.Fatalf("Failed to read MBAP header: %v", err)
	}
	length := int(header[4])<<8 | int(header[5])
	payload := make([]byte, length)
	if _, err := io.ReadFull(conn, payload); err != nil {
		t.Fatalf("Failed to read MBAP payload: %v", err)
	}
	return append(header, payload...)
}
