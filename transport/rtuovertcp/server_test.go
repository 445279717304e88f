// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.
package rtuovertcp

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/iotzf/modbus-go/modbus"
	rtupacket "github.com/iotzf/modbus-go/modbus/rtu"
	"github.com/iotzf/modbus-go/slave"
)

func startServer(t *testing.T, registry *slave.Registry) (string, context.CancelFunc) {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	l.Close() // Free port

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
	t.Fatalf("Failed to connect: %v", err)
	return nil
}

func TestServer_ReadHoldingRegisters(t *testing.T) {
	registry := slave.NewRegistry()
	img := registry.AddSlave(1)
	img.SetHoldingRegister(0, 0xAABB)

	addr, cancel := startServer(t, registry)
	defer cancel()

	conn := dialWithRetry(t, addr)
	defer conn.Close()

	reqPDU := modbus.ProtocolDataUnit{FunctionCode: 0x03, Data: []byte{0x00, 0x00, 0x00, 0x01}}
	reqADU := &rtupacket.ApplicationDataUnit{SlaveID: 1, Pdu: reqPDU}
	reqBytes, _ := reqADU.Encode()

	if _, err := conn.Write(reqBytes); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	respBytes, err := rtupacket.ReadResponse(1, 0x03, conn, time.Now().Add(1*time.Second))
	if err != nil {
		t.Fatalf("ReadResponse failed: %v", err)
	}

	respADU, err := rtupacket.Decode(respBytes)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	want := []byte{0x02, 0xAA, 0xBB}
	if !bytes.Equal(respADU.Pdu.Data, want) {
		t.Errorf("Data = % X, want % X", respADU.Pdu.Data, want)
	}
}

func TestServer_CRCCorruptionDroppedSilently(t *testing.T) {
	registry := slave.NewRegistry()
	img := registry.AddSlave(0x11)
	img.SetHoldingRegister(0x6B, 0x022B)

	addr, cancel := startServer(t, registry)
	defer cancel()

	conn := dialWithRetry(t, addr)
	defer conn.Close()

	// Scenario: valid ReadHoldingRegisters frame with the last CRC byte
	// flipped. The server must drop it without any reply.
	corrupt := []byte{0x11, 0x03, 0x00, 0x6B, 0x00, 0x03, 0x76, 0x88}
	if _, err := conn.Write(corrupt); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	buf := make([]byte, 16)
	if n, err := conn.Read(buf); err == nil {
		t.Fatalf("corrupted frame produced a reply: % X", buf[:n])
	}

	// The connection survives; the intact frame is answered.
	conn.SetReadDeadline(time.Time{})
	valid := []byte{0x11, 0x03, 0x00, 0x6B, 0x00, 0x03, 0x76, 0x87}
	if _, err := conn.Write(valid); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	respBytes, err := rtupacket.ReadResponse(0x11, 0x03, conn, time.Now().Add(1*time.Second))
	if err != nil {
		t.Fatalf("ReadResponse failed: %v", err)
	}
	respADU, err := rtupacket.Decode(respBytes)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if respADU.Pdu.Data[0] != 0x06 || respADU.Pdu.Data[1] != 0x02 || respADU.Pdu.Data[2] != 0x2B {
		t.Errorf("unexpected data: % X", respADU.Pdu.Data)
	}
}

func TestServer_UnregisteredSlaveException(t *testing.T) {
	registry := slave.NewRegistry()
	registry.AddSlave(1)

	addr, cancel := startServer(t, registry)
	defer cancel()

	conn := dialWithRetry(t, addr)
	defer conn.Close()

	reqADU := &rtupacket.ApplicationDataUnit{
		SlaveID: 9,
		Pdu:     modbus.ProtocolDataUnit{FunctionCode: 0x03, Data: []byte{0x00, 0x00, 0x00, 0x01}},
	}
	reqBytes, _ := reqADU.Encode()
	if _, err := conn.Write(reqBytes); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	respBytes, err := rtupacket.ReadResponse(9, 0x03, conn, time.Now().Add(1*time.Second))
	if err != nil {
		t.Fatalf("ReadResponse failed: %v", err)
	}
	respADU, err := rtupacket.Decode(respBytes)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if respADU.Pdu.FunctionCode != 0x83 || respADU.Pdu.Data[0] != 0x0B {
		t.Errorf("response = %02X % X, want 83 0B", respADU.Pdu.FunctionCode, respADU.Pdu.Data)
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

	reqADU := &rtupacket.ApplicationDataUnit{
		SlaveID: 0,
		Pdu:     modbus.ProtocolDataUnit{FunctionCode: 0x05, Data: []byte{0x00, 0xAC, 0xFF, 0x00}},
	}
	reqBytes, _ := reqADU.Encode()
	if _, err := conn.Write(reqBytes); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	buf := make([]byte, 16)
	if n, err := conn.Read(buf); err == nil {
		t.Fatalf("broadcast produced a reply: % X", buf[:n])
	}

	if !imgA.Coil(0xAC) || !imgB.Coil(0xAC) {
		t.Error("broadcast write should reach every registered slave")
	}
}

func TestClient_Send(t *testing.T) {
	registry := slave.NewRegistry()
	img := registry.AddSlave(1)
	img.SetInputRegister(7, 0xBEEF)

	addr, cancel := startServer(t, registry)
	defer cancel()
	dialWithRetry(t, addr).Close()

	c := NewClient(addr)
	defer c.Close()

	resp, err := c.Send(context.Background(), 1, modbus.ProtocolDataUnit{
		FunctionCode: 0x04,
		Data:         []byte{0x00, 0x07, 0x00, 0x01},
	})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	want := []byte{0x02, 0xBE, 0xEF}
	if !bytes.Equal(resp.Data, want) {
		t.Errorf("Data = % X, want % X", resp.Data, want)
	}
}

func TestClient_TimeoutClosesSession(t *testing.T) {
	// A peer that accepts and stays silent.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()

	c := NewClient(l.Addr().String())
	c.Timeout = 150 * time.Millisecond
	defer c.Close()

	_, err = c.Send(context.Background(), 1, modbus.ProtocolDataUnit{
		FunctionCode: 0x03,
		Data:         []byte{0x00, 0x00, 0x00, 0x01},
	})
	if err == nil {
		t.Fatal("Send should fail on a silent peer")
	}
	if c.conn != nil {
		t.Error("session should be closed after a timeout")
	}
}
