// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.
package rtu

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

// startScanLoop drives the server's scan loop over an in-memory duplex
// stream standing in for the serial port. The returned conn is the
// master's end of the line.
func startScanLoop(t *testing.T, registry *slave.Registry) (net.Conn, context.CancelFunc) {
	t.Helper()

	master, slaveEnd := net.Pipe()
	s := &Server{}
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		s.scanLoop(ctx, slaveEnd, registry.Handle)
	}()

	return master, func() {
		cancel()
		master.Close()
		slaveEnd.Close()
	}
}

func TestScanLoop_ReadHoldingRegisters(t *testing.T) {
	registry := slave.NewRegistry()
	img := registry.AddSlave(0x11)
	img.SetHoldingRegister(0x6B, 0x022B)
	img.SetHoldingRegister(0x6D, 0x0064)

	master, stop := startScanLoop(t, registry)
	defer stop()

	req := []byte{0x11, 0x03, 0x00, 0x6B, 0x00, 0x03, 0x76, 0x87}
	if _, err := master.Write(req); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	respBytes, err := rtupacket.ReadResponse(0x11, 0x03, master, time.Now().Add(1*time.Second))
	if err != nil {
		t.Fatalf("ReadResponse failed: %v", err)
	}
	want := []byte{0x11, 0x03, 0x06, 0x02, 0x2B, 0x00, 0x00, 0x00, 0x64, 0xC8, 0xBA}
	if !bytes.Equal(respBytes, want) {
		t.Errorf("response = % X, want % X", respBytes, want)
	}
}

func TestScanLoop_CRCCorruptionDroppedSilently(t *testing.T) {
	registry := slave.NewRegistry()
	registry.AddSlave(0x11)

	master, stop := startScanLoop(t, registry)
	defer stop()

	corrupt := []byte{0x11, 0x03, 0x00, 0x6B, 0x00, 0x03, 0x76, 0x88}
	if _, err := master.Write(corrupt); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	master.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	buf := make([]byte, 16)
	if n, err := master.Read(buf); err == nil {
		t.Fatalf("corrupted frame produced a reply: % X", buf[:n])
	}
}

func TestScanLoop_UnregisteredSlaveDropped(t *testing.T) {
	registry := slave.NewRegistry()
	registry.AddSlave(0x11)

	master, stop := startScanLoop(t, registry)
	defer stop()

	// Unit 0x22 is not hosted here: a serial slave stays silent instead of
	// answering for someone else on the bus.
	req := &rtupacket.ApplicationDataUnit{
		SlaveID: 0x22,
		Pdu:     modbus.ProtocolDataUnit{FunctionCode: 0x03, Data: []byte{0x00, 0x00, 0x00, 0x01}},
	}
	raw, _ := req.Encode()
	if _, err := master.Write(raw); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	master.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	buf := make([]byte, 16)
	if n, err := master.Read(buf); err == nil {
		t.Fatalf("unaddressed request produced a reply: % X", buf[:n])
	}
}

func TestScanLoop_BroadcastWrite(t *testing.T) {
	registry := slave.NewRegistry()
	imgA := registry.AddSlave(1)
	imgB := registry.AddSlave(2)

	master, stop := startScanLoop(t, registry)
	defer stop()

	req := &rtupacket.ApplicationDataUnit{
		SlaveID: 0,
		Pdu:     modbus.ProtocolDataUnit{FunctionCode: 0x06, Data: []byte{0x00, 0x10, 0x12, 0x34}},
	}
	raw, _ := req.Encode()
	if _, err := master.Write(raw); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	master.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	buf := make([]byte, 16)
	if n, err := master.Read(buf); err == nil {
		t.Fatalf("broadcast produced a reply: % X", buf[:n])
	}

	if v := imgA.HoldingRegister(0x10); v != 0x1234 {
		t.Errorf("slave 1 register = 0x%04X, want 0x1234", v)
	}
	if v := imgB.HoldingRegister(0x10); v != 0x1234 {
		t.Errorf("slave 2 register = 0x%04X, want 0x1234", v)
	}
}

func TestConfigFixupDefaults(t *testing.T) {
	cfg := Config{Device: "/dev/ttyUSB0", BaudRate: 9600}
	cfg.fixup()

	if cfg.DataBits != 8 || cfg.Parity != "N" || cfg.StopBits != 1 {
		t.Errorf("expected 8N1 defaults, got %d%s%d", cfg.DataBits, cfg.Parity, cfg.StopBits)
	}
	if cfg.BaudRate != 9600 {
		t.Errorf("BaudRate = %d, want 9600 preserved", cfg.BaudRate)
	}
	if cfg.Timeout == 0 {
		t.Error("Timeout default missing")
	}
}

func TestCalculateDelay(t *testing.T) {
	mb := &rtuSerialTransporter{}
	mb.Config.BaudRate = 9600

	// 3.5 character times at 9600 baud ~ 3.6ms frame delay plus per-char time.
	d := mb.calculateDelay(0)
	if d < 3*time.Millisecond || d > 5*time.Millisecond {
		t.Errorf("frame delay at 9600 baud = %v", d)
	}

	// Above 19200 baud the standard's fixed 1.75ms floor applies.
	mb.Config.BaudRate = 115200
	d = mb.calculateDelay(0)
	if d != 1750*time.Microsecond {
		t.Errorf("frame delay at 115200 baud = %v, want 1.75ms", d)
	}
}
