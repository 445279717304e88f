// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.
package persistence

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/iotzf/modbus-go/slave"

	_ "modernc.org/sqlite"
)

func TestSnapshotRoundTrip(t *testing.T) {
	img := slave.NewImage()
	img.SetCoil(0, true)
	img.SetCoil(9, true)
	img.SetCoil(slave.MaxAddress, true)
	img.SetDiscreteInput(4, true)
	img.SetHoldingRegister(0x6B, 0x022B)
	img.SetHoldingRegister(slave.MaxAddress, 0xFFFF)
	img.SetInputRegister(7, 0xBEEF)

	buf := newSnapshot()
	encodeSnapshot(buf, img)

	got, err := decodeSnapshot(buf)
	if err != nil {
		t.Fatalf("decodeSnapshot failed: %v", err)
	}
	if !got.Coil(0) || !got.Coil(9) || got.Coil(1) || !got.Coil(slave.MaxAddress) {
		t.Error("coil bits lost in round trip")
	}
	if !got.DiscreteInput(4) || got.DiscreteInput(5) {
		t.Error("discrete input bits lost in round trip")
	}
	if got.HoldingRegister(0x6B) != 0x022B || got.HoldingRegister(slave.MaxAddress) != 0xFFFF {
		t.Error("holding registers lost in round trip")
	}
	if got.InputRegister(7) != 0xBEEF {
		t.Error("input registers lost in round trip")
	}
}

func TestSnapshotPartialEncode(t *testing.T) {
	img := slave.NewImage()
	buf := newSnapshot()

	// A register write maps to exactly its two bytes.
	img.SetHoldingRegister(5, 0x1234)
	start, end := encodeRange(buf, img, slave.SpaceHoldingRegisters, 5, 1)
	if start != offsetHolding+10 || end != offsetHolding+12 {
		t.Errorf("register span = [%d, %d), want [%d, %d)", start, end, offsetHolding+10, offsetHolding+12)
	}

	// A coil write widens to the bytes covering its bits.
	img.SetCoil(10, true)
	start, end = encodeRange(buf, img, slave.SpaceCoils, 10, 1)
	if start != offsetCoils+1 || end != offsetCoils+2 {
		t.Errorf("coil span = [%d, %d), want [%d, %d)", start, end, offsetCoils+1, offsetCoils+2)
	}

	got, err := decodeSnapshot(buf)
	if err != nil {
		t.Fatalf("decodeSnapshot failed: %v", err)
	}
	if got.HoldingRegister(5) != 0x1234 || !got.Coil(10) {
		t.Error("partial encodes not visible after decode")
	}
}

func TestSnapshotHeaderValidation(t *testing.T) {
	if _, err := decodeSnapshot(make([]byte, 16)); err == nil {
		t.Error("short snapshot should be rejected")
	}
	buf := newSnapshot()
	buf[0] ^= 0xFF
	if _, err := decodeSnapshot(buf); err == nil {
		t.Error("bad magic should be rejected")
	}
}

func TestMemoryStorage(t *testing.T) {
	s := NewMemoryStorage()
	img, err := s.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	img.SetHoldingRegister(1, 42)
	if err := s.Save(img); err != nil {
		t.Errorf("Save failed: %v", err)
	}
	// Memory storage does not survive a reload.
	img2, _ := s.Load()
	if v := img2.HoldingRegister(1); v != 0 {
		t.Errorf("fresh image register = %d, want 0", v)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestFileStorageRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image.snap")

	s := NewFileStorage(path)
	img, err := s.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	Attach(img, s)

	img.SetHoldingRegister(0x10, 0x1234)
	img.SetCoil(3, true)
	img.SetInputRegister(5, 0xBEEF)
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Reload from disk.
	s2 := NewFileStorage(path)
	img2, err := s2.Load()
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	defer s2.Close()

	if v := img2.HoldingRegister(0x10); v != 0x1234 {
		t.Errorf("register = %04X, want 1234", v)
	}
	if !img2.Coil(3) {
		t.Error("coil 3 should survive reload")
	}
	if v := img2.InputRegister(5); v != 0xBEEF {
		t.Errorf("input register = %04X, want BEEF", v)
	}
}

func TestFileStorageRejectsCorruptSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image.snap")
	if err := os.WriteFile(path, []byte("not a snapshot"), 0644); err != nil {
		t.Fatal(err)
	}

	s := NewFileStorage(path)
	if _, err := s.Load(); err == nil {
		t.Error("Load should reject a corrupt snapshot instead of truncating it")
	}
}

func TestMmapStorageRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image.snap")

	s := NewMmapStorage(path)
	img, err := s.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	Attach(img, s)

	img.SetHoldingRegister(100, 0xCAFE)
	img.WriteMultipleCoils(0, 10, []byte{0xCD, 0x01})
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	s2 := NewMmapStorage(path)
	img2, err := s2.Load()
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	defer s2.Close()

	if v := img2.HoldingRegister(100); v != 0xCAFE {
		t.Errorf("register = %04X, want CAFE", v)
	}
	if !img2.Coil(0) || img2.Coil(1) {
		t.Error("coil pattern should survive reload")
	}
}

func TestMmapStorageRejectsWrongSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image.snap")
	if err := os.WriteFile(path, make([]byte, 100), 0644); err != nil {
		t.Fatal(err)
	}

	s := NewMmapStorage(path)
	if _, err := s.Load(); err == nil {
		t.Error("Load should reject a wrong-sized snapshot instead of truncating it")
	}
}

func TestSQLStorageRoundTrip(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "image.db")

	s := NewSQLStorage("sqlite", dsn)
	img, err := s.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	Attach(img, s)

	img.SetHoldingRegister(7, 0x0102)
	img.SetCoil(9, true)
	s.Close()

	s2 := NewSQLStorage("sqlite", dsn)
	img2, err := s2.Load()
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	defer s2.Close()

	if v := img2.HoldingRegister(7); v != 0x0102 {
		t.Errorf("register = %04X, want 0102", v)
	}
	if !img2.Coil(9) {
		t.Error("coil 9 should survive reload")
	}
}

func TestSQLStorageKeepsTableSparse(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "image.db")

	s := NewSQLStorage("sqlite", dsn)
	img, err := s.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	Attach(img, s)

	img.SetHoldingRegister(7, 0x0102)
	// Writing the cell back to zero removes its row.
	img.SetHoldingRegister(7, 0)

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM image_cells").Scan(&count); err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	if count != 0 {
		t.Errorf("table holds %d rows, want 0 after zeroing", count)
	}
	s.Close()
}

func BenchmarkFileStorageOnWrite(b *testing.B) {
	path := filepath.Join(b.TempDir(), "image.snap")
	s := NewFileStorage(path)
	img, err := s.Load()
	if err != nil {
		b.Fatal(err)
	}
	Attach(img, s)
	defer s.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		img.SetHoldingRegister(uint16(i%slave.MaxAddress), uint16(i))
	}
}

func BenchmarkMmapStorageOnWrite(b *testing.B) {
	path := filepath.Join(b.TempDir(), "image.snap")
	s := NewMmapStorage(path)
	img, err := s.Load()
	if err != nil {
		b.Fatal(err)
	}
	Attach(img, s)
	defer s.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		img.SetHoldingRegister(uint16(i%slave.MaxAddress), uint16(i))
	}
}
