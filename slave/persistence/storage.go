// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package persistence provides optional storage backends for slave images.
// The library default is in-memory; the daemon selects a backend per slave.
// The file and mmap backends share a portable big-endian snapshot format;
// the sql backend keeps a sparse row per non-zero cell.
package persistence

import (
	"log/slog"

	"github.com/iotzf/modbus-go/slave"
)

// Storage loads and persists one slave image.
type Storage interface {
	// Load loads the image from storage, creating a zero image when no
	// data exists yet.
	Load() (*slave.Image, error)

	// Save persists the full image.
	Save(img *slave.Image) error

	// OnWrite is a hook called whenever a cell range is modified. It allows
	// the storage to sync just the changed cells. It runs with the image
	// lock held and must not call back into the image.
	OnWrite(space slave.Space, address, quantity uint16)

	// Close releases the backing resource. The image stays usable in
	// memory but further writes are no longer persisted.
	Close() error
}

// Attach wires the storage's OnWrite hook into the image so wire writes and
// application setters persist as they happen.
func Attach(img *slave.Image, s Storage) {
	img.SetWriteHook(s.OnWrite)
}

// logPersistError reports a failed real-time sync. The write itself already
// landed in the image; only durability is degraded.
func logPersistError(backend string, err error) {
	slog.Error("Failed to persist image write", "backend", backend, "err", err)
}
