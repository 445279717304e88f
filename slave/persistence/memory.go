// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import "github.com/iotzf/modbus-go/slave"

// MemoryStorage is the non-persistent default: the image itself is the
// storage, so every Load hands out a fresh zero image and the hooks do
// nothing. It exists so the daemon can treat all backends uniformly.
type MemoryStorage struct{}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

// Load returns a fresh zero image; nothing outlives the process.
func (ms *MemoryStorage) Load() (*slave.Image, error) {
	return slave.NewImage(), nil
}

// Save has nowhere to persist to.
func (ms *MemoryStorage) Save(img *slave.Image) error {
	return nil
}

// OnWrite is a no-op; the image already holds the data.
func (ms *MemoryStorage) OnWrite(space slave.Space, address, quantity uint16) {
}

// Close has nothing to release.
func (ms *MemoryStorage) Close() error {
	return nil
}
