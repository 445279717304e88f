// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/iotzf/modbus-go/slave"
)

// MmapStorage persists an image through a memory-mapped snapshot file.
// Changed cells are encoded straight into the mapping, so a write costs no
// syscall until the flush; the snapshot keeps the portable big-endian
// layout rather than aliasing image memory in host byte order.
type MmapStorage struct {
	path string
	file *os.File
	data mmap.MMap
	img  *slave.Image
}

// NewMmapStorage creates a new MmapStorage.
func NewMmapStorage(path string) *MmapStorage {
	return &MmapStorage{
		path: path,
	}
}

// Load maps the snapshot file and decodes it into a fresh image.
func (ms *MmapStorage) Load() (*slave.Image, error) {
	f, err := os.OpenFile(ms.path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot file: %w", err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	fresh := fi.Size() == 0
	if fresh {
		if err := f.Truncate(int64(snapshotSize)); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to size snapshot file: %w", err)
		}
	} else if fi.Size() != int64(snapshotSize) {
		f.Close()
		return nil, fmt.Errorf("snapshot file %s is %d bytes, expected %d", ms.path, fi.Size(), snapshotSize)
	}

	data, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap failed: %w", err)
	}

	if fresh {
		copy(data, newSnapshot())
	}

	img, err := decodeSnapshot(data)
	if err != nil {
		data.Unmap()
		f.Close()
		return nil, fmt.Errorf("snapshot file %s: %w", ms.path, err)
	}

	ms.file = f
	ms.data = data
	ms.img = img
	return img, nil
}

// Save re-encodes the full image into the mapping and flushes it.
func (ms *MmapStorage) Save(img *slave.Image) error {
	if ms.data == nil {
		return fmt.Errorf("snapshot is not mapped")
	}
	encodeSnapshot(ms.data, img)
	return ms.data.Flush()
}

// OnWrite encodes the changed cells into the mapping and flushes so the
// write survives power loss.
func (ms *MmapStorage) OnWrite(space slave.Space, address, quantity uint16) {
	if ms.data == nil || ms.img == nil {
		return
	}
	encodeRange(ms.data, ms.img, space, address, quantity)
	if err := ms.data.Flush(); err != nil {
		logPersistError("mmap", err)
	}
}

// Close unmaps and closes the file.
func (ms *MmapStorage) Close() error {
	var err error
	if ms.data != nil {
		if e := ms.data.Unmap(); e != nil {
			err = e
		}
		ms.data = nil
	}
	if ms.file != nil {
		if e := ms.file.Close(); e != nil {
			err = e
		}
		ms.file = nil
	}
	return err
}
