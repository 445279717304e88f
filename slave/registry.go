// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package slave

import (
	"context"
	"sort"
	"sync"

	"github.com/iotzf/modbus-go/modbus"
)

// Registry maps slave ids to their data images and dispatches requests from
// any transport. Registrations are dynamic; the map is guarded separately
// from the images so that dispatch to distinct units never contends.
type Registry struct {
	mu     sync.RWMutex
	slaves map[byte]*Image
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		slaves: make(map[byte]*Image),
	}
}

// AddSlave registers a fresh zero-initialized image under slaveID and
// returns it. Re-registering an existing id keeps the current image.
func (r *Registry) AddSlave(slaveID byte) *Image {
	r.mu.Lock()
	defer r.mu.Unlock()

	if img, ok := r.slaves[slaveID]; ok {
		return img
	}
	img := NewImage()
	r.slaves[slaveID] = img
	return img
}

// AddSlaveImage registers a caller-provided image, e.g. one restored from
// a persistence backend.
func (r *Registry) AddSlaveImage(slaveID byte, img *Image) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slaves[slaveID] = img
}

// RemoveSlave unregisters slaveID and discards its image.
func (r *Registry) RemoveSlave(slaveID byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.slaves, slaveID)
}

// SlaveIDs returns the registered slave ids in ascending order.
func (r *Registry) SlaveIDs() []byte {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]byte, 0, len(r.slaves))
	for id := range r.slaves {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Slave returns the image registered under slaveID, or nil.
func (r *Registry) Slave(slaveID byte) *Image {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.slaves[slaveID]
}

// Handle executes one request. It is a transport.RequestHandler.
//
// Broadcast (slave id 0) applies write requests to every registered image
// and returns modbus.ErrNoResponse so the server stays silent; broadcast
// reads are dropped the same way. Requests for unregistered ids return
// modbus.ErrSlaveNotFound; the transport decides between an exception reply
// and silence.
func (r *Registry) Handle(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	if slaveID == modbus.BroadcastSlaveID {
		if modbus.IsWriteFuncCode(pdu.FunctionCode) {
			for _, img := range r.snapshot() {
				img.Process(pdu)
			}
		}
		return modbus.ProtocolDataUnit{}, modbus.ErrNoResponse
	}

	img := r.Slave(slaveID)
	if img == nil {
		return modbus.ProtocolDataUnit{}, modbus.ErrSlaveNotFound
	}

	return img.Process(pdu), nil
}

// snapshot copies the image set so broadcast execution does not hold the
// registry lock across image mutation.
func (r *Registry) snapshot() []*Image {
	r.mu.RLock()
	defer r.mu.RUnlock()

	imgs := make([]*Image, 0, len(r.slaves))
	for _, img := range r.slaves {
		imgs = append(imgs, img)
	}
	return imgs
}

// Convenience accessors mirroring the per-image getters and setters. They
// return false/zero for unregistered slave ids on reads; writes to
// unregistered ids are no-ops reported by the bool result.

// SetCoil sets one coil on the addressed slave.
func (r *Registry) SetCoil(slaveID byte, address uint16, on bool) bool {
	img := r.Slave(slaveID)
	if img == nil {
		return false
	}
	img.SetCoil(address, on)
	return true
}

// Coil reads one coil from the addressed slave.
func (r *Registry) Coil(slaveID byte, address uint16) (bool, bool) {
	img := r.Slave(slaveID)
	if img == nil {
		return false, false
	}
	return img.Coil(address), true
}

// SetDiscreteInput sets one discrete input on the addressed slave.
func (r *Registry) SetDiscreteInput(slaveID byte, address uint16, on bool) bool {
	img := r.Slave(slaveID)
	if img == nil {
		return false
	}
	img.SetDiscreteInput(address, on)
	return true
}

// DiscreteInput reads one discrete input from the addressed slave.
func (r *Registry) DiscreteInput(slaveID byte, address uint16) (bool, bool) {
	img := r.Slave(slaveID)
	if img == nil {
		return false, false
	}
	return img.DiscreteInput(address), true
}

// SetHoldingRegister sets one holding register on the addressed slave.
func (r *Registry) SetHoldingRegister(slaveID byte, address, value uint16) bool {
	img := r.Slave(slaveID)
	if img == nil {
		return false
	}
	img.SetHoldingRegister(address, value)
	return true
}

// HoldingRegister reads one holding register from the addressed slave.
func (r *Registry) HoldingRegister(slaveID byte, address uint16) (uint16, bool) {
	img := r.Slave(slaveID)
	if img == nil {
		return 0, false
	}
	return img.HoldingRegister(address), true
}

// SetInputRegister sets one input register on the addressed slave.
func (r *Registry) SetInputRegister(slaveID byte, address, value uint16) bool {
	img := r.Slave(slaveID)
	if img == nil {
		return false
	}
	img.SetInputRegister(address, value)
	return true
}

// InputRegister reads one input register from the addressed slave.
func (r *Registry) InputRegister(slaveID byte, address uint16) (uint16, bool) {
	img := r.Slave(slaveID)
	if img == nil {
		return 0, false
	}
	return img.InputRegister(address), true
}
