// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/grid-x/serial"
)

const (
	serialTimeout     = 1 * time.Second
	serialIdleTimeout = 60 * time.Second
)

// Config holds the serial line settings for an RTU endpoint.
type Config struct {
	Device   string
	BaudRate int
	DataBits int
	Parity   string
	StopBits int
	Timeout  time.Duration

	// RS485 line control, forwarded to the OS driver.
	RS485              bool
	DelayRtsBeforeSend time.Duration
	DelayRtsAfterSend  time.Duration
	RtsHighDuringSend  bool
	RtsHighAfterSend   bool
	RxDuringTx         bool
}

// fixup applies the 8N1 defaults and normalizes parity.
func (c *Config) fixup() {
	if c.BaudRate == 0 {
		c.BaudRate = 19200
	}
	if c.DataBits == 0 {
		c.DataBits = 8
	}
	if c.Parity == "" {
		c.Parity = "N"
	}
	c.Parity = strings.ToUpper(c.Parity)
	if c.StopBits == 0 {
		c.StopBits = 1
	}
	if c.Timeout == 0 {
		c.Timeout = serialTimeout
	}
}

func (c *Config) serialConfig() *serial.Config {
	return &serial.Config{
		Address:  c.Device,
		BaudRate: c.BaudRate,
		DataBits: c.DataBits,
		StopBits: c.StopBits,
		Parity:   c.Parity,
		Timeout:  c.Timeout,
		RS485: serial.RS485Config{
			Enabled:            c.RS485,
			DelayRtsBeforeSend: c.DelayRtsBeforeSend,
			DelayRtsAfterSend:  c.DelayRtsAfterSend,
			RtsHighDuringSend:  c.RtsHighDuringSend,
			RtsHighAfterSend:   c.RtsHighAfterSend,
			RxDuringTx:         c.RxDuringTx,
		},
	}
}

// serialPort has configuration and I/O controller.
type serialPort struct {
	Config

	IdleTimeout time.Duration

	mu sync.Mutex
	// port is platform-dependent data structure for serial port.
	port         io.ReadWriteCloser
	lastActivity time.Time
	closeTimer   *time.Timer
}

func (sp *serialPort) Connect(ctx context.Context) (err error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	return sp.connect(ctx)
}

// connect connects to the serial port if it is not connected. Caller must hold the mutex.
func (sp *serialPort) connect(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if sp.port == nil {
		port, err := serial.Open(sp.serialConfig())
		if err != nil {
			return fmt.Errorf("could not open %s: %w", sp.Device, err)
		}
		sp.port = port
	}
	return nil
}

func (sp *serialPort) Close() (err error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	return sp.close()
}

// close closes the serial port if it is connected. Caller must hold the mutex.
func (sp *serialPort) close() (err error) {
	if sp.port != nil {
		err = sp.port.Close()
		sp.port = nil
	}
	return
}

func (sp *serialPort) startCloseTimer() {
	if sp.IdleTimeout <= 0 {
		return
	}
	if sp.closeTimer == nil {
		sp.closeTimer = time.AfterFunc(sp.IdleTimeout, sp.closeIdle)
	} else {
		sp.closeTimer.Reset(sp.IdleTimeout)
	}
}

// closeIdle closes the connection if last activity is passed behind IdleTimeout.
func (sp *serialPort) closeIdle() {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	if sp.IdleTimeout <= 0 {
		return
	}

	if idle := time.Since(sp.lastActivity); idle >= sp.IdleTimeout {
		slog.Debug("modbus: closing connection due to idle timeout", "idle", idle)
		sp.close()
	}
}
