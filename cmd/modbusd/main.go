// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// modbusd hosts configured slave units on any mix of TCP, RTU and
// RTU-over-TCP listeners, all dispatching into one shared registry.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/iotzf/modbus-go/internal/config"
	"github.com/iotzf/modbus-go/slave"
	"github.com/iotzf/modbus-go/slave/persistence"
	"github.com/iotzf/modbus-go/transport"
	"github.com/iotzf/modbus-go/transport/rtu"
	"github.com/iotzf/modbus-go/transport/rtuovertcp"
	"github.com/iotzf/modbus-go/transport/tcp"

	// SQL persistence backend driver.
	_ "modernc.org/sqlite"
)

func main() {
	configFile := pflag.StringP("config", "c", "", "Path to config file")
	pflag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	slog.Info("Starting Modbus server daemon...")

	registry := slave.NewRegistry()
	var storages []persistence.Storage

	for _, sc := range cfg.Slaves {
		storage := newStorage(sc.Persistence)
		img, err := storage.Load()
		if err != nil {
			slog.Error("Failed to load persistence data, starting with fresh image", "slave", sc.ID, "err", err)
			storage = persistence.NewMemoryStorage()
			img, _ = storage.Load()
		}
		persistence.Attach(img, storage)
		registry.AddSlaveImage(byte(sc.ID), img)
		storages = append(storages, storage)
		slog.Info("Registered slave", "id", sc.ID, "persistence", sc.Persistence.Type)
	}

	if len(registry.SlaveIDs()) == 0 {
		slog.Error("No slaves configured. Exiting.")
		os.Exit(1)
	}

	var servers []transport.Server
	for _, lc := range cfg.Listeners {
		switch lc.Type {
		case "tcp":
			servers = append(servers, tcp.NewServer(lc.Tcp.Address))
		case "rtu-over-tcp":
			servers = append(servers, rtuovertcp.NewServer(lc.Tcp.Address))
		case "rtu":
			servers = append(servers, rtu.NewServer(rtu.Config{
				Device:             lc.Serial.Device,
				BaudRate:           lc.Serial.BaudRate,
				DataBits:           lc.Serial.DataBits,
				Parity:             lc.Serial.Parity,
				StopBits:           lc.Serial.StopBits,
				Timeout:            lc.Serial.Timeout,
				RS485:              lc.Serial.RS485,
				DelayRtsBeforeSend: lc.Serial.DelayRtsBeforeSend,
				DelayRtsAfterSend:  lc.Serial.DelayRtsAfterSend,
				RtsHighDuringSend:  lc.Serial.RtsHighDuringSend,
				RtsHighAfterSend:   lc.Serial.RtsHighAfterSend,
				RxDuringTx:         lc.Serial.RxDuringTx,
			}))
		default:
			slog.Error("Unknown listener type", "type", lc.Type)
		}
	}

	if len(servers) == 0 {
		slog.Error("No valid listeners configured. Exiting.")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for _, s := range servers {
		wg.Add(1)
		go func(s transport.Server) {
			defer wg.Done()
			if err := s.Run(ctx, registry.Handle); err != nil {
				slog.Error("Server stopped with error", "err", err)
			}
		}(s)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
	cancel()
	wg.Wait()

	for _, storage := range storages {
		if err := storage.Close(); err != nil {
			slog.Error("Failed to close storage", "err", err)
		}
	}
	slog.Info("Goodbye.")
}

func newStorage(cfg config.PersistenceConfig) persistence.Storage {
	switch cfg.Type {
	case "file":
		slog.Info("Initializing slave with file persistence", "path", cfg.Path)
		return persistence.NewFileStorage(cfg.Path)
	case "mmap":
		slog.Info("Initializing slave with MMAP persistence", "path", cfg.Path)
		return persistence.NewMmapStorage(cfg.Path)
	case "sql":
		slog.Info("Initializing slave with SQL persistence", "driver", "sqlite", "dsn", cfg.Path)
		return persistence.NewSQLStorage("sqlite", cfg.Path)
	default:
		slog.Info("Initializing slave with memory storage (non-persistent)")
		return persistence.NewMemoryStorage()
	}
}

func setupLogger(cfg config.LogConfig) {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.File != "" && cfg.File != "-" {
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Printf("Failed to open log file, falling back to stdout: %v\n", err)
			handler = slog.NewTextHandler(os.Stdout, opts)
		} else {
			handler = slog.NewTextHandler(f, opts)
		}
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
