// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/iotzf/modbus-go/client"
)

var (
	// Connection flags
	transportType string
	host          string
	port          int
	device        string
	baudRate      int
	slaveID       uint8
	timeout       time.Duration
	verbose       bool
)

var rootCmd = &cobra.Command{
	Use:   "modbuscli",
	Short: "A Modbus client for TCP, RTU and RTU-over-TCP slaves",
	Long: `modbuscli reads and writes coils and registers on Modbus slaves.

Examples:
  # Read 10 holding registers from address 0 over TCP
  modbuscli read hr -a 0 -c 10 -H 192.168.1.100

  # Read coils over a serial line
  modbuscli read coils -a 0 -c 8 -t rtu --device /dev/ttyUSB0 -b 9600

  # Write value 1234 to register 100
  modbuscli write register -a 100 -V 1234 -H 192.168.1.100`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		})))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&transportType, "transport", "t", "tcp", "Transport: tcp, rtu, rtu-over-tcp")
	rootCmd.PersistentFlags().StringVarP(&host, "host", "H", "localhost", "Modbus server host (tcp transports)")
	rootCmd.PersistentFlags().IntVarP(&port, "port", "p", 502, "Modbus server port (tcp transports)")
	rootCmd.PersistentFlags().StringVar(&device, "device", "/dev/ttyUSB0", "Serial device (rtu transport)")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 19200, "Baud rate (rtu transport)")
	rootCmd.PersistentFlags().Uint8VarP(&slaveID, "slave", "s", 1, "Slave id")
	rootCmd.PersistentFlags().DurationVarP(&timeout, "timeout", "W", client.DefaultTimeout, "Response timeout")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")

	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(writeCmd)
}

// newClient builds the client selected by the persistent flags.
func newClient() (*client.Client, error) {
	var c *client.Client
	switch transportType {
	case "tcp":
		c = client.NewTCP(host, port, slaveID)
	case "rtu":
		c = client.NewRTU(device, slaveID, baudRate)
	case "rtu-over-tcp":
		c = client.NewRTUOverTCP(host, port, slaveID)
	default:
		return nil, fmt.Errorf("unknown transport %q", transportType)
	}
	c.SetTimeout(timeout)
	return c, nil
}
