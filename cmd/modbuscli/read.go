// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	readAddr  uint16
	readCount uint16
)

var readCmd = &cobra.Command{
	Use:     "read",
	Aliases: []string{"r"},
	Short:   "Read data from a Modbus slave",
}

var readCoilsCmd = &cobra.Command{
	Use:     "coils",
	Aliases: []string{"c", "coil"},
	Short:   "Read coils (FC01)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReadBits(func(ctx context.Context) ([]bool, error) {
			c, err := newClient()
			if err != nil {
				return nil, err
			}
			defer c.Close()
			return c.ReadCoils(ctx, readAddr, readCount)
		})
	},
}

var readDiscreteInputsCmd = &cobra.Command{
	Use:     "discrete-inputs",
	Aliases: []string{"di", "discrete"},
	Short:   "Read discrete inputs (FC02)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReadBits(func(ctx context.Context) ([]bool, error) {
			c, err := newClient()
			if err != nil {
				return nil, err
			}
			defer c.Close()
			return c.ReadDiscreteInputs(ctx, readAddr, readCount)
		})
	},
}

var readHoldingRegistersCmd = &cobra.Command{
	Use:     "holding-registers",
	Aliases: []string{"hr", "holding"},
	Short:   "Read holding registers (FC03)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReadRegisters(func(ctx context.Context) ([]uint16, error) {
			c, err := newClient()
			if err != nil {
				return nil, err
			}
			defer c.Close()
			return c.ReadHoldingRegisters(ctx, readAddr, readCount)
		})
	},
}

var readInputRegistersCmd = &cobra.Command{
	Use:     "input-registers",
	Aliases: []string{"ir", "input"},
	Short:   "Read input registers (FC04)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReadRegisters(func(ctx context.Context) ([]uint16, error) {
			c, err := newClient()
			if err != nil {
				return nil, err
			}
			defer c.Close()
			return c.ReadInputRegisters(ctx, readAddr, readCount)
		})
	},
}

func init() {
	readCmd.AddCommand(readCoilsCmd)
	readCmd.AddCommand(readDiscreteInputsCmd)
	readCmd.AddCommand(readHoldingRegistersCmd)
	readCmd.AddCommand(readInputRegistersCmd)

	readCmd.PersistentFlags().Uint16VarP(&readAddr, "address", "a", 0, "Start address")
	readCmd.PersistentFlags().Uint16VarP(&readCount, "count", "c", 1, "Number of items to read")
}

func runReadBits(read func(ctx context.Context) ([]bool, error)) error {
	values, err := read(context.Background())
	if err != nil {
		return err
	}
	for i, v := range values {
		state := "OFF"
		if v {
			state = "ON"
		}
		fmt.Printf("%d: %s\n", readAddr+uint16(i), state)
	}
	return nil
}

func runReadRegisters(read func(ctx context.Context) ([]uint16, error)) error {
	values, err := read(context.Background())
	if err != nil {
		return err
	}
	for i, v := range values {
		fmt.Printf("%d: %d (0x%04X)\n", readAddr+uint16(i), v, v)
	}
	return nil
}
