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
	writeAddr   uint16
	writeValue  uint16
	writeValues []uint
	writeOn     bool
)

var writeCmd = &cobra.Command{
	Use:     "write",
	Aliases: []string{"w"},
	Short:   "Write data to a Modbus slave",
}

var writeCoilCmd = &cobra.Command{
	Use:     "coil",
	Aliases: []string{"c"},
	Short:   "Write a single coil (FC05)",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()
		if err := c.WriteSingleCoil(context.Background(), writeAddr, writeOn); err != nil {
			return err
		}
		fmt.Printf("coil %d set to %v\n", writeAddr, writeOn)
		return nil
	},
}

var writeRegisterCmd = &cobra.Command{
	Use:     "register",
	Aliases: []string{"reg", "r"},
	Short:   "Write a single holding register (FC06)",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()
		if err := c.WriteSingleRegister(context.Background(), writeAddr, writeValue); err != nil {
			return err
		}
		fmt.Printf("register %d set to %d\n", writeAddr, writeValue)
		return nil
	},
}

var writeRegistersCmd = &cobra.Command{
	Use:     "registers",
	Aliases: []string{"regs"},
	Short:   "Write multiple holding registers (FC16)",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()
		values := make([]uint16, len(writeValues))
		for i, v := range writeValues {
			if v > 0xFFFF {
				return fmt.Errorf("value %d does not fit a 16-bit register", v)
			}
			values[i] = uint16(v)
		}
		if err := c.WriteMultipleRegisters(context.Background(), writeAddr, values); err != nil {
			return err
		}
		fmt.Printf("wrote %d registers starting at %d\n", len(writeValues), writeAddr)
		return nil
	},
}

func init() {
	writeCmd.AddCommand(writeCoilCmd)
	writeCmd.AddCommand(writeRegisterCmd)
	writeCmd.AddCommand(writeRegistersCmd)

	writeCmd.PersistentFlags().Uint16VarP(&writeAddr, "address", "a", 0, "Target address")
	writeCoilCmd.Flags().BoolVar(&writeOn, "on", false, "Coil state to write")
	writeRegisterCmd.Flags().Uint16VarP(&writeValue, "value", "V", 0, "Register value to write")
	writeRegistersCmd.Flags().UintSliceVarP(&writeValues, "values", "V", nil, "Register values to write")
}
