// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

const (
	// MinSize is the smallest valid RTU ADU: slave id, function code, CRC.
	MinSize = 4
	// MaxSize is the largest RTU ADU: 253-byte PDU plus slave id and CRC.
	MaxSize = 256

	// ExceptionSize is the fixed size of an exception ADU.
	ExceptionSize = 5
)
