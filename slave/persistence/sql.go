// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"database/sql"
	"fmt"

	"github.com/iotzf/modbus-go/slave"
)

// SQLStorage keeps a sparse mirror of the image in a SQL database: one row
// per non-zero cell, zero-valued cells deleted. Each write hook runs as a
// single transaction so a multi-cell write is either fully persisted or
// not at all, matching the image's own range atomicity.
type SQLStorage struct {
	driver string
	dsn    string
	db     *sql.DB
	img    *slave.Image
}

// NewSQLStorage creates a new SQLStorage.
// The driver (e.g. "sqlite") must be imported by the binary.
func NewSQLStorage(driver, dsn string) *SQLStorage {
	return &SQLStorage{
		driver: driver,
		dsn:    dsn,
	}
}

// Load connects to the database and folds the stored cells into a fresh image.
func (s *SQLStorage) Load() (*slave.Image, error) {
	db, err := sql.Open(s.driver, s.dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS image_cells (
			space   INTEGER NOT NULL,
			address INTEGER NOT NULL,
			value   INTEGER NOT NULL,
			PRIMARY KEY (space, address)
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	img := slave.NewImage()

	rows, err := db.Query("SELECT space, address, value FROM image_cells")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to query cells: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sp, addr, val int
		if err := rows.Scan(&sp, &addr, &val); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to scan cell: %w", err)
		}
		if addr < 0 || addr > slave.MaxAddress {
			continue
		}

		switch slave.Space(sp) {
		case slave.SpaceCoils:
			img.Coils[addr] = bit(val)
		case slave.SpaceDiscreteInputs:
			img.DiscreteInputs[addr] = bit(val)
		case slave.SpaceHoldingRegisters:
			img.HoldingRegisters[addr] = uint16(val)
		case slave.SpaceInputRegisters:
			img.InputRegisters[addr] = uint16(val)
		}
	}
	if err := rows.Err(); err != nil {
		db.Close()
		return nil, err
	}

	s.db = db
	s.img = img
	return img, nil
}

// Save reconciles the whole table with the image in one transaction.
func (s *SQLStorage) Save(img *slave.Image) error {
	if s.db == nil {
		return fmt.Errorf("database is not open")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM image_cells"); err != nil {
		return err
	}
	insert, err := tx.Prepare("INSERT INTO image_cells (space, address, value) VALUES (?, ?, ?)")
	if err != nil {
		return err
	}
	defer insert.Close()

	for space := slave.SpaceCoils; space <= slave.SpaceInputRegisters; space++ {
		for addr := 0; addr <= slave.MaxAddress; addr++ {
			if val := cellValue(img, space, uint16(addr)); val != 0 {
				if _, err := insert.Exec(int(space), addr, val); err != nil {
					return err
				}
			}
		}
	}
	return tx.Commit()
}

// OnWrite mirrors the changed cells to the database in one transaction:
// non-zero cells are upserted, zero cells deleted to keep the table sparse.
func (s *SQLStorage) OnWrite(space slave.Space, address, quantity uint16) {
	if s.db == nil || s.img == nil {
		return
	}

	tx, err := s.db.Begin()
	if err != nil {
		logPersistError("sql", err)
		return
	}
	defer tx.Rollback()

	upsert, err := tx.Prepare("INSERT INTO image_cells (space, address, value) VALUES (?, ?, ?) ON CONFLICT(space, address) DO UPDATE SET value=excluded.value")
	if err != nil {
		logPersistError("sql", err)
		return
	}
	defer upsert.Close()
	remove, err := tx.Prepare("DELETE FROM image_cells WHERE space = ? AND address = ?")
	if err != nil {
		logPersistError("sql", err)
		return
	}
	defer remove.Close()

	for i := 0; i < int(quantity); i++ {
		addr := address + uint16(i)
		if val := cellValue(s.img, space, addr); val != 0 {
			_, err = upsert.Exec(int(space), int(addr), val)
		} else {
			_, err = remove.Exec(int(space), int(addr))
		}
		if err != nil {
			logPersistError("sql", err)
			return
		}
	}
	if err := tx.Commit(); err != nil {
		logPersistError("sql", err)
	}
}

// Close closes the database.
func (s *SQLStorage) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// cellValue reads one cell from the image's backing slices. Callers either
// run inside the write hook (image lock held) or own the image exclusively.
func cellValue(img *slave.Image, space slave.Space, address uint16) int64 {
	switch space {
	case slave.SpaceCoils:
		return int64(img.Coils[address])
	case slave.SpaceDiscreteInputs:
		return int64(img.DiscreteInputs[address])
	case slave.SpaceHoldingRegisters:
		return int64(img.HoldingRegisters[address])
	case slave.SpaceInputRegisters:
		return int64(img.InputRegisters[address])
	}
	return 0
}

func bit(val int) byte {
	if val != 0 {
		return 1
	}
	return 0
}
