// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package fmp4

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	errTruncatedBox = errors.New("fmp4: truncated box")
	errMissingInit  = errors.New("fmp4: init segment lacks ftyp/moov")
	errNotFragment  = errors.New("fmp4: fragment lacks moof/mdat")
)

// walkBoxes visits the top-level ISO-BMFF boxes of data.
func walkBoxes(data []byte, fn func(typ string, payload []byte)) error {
	for off := 0; off < len(data); {
		if len(data)-off < 8 {
			return fmt.Errorf("%w: %d trailing bytes", errTruncatedBox, len(data)-off)
		}
		size := uint64(binary.BigEndian.Uint32(data[off:]))
		typ := string(data[off+4 : off+8])
		header := uint64(8)
		switch size {
		case 0:
			size = uint64(len(data) - off)
		case 1:
			if len(data)-off < 16 {
				return fmt.Errorf("%w: largesize header of %q", errTruncatedBox, typ)
			}
			size = binary.BigEndian.Uint64(data[off+8:])
			header = 16
		}
		if size < header || size > uint64(len(data)-off) {
			return fmt.Errorf("%w: %q declares %d bytes, %d available", errTruncatedBox, typ, size, len(data)-off)
		}
		fn(typ, data[off+int(header):off+int(size)])
		off += int(size)
	}
	return nil
}

// validateInit checks that data is an initialization segment.
func validateInit(data []byte) error {
	var ftyp, moov bool
	err := walkBoxes(data, func(typ string, _ []byte) {
		switch typ {
		case "ftyp":
			ftyp = true
		case "moov":
			moov = true
		}
	})
	if err != nil {
		return err
	}
	if !ftyp || !moov {
		return errMissingInit
	}
	return nil
}

// validateFragment checks that data carries at least one moof/mdat pair.
func validateFragment(data []byte) error {
	var moof, mdat bool
	err := walkBoxes(data, func(typ string, _ []byte) {
		switch typ {
		case "moof":
			moof = true
		case "mdat":
			mdat = true
		}
	})
	if err != nil {
		return err
	}
	if !moof || !mdat {
		return errNotFragment
	}
	return nil
}
