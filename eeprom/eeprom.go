// Package eeprom provides the byte-addressable non-volatile store the calibration tables and
// pin records are kept in, along with the integer and string helpers used to access it.
package eeprom

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// A Store is a fixed size, byte addressable non-volatile memory. Regions that were never
// written read back as zero.
type Store interface {
	// Size returns the number of addressable bytes.
	Size() int
	// Read fills p from the bytes starting at addr.
	Read(addr int, p []byte) error
	// Write copies p into the store starting at addr.
	Write(addr int, p []byte) error
}

// ErrOutOfRange is returned when an access falls outside of the store.
var ErrOutOfRange = errors.New("eeprom address out of range")

func checkRange(s Store, addr, n int) error {
	if addr < 0 || n < 0 || addr+n > s.Size() {
		return errors.Wrapf(ErrOutOfRange, "[%d, %d) of %d bytes", addr, addr+n, s.Size())
	}
	return nil
}

// GetByte reads a single byte.
func GetByte(s Store, addr int) (byte, error) {
	var b [1]byte
	if err := s.Read(addr, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

// PutByte writes a single byte.
func PutByte(s Store, addr int, value byte) error {
	return s.Write(addr, []byte{value})
}

// GetInt reads a little-endian 32-bit signed integer.
func GetInt(s Store, addr int) (int, error) {
	var b [4]byte
	if err := s.Read(addr, b[:]); err != nil {
		return 0, err
	}
	return int(int32(binary.LittleEndian.Uint32(b[:]))), nil
}

// PutInt writes value as a little-endian 32-bit signed integer.
func PutInt(s Store, addr, value int) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(int32(value)))
	return s.Write(addr, b[:])
}

// GetStr reads n raw bytes.
func GetStr(s Store, addr, n int) ([]byte, error) {
	b := make([]byte, n)
	if err := s.Read(addr, b); err != nil {
		return nil, err
	}
	return b, nil
}

// PutStr writes the raw bytes of str.
func PutStr(s Store, addr int, str []byte) error {
	return s.Write(addr, str)
}
