package calibration

import (
	"bytes"

	"github.com/pkg/errors"

	"go.viam.com/abdrive/eeprom"
)

// Marker is written at the start of the calibration region once both tables are saved.
var Marker = []byte("ActivityBot\x00")

// Layout places the calibration data inside an eeprom.Store. All offsets are relative to
// Base.
type Layout struct {
	Base  int `json:"base"`
	Pins  int `json:"pins"`
	Left  int `json:"left"`
	Right int `json:"right"`
}

// DefaultLayout returns the layout used by the ActivityBot tools.
func DefaultLayout() Layout {
	return Layout{Base: 32768, Pins: 12, Left: 64, Right: 1280}
}

// tableSize is the number of bytes a table with n entries occupies.
func tableSize(n int) int {
	return 8 + 8*n
}

func (l Layout) tableAddr(side Side) (int, error) {
	switch side {
	case Left:
		return l.Base + l.Left, nil
	case Right:
		return l.Base + l.Right, nil
	default:
		return 0, errors.Errorf("invalid side %d", int(side))
	}
}

// Validate checks that the regions do not overlap and fit inside store.
func (l Layout) Validate(store eeprom.Store) error {
	if l.Base < 0 {
		return errors.New("layout base must not be negative")
	}
	if l.Pins < len(Marker) {
		return errors.Errorf("pin records at %d overlap the %d byte marker", l.Pins, len(Marker))
	}
	if l.Left < l.Pins+16 {
		return errors.Errorf("left table at %d overlaps the pin records at %d", l.Left, l.Pins)
	}
	if l.Right < l.Left+tableSize(MaxEntries) {
		return errors.Errorf("right table at %d overlaps the left table at %d", l.Right, l.Left)
	}
	if end := l.Base + l.Right + tableSize(MaxEntries); end > store.Size() {
		return errors.Errorf("layout ends at %d, store holds %d bytes", end, store.Size())
	}
	return nil
}

// Save writes table for side: the entry count, the zero index and then the (drive, rate)
// pairs, all as little-endian 32-bit integers.
func Save(store eeprom.Store, layout Layout, side Side, table *Table) error {
	if table.Len() > MaxEntries {
		return errors.Errorf("cannot save %d entries, at most %d fit", table.Len(), MaxEntries)
	}
	addr, err := layout.tableAddr(side)
	if err != nil {
		return err
	}
	if err := eeprom.PutInt(store, addr, table.Len()); err != nil {
		return errors.Wrapf(err, "saving %s table", side)
	}
	zero := 0
	if table != nil {
		zero = table.ZeroIndex
	}
	if err := eeprom.PutInt(store, addr+4, zero); err != nil {
		return errors.Wrapf(err, "saving %s table", side)
	}
	addr += 8
	for i := 0; i < table.Len(); i++ {
		e := table.Entries[i]
		if err := eeprom.PutInt(store, addr, e.Drive); err != nil {
			return errors.Wrapf(err, "saving %s table entry %d", side, i)
		}
		if err := eeprom.PutInt(store, addr+4, e.Rate); err != nil {
			return errors.Wrapf(err, "saving %s table entry %d", side, i)
		}
		addr += 8
	}
	return nil
}

// Load reads the table for side exactly as it was saved. A count of zero or one larger than
// MaxEntries, as found in a store that was never written, returns an empty table.
func Load(store eeprom.Store, layout Layout, side Side) (*Table, error) {
	addr, err := layout.tableAddr(side)
	if err != nil {
		return nil, err
	}
	count, err := eeprom.GetInt(store, addr)
	if err != nil {
		return nil, errors.Wrapf(err, "loading %s table", side)
	}
	zero, err := eeprom.GetInt(store, addr+4)
	if err != nil {
		return nil, errors.Wrapf(err, "loading %s table", side)
	}
	if count <= 0 || count > MaxEntries {
		return &Table{}, nil
	}
	table := &Table{Entries: make([]Entry, count), ZeroIndex: zero}
	addr += 8
	for i := range table.Entries {
		if table.Entries[i].Drive, err = eeprom.GetInt(store, addr); err != nil {
			return nil, errors.Wrapf(err, "loading %s table entry %d", side, i)
		}
		if table.Entries[i].Rate, err = eeprom.GetInt(store, addr+4); err != nil {
			return nil, errors.Wrapf(err, "loading %s table entry %d", side, i)
		}
		addr += 8
	}
	return table, nil
}

// SaveMarker records that a full calibration has been stored.
func SaveMarker(store eeprom.Store, layout Layout) error {
	return errors.Wrap(eeprom.PutStr(store, layout.Base, Marker), "saving calibration marker")
}

// HasMarker reports whether SaveMarker was called on store.
func HasMarker(store eeprom.Store, layout Layout) (bool, error) {
	got, err := eeprom.GetStr(store, layout.Base, len(Marker))
	if err != nil {
		return false, errors.Wrap(err, "reading calibration marker")
	}
	return bytes.Equal(got, Marker), nil
}

// Pins holds the pin numbers of one servo or encoder pair.
type Pins struct {
	Left  int `json:"left"`
	Right int `json:"right"`
}

// Default pin assignments of the ActivityBot.
var (
	DefaultServoPins   = Pins{Left: 12, Right: 13}
	DefaultEncoderPins = Pins{Left: 14, Right: 15}
)

var (
	servoTag   = []byte("spL")
	encoderTag = []byte("epL")
)

func encodePins(tag []byte, p Pins) ([]byte, error) {
	if p.Left < 0 || p.Left > 255 || p.Right < 0 || p.Right > 255 {
		return nil, errors.Errorf("pin numbers %d and %d must fit in a byte", p.Left, p.Right)
	}
	rec := make([]byte, 0, 8)
	rec = append(rec, tag...)
	return append(rec, byte(p.Left), ' ', 'R', byte(p.Right), ' '), nil
}

func decodePins(tag, rec []byte) (Pins, bool) {
	if !bytes.Equal(rec[:3], tag) || rec[5] != 'R' {
		return Pins{}, false
	}
	return Pins{Left: int(rec[3]), Right: int(rec[6])}, true
}

// SavePins writes the servo and encoder pin records.
func SavePins(store eeprom.Store, layout Layout, servos, encoders Pins) error {
	srec, err := encodePins(servoTag, servos)
	if err != nil {
		return errors.Wrap(err, "servo pins")
	}
	erec, err := encodePins(encoderTag, encoders)
	if err != nil {
		return errors.Wrap(err, "encoder pins")
	}
	addr := layout.Base + layout.Pins
	if err := eeprom.PutStr(store, addr, srec); err != nil {
		return errors.Wrap(err, "saving servo pins")
	}
	return errors.Wrap(eeprom.PutStr(store, addr+8, erec), "saving encoder pins")
}

// PinRecords is the result of LoadPins. A record whose tag did not match keeps the default
// pins and reports false.
type PinRecords struct {
	Servos        Pins
	Encoders      Pins
	ServosFound   bool
	EncodersFound bool
}

// LoadPins reads the servo and encoder pin records, falling back to the defaults for any
// record whose tag does not match.
func LoadPins(store eeprom.Store, layout Layout) (PinRecords, error) {
	raw, err := eeprom.GetStr(store, layout.Base+layout.Pins, 16)
	if err != nil {
		return PinRecords{}, errors.Wrap(err, "loading pin records")
	}
	recs := PinRecords{Servos: DefaultServoPins, Encoders: DefaultEncoderPins}
	if p, ok := decodePins(servoTag, raw[:8]); ok {
		recs.Servos, recs.ServosFound = p, true
	}
	if p, ok := decodePins(encoderTag, raw[8:]); ok {
		recs.Encoders, recs.EncodersFound = p, true
	}
	return recs, nil
}
