package federation

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf16"

	"github.com/code-lab-org/sipg-sub003/sim"
	"github.com/code-lab-org/sipg-sub003/sim/rti"
)

// String attributes carried next to the numeric sector schema.
const (
	attrName        = "Name"
	attrSocietyName = "SocietyName"
)

// classAttributes lists every attribute published for a sector class.
func classAttributes(sector sim.Sector) []string {
	return append([]string{attrName, attrSocietyName}, sim.Schema(sector)...)
}

// EncodeSnapshot renders a snapshot in the federation wire format: strings
// as a 4-byte big-endian UTF-16 code unit count followed by UTF-16BE units,
// integer keys as big-endian int64 and everything else as big-endian
// IEEE-754 float64.
func EncodeSnapshot(s sim.Snapshot) rti.AttributeValues {
	out := make(rti.AttributeValues, len(s.Values)+2)
	out[attrName] = encodeString(s.Name)
	out[attrSocietyName] = encodeString(s.SocietyName)
	for k, v := range s.Values {
		b := make([]byte, 8)
		if sim.IsIntegerKey(k) {
			binary.BigEndian.PutUint64(b, uint64(int64(math.Round(v))))
		} else {
			binary.BigEndian.PutUint64(b, math.Float64bits(v))
		}
		out[k] = b
	}
	return out
}

// DecodeSnapshot is the inverse of EncodeSnapshot. Missing attributes are
// absent from Values; malformed ones are an error.
func DecodeSnapshot(class string, values rti.AttributeValues, t int64) (sim.Snapshot, error) {
	s := sim.Snapshot{Class: class, Time: t, Values: make(sim.Attributes, len(values))}
	for k, b := range values {
		switch k {
		case attrName, attrSocietyName:
			str, err := decodeString(b)
			if err != nil {
				return sim.Snapshot{}, fmt.Errorf("attribute %s: %w", k, err)
			}
			if k == attrName {
				s.Name = str
			} else {
				s.SocietyName = str
			}
			continue
		}
		if len(b) != 8 {
			return sim.Snapshot{}, fmt.Errorf("attribute %s: want 8 bytes, got %d", k, len(b))
		}
		u := binary.BigEndian.Uint64(b)
		if sim.IsIntegerKey(k) {
			s.Values[k] = float64(int64(u))
		} else {
			s.Values[k] = math.Float64frombits(u)
		}
	}
	return s, nil
}

func encodeString(s string) []byte {
	units := utf16.Encode([]rune(s))
	b := make([]byte, 4+2*len(units))
	binary.BigEndian.PutUint32(b, uint32(len(units)))
	for i, u := range units {
		binary.BigEndian.PutUint16(b[4+2*i:], u)
	}
	return b
}

func decodeString(b []byte) (string, error) {
	if len(b) < 4 {
		return "", fmt.Errorf("string header: want 4 bytes, got %d", len(b))
	}
	n := int(binary.BigEndian.Uint32(b))
	if len(b) != 4+2*n {
		return "", fmt.Errorf("string of %d units: want %d bytes, got %d", n, 4+2*n, len(b))
	}
	units := make([]uint16, n)
	for i := range units {
		units[i] = binary.BigEndian.Uint16(b[4+2*i:])
	}
	return string(utf16.Decode(units)), nil
}
