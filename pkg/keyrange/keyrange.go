// Package keyrange implements the order-preserving key encoding and
// range/bound model described in spec §4.1.
//
// Encode produces a byte slice such that Encode(a) <= Encode(b) (under
// bytes.Compare) iff a <= b under the value's native ordering. This is
// the contract every tree key in the engine relies on: document ids,
// view-emitted keys, and range scan bounds are all compared as raw
// bytes once encoded.
package keyrange

import (
	"bytes"
	"encoding/binary"
	"math"
	"time"

	"github.com/bobboyms/docviewdb/pkg/errors"
	"github.com/bobboyms/docviewdb/pkg/types"
)

// Type tags, stable across opens (persisted inside encoded keys).
const (
	tagUint64 byte = 1
	tagInt64  byte = 2
	tagFloat  byte = 3
	tagString byte = 4
	tagBool   byte = 5
	tagBytes  byte = 6
	tagTime   byte = 7
)

// EncodeUint64 encodes v as a type tag byte followed by 8 big-endian
// bytes, preserving order.
func EncodeUint64(v uint64) []byte {
	buf := make([]byte, 9)
	buf[0] = tagUint64
	binary.BigEndian.PutUint64(buf[1:], v)
	return buf
}

// EncodeInt64 encodes v with the sign bit flipped so that two's
// complement ordering becomes unsigned big-endian byte ordering.
func EncodeInt64(v int64) []byte {
	buf := make([]byte, 9)
	buf[0] = tagInt64
	binary.BigEndian.PutUint64(buf[1:], uint64(v)^(1<<63))
	return buf
}

// EncodeFloat64 encodes v using the standard order-preserving trick
// for IEEE-754 doubles: flip the sign bit for non-negative values, and
// flip every bit for negative values, so the resulting bit pattern
// sorts the same way the floats do (NaN excluded from ordering claims).
func EncodeFloat64(v float64) []byte {
	bits := math.Float64bits(v)
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	buf := make([]byte, 9)
	buf[0] = tagFloat
	binary.BigEndian.PutUint64(buf[1:], bits)
	return buf
}

// EncodeString encodes v as a type tag byte followed by its raw bytes;
// order-preserving because
// bytes.Compare on UTF-8 matches codepoint ordering for this purpose.
func EncodeString(v string) []byte {
	buf := make([]byte, 0, len(v)+1)
	buf = append(buf, tagString)
	buf = append(buf, v...)
	return buf
}

// EncodeBool encodes false before true.
func EncodeBool(v bool) []byte {
	b := byte(0)
	if v {
		b = 1
	}
	return []byte{tagBool, b}
}

// EncodeTime encodes v by its UnixNano, reusing EncodeInt64's sign-bit
// flip so negative (pre-1970) timestamps still sort correctly.
func EncodeTime(v time.Time) []byte {
	buf := EncodeInt64(v.UnixNano())
	buf[0] = tagTime
	return buf
}

// EncodeBytes tags a caller-provided byte slice so it round-trips
// through Decode; ordering is the raw byte ordering of v.
func EncodeBytes(v []byte) []byte {
	buf := make([]byte, 0, len(v)+1)
	buf = append(buf, tagBytes)
	buf = append(buf, v...)
	return buf
}

// Encode dispatches on the concrete types.Comparable implementation,
// producing the order-preserving encoding for that value.
func Encode(key types.Comparable) ([]byte, error) {
	switch k := key.(type) {
	case types.Uint64Key:
		return EncodeUint64(uint64(k)), nil
	case types.IntKey:
		return EncodeInt64(int64(k)), nil
	case types.FloatKey:
		return EncodeFloat64(float64(k)), nil
	case types.VarcharKey:
		return EncodeString(string(k)), nil
	case types.BoolKey:
		return EncodeBool(bool(k)), nil
	case types.DateKey:
		return EncodeTime(time.Time(k)), nil
	case types.BytesKey:
		return EncodeBytes([]byte(k)), nil
	default:
		return nil, errors.Newf(errors.Serialization, "keyrange.Encode", "unsupported key type %T", key)
	}
}

// Decode reconstructs a types.Comparable from bytes produced by Encode.
func Decode(b []byte) (types.Comparable, error) {
	if len(b) == 0 {
		return nil, errors.Newf(errors.Serialization, "keyrange.Decode", "empty key")
	}
	tag, payload := b[0], b[1:]
	switch tag {
	case tagUint64:
		if len(payload) != 8 {
			return nil, errors.Newf(errors.Serialization, "keyrange.Decode", "bad uint64 key length %d", len(payload))
		}
		return types.Uint64Key(binary.BigEndian.Uint64(payload)), nil
	case tagInt64:
		if len(payload) != 8 {
			return nil, errors.Newf(errors.Serialization, "keyrange.Decode", "bad int64 key length %d", len(payload))
		}
		return types.IntKey(int64(binary.BigEndian.Uint64(payload) ^ (1 << 63))), nil
	case tagFloat:
		if len(payload) != 8 {
			return nil, errors.Newf(errors.Serialization, "keyrange.Decode", "bad float64 key length %d", len(payload))
		}
		bits := binary.BigEndian.Uint64(payload)
		if bits&(1<<63) != 0 {
			bits &^= 1 << 63
		} else {
			bits = ^bits
		}
		return types.FloatKey(math.Float64frombits(bits)), nil
	case tagString:
		return types.VarcharKey(string(payload)), nil
	case tagBool:
		if len(payload) != 1 {
			return nil, errors.Newf(errors.Serialization, "keyrange.Decode", "bad bool key length %d", len(payload))
		}
		return types.BoolKey(payload[0] != 0), nil
	case tagBytes:
		cp := make([]byte, len(payload))
		copy(cp, payload)
		return types.BytesKey(cp), nil
	case tagTime:
		if len(payload) != 8 {
			return nil, errors.Newf(errors.Serialization, "keyrange.Decode", "bad time key length %d", len(payload))
		}
		nanos := int64(binary.BigEndian.Uint64(payload) ^ (1 << 63))
		return types.DateKey(time.Unix(0, nanos).UTC()), nil
	default:
		return nil, errors.Newf(errors.Serialization, "keyrange.Decode", "unknown key tag %d", tag)
	}
}

// BoundKind classifies one end of a Range (spec §4.1).
type BoundKind uint8

const (
	Unbounded BoundKind = iota
	IncludedBound
	ExcludedBound
)

// Bound is one end of a Range. Value is the encoded key; it is ignored
// (and must be empty) when Kind is Unbounded.
type Bound struct {
	Kind  BoundKind
	Value []byte
}

// Range is a pair of bounds over encoded keys, serializable to a
// wire-safe form that preserves bound kinds exactly.
type Range struct {
	Start Bound
	End   Bound
}

// Full returns the range matching every key.
func Full() Range {
	return Range{Start: Bound{Kind: Unbounded}, End: Bound{Kind: Unbounded}}
}

// Closed returns [start, end].
func Closed(start, end []byte) Range {
	return Range{
		Start: Bound{Kind: IncludedBound, Value: start},
		End:   Bound{Kind: IncludedBound, Value: end},
	}
}

// HalfOpen returns [start, end), mirroring Go's native a..b slicing
// range semantics (spec §9: "conversions from language-native ranges").
func HalfOpen(start, end []byte) Range {
	return Range{
		Start: Bound{Kind: IncludedBound, Value: start},
		End:   Bound{Kind: ExcludedBound, Value: end},
	}
}

// From returns [start, +inf), mirroring a Go `start:` range.
func From(start []byte) Range {
	return Range{Start: Bound{Kind: IncludedBound, Value: start}, End: Bound{Kind: Unbounded}}
}

// To returns (-inf, end), mirroring a Go `:end` range.
func To(end []byte) Range {
	return Range{Start: Bound{Kind: Unbounded}, End: Bound{Kind: ExcludedBound, Value: end}}
}

// Matches reports whether an encoded key falls within the range.
func (r Range) Matches(encoded []byte) bool {
	if r.Start.Kind != Unbounded {
		c := compareBytes(encoded, r.Start.Value)
		if r.Start.Kind == IncludedBound && c < 0 {
			return false
		}
		if r.Start.Kind == ExcludedBound && c <= 0 {
			return false
		}
	}
	if r.End.Kind != Unbounded {
		c := compareBytes(encoded, r.End.Value)
		if r.End.Kind == IncludedBound && c > 0 {
			return false
		}
		if r.End.Kind == ExcludedBound && c >= 0 {
			return false
		}
	}
	return true
}

func compareBytes(a, b []byte) int {
	return bytes.Compare(a, b)
}

// Serialize writes Range to a wire-safe form: [startKind][startLen][startValue][endKind][endLen][endValue].
func (r Range) Serialize() []byte {
	buf := make([]byte, 0, 2+len(r.Start.Value)+len(r.End.Value)+8)
	buf = appendBound(buf, r.Start)
	buf = appendBound(buf, r.End)
	return buf
}

func appendBound(buf []byte, b Bound) []byte {
	buf = append(buf, byte(b.Kind))
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b.Value)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, b.Value...)
	return buf
}

// Deserialize is the exact inverse of Serialize: the first bound read
// becomes Start, the second becomes End (spec §9 open question: the
// original source appeared to assign the start bound to both fields;
// here start decodes to Start and end decodes to End, as the type
// requires).
func Deserialize(data []byte) (Range, error) {
	start, rest, err := readBound(data)
	if err != nil {
		return Range{}, err
	}
	end, rest, err := readBound(rest)
	if err != nil {
		return Range{}, err
	}
	if len(rest) != 0 {
		return Range{}, errors.Newf(errors.Serialization, "keyrange.Deserialize", "trailing bytes after range")
	}
	return Range{Start: start, End: end}, nil
}

func readBound(data []byte) (Bound, []byte, error) {
	if len(data) < 5 {
		return Bound{}, nil, errors.Newf(errors.Serialization, "keyrange.readBound", "truncated bound header")
	}
	kind := BoundKind(data[0])
	n := binary.BigEndian.Uint32(data[1:5])
	data = data[5:]
	if uint32(len(data)) < n {
		return Bound{}, nil, errors.Newf(errors.Serialization, "keyrange.readBound", "truncated bound value")
	}
	value := make([]byte, n)
	copy(value, data[:n])
	return Bound{Kind: kind, Value: value}, data[n:], nil
}
