package doc

import (
	"encoding/binary"
	"math"
)

// Order-preserving key encoding.
//
// Index entries are stored as opaque byte keys; a single byte-wise range
// scan must visit entries in the same order Compare defines. Each value
// encodes to a self-delimiting byte string, so multi-field index keys
// are just concatenations of the per-field encodings.
//
// Layout per value:
//
//	0x01                    null
//	0x02 / 0x03             false / true
//	0x04 <8 bytes>          number, IEEE 754 with sortable transform
//	0x05 <escaped> 00 01    string, 0x00 escaped as 0x00 0xFF
//	0x06 <elems...> 00      array
//	0x07 <pairs...> 00      object, keys in sorted order
//
// Terminators use 0x00, which is below every tag byte, so a prefix key
// sorts before every key that extends it.
const (
	tagNull   byte = 0x01
	tagFalse  byte = 0x02
	tagTrue   byte = 0x03
	tagNumber byte = 0x04
	tagString byte = 0x05
	tagArray  byte = 0x06
	tagObject byte = 0x07
)

// AppendValue appends the order-preserving encoding of v to dst.
// v must be a normalized document value; anything else encodes as null.
func AppendValue(dst []byte, v any) []byte {
	switch val := v.(type) {
	case nil:
		return append(dst, tagNull)
	case bool:
		if val {
			return append(dst, tagTrue)
		}
		return append(dst, tagFalse)
	case int64:
		return appendNumber(dst, float64(val))
	case float64:
		return appendNumber(dst, val)
	case string:
		return appendString(dst, val)
	case []any:
		dst = append(dst, tagArray)
		for _, e := range val {
			dst = AppendValue(dst, e)
		}
		return append(dst, 0x00)
	case map[string]any:
		return appendObject(dst, val)
	case Doc:
		return appendObject(dst, map[string]any(val))
	default:
		return append(dst, tagNull)
	}
}

// EncodeKey encodes a composite key from ordered field values.
func EncodeKey(values ...any) []byte {
	var dst []byte
	for _, v := range values {
		dst = AppendValue(dst, v)
	}
	return dst
}

// PrefixSuccessor returns the smallest key strictly greater than every
// key having the given prefix, or nil when no such key exists (prefix
// is all 0xFF). Used as the exclusive upper bound of a prefix scan.
func PrefixSuccessor(prefix []byte) []byte {
	for i := len(prefix) - 1; i >= 0; i-- {
		if prefix[i] != 0xFF {
			out := make([]byte, i+1)
			copy(out, prefix[:i+1])
			out[i]++
			return out
		}
	}
	return nil
}

func appendNumber(dst []byte, f float64) []byte {
	bits := math.Float64bits(f)
	// Flip the sign bit for non-negatives, all bits for negatives, so
	// unsigned byte order matches numeric order.
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	dst = append(dst, tagNumber)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], bits)
	return append(dst, buf[:]...)
}

func appendString(dst []byte, s string) []byte {
	dst = append(dst, tagString)
	for i := 0; i < len(s); i++ {
		if s[i] == 0x00 {
			dst = append(dst, 0x00, 0xFF)
		} else {
			dst = append(dst, s[i])
		}
	}
	return append(dst, 0x00, 0x01)
}

func appendObject(dst []byte, m map[string]any) []byte {
	dst = append(dst, tagObject)
	for _, k := range sortedKeys(m) {
		dst = appendString(dst, k)
		dst = AppendValue(dst, m[k])
	}
	return append(dst, 0x00)
}
