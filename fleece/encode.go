package fleece

import (
	"encoding/binary"
	"math"
)

// Wire tags for the private Binary-Doc encoding. One byte precedes
// every value; fixed-width kinds are followed by their payload,
// variable-width kinds are followed by a uvarint length and payload.
const (
	tagNull byte = iota
	tagFalse
	tagTrue
	tagInt
	tagUnsigned
	tagDouble
	tagString
	tagData
	tagArray
	tagDict
)

// Encoder builds a Binary-Doc blob incrementally. The zero Encoder is
// ready to use.
type Encoder struct {
	buf []byte
}

// NewEncoder returns a ready-to-use Encoder.
func NewEncoder() *Encoder { return &Encoder{} }

// Bytes returns the encoded blob built so far.
func (e *Encoder) Bytes() []byte { return e.buf }

// Reset clears the encoder for reuse.
func (e *Encoder) Reset() { e.buf = e.buf[:0] }

func putUvarint(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

// WriteValue appends v's encoding to the encoder, recursing through
// arrays and dicts.
func (e *Encoder) WriteValue(v Value) {
	switch v.typ {
	case typeMissing, TypeNull:
		e.buf = append(e.buf, tagNull)
	case TypeBool:
		if v.bval {
			e.buf = append(e.buf, tagTrue)
		} else {
			e.buf = append(e.buf, tagFalse)
		}
	case TypeInt:
		e.buf = append(e.buf, tagInt)
		e.buf = putUvarint(e.buf, uint64(zigzag(v.ival)))
	case TypeUnsigned:
		e.buf = append(e.buf, tagUnsigned)
		e.buf = putUvarint(e.buf, v.uval)
	case TypeDouble:
		e.buf = append(e.buf, tagDouble)
		var tmp [8]byte
		binary.LittleEndian.PutUint64(tmp[:], math.Float64bits(v.dval))
		e.buf = append(e.buf, tmp[:]...)
	case TypeString:
		e.buf = append(e.buf, tagString)
		e.buf = putUvarint(e.buf, uint64(len(v.sval)))
		e.buf = append(e.buf, v.sval...)
	case TypeData:
		e.buf = append(e.buf, tagData)
		e.buf = putUvarint(e.buf, uint64(len(v.data)))
		e.buf = append(e.buf, v.data...)
	case TypeArray:
		e.buf = append(e.buf, tagArray)
		e.buf = putUvarint(e.buf, uint64(len(v.arr)))
		for _, el := range v.arr {
			e.WriteValue(el.v)
		}
	case TypeDict:
		e.buf = append(e.buf, tagDict)
		e.buf = putUvarint(e.buf, uint64(len(v.dict)))
		for _, f := range v.dict {
			e.buf = putUvarint(e.buf, uint64(len(f.key)))
			e.buf = append(e.buf, f.key...)
			e.WriteValue(f.v)
		}
	default:
		e.buf = append(e.buf, tagNull)
	}
}

func zigzag(i int64) int64 {
	return (i << 1) ^ (i >> 63)
}

func unzigzag(u uint64) int64 {
	return int64(u>>1) ^ -int64(u&1)
}

// Encode is a convenience wrapper returning the encoding of a single
// value.
func Encode(v Value) []byte {
	e := NewEncoder()
	e.WriteValue(v)
	return e.Bytes()
}
