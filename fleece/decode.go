package fleece

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Parse decodes a Binary-Doc blob into its root Value. scope may be nil
// for blobs with no shared-keys-encoded dict keys (shared keys are not
// used by this implementation's own encoder, but Parse accepts a scope
// so callers that read blobs written by a shared-keys-aware producer
// can still resolve them via ResolveSharedKey).
func Parse(data []byte, scope *Scope) (Value, error) {
	d := &decoder{buf: data, scope: scope}
	v, err := d.readValue()
	if err != nil {
		return Value{}, err
	}
	if d.pos != len(d.buf) {
		return Value{}, fmt.Errorf("fleece: %d trailing bytes after root value", len(d.buf)-d.pos)
	}
	return v, nil
}

// ParseTrailing is like Parse but does not require the whole buffer to
// be consumed; it is used internally when a blob is a prefix of a
// larger buffer (e.g. fl_each handing through an already-sliced
// sub-value).
func ParseTrailing(data []byte, scope *Scope) (Value, int, error) {
	d := &decoder{buf: data, scope: scope}
	v, err := d.readValue()
	return v, d.pos, err
}

type decoder struct {
	buf   []byte
	pos   int
	scope *Scope
}

var errTruncated = fmt.Errorf("fleece: %w", errShortBlob{})

type errShortBlob struct{}

func (errShortBlob) Error() string { return "truncated Binary-Doc blob" }

func (d *decoder) readByte() (byte, error) {
	if d.pos >= len(d.buf) {
		return 0, errTruncated
	}
	b := d.buf[d.pos]
	d.pos++
	return b, nil
}

func (d *decoder) readUvarint() (uint64, error) {
	v, n := binary.Uvarint(d.buf[d.pos:])
	if n <= 0 {
		return 0, errTruncated
	}
	d.pos += n
	return v, nil
}

func (d *decoder) readN(n int) ([]byte, error) {
	if n < 0 || d.pos+n > len(d.buf) {
		return nil, errTruncated
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

func (d *decoder) readValue() (Value, error) {
	tag, err := d.readByte()
	if err != nil {
		return Value{}, err
	}
	switch tag {
	case tagNull:
		return Null, nil
	case tagFalse:
		return Bool(false), nil
	case tagTrue:
		return Bool(true), nil
	case tagInt:
		u, err := d.readUvarint()
		if err != nil {
			return Value{}, err
		}
		return Int(unzigzag(u)), nil
	case tagUnsigned:
		u, err := d.readUvarint()
		if err != nil {
			return Value{}, err
		}
		return Unsigned(u), nil
	case tagDouble:
		b, err := d.readN(8)
		if err != nil {
			return Value{}, err
		}
		return Double(math.Float64frombits(binary.LittleEndian.Uint64(b))), nil
	case tagString:
		n, err := d.readUvarint()
		if err != nil {
			return Value{}, err
		}
		b, err := d.readN(int(n))
		if err != nil {
			return Value{}, err
		}
		return Value{typ: TypeString, sval: string(b), scope: d.scope}, nil
	case tagData:
		n, err := d.readUvarint()
		if err != nil {
			return Value{}, err
		}
		b, err := d.readN(int(n))
		if err != nil {
			return Value{}, err
		}
		return Value{typ: TypeData, data: b, scope: d.scope}, nil
	case tagArray:
		n, err := d.readUvarint()
		if err != nil {
			return Value{}, err
		}
		v := Value{typ: TypeArray, scope: d.scope}
		v.arr = make([]rawElem, 0, n)
		for i := uint64(0); i < n; i++ {
			el, err := d.readValue()
			if err != nil {
				return Value{}, err
			}
			v.arr = append(v.arr, rawElem{v: el})
		}
		return v, nil
	case tagDict:
		n, err := d.readUvarint()
		if err != nil {
			return Value{}, err
		}
		v := Value{typ: TypeDict, scope: d.scope}
		v.dict = make([]rawField, 0, n)
		for i := uint64(0); i < n; i++ {
			klen, err := d.readUvarint()
			if err != nil {
				return Value{}, err
			}
			kb, err := d.readN(int(klen))
			if err != nil {
				return Value{}, err
			}
			val, err := d.readValue()
			if err != nil {
				return Value{}, err
			}
			v.dict = append(v.dict, rawField{key: string(kb), v: val})
		}
		return v, nil
	default:
		return Value{}, fmt.Errorf("fleece: unknown tag byte 0x%02x at offset %d", tag, d.pos-1)
	}
}

// IsValid reports whether data looks like a well-formed Binary-Doc
// blob, without retaining the parsed tree. Used by integrity checks.
func IsValid(data []byte) bool {
	_, err := Parse(data, nil)
	return err == nil
}
