package protocol

import (
	"fmt"
	"math"
	"strconv"

	"github.com/tidwall/gjson"
)

const (
	// MaxInteger is the largest value an INTEGER can carry in its 6 wire bytes.
	MaxInteger int64 = 1<<47 - 1

	// MinInteger is the smallest value an INTEGER can carry in its 6 wire bytes.
	MinInteger int64 = -(1<<47 - 1)
)

// Value is the data carried by a message. Exactly one variant is set,
// selected by Type().
//
// The zero Value is EMPTY.
type Value struct {
	typ DataType

	str string
	bin []byte
	num int64
	dec float64
	b   bool

	// obj is the application object, raw its serialised form. Values decoded
	// off the wire carry both, so they can be forwarded without serialising
	// the object again.
	obj interface{}
	raw []byte
}

func String(s string) Value {
	return Value{typ: DataString, str: s}
}

func Binary(b []byte) Value {
	return Value{typ: DataBinary, bin: b}
}

func Integer(i int64) Value {
	return Value{typ: DataInteger, num: i}
}

func Decimal(f float64) Value {
	return Value{typ: DataDecimal, dec: f}
}

func Bool(b bool) Value {
	return Value{typ: DataBoolean, b: b}
}

// Object wraps structured data that will go through the codec's
// ObjectSerializer when encoded.
func Object(v interface{}) Value {
	return Value{typ: DataObject, obj: v}
}

func Empty() Value {
	return Value{typ: DataEmpty}
}

// FromNative picks the Value variant for a Go value. Integer kinds become
// INTEGER, float kinds DECIMAL, nil EMPTY, and anything that is not a string,
// byte slice, bool or Value becomes an OBJECT.
func FromNative(v interface{}) Value {
	switch t := v.(type) {
	case nil:
		return Empty()
	case Value:
		return t
	case *Value:
		if t == nil {
			return Empty()
		}
		return *t
	case string:
		return String(t)
	case []byte:
		return Binary(t)
	case bool:
		return Bool(t)
	case int:
		return Integer(int64(t))
	case int8:
		return Integer(int64(t))
	case int16:
		return Integer(int64(t))
	case int32:
		return Integer(int64(t))
	case int64:
		return Integer(t)
	case uint:
		return fromUnsigned(uint64(t))
	case uint8:
		return Integer(int64(t))
	case uint16:
		return Integer(int64(t))
	case uint32:
		return Integer(int64(t))
	case uint64:
		return fromUnsigned(t)
	case float32:
		return Decimal(float64(t))
	case float64:
		return Decimal(t)
	default:
		return Object(v)
	}
}

func fromUnsigned(u uint64) Value {
	if u > math.MaxInt64 {
		// Out of range either way, let the encoder reject it.
		return Integer(math.MaxInt64)
	}

	return Integer(int64(u))
}

// Type returns the data type tag of v.
func (v Value) Type() DataType {
	if v.typ == 0 {
		return DataEmpty
	}

	return v.typ
}

func (v Value) IsEmpty() bool {
	return v.Type() == DataEmpty
}

// AsString returns the STRING variant, or "" for any other type.
func (v Value) AsString() string {
	return v.str
}

// AsBytes returns the BINARY variant, or nil for any other type.
func (v Value) AsBytes() []byte {
	return v.bin
}

func (v Value) AsInt() int64 {
	return v.num
}

func (v Value) AsFloat() float64 {
	return v.dec
}

func (v Value) AsBool() bool {
	return v.b
}

// AsObject returns the application object of an OBJECT value. For decoded
// values this is whatever the ObjectDeserializer produced.
func (v Value) AsObject() interface{} {
	return v.obj
}

// Raw returns the serialised bytes of a decoded OBJECT value.
func (v Value) Raw() []byte {
	return v.raw
}

// Get queries a decoded OBJECT value whose serialised form is JSON, using
// gjson path syntax. It returns an empty result for any other value.
func (v Value) Get(path string) gjson.Result {
	if v.Type() != DataObject || len(v.raw) == 0 {
		return gjson.Result{}
	}

	return gjson.GetBytes(v.raw, path)
}

// Interface returns the native Go value held by v.
func (v Value) Interface() interface{} {
	switch v.Type() {
	case DataString:
		return v.str
	case DataBinary:
		return v.bin
	case DataInteger:
		return v.num
	case DataDecimal:
		return v.dec
	case DataBoolean:
		return v.b
	case DataObject:
		return v.obj
	default:
		return nil
	}
}

func (v Value) String() string {
	switch v.Type() {
	case DataString:
		return strconv.Quote(v.str)
	case DataBinary:
		return fmt.Sprintf("<%d bytes>", len(v.bin))
	case DataInteger:
		return strconv.FormatInt(v.num, 10)
	case DataDecimal:
		return strconv.FormatFloat(v.dec, 'g', -1, 64)
	case DataBoolean:
		return strconv.FormatBool(v.b)
	case DataObject:
		if len(v.raw) > 0 {
			return string(v.raw)
		}
		return fmt.Sprintf("%v", v.obj)
	default:
		return "<empty>"
	}
}
