package types

import (
	"encoding/binary"
	"math"
	"strings"
)

// Fixed-width values are written as a one-byte length followed by the
// payload; a zero length is the null indicator.

func appendFixed(dst []byte, payload ...byte) []byte {
	dst = append(dst, byte(len(payload)))
	return append(dst, payload...)
}

func readFixed(typ string, src []byte, width int) ([]byte, int, error) {
	if len(src) < 1 {
		return nil, 0, errShort(typ)
	}
	n := int(src[0])
	if n == 0 {
		return nil, 1, nil
	}
	if n != width {
		return nil, 0, valueError(typ, n, "%s: unexpected value length %d", typ, n)
	}
	if len(src) < 1+n {
		return nil, 0, errShort(typ)
	}
	return src[1 : 1+n], 1 + n, nil
}

func noParams(p Params) (Params, error) {
	return Params{}, nil
}

func rangeError(typ string, v any, lo, hi int64) *ValueError {
	return valueError(typ, v, "Value must be between %d and %d, inclusive.", lo, hi)
}

func validateInteger(typ string, v any, lo, hi int64) (int64, error) {
	i, ok := toInt64(v)
	if !ok {
		if f, isFloat := toFloat64(v); isFloat {
			if math.IsNaN(f) || f == math.Trunc(f) || f < float64(lo) || f > float64(hi) {
				return 0, rangeError(typ, v, lo, hi)
			}
			return 0, valueError(typ, v, "Value must be an integer.")
		}
		return 0, valueError(typ, v, "Invalid number.")
	}
	if i < lo || i > hi {
		return 0, rangeError(typ, v, lo, hi)
	}
	return i, nil
}

type tinyIntType struct{}

func (tinyIntType) ID() byte                               { return 0x30 }
func (tinyIntType) Name() string                           { return "TinyInt" }
func (tinyIntType) Declaration(Params) string              { return "tinyint" }
func (tinyIntType) ResolveParams(p Params) (Params, error) { return noParams(p) }
func (tinyIntType) AppendNull(dst []byte, _ Params) []byte { return append(dst, 0) }

func (t tinyIntType) Validate(v any, _ Params) (any, error) {
	i, err := validateInteger(t.Name(), v, 0, math.MaxUint8)
	if err != nil {
		return nil, err
	}
	return uint8(i), nil
}

func (t tinyIntType) AppendValue(dst []byte, v any, p Params) ([]byte, error) {
	cv, err := t.Validate(v, p)
	if err != nil {
		return dst, err
	}
	return appendFixed(dst, cv.(uint8)), nil
}

func (t tinyIntType) ReadValue(src []byte, _ Params) (any, int, error) {
	b, n, err := readFixed(t.Name(), src, 1)
	if err != nil || b == nil {
		return nil, n, err
	}
	return b[0], n, nil
}

type smallIntType struct{}

func (smallIntType) ID() byte                               { return 0x34 }
func (smallIntType) Name() string                           { return "SmallInt" }
func (smallIntType) Declaration(Params) string              { return "smallint" }
func (smallIntType) ResolveParams(p Params) (Params, error) { return noParams(p) }
func (smallIntType) AppendNull(dst []byte, _ Params) []byte { return append(dst, 0) }

func (t smallIntType) Validate(v any, _ Params) (any, error) {
	i, err := validateInteger(t.Name(), v, math.MinInt16, math.MaxInt16)
	if err != nil {
		return nil, err
	}
	return int16(i), nil
}

func (t smallIntType) AppendValue(dst []byte, v any, p Params) ([]byte, error) {
	cv, err := t.Validate(v, p)
	if err != nil {
		return dst, err
	}
	return appendFixed(dst, binary.LittleEndian.AppendUint16(nil, uint16(cv.(int16)))...), nil
}

func (t smallIntType) ReadValue(src []byte, _ Params) (any, int, error) {
	b, n, err := readFixed(t.Name(), src, 2)
	if err != nil || b == nil {
		return nil, n, err
	}
	return int16(binary.LittleEndian.Uint16(b)), n, nil
}

type intType struct{}

func (intType) ID() byte                               { return 0x38 }
func (intType) Name() string                           { return "Int" }
func (intType) Declaration(Params) string              { return "int" }
func (intType) ResolveParams(p Params) (Params, error) { return noParams(p) }
func (intType) AppendNull(dst []byte, _ Params) []byte { return append(dst, 0) }

func (t intType) Validate(v any, _ Params) (any, error) {
	i, err := validateInteger(t.Name(), v, math.MinInt32, math.MaxInt32)
	if err != nil {
		return nil, err
	}
	return int32(i), nil
}

func (t intType) AppendValue(dst []byte, v any, p Params) ([]byte, error) {
	cv, err := t.Validate(v, p)
	if err != nil {
		return dst, err
	}
	return appendFixed(dst, binary.LittleEndian.AppendUint32(nil, uint32(cv.(int32)))...), nil
}

func (t intType) ReadValue(src []byte, _ Params) (any, int, error) {
	b, n, err := readFixed(t.Name(), src, 4)
	if err != nil || b == nil {
		return nil, n, err
	}
	return int32(binary.LittleEndian.Uint32(b)), n, nil
}

type bigIntType struct{}

func (bigIntType) ID() byte                               { return 0x7f }
func (bigIntType) Name() string                           { return "BigInt" }
func (bigIntType) Declaration(Params) string              { return "bigint" }
func (bigIntType) ResolveParams(p Params) (Params, error) { return noParams(p) }
func (bigIntType) AppendNull(dst []byte, _ Params) []byte { return append(dst, 0) }

func (t bigIntType) Validate(v any, _ Params) (any, error) {
	i, err := validateInteger(t.Name(), v, math.MinInt64, math.MaxInt64)
	if err != nil {
		return nil, err
	}
	return i, nil
}

func (t bigIntType) AppendValue(dst []byte, v any, p Params) ([]byte, error) {
	cv, err := t.Validate(v, p)
	if err != nil {
		return dst, err
	}
	return appendFixed(dst, binary.LittleEndian.AppendUint64(nil, uint64(cv.(int64)))...), nil
}

func (t bigIntType) ReadValue(src []byte, _ Params) (any, int, error) {
	b, n, err := readFixed(t.Name(), src, 8)
	if err != nil || b == nil {
		return nil, n, err
	}
	return int64(binary.LittleEndian.Uint64(b)), n, nil
}

type bitType struct{}

func (bitType) ID() byte                               { return 0x32 }
func (bitType) Name() string                           { return "Bit" }
func (bitType) Declaration(Params) string              { return "bit" }
func (bitType) ResolveParams(p Params) (Params, error) { return noParams(p) }
func (bitType) AppendNull(dst []byte, _ Params) []byte { return append(dst, 0) }

func (t bitType) Validate(v any, _ Params) (any, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "1":
			return true, nil
		case "false", "0":
			return false, nil
		}
		return nil, valueError(t.Name(), v, "Invalid boolean.")
	}
	if i, ok := toInt64(v); ok {
		return i != 0, nil
	}
	return nil, valueError(t.Name(), v, "Invalid boolean.")
}

func (t bitType) AppendValue(dst []byte, v any, p Params) ([]byte, error) {
	cv, err := t.Validate(v, p)
	if err != nil {
		return dst, err
	}
	var b byte
	if cv.(bool) {
		b = 1
	}
	return appendFixed(dst, b), nil
}

func (t bitType) ReadValue(src []byte, _ Params) (any, int, error) {
	b, n, err := readFixed(t.Name(), src, 1)
	if err != nil || b == nil {
		return nil, n, err
	}
	return b[0] != 0, n, nil
}

type realType struct{}

func (realType) ID() byte                               { return 0x3b }
func (realType) Name() string                           { return "Real" }
func (realType) Declaration(Params) string              { return "real" }
func (realType) ResolveParams(p Params) (Params, error) { return noParams(p) }
func (realType) AppendNull(dst []byte, _ Params) []byte { return append(dst, 0) }

func (t realType) Validate(v any, _ Params) (any, error) {
	f, ok := toFloat64(v)
	if !ok || math.IsNaN(f) {
		return nil, valueError(t.Name(), v, "Invalid number.")
	}
	if math.IsInf(f, 0) || math.Abs(f) > math.MaxFloat32 {
		return nil, valueError(t.Name(), v, "Value is out of range for real.")
	}
	return float32(f), nil
}

func (t realType) AppendValue(dst []byte, v any, p Params) ([]byte, error) {
	cv, err := t.Validate(v, p)
	if err != nil {
		return dst, err
	}
	return appendFixed(dst, binary.LittleEndian.AppendUint32(nil, math.Float32bits(cv.(float32)))...), nil
}

func (t realType) ReadValue(src []byte, _ Params) (any, int, error) {
	b, n, err := readFixed(t.Name(), src, 4)
	if err != nil || b == nil {
		return nil, n, err
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(b)), n, nil
}

type floatType struct{}

func (floatType) ID() byte                               { return 0x3e }
func (floatType) Name() string                           { return "Float" }
func (floatType) Declaration(Params) string              { return "float" }
func (floatType) ResolveParams(p Params) (Params, error) { return noParams(p) }
func (floatType) AppendNull(dst []byte, _ Params) []byte { return append(dst, 0) }

func (t floatType) Validate(v any, _ Params) (any, error) {
	f, ok := toFloat64(v)
	if !ok || math.IsNaN(f) {
		return nil, valueError(t.Name(), v, "Invalid number.")
	}
	if math.IsInf(f, 0) {
		return nil, valueError(t.Name(), v, "Value is out of range for float.")
	}
	return f, nil
}

func (t floatType) AppendValue(dst []byte, v any, p Params) ([]byte, error) {
	cv, err := t.Validate(v, p)
	if err != nil {
		return dst, err
	}
	return appendFixed(dst, binary.LittleEndian.AppendUint64(nil, math.Float64bits(cv.(float64)))...), nil
}

func (t floatType) ReadValue(src []byte, _ Params) (any, int, error) {
	b, n, err := readFixed(t.Name(), src, 8)
	if err != nil || b == nil {
		return nil, n, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b)), n, nil
}
