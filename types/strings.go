package types

import (
	"encoding/binary"
	"fmt"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// Variable-length values carry a little-endian length prefix: two bytes for
// sized columns (0xFFFF is null) and four bytes for (max) columns
// (0xFFFFFFFF is null).

const (
	nullShortLen = 0xFFFF
	nullLongLen  = 0xFFFFFFFF
)

func appendVar(dst []byte, payload []byte, p Params) []byte {
	if p.Length == MaxLength {
		dst = binary.LittleEndian.AppendUint32(dst, uint32(len(payload)))
	} else {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(len(payload)))
	}
	return append(dst, payload...)
}

func appendVarNull(dst []byte, p Params) []byte {
	if p.Length == MaxLength {
		return binary.LittleEndian.AppendUint32(dst, nullLongLen)
	}
	return binary.LittleEndian.AppendUint16(dst, nullShortLen)
}

func readVar(typ string, src []byte, p Params) ([]byte, int, error) {
	if p.Length == MaxLength {
		if len(src) < 4 {
			return nil, 0, errShort(typ)
		}
		n := binary.LittleEndian.Uint32(src)
		if n == nullLongLen {
			return nil, 4, nil
		}
		if uint64(len(src)) < 4+uint64(n) {
			return nil, 0, errShort(typ)
		}
		return src[4 : 4+n], 4 + int(n), nil
	}
	if len(src) < 2 {
		return nil, 0, errShort(typ)
	}
	n := int(binary.LittleEndian.Uint16(src))
	if n == nullShortLen {
		return nil, 2, nil
	}
	if len(src) < 2+n {
		return nil, 0, errShort(typ)
	}
	return src[2 : 2+n], 2 + n, nil
}

func resolveLength(typ string, p Params, def, limit int) (Params, error) {
	switch {
	case p.Length == 0:
		p.Length = def
	case p.Length == MaxLength:
	case p.Length < 0 || p.Length > limit:
		return p, errors.Newf("%s length must be between 1 and %d, or max", typ, limit)
	}
	return Params{Length: p.Length}, nil
}

func declareLength(name string, p Params) string {
	if p.Length == MaxLength {
		return name + "(max)"
	}
	return fmt.Sprintf("%s(%d)", name, p.Length)
}

func checkLength(typ string, v any, n int, p Params) error {
	if p.Length != MaxLength && p.Length > 0 && n > p.Length {
		return valueError(typ, v, "Value exceeds maximum length of %d.", p.Length)
	}
	return nil
}

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

type nvarcharType struct{}

func (nvarcharType) ID() byte     { return 0xe7 }
func (nvarcharType) Name() string { return "NVarChar" }

func (nvarcharType) Declaration(p Params) string { return declareLength("nvarchar", p) }

func (t nvarcharType) ResolveParams(p Params) (Params, error) {
	return resolveLength(t.Name(), p, 4000, 4000)
}

func (nvarcharType) AppendNull(dst []byte, p Params) []byte { return appendVarNull(dst, p) }

func (t nvarcharType) Validate(v any, p Params) (any, error) {
	s, ok := toString(v)
	if !ok || !utf8.ValidString(s) {
		return nil, valueError(t.Name(), v, "Invalid string.")
	}
	// Length is measured in UTF-16 code units.
	units := 0
	for _, r := range s {
		units += utf16.RuneLen(r)
	}
	if err := checkLength(t.Name(), v, units, p); err != nil {
		return nil, err
	}
	return s, nil
}

func (t nvarcharType) AppendValue(dst []byte, v any, p Params) ([]byte, error) {
	cv, err := t.Validate(v, p)
	if err != nil {
		return dst, err
	}
	payload, err := utf16le.NewEncoder().Bytes([]byte(cv.(string)))
	if err != nil {
		return dst, valueError(t.Name(), v, "Invalid string.")
	}
	return appendVar(dst, payload, p), nil
}

func (t nvarcharType) ReadValue(src []byte, p Params) (any, int, error) {
	b, n, err := readVar(t.Name(), src, p)
	if err != nil || b == nil {
		return nil, n, err
	}
	s, err := utf16le.NewDecoder().Bytes(b)
	if err != nil {
		return nil, 0, err
	}
	return string(s), n, nil
}

// VarChar values are stored in code page 1252.
type varcharType struct{}

func (varcharType) ID() byte     { return 0xa7 }
func (varcharType) Name() string { return "VarChar" }

func (varcharType) Declaration(p Params) string { return declareLength("varchar", p) }

func (t varcharType) ResolveParams(p Params) (Params, error) {
	return resolveLength(t.Name(), p, 8000, 8000)
}

func (varcharType) AppendNull(dst []byte, p Params) []byte { return appendVarNull(dst, p) }

func (t varcharType) encode(v any) ([]byte, error) {
	s, ok := toString(v)
	if !ok {
		return nil, valueError(t.Name(), v, "Invalid string.")
	}
	b, err := charmap.Windows1252.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, valueError(t.Name(), v, "Invalid string.")
	}
	return b, nil
}

func (t varcharType) Validate(v any, p Params) (any, error) {
	b, err := t.encode(v)
	if err != nil {
		return nil, err
	}
	if err := checkLength(t.Name(), v, len(b), p); err != nil {
		return nil, err
	}
	s, _ := toString(v)
	return s, nil
}

func (t varcharType) AppendValue(dst []byte, v any, p Params) ([]byte, error) {
	if _, err := t.Validate(v, p); err != nil {
		return dst, err
	}
	b, err := t.encode(v)
	if err != nil {
		return dst, err
	}
	return appendVar(dst, b, p), nil
}

func (t varcharType) ReadValue(src []byte, p Params) (any, int, error) {
	b, n, err := readVar(t.Name(), src, p)
	if err != nil || b == nil {
		return nil, n, err
	}
	s, err := charmap.Windows1252.NewDecoder().Bytes(b)
	if err != nil {
		return nil, 0, err
	}
	return string(s), n, nil
}

type varbinaryType struct{}

func (varbinaryType) ID() byte     { return 0xa5 }
func (varbinaryType) Name() string { return "VarBinary" }

func (varbinaryType) Declaration(p Params) string { return declareLength("varbinary", p) }

func (t varbinaryType) ResolveParams(p Params) (Params, error) {
	return resolveLength(t.Name(), p, 8000, 8000)
}

func (varbinaryType) AppendNull(dst []byte, p Params) []byte { return appendVarNull(dst, p) }

func (t varbinaryType) Validate(v any, p Params) (any, error) {
	b, ok := v.([]byte)
	if !ok {
		return nil, valueError(t.Name(), v, "Invalid buffer.")
	}
	if err := checkLength(t.Name(), v, len(b), p); err != nil {
		return nil, err
	}
	return b, nil
}

func (t varbinaryType) AppendValue(dst []byte, v any, p Params) ([]byte, error) {
	cv, err := t.Validate(v, p)
	if err != nil {
		return dst, err
	}
	return appendVar(dst, cv.([]byte), p), nil
}

func (t varbinaryType) ReadValue(src []byte, p Params) (any, int, error) {
	b, n, err := readVar(t.Name(), src, p)
	if err != nil || b == nil {
		return nil, n, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, n, nil
}
