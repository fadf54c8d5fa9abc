// Package types is the scalar type catalog used by bulk loads.
//
// Each Type knows how to convert a Go value into its canonical form, how to
// append that value (or a null indicator) to a row record, how to read it back,
// and how to declare itself in DDL. Values are written little-endian.
package types

import (
	"fmt"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
)

// MaxLength marks a variable-length column declared with (max).
const MaxLength = -1

// Params carries the type-specific sizing of a column.
type Params struct {
	// Length is the declared length for character and binary types.
	// Zero selects the type default; MaxLength selects (max).
	Length int

	// Precision is reserved for exact numeric types.
	Precision uint8

	// Scale is the fractional-second precision for DateTime2 (0-7).
	Scale uint8
}

// Type is a scalar type codec.
type Type interface {
	// ID is the one-byte type tag written into the column metadata header.
	ID() byte

	// Name is the catalog name, e.g. "Int" or "NVarChar".
	Name() string

	// Declaration renders the SQL type, e.g. "nvarchar(50)".
	Declaration(p Params) string

	// ResolveParams validates p and fills in defaults.
	ResolveParams(p Params) (Params, error)

	// Validate converts v into the canonical Go value for this type, rejecting
	// values that fall outside the representable range.
	Validate(v any, p Params) (any, error)

	// AppendValue appends the wire form of a non-nil value.
	AppendValue(dst []byte, v any, p Params) ([]byte, error)

	// AppendNull appends the null indicator.
	AppendNull(dst []byte, p Params) []byte

	// ReadValue decodes one value from src, returning nil for a null
	// indicator, and the number of bytes consumed.
	ReadValue(src []byte, p Params) (any, int, error)
}

// ValueError reports a value that cannot be represented in a type.
type ValueError struct {
	Type    string
	Value   any
	Message string
}

func (e *ValueError) Error() string {
	return e.Message
}

func valueError(typ string, v any, format string, args ...any) *ValueError {
	return &ValueError{Type: typ, Value: v, Message: fmt.Sprintf(format, args...)}
}

var (
	registryMu sync.RWMutex
	byName     = map[string]Type{}
	byID       = map[byte]Type{}
)

// Register adds t to the catalog. It panics on a duplicate name or ID.
func Register(t Type) {
	registryMu.Lock()
	defer registryMu.Unlock()

	key := strings.ToLower(t.Name())
	if _, dup := byName[key]; dup {
		panic(fmt.Sprintf("types: duplicate type name %q", t.Name()))
	}
	if prev, dup := byID[t.ID()]; dup {
		panic(fmt.Sprintf("types: id 0x%02x already used by %s", t.ID(), prev.Name()))
	}
	byName[key] = t
	byID[t.ID()] = t
}

// Lookup finds a type by name, case-insensitively.
func Lookup(name string) (Type, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	t, ok := byName[strings.ToLower(strings.TrimSpace(name))]
	return t, ok
}

// ByID finds a type by its header tag.
func ByID(id byte) (Type, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	t, ok := byID[id]
	return t, ok
}

// All returns every registered type.
func All() []Type {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]Type, 0, len(byID))
	for id := 0; id < 256; id++ {
		if t, ok := byID[byte(id)]; ok {
			out = append(out, t)
		}
	}
	return out
}

// Catalog entries.
var (
	TinyInt          Type = tinyIntType{}
	SmallInt         Type = smallIntType{}
	Int              Type = intType{}
	BigInt           Type = bigIntType{}
	Bit              Type = bitType{}
	Real             Type = realType{}
	Float            Type = floatType{}
	NVarChar         Type = nvarcharType{}
	VarChar          Type = varcharType{}
	VarBinary        Type = varbinaryType{}
	Date             Type = dateType{}
	DateTime2        Type = datetime2Type{}
	UniqueIdentifier Type = guidType{}
)

func init() {
	for _, t := range []Type{
		TinyInt, SmallInt, Int, BigInt, Bit, Real, Float,
		NVarChar, VarChar, VarBinary, Date, DateTime2, UniqueIdentifier,
	} {
		Register(t)
	}
}

// errShort is returned when a record ends before a value is complete.
func errShort(typ string) error {
	return errors.Newf("types: %s: record truncated", typ)
}
