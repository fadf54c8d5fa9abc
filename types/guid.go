package types

import (
	"github.com/google/uuid"
)

type guidType struct{}

func (guidType) ID() byte                               { return 0x24 }
func (guidType) Name() string                           { return "UniqueIdentifier" }
func (guidType) Declaration(Params) string              { return "uniqueidentifier" }
func (guidType) ResolveParams(p Params) (Params, error) { return noParams(p) }
func (guidType) AppendNull(dst []byte, _ Params) []byte { return append(dst, 0) }

func (t guidType) Validate(v any, _ Params) (any, error) {
	switch g := v.(type) {
	case uuid.UUID:
		return g, nil
	case [16]byte:
		return uuid.UUID(g), nil
	case []byte:
		if u, err := uuid.FromBytes(g); err == nil {
			return u, nil
		}
	case string:
		if u, err := uuid.Parse(g); err == nil {
			return u, nil
		}
	}
	return nil, valueError(t.Name(), v, "Invalid GUID.")
}

func (t guidType) AppendValue(dst []byte, v any, p Params) ([]byte, error) {
	cv, err := t.Validate(v, p)
	if err != nil {
		return dst, err
	}
	u := cv.(uuid.UUID)
	return appendFixed(dst, u[:]...), nil
}

func (t guidType) ReadValue(src []byte, _ Params) (any, int, error) {
	b, n, err := readFixed(t.Name(), src, 16)
	if err != nil || b == nil {
		return nil, n, err
	}
	u, err := uuid.FromBytes(b)
	if err != nil {
		return nil, 0, err
	}
	return u, n, nil
}
