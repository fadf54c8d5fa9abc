package types

import (
	"math"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/golang-sql/civil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	id := uuid.MustParse("6f9619ff-8b86-d011-b42d-00c04fc964ff")
	ts := time.Date(2024, time.March, 9, 13, 45, 12, 123456700, time.UTC)

	tests := []struct {
		name   string
		typ    Type
		params Params
		value  any
		want   any
	}{
		{"tinyint", TinyInt, Params{}, 255, uint8(255)},
		{"smallint", SmallInt, Params{}, -32768, int16(-32768)},
		{"int", Int, Params{}, int64(math.MaxInt32), int32(math.MaxInt32)},
		{"bigint", BigInt, Params{}, int64(math.MinInt64), int64(math.MinInt64)},
		{"bit", Bit, Params{}, true, true},
		{"real", Real, Params{}, float32(1.5), float32(1.5)},
		{"float", Float, Params{}, 3.14159, 3.14159},
		{"nvarchar", NVarChar, Params{Length: 20}, "héllo wörld ✓", "héllo wörld ✓"},
		{"nvarchar max", NVarChar, Params{Length: MaxLength}, "long text", "long text"},
		{"nvarchar empty", NVarChar, Params{Length: 5}, "", ""},
		{"varchar", VarChar, Params{Length: 10}, "café", "café"},
		{"varbinary", VarBinary, Params{Length: 4}, []byte{0xde, 0xad, 0xbe, 0xef}, []byte{0xde, 0xad, 0xbe, 0xef}},
		{"date", Date, Params{}, civil.Date{Year: 1999, Month: time.December, Day: 31}, time.Date(1999, time.December, 31, 0, 0, 0, 0, time.UTC)},
		{"date min", Date, Params{}, "0001-01-01", time.Date(1, time.January, 1, 0, 0, 0, 0, time.UTC)},
		{"datetime2", DateTime2, Params{Scale: 7}, ts, ts},
		{"uniqueidentifier", UniqueIdentifier, Params{}, id.String(), id},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params, err := tt.typ.ResolveParams(tt.params)
			require.NoError(t, err)

			buf, err := tt.typ.AppendValue(nil, tt.value, params)
			require.NoError(t, err)

			got, n, err := tt.typ.ReadValue(buf, params)
			require.NoError(t, err)
			assert.Equal(t, len(buf), n)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNullRoundTrip(t *testing.T) {
	for _, typ := range All() {
		t.Run(typ.Name(), func(t *testing.T) {
			params, err := typ.ResolveParams(Params{})
			require.NoError(t, err)

			buf := typ.AppendNull(nil, params)
			got, n, err := typ.ReadValue(buf, params)
			require.NoError(t, err)
			assert.Nil(t, got)
			assert.Equal(t, len(buf), n)
		})
	}
}

func TestValidateMessages(t *testing.T) {
	tests := []struct {
		name    string
		typ     Type
		params  Params
		value   any
		message string
	}{
		{"invalid date", Date, Params{}, "invalid date", "Invalid date."},
		{"date out of range", Date, Params{}, civil.Date{Year: 10000, Month: 1, Day: 1}, "Out of range."},
		{"int too large", Int, Params{}, int64(math.MaxInt32) + 1, "Value must be between -2147483648 and 2147483647, inclusive."},
		{"int fraction", Int, Params{}, 1.5, "Value must be an integer."},
		{"int fraction string", Int, Params{}, "-7.25", "Value must be an integer."},
		{"tinyint fraction out of range", TinyInt, Params{}, 300.5, "Value must be between 0 and 255, inclusive."},
		{"bigint just past range", BigInt, Params{}, float64(1 << 63), "Value must be between -9223372036854775808 and 9223372036854775807, inclusive."},
		{"bigint infinity", BigInt, Params{}, math.Inf(1), "Value must be between -9223372036854775808 and 9223372036854775807, inclusive."},
		{"int not a number", Int, Params{}, "abc", "Invalid number."},
		{"tinyint negative", TinyInt, Params{}, -1, "Value must be between 0 and 255, inclusive."},
		{"bit garbage", Bit, Params{}, "maybe", "Invalid boolean."},
		{"nvarchar too long", NVarChar, Params{Length: 3}, "abcd", "Value exceeds maximum length of 3."},
		{"nvarchar wrong type", NVarChar, Params{Length: 3}, 42, "Invalid string."},
		{"varchar outside code page", VarChar, Params{Length: 10}, "✓", "Invalid string."},
		{"varbinary wrong type", VarBinary, Params{Length: 10}, "abc", "Invalid buffer."},
		{"guid garbage", UniqueIdentifier, Params{}, "not-a-guid", "Invalid GUID."},
		{"datetime2 garbage", DateTime2, Params{Scale: 7}, "yesterday", "Invalid date."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.typ.Validate(tt.value, tt.params)
			require.Error(t, err)

			var verr *ValueError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.message, verr.Message)
			assert.Equal(t, tt.typ.Name(), verr.Type)
		})
	}
}

func TestDateTime2Scale(t *testing.T) {
	ts := time.Date(2020, time.January, 2, 3, 4, 5, 987654321, time.UTC)

	got, err := DateTime2.Validate(ts, Params{Scale: 3})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2020, time.January, 2, 3, 4, 5, 987000000, time.UTC), got)

	_, err = DateTime2.ResolveParams(Params{Scale: 8})
	require.Error(t, err)
}

func TestResolveParams(t *testing.T) {
	p, err := NVarChar.ResolveParams(Params{})
	require.NoError(t, err)
	assert.Equal(t, 4000, p.Length)
	assert.Equal(t, "nvarchar(4000)", NVarChar.Declaration(p))

	p, err = NVarChar.ResolveParams(Params{Length: MaxLength})
	require.NoError(t, err)
	assert.Equal(t, "nvarchar(max)", NVarChar.Declaration(p))

	_, err = NVarChar.ResolveParams(Params{Length: 4001})
	require.Error(t, err)

	_, err = VarChar.ResolveParams(Params{Length: -5})
	require.Error(t, err)
}

func TestLookup(t *testing.T) {
	typ, ok := Lookup("nvarchar")
	require.True(t, ok)
	assert.Equal(t, NVarChar, typ)

	typ, ok = ByID(Int.ID())
	require.True(t, ok)
	assert.Equal(t, "Int", typ.Name())

	_, ok = Lookup("geography")
	assert.False(t, ok)

	assert.Panics(t, func() { Register(intType{}) })
}

func TestReadValueTruncated(t *testing.T) {
	buf, err := Int.AppendValue(nil, 7, Params{})
	require.NoError(t, err)

	_, _, err = Int.ReadValue(buf[:3], Params{})
	require.Error(t, err)

	_, _, err = NVarChar.ReadValue([]byte{0x10}, Params{Length: 10})
	require.Error(t, err)
}

func TestTypeErrorsCarryStack(t *testing.T) {
	_, err := DateTime2.ResolveParams(Params{Scale: 9})
	require.Error(t, err)
	assert.Equal(t, "DateTime2 scale must be between 0 and 7", err.Error())
	assert.NotNil(t, errors.GetReportableStackTrace(err))

	_, err = NVarChar.ResolveParams(Params{Length: 4001})
	require.Error(t, err)
	assert.Equal(t, "NVarChar length must be between 1 and 4000, or max", err.Error())
	assert.NotNil(t, errors.GetReportableStackTrace(err))

	_, _, err = Int.ReadValue([]byte{0x04, 0x01}, Params{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record truncated")
	assert.NotNil(t, errors.GetReportableStackTrace(err))
}
