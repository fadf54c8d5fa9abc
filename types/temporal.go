package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/golang-sql/civil"
)

var epoch = civil.Date{Year: 1, Month: time.January, Day: 1}

const ticksPerSecond = 10_000_000

// toDate accepts civil.Date, time.Time and ISO-8601 strings.
func toDate(v any) (civil.Date, bool) {
	switch d := v.(type) {
	case civil.Date:
		return d, d.IsValid()
	case time.Time:
		return civil.DateOf(d), true
	case civil.DateTime:
		return d.Date, d.IsValid()
	case string:
		s := strings.TrimSpace(d)
		if cd, err := civil.ParseDate(s); err == nil {
			return cd, true
		}
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return civil.DateOf(t), true
		}
	}
	return civil.Date{}, false
}

func inDateRange(d civil.Date) bool {
	return d.Year >= 1 && d.Year <= 9999
}

func appendDays(dst []byte, d civil.Date) []byte {
	days := uint32(d.DaysSince(epoch))
	return append(dst, byte(days), byte(days>>8), byte(days>>16))
}

func readDays(b []byte) civil.Date {
	days := int(b[0]) | int(b[1])<<8 | int(b[2])<<16
	return epoch.AddDays(days)
}

type dateType struct{}

func (dateType) ID() byte                               { return 0x28 }
func (dateType) Name() string                           { return "Date" }
func (dateType) Declaration(Params) string              { return "date" }
func (dateType) ResolveParams(p Params) (Params, error) { return noParams(p) }
func (dateType) AppendNull(dst []byte, _ Params) []byte { return append(dst, 0) }

// Validate returns the date as a time.Time at midnight UTC.
func (t dateType) Validate(v any, _ Params) (any, error) {
	d, ok := toDate(v)
	if !ok {
		return nil, valueError(t.Name(), v, "Invalid date.")
	}
	if !inDateRange(d) {
		return nil, valueError(t.Name(), v, "Out of range.")
	}
	return d.In(time.UTC), nil
}

func (t dateType) AppendValue(dst []byte, v any, p Params) ([]byte, error) {
	cv, err := t.Validate(v, p)
	if err != nil {
		return dst, err
	}
	return appendFixed(dst, appendDays(nil, civil.DateOf(cv.(time.Time)))...), nil
}

func (t dateType) ReadValue(src []byte, _ Params) (any, int, error) {
	b, n, err := readFixed(t.Name(), src, 3)
	if err != nil || b == nil {
		return nil, n, err
	}
	return readDays(b).In(time.UTC), n, nil
}

var datetimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// DateTime2 keeps the wall clock of the value; zones are not stored. A zero
// Scale selects the default of 7 fractional digits.
type datetime2Type struct{}

func (datetime2Type) ID() byte     { return 0x2a }
func (datetime2Type) Name() string { return "DateTime2" }

func (datetime2Type) Declaration(p Params) string {
	return fmt.Sprintf("datetime2(%d)", p.Scale)
}

func (t datetime2Type) ResolveParams(p Params) (Params, error) {
	if p.Scale > 7 {
		return p, errors.Newf("%s scale must be between 0 and 7", t.Name())
	}
	if p.Scale == 0 {
		p.Scale = 7
	}
	return Params{Scale: p.Scale}, nil
}

func (datetime2Type) AppendNull(dst []byte, _ Params) []byte { return append(dst, 0) }

func (t datetime2Type) Validate(v any, p Params) (any, error) {
	var ts time.Time
	switch x := v.(type) {
	case time.Time:
		ts = x
	case civil.DateTime:
		if !x.IsValid() {
			return nil, valueError(t.Name(), v, "Invalid date.")
		}
		ts = x.In(time.UTC)
	case civil.Date:
		if !x.IsValid() {
			return nil, valueError(t.Name(), v, "Invalid date.")
		}
		ts = x.In(time.UTC)
	case string:
		s := strings.TrimSpace(x)
		parsed := false
		for _, layout := range datetimeLayouts {
			if pt, err := time.Parse(layout, s); err == nil {
				ts, parsed = pt, true
				break
			}
		}
		if !parsed {
			return nil, valueError(t.Name(), v, "Invalid date.")
		}
	default:
		return nil, valueError(t.Name(), v, "Invalid date.")
	}

	if ts.Year() < 1 || ts.Year() > 9999 {
		return nil, valueError(t.Name(), v, "Out of range.")
	}
	scale := p.Scale
	if scale == 0 || scale > 7 {
		scale = 7
	}
	unit := time.Duration(1)
	for i := scale; i < 9; i++ {
		unit *= 10
	}
	wall := time.Date(ts.Year(), ts.Month(), ts.Day(), ts.Hour(), ts.Minute(), ts.Second(), ts.Nanosecond(), time.UTC)
	return wall.Truncate(unit), nil
}

func (t datetime2Type) AppendValue(dst []byte, v any, p Params) ([]byte, error) {
	cv, err := t.Validate(v, p)
	if err != nil {
		return dst, err
	}
	ts := cv.(time.Time)
	sinceMidnight := time.Duration(ts.Hour())*time.Hour +
		time.Duration(ts.Minute())*time.Minute +
		time.Duration(ts.Second())*time.Second +
		time.Duration(ts.Nanosecond())
	ticks := uint64(sinceMidnight / 100)

	payload := make([]byte, 0, 8)
	for i := 0; i < 5; i++ {
		payload = append(payload, byte(ticks>>(8*i)))
	}
	payload = appendDays(payload, civil.DateOf(ts))
	return appendFixed(dst, payload...), nil
}

func (t datetime2Type) ReadValue(src []byte, _ Params) (any, int, error) {
	b, n, err := readFixed(t.Name(), src, 8)
	if err != nil || b == nil {
		return nil, n, err
	}
	var ticks uint64
	for i := 0; i < 5; i++ {
		ticks |= uint64(b[i]) << (8 * i)
	}
	day := readDays(b[5:8]).In(time.UTC)
	secs := int64(ticks / ticksPerSecond)
	nanos := int64(ticks%ticksPerSecond) * 100
	return day.Add(time.Duration(secs)*time.Second + time.Duration(nanos)), n, nil
}
