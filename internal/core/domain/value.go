package domain

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// ValueKind tags the payload of a Value.
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindBool
	KindInt
	KindFloat
	KindDecimal
	KindText
	KindTime
	KindBytes
)

func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindDecimal:
		return "decimal"
	case KindText:
		return "text"
	case KindTime:
		return "time"
	case KindBytes:
		return "bytes"
	default:
		return "unknown"
	}
}

// Value is one typed result cell. The zero Value is NULL.
//
// Equality is defined here rather than borrowed from the driver's Go types:
// NULL equals NULL (grading treats NULL as a value, not as SQL's unknown),
// numbers compare by numeric value across Int/Float/Decimal, times compare
// by instant.
type Value struct {
	kind ValueKind
	b    bool
	i    int64
	f    float64
	d    decimal.Decimal
	s    string
	t    time.Time
}

func Null() Value                       { return Value{} }
func Bool(b bool) Value                 { return Value{kind: KindBool, b: b} }
func Int(i int64) Value                 { return Value{kind: KindInt, i: i} }
func Float(f float64) Value             { return Value{kind: KindFloat, f: f} }
func Decimal(d decimal.Decimal) Value   { return Value{kind: KindDecimal, d: d} }
func Text(s string) Value               { return Value{kind: KindText, s: s} }
func Time(t time.Time) Value            { return Value{kind: KindTime, t: t} }
func Bytes(b []byte) Value              { return Value{kind: KindBytes, s: string(b)} }
func (v Value) Kind() ValueKind         { return v.kind }
func (v Value) IsNull() bool            { return v.kind == KindNull }
func (v Value) numeric() bool           { return v.kind == KindInt || v.kind == KindFloat || v.kind == KindDecimal }
func (v Value) finiteFloat() bool       { return v.kind != KindFloat || !(math.IsNaN(v.f) || math.IsInf(v.f, 0)) }
func (v Value) asDecimal() decimal.Decimal {
	switch v.kind {
	case KindInt:
		return decimal.NewFromInt(v.i)
	case KindFloat:
		return decimal.NewFromFloat(v.f)
	default:
		return v.d
	}
}

// Equal reports whether two cells hold the same value.
func (v Value) Equal(o Value) bool {
	if v.numeric() && o.numeric() {
		if !v.finiteFloat() || !o.finiteFloat() {
			if v.kind != KindFloat || o.kind != KindFloat {
				return false
			}
			return v.f == o.f || (math.IsNaN(v.f) && math.IsNaN(o.f))
		}
		if v.kind == KindInt && o.kind == KindInt {
			return v.i == o.i
		}
		return v.asDecimal().Equal(o.asDecimal())
	}
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindTime:
		return v.t.Equal(o.t)
	default:
		return v.s == o.s
	}
}

// Key is a canonical encoding such that a.Equal(b) iff a.Key() == b.Key().
func (v Value) Key() string {
	switch {
	case v.kind == KindNull:
		return "n"
	case v.numeric() && !v.finiteFloat():
		if math.IsNaN(v.f) {
			return "f:NaN"
		}
		return "f:" + strconv.FormatFloat(v.f, 'g', -1, 64)
	case v.numeric():
		return "#" + v.asDecimal().String()
	case v.kind == KindBool:
		return "b:" + strconv.FormatBool(v.b)
	case v.kind == KindTime:
		return "t:" + v.t.UTC().Format(time.RFC3339Nano)
	case v.kind == KindBytes:
		return "x:" + hex.EncodeToString([]byte(v.s))
	default:
		return "s:" + v.s
	}
}

// String renders the value for humans; NULL renders as "NULL".
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "NULL"
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindDecimal:
		return v.d.String()
	case KindTime:
		return v.t.Format(time.RFC3339Nano)
	case KindBytes:
		return `\x` + hex.EncodeToString([]byte(v.s))
	default:
		return v.s
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindInt:
		return json.Marshal(v.i)
	case KindFloat:
		if !v.finiteFloat() {
			return json.Marshal(v.String())
		}
		return json.Marshal(v.f)
	default:
		return json.Marshal(v.String())
	}
}

// ValueOf converts a driver value into a Value. Unknown types fall back to
// their fmt representation as text.
func ValueOf(x any) Value {
	switch t := x.(type) {
	case nil:
		return Null()
	case Value:
		return t
	case bool:
		return Bool(t)
	case int:
		return Int(int64(t))
	case int8:
		return Int(int64(t))
	case int16:
		return Int(int64(t))
	case int32:
		return Int(int64(t))
	case int64:
		return Int(t)
	case uint8:
		return Int(int64(t))
	case uint16:
		return Int(int64(t))
	case uint32:
		return Int(int64(t))
	case uint64:
		if t > math.MaxInt64 {
			return Decimal(decimal.RequireFromString(strconv.FormatUint(t, 10)))
		}
		return Int(int64(t))
	case float32:
		return Float(float64(t))
	case float64:
		return Float(t)
	case decimal.Decimal:
		return Decimal(t)
	case decimal.NullDecimal:
		if !t.Valid {
			return Null()
		}
		return Decimal(t.Decimal)
	case string:
		return Text(t)
	case []byte:
		return Bytes(t)
	case time.Time:
		return Time(t)
	case fmt.Stringer:
		return Text(t.String())
	default:
		return Text(fmt.Sprint(t))
	}
}
