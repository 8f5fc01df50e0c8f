package domain

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestValue_Equal(t *testing.T) {
	t.Parallel()

	instant := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	paris := instant.In(time.FixedZone("CET", 3600))

	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"null equals null", Null(), Null(), true},
		{"null vs zero", Null(), Int(0), false},
		{"null vs empty text", Null(), Text(""), false},
		{"int vs int", Int(10), Int(10), true},
		{"int vs different int", Int(10), Int(11), false},
		{"int vs float", Int(10), Float(10.0), true},
		{"int vs decimal", Int(10), Decimal(decimal.RequireFromString("10.00")), true},
		{"decimal vs float", Decimal(decimal.RequireFromString("2.5")), Float(2.5), true},
		{"decimal precision", Decimal(decimal.RequireFromString("0.1")), Decimal(decimal.RequireFromString("0.10")), true},
		{"nan equals nan", Float(math.NaN()), Float(math.NaN()), true},
		{"inf vs int", Float(math.Inf(1)), Int(1), false},
		{"text vs text", Text("a"), Text("a"), true},
		{"text is case sensitive", Text("a"), Text("A"), false},
		{"text vs int", Text("1"), Int(1), false},
		{"bool", Bool(true), Bool(true), true},
		{"bool vs int", Bool(true), Int(1), false},
		{"time by instant", Time(instant), Time(paris), true},
		{"bytes", Bytes([]byte{1, 2}), Bytes([]byte{1, 2}), true},
		{"bytes vs text", Bytes([]byte("a")), Text("a"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.a.Equal(tt.b))
			assert.Equal(t, tt.want, tt.b.Equal(tt.a), "symmetric")
			assert.Equal(t, tt.want, tt.a.Key() == tt.b.Key(), "key agrees with Equal")
		})
	}
}

func TestValueOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, KindNull, ValueOf(nil).Kind())
	assert.Equal(t, KindInt, ValueOf(int32(4)).Kind())
	assert.Equal(t, KindInt, ValueOf(uint64(4)).Kind())
	assert.Equal(t, KindDecimal, ValueOf(uint64(math.MaxUint64)).Kind())
	assert.Equal(t, KindFloat, ValueOf(float32(1.5)).Kind())
	assert.Equal(t, KindDecimal, ValueOf(decimal.NewFromInt(3)).Kind())
	assert.Equal(t, KindNull, ValueOf(decimal.NullDecimal{}).Kind())
	assert.Equal(t, KindText, ValueOf("x").Kind())
	assert.Equal(t, KindBytes, ValueOf([]byte("x")).Kind())
	assert.Equal(t, KindTime, ValueOf(time.Now()).Kind())
	assert.Equal(t, KindText, ValueOf(struct{ A int }{1}).Kind())
	assert.Equal(t, "{1}", ValueOf(struct{ A int }{1}).String())
}

func TestValue_MarshalJSON(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal([]Value{
		Null(), Bool(true), Int(3), Float(1.5), Float(math.Inf(-1)),
		Decimal(decimal.RequireFromString("12.50")), Text("hi"), Bytes([]byte{0xab}),
	})
	assert.NoError(t, err)
	assert.JSONEq(t, `[null, true, 3, 1.5, "-Inf", "12.5", "hi", "\\xab"]`, string(b))
}
