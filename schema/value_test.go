package schema

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func col(name, sinkType string) ColumnDescriptor {
	return ColumnDescriptor{Name: name, SinkType: sinkType}
}

func TestFromDriver(t *testing.T) {
	ts := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)

	tests := []struct {
		name     string
		raw      any
		column   ColumnDescriptor
		wantKind Kind
		wantText string
	}{
		{"nil", nil, col("a", TypeString), KindNull, ""},
		{"int64", int64(-42), col("a", TypeInt64), KindInteger, "-42"},
		{"uint64 large", uint64(math.MaxUint64), col("a", TypeUInt64), KindInteger, "18446744073709551615"},
		{"bool", true, col("a", TypeUInt8), KindInteger, "1"},
		{"float", 12.5, col("a", "Decimal64(2)"), KindDecimal, "12.5"},
		{"float32", float32(0.25), col("a", TypeString), KindDecimal, "0.25"},
		{"float positive infinity", math.Inf(1), col("a", TypeString), KindText, "inf"},
		{"float negative infinity", math.Inf(-1), col("a", TypeString), KindText, "-inf"},
		{"float nan", math.NaN(), col("a", TypeString), KindText, "nan"},
		{"float32 infinity", float32(math.Inf(1)), col("a", TypeString), KindText, "inf"},
		{"time as timestamp", ts, col("a", TypeDateTime), KindTimestamp, "2024-03-09 14:05:07"},
		{"time as date", ts, col("a", "Nullable(Date)"), KindDate, "2024-03-09"},
		{"bytes integer", []byte("123"), col("a", TypeInt32), KindInteger, "123"},
		{"bytes unsigned", []byte("18446744073709551615"), col("a", TypeUInt64), KindInteger, "18446744073709551615"},
		{"bytes decimal", []byte("19.99"), col("a", "Decimal64(2)"), KindDecimal, "19.99"},
		{"bytes datetime", []byte("2024-03-09 14:05:07"), col("a", TypeDateTime), KindTimestamp, "2024-03-09 14:05:07"},
		{"bytes datetime fraction", []byte("2024-03-09 14:05:07.250"), col("a", TypeDateTime), KindTimestamp, "2024-03-09 14:05:07"},
		{"bytes date", []byte("2024-03-09"), col("a", TypeDate), KindDate, "2024-03-09"},
		{"bytes text", []byte("hello\tworld"), col("a", TypeString), KindText, "hello\tworld"},
		{"unparsable integer kept", "n/a", col("a", TypeInt32), KindText, "n/a"},
		{"zero date kept", "0000-00-00 00:00:00", col("a", TypeDateTime), KindText, "0000-00-00 00:00:00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := FromDriver(tt.raw, tt.column)
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, v.Kind())
			assert.Equal(t, tt.wantText, v.String())
		})
	}
}

func TestFromDriverUnsupported(t *testing.T) {
	_, err := FromDriver(struct{}{}, col("a", TypeString))
	assert.Error(t, err)
}

func TestValueAccessors(t *testing.T) {
	assert.True(t, Null().IsNull())
	assert.Equal(t, "x", Text("x").Text())
	assert.Equal(t, "18446744073709551615", Uint(math.MaxUint64).String())
	assert.Equal(t, "1.5", Decimal(decimal.RequireFromString("1.50")).String())
	assert.Equal(t, "timestamp", KindTimestamp.String())
}
