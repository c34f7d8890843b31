package schema

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	KindNull Kind = iota
	KindInteger
	KindDecimal
	KindText
	KindTimestamp
	KindDate
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInteger:
		return "integer"
	case KindDecimal:
		return "decimal"
	case KindText:
		return "text"
	case KindTimestamp:
		return "timestamp"
	case KindDate:
		return "date"
	default:
		return "unknown"
	}
}

// Layouts used for source text values and for the TabSeparated output.
const (
	TimestampLayout = "2006-01-02 15:04:05"
	DateLayout      = "2006-01-02"
)

// Value is a single scalar read from the source.
type Value struct {
	kind     Kind
	i        int64
	u        uint64
	unsigned bool
	d        decimal.Decimal
	s        string
	t        time.Time
}

func Null() Value                     { return Value{kind: KindNull} }
func Int(i int64) Value               { return Value{kind: KindInteger, i: i} }
func Uint(u uint64) Value             { return Value{kind: KindInteger, u: u, unsigned: true} }
func Decimal(d decimal.Decimal) Value { return Value{kind: KindDecimal, d: d} }
func Text(s string) Value             { return Value{kind: KindText, s: s} }
func Timestamp(t time.Time) Value     { return Value{kind: KindTimestamp, t: t} }
func Date(t time.Time) Value          { return Value{kind: KindDate, t: t} }

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

// Text returns the string of a Text value.
func (v Value) Text() string { return v.s }

// Time returns the instant of a Timestamp or Date value.
func (v Value) Time() time.Time { return v.t }

// String renders the value as canonical text. Null renders as an empty string.
func (v Value) String() string {
	switch v.kind {
	case KindInteger:
		if v.unsigned {
			return strconv.FormatUint(v.u, 10)
		}
		return strconv.FormatInt(v.i, 10)
	case KindDecimal:
		return v.d.String()
	case KindText:
		return v.s
	case KindTimestamp:
		return v.t.Format(TimestampLayout)
	case KindDate:
		return v.t.Format(DateLayout)
	default:
		return ""
	}
}

// FromDriver converts a value scanned by database/sql into a Value, using the column's
// sink type to interpret text-encoded numbers and dates.
func FromDriver(raw any, column ColumnDescriptor) (Value, error) {
	switch x := raw.(type) {
	case nil:
		return Null(), nil
	case int64:
		return Int(x), nil
	case int32:
		return Int(int64(x)), nil
	case int:
		return Int(int64(x)), nil
	case int16:
		return Int(int64(x)), nil
	case int8:
		return Int(int64(x)), nil
	case uint64:
		if x <= math.MaxInt64 {
			return Int(int64(x)), nil
		}
		return Uint(x), nil
	case uint32:
		return Int(int64(x)), nil
	case uint8:
		return Int(int64(x)), nil
	case bool:
		if x {
			return Int(1), nil
		}
		return Int(0), nil
	case float64:
		return fromFloat(x), nil
	case float32:
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return fromFloat(float64(x)), nil
		}
		return Decimal(decimal.NewFromFloat32(x)), nil
	case decimal.Decimal:
		return Decimal(x), nil
	case time.Time:
		if column.BaseType() == TypeDate {
			return Date(x), nil
		}
		return Timestamp(x), nil
	case []byte:
		return fromText(string(x), column), nil
	case string:
		return fromText(x, column), nil
	default:
		return Value{}, fmt.Errorf("unsupported value type %T for column %s", raw, column.Name)
	}
}

// fromText parses text according to the column's sink type. Text that does not parse is
// kept verbatim so the sink can decide what to do with it.
// fromFloat keeps NaN and infinities as the text ClickHouse reads for Float columns
// ("nan", "inf", "-inf"); decimal cannot hold them.
func fromFloat(x float64) Value {
	switch {
	case math.IsNaN(x):
		return Text("nan")
	case math.IsInf(x, 1):
		return Text("inf")
	case math.IsInf(x, -1):
		return Text("-inf")
	}
	return Decimal(decimal.NewFromFloat(x))
}

func fromText(s string, column ColumnDescriptor) Value {
	base := column.BaseType()
	switch {
	case IsIntegerType(base):
		if IsUnsignedType(base) {
			if u, err := strconv.ParseUint(s, 10, 64); err == nil {
				if u <= math.MaxInt64 {
					return Int(int64(u))
				}
				return Uint(u)
			}
		} else if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return Int(i)
		}
	case IsDecimalType(base):
		if d, err := decimal.NewFromString(s); err == nil {
			return Decimal(d)
		}
	case base == TypeDateTime:
		if t, err := parseTimestamp(s); err == nil {
			return Timestamp(t)
		}
	case base == TypeDate:
		if t, err := time.Parse(DateLayout, s); err == nil {
			return Date(t)
		}
	}
	return Text(s)
}

func parseTimestamp(s string) (time.Time, error) {
	layout := TimestampLayout
	if strings.Contains(s, ".") {
		layout = "2006-01-02 15:04:05.999999999"
	}
	return time.Parse(layout, s)
}
