package schema

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ClickHouse type names produced by MapType.
const (
	TypeUInt64   = "UInt64"
	TypeInt64    = "Int64"
	TypeUInt32   = "UInt32"
	TypeInt32    = "Int32"
	TypeUInt8    = "UInt8"
	TypeString   = "String"
	TypeDateTime = "DateTime"
	TypeDate     = "Date"

	nullablePrefix = "Nullable("
)

var decimalPattern = regexp.MustCompile(`decimal\(\s*(\d+)\s*,\s*(\d+)\s*\)`)

// typeRule pairs a predicate over a lower-cased source type with the sink type it yields.
type typeRule struct {
	name  string
	match func(sourceType string) bool
	sink  func(sourceType string) string
}

func contains(parts ...string) func(string) bool {
	return func(sourceType string) bool {
		for _, part := range parts {
			if !strings.Contains(sourceType, part) {
				return false
			}
		}
		return true
	}
}

func containsAny(parts ...string) func(string) bool {
	return func(sourceType string) bool {
		for _, part := range parts {
			if strings.Contains(sourceType, part) {
				return true
			}
		}
		return false
	}
}

func fixed(sinkType string) func(string) string {
	return func(string) string { return sinkType }
}

// typeRules is evaluated top to bottom and the first match wins. Unsigned variants sit
// above their signed counterparts, and the sized tinyint forms above the generic "int"
// rule, because every one of them also contains the shorter pattern.
var typeRules = []typeRule{
	{name: "bigint unsigned", match: contains("bigint", "unsigned"), sink: fixed(TypeUInt64)},
	{name: "bigint", match: contains("bigint"), sink: fixed(TypeInt64)},
	{name: "tinyint(1)", match: contains("tinyint(1)"), sink: fixed(TypeUInt8)},
	{name: "tinyint", match: contains("tinyint"), sink: fixed(TypeUInt8)},
	{name: "int unsigned", match: contains("int", "unsigned"), sink: fixed(TypeUInt32)},
	{name: "int", match: contains("int"), sink: fixed(TypeInt32)},
	{name: "varchar/text", match: containsAny("varchar", "text"), sink: fixed(TypeString)},
	{name: "decimal", match: contains("decimal"), sink: mapDecimal},
	{name: "datetime", match: contains("datetime"), sink: fixed(TypeDateTime)},
	{name: "date", match: contains("date"), sink: fixed(TypeDate)},
}

// MapType converts a MySQL column type into a ClickHouse type name. Unknown types fall
// back to String, so every input yields a usable type.
func MapType(sourceType string) string {
	lowered := strings.ToLower(strings.TrimSpace(sourceType))
	for _, rule := range typeRules {
		if rule.match(lowered) {
			return rule.sink(lowered)
		}
	}
	return TypeString
}

// MatchedRule names the mapping rule that MapType applies to sourceType, or "fallback".
func MatchedRule(sourceType string) string {
	lowered := strings.ToLower(strings.TrimSpace(sourceType))
	for _, rule := range typeRules {
		if rule.match(lowered) {
			return rule.name
		}
	}
	return "fallback"
}

func mapDecimal(sourceType string) string {
	m := decimalPattern.FindStringSubmatch(sourceType)
	if m == nil {
		return DecimalType(18, 2)
	}
	precision, err := strconv.Atoi(m[1])
	if err != nil {
		return DecimalType(18, 2)
	}
	scale, err := strconv.Atoi(m[2])
	if err != nil {
		return DecimalType(18, 2)
	}
	return DecimalType(precision, scale)
}

// DecimalType picks the narrowest ClickHouse decimal able to hold the given precision.
func DecimalType(precision, scale int) string {
	switch {
	case precision <= 18:
		return fmt.Sprintf("Decimal64(%d)", scale)
	case precision <= 38:
		return fmt.Sprintf("Decimal128(%d)", scale)
	default:
		return fmt.Sprintf("Decimal256(%d)", scale)
	}
}

// NullableType wraps a sink type in Nullable(...).
func NullableType(sinkType string) string {
	if IsNullableType(sinkType) {
		return sinkType
	}
	return nullablePrefix + sinkType + ")"
}

// IsIntegerType reports whether the (unwrapped) sink type is one of the integer types.
func IsIntegerType(sinkType string) bool {
	switch BaseType(sinkType) {
	case TypeUInt64, TypeInt64, TypeUInt32, TypeInt32, TypeUInt8:
		return true
	}
	return false
}

// IsUnsignedType reports whether the (unwrapped) sink type is an unsigned integer.
func IsUnsignedType(sinkType string) bool {
	return strings.HasPrefix(BaseType(sinkType), "UInt")
}

// IsDecimalType reports whether the (unwrapped) sink type is a Decimal.
func IsDecimalType(sinkType string) bool {
	return strings.HasPrefix(BaseType(sinkType), "Decimal")
}
