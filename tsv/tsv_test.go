package tsv

import (
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ch-ferry/schema"
)

func ordersColumns() []schema.ColumnDescriptor {
	return []schema.ColumnDescriptor{
		{Name: "id", SinkType: schema.TypeUInt64, PrimaryKey: true},
		{Name: "note", SinkType: "Nullable(String)", Nullable: true},
		{Name: "discount", SinkType: "Nullable(Decimal64(2))", Nullable: true},
		{Name: "created_at", SinkType: schema.TypeDateTime},
		{Name: "ship_date", SinkType: schema.TypeDate},
	}
}

func TestFormatValue(t *testing.T) {
	ts := time.Date(2023, 12, 31, 23, 59, 58, 0, time.UTC)

	assert.Equal(t, `\N`, FormatValue(schema.Null(), "Nullable(String)"))
	assert.Equal(t, "2023-12-31 23:59:58", FormatValue(schema.Timestamp(ts), schema.TypeDateTime))
	assert.Equal(t, "2023-12-31", FormatValue(schema.Timestamp(ts), schema.TypeDate))
	assert.Equal(t, "2023-12-31", FormatValue(schema.Date(ts), "Nullable(Date)"))
	assert.Equal(t, "-7", FormatValue(schema.Int(-7), schema.TypeInt32))
	assert.Equal(t, "10.25", FormatValue(schema.Decimal(decimal.RequireFromString("10.25")), "Decimal64(2)"))
	assert.Equal(t, `a\tb\nc\rd\\e`, FormatValue(schema.Text("a\tb\nc\rd\\e"), schema.TypeString))
	assert.Equal(t, `\\N`, FormatValue(schema.Text(`\N`), schema.TypeString))
}

func TestEncode(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	rows := []schema.Row{
		{
			"id":         schema.Int(1),
			"note":       schema.Text("fragile\tglass"),
			"discount":   schema.Null(),
			"created_at": schema.Timestamp(ts),
			"ship_date":  schema.Date(ts),
		},
		{
			"id":         schema.Int(2),
			"note":       schema.Null(),
			"discount":   schema.Decimal(decimal.RequireFromString("3.5")),
			"created_at": schema.Timestamp(ts),
			"ship_date":  schema.Date(ts),
		},
	}

	payload, err := NewEncoder(ordersColumns()).Encode(rows)
	require.NoError(t, err)

	want := "1\tfragile\\tglass\t\\N\t2024-01-02 03:04:05\t2024-01-02\n" +
		"2\t\\N\t3.5\t2024-01-02 03:04:05\t2024-01-02\n"
	assert.Equal(t, want, string(payload))
}

func TestEncodeMissingColumn(t *testing.T) {
	_, err := NewEncoder(ordersColumns()).Encode([]schema.Row{{"id": schema.Int(1)}})
	assert.ErrorContains(t, err, "missing column note")
}

func TestEncodeEmptyBatch(t *testing.T) {
	payload, err := NewEncoder(ordersColumns()).Encode(nil)
	require.NoError(t, err)
	assert.Empty(t, payload)
}

func TestDecode(t *testing.T) {
	records, err := Decode([]byte("1\t\\N\ta\\\\b\n2\t\tx\\ty\n"))
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, []Field{{Value: "1"}, {Null: true}, {Value: `a\b`}}, records[0])
	assert.Equal(t, []Field{{Value: "2"}, {Value: ""}, {Value: "x\ty"}}, records[1])
}

func TestDecodeSingleEmptyField(t *testing.T) {
	records, err := Decode([]byte("\n"))
	require.NoError(t, err)
	assert.Equal(t, [][]Field{{{Value: ""}}}, records)
}

func TestDecodeDanglingEscape(t *testing.T) {
	_, err := Decode([]byte("abc\\"))
	assert.Error(t, err)
}

func TestUnescapeUnknownEscape(t *testing.T) {
	got, err := Unescape(`\'quoted\'`)
	require.NoError(t, err)
	assert.Equal(t, "'quoted'", got)
}

func TestRoundTripEmbeddedDelimiters(t *testing.T) {
	columns := []schema.ColumnDescriptor{
		{Name: "id", SinkType: schema.TypeInt64},
		{Name: "body", SinkType: schema.TypeString},
	}
	original := "tab\there\nnewline\rreturn\\backslash"
	payload, err := NewEncoder(columns).Encode([]schema.Row{
		{"id": schema.Int(1), "body": schema.Text(original)},
	})
	require.NoError(t, err)

	records, err := Decode(payload)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, original, records[0][1].Value)
	assert.Equal(t, payload, EncodeRecords(records))
}

func TestProperty_TextRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	pieces := []string{"\t", "\n", "\r", `\`, `\N`, "a", "Z", " ", "é"}
	text := gen.SliceOf(gen.IntRange(0, len(pieces)-1)).Map(func(idx []int) string {
		var b strings.Builder
		for _, i := range idx {
			b.WriteString(pieces[i])
		}
		return b.String()
	})

	columns := []schema.ColumnDescriptor{
		{Name: "a", SinkType: schema.TypeString},
		{Name: "b", SinkType: "Nullable(String)", Nullable: true},
	}

	properties.Property("escaping reproduces the original text", prop.ForAll(
		func(s string) bool {
			got, err := Unescape(Escape(s))
			return err == nil && got == s
		},
		gen.OneGenOf(text, gen.AnyString()),
	))

	properties.Property("decode then re-encode is byte identical", prop.ForAll(
		func(a, b string, bNull bool) bool {
			bv := schema.Text(b)
			if bNull {
				bv = schema.Null()
			}
			payload, err := NewEncoder(columns).Encode([]schema.Row{
				{"a": schema.Text(a), "b": bv},
				{"a": schema.Text(b), "b": schema.Text(a)},
			})
			if err != nil {
				return false
			}
			records, err := Decode(payload)
			if err != nil || len(records) != 2 {
				return false
			}
			if records[0][0].Value != a || records[1][1].Value != a {
				return false
			}
			if records[0][1].Null != bNull {
				return false
			}
			return string(EncodeRecords(records)) == string(payload)
		},
		text,
		text,
		gen.Bool(),
	))

	properties.TestingRun(t)
}
