// Package tsv encodes row batches in ClickHouse's TabSeparated format.
//
// Fields are separated by a tab and every row ends with a newline. NULL is written as \N,
// and backslash, tab, newline and carriage return inside text are written as two-character
// escapes so the delimiters never occur in data.
package tsv

import (
	"bytes"
	"fmt"
	"strings"

	"ch-ferry/schema"
)

// NullToken is the TabSeparated representation of NULL.
const NullToken = `\N`

const (
	fieldDelimiter = '\t'
	rowDelimiter   = '\n'
)

var escaper = strings.NewReplacer(
	`\`, `\\`,
	"\t", `\t`,
	"\n", `\n`,
	"\r", `\r`,
)

// Escape rewrites s so that it can be embedded in a TabSeparated field.
func Escape(s string) string {
	return escaper.Replace(s)
}

// Unescape reverses Escape. Escapes other than the four written by Escape yield the
// escaped character itself; a trailing lone backslash is an error.
func Unescape(s string) (string, error) {
	if !strings.Contains(s, `\`) {
		return s, nil
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		i++
		if i == len(s) {
			return "", fmt.Errorf("dangling escape at end of field %q", s)
		}
		switch s[i] {
		case 't':
			b.WriteByte('\t')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String(), nil
}

// FormatValue renders a single value for a column of the given sink type.
func FormatValue(v schema.Value, sinkType string) string {
	switch v.Kind() {
	case schema.KindNull:
		return NullToken
	case schema.KindTimestamp:
		if schema.BaseType(sinkType) == schema.TypeDate {
			return v.Time().Format(schema.DateLayout)
		}
		return v.Time().Format(schema.TimestampLayout)
	case schema.KindDate:
		return v.Time().Format(schema.DateLayout)
	case schema.KindText:
		return Escape(v.Text())
	case schema.KindInteger, schema.KindDecimal:
		return v.String()
	default:
		return Escape(v.String())
	}
}

// Encoder turns batches of rows into TabSeparated payloads. Columns are written in the
// order they were given to NewEncoder.
type Encoder struct {
	columns []schema.ColumnDescriptor
}

func NewEncoder(columns []schema.ColumnDescriptor) *Encoder {
	return &Encoder{columns: columns}
}

// Encode serializes rows into one payload. Every row must carry every column.
func (e *Encoder) Encode(rows []schema.Row) ([]byte, error) {
	var buf bytes.Buffer
	for i, row := range rows {
		for j, col := range e.columns {
			v, ok := row[col.Name]
			if !ok {
				return nil, fmt.Errorf("row %d is missing column %s", i, col.Name)
			}
			if j > 0 {
				buf.WriteByte(fieldDelimiter)
			}
			buf.WriteString(FormatValue(v, col.SinkType))
		}
		buf.WriteByte(rowDelimiter)
	}
	return buf.Bytes(), nil
}

// Field is one decoded TabSeparated field.
type Field struct {
	Null  bool
	Value string
}

// Decode parses a TabSeparated payload into records of unescaped fields.
func Decode(payload []byte) ([][]Field, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	text := string(payload)
	text = strings.TrimSuffix(text, string(rowDelimiter))

	lines := strings.Split(text, string(rowDelimiter))
	records := make([][]Field, 0, len(lines))
	for n, line := range lines {
		parts := strings.Split(line, string(fieldDelimiter))
		record := make([]Field, len(parts))
		for i, part := range parts {
			if part == NullToken {
				record[i] = Field{Null: true}
				continue
			}
			value, err := Unescape(part)
			if err != nil {
				return nil, fmt.Errorf("row %d, field %d: %w", n+1, i+1, err)
			}
			record[i] = Field{Value: value}
		}
		records = append(records, record)
	}
	return records, nil
}

// EncodeRecords writes decoded records back in TabSeparated form.
func EncodeRecords(records [][]Field) []byte {
	var buf bytes.Buffer
	for _, record := range records {
		for i, field := range record {
			if i > 0 {
				buf.WriteByte(fieldDelimiter)
			}
			if field.Null {
				buf.WriteString(NullToken)
			} else {
				buf.WriteString(Escape(field.Value))
			}
		}
		buf.WriteByte(rowDelimiter)
	}
	return buf.Bytes()
}
