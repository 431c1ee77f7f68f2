package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/geogames2/openSenseMap-API/pkg/apperr"
)

// Output formats
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

var (
	// ErrInvalidFormat is returned for formats other than csv and json
	ErrInvalidFormat = errors.New("format must be 'csv' or 'json'")

	// ErrInvalidDelimiter is returned for delimiters csv cannot use
	ErrInvalidDelimiter = errors.New("invalid delimiter")
)

// Serializer turns records into bytes. Begin and End frame the stream and
// are written even when there are no records.
type Serializer interface {
	ContentType() string
	Extension() string
	Begin(buf *bytes.Buffer) error
	Write(buf *bytes.Buffer, rec Record) error
	End(buf *bytes.Buffer) error
}

// NewSerializer returns the serializer for format.
func NewSerializer(format string, columns []string, delimiter rune) (Serializer, error) {
	switch format {
	case FormatCSV:
		return &csvSerializer{columns: columns, comma: delimiter}, nil
	case FormatJSON:
		return newJSONSerializer(columns), nil
	}
	return nil, apperr.Validation("serializer", fmt.Errorf("%w: %q", ErrInvalidFormat, format))
}

// ParseDelimiter accepts comma, semicolon, tab or a single character.
// Empty selects comma.
func ParseDelimiter(raw string) (rune, error) {
	switch raw {
	case "", "comma":
		return ',', nil
	case "semicolon":
		return ';', nil
	case "tab":
		return '\t', nil
	}

	r, size := utf8.DecodeRuneInString(raw)
	if size != len(raw) || r == utf8.RuneError || r == '"' || r == '\r' || r == '\n' {
		return 0, apperr.Validation("parse delimiter", fmt.Errorf("%w: %q", ErrInvalidDelimiter, raw))
	}
	return r, nil
}

// csvSerializer writes a header line followed by one line per record.
type csvSerializer struct {
	columns []string
	comma   rune
}

func (s *csvSerializer) ContentType() string { return "text/csv" }
func (s *csvSerializer) Extension() string   { return "csv" }

func (s *csvSerializer) writeLine(buf *bytes.Buffer, fields []string) error {
	w := csv.NewWriter(buf)
	w.Comma = s.comma
	if err := w.Write(fields); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func (s *csvSerializer) Begin(buf *bytes.Buffer) error {
	return s.writeLine(buf, s.columns)
}

func (s *csvSerializer) Write(buf *bytes.Buffer, rec Record) error {
	return s.writeLine(buf, rec.Values)
}

func (s *csvSerializer) End(*bytes.Buffer) error { return nil }

// jsonSerializer writes a JSON array of objects with keys in column order.
type jsonSerializer struct {
	columns []string
	keys    [][]byte
	first   bool
}

func newJSONSerializer(columns []string) *jsonSerializer {
	keys := make([][]byte, len(columns))
	for i, col := range columns {
		// Column names are allow-listed identifiers, Marshal cannot fail.
		k, _ := json.Marshal(col)
		keys[i] = append(k, ':')
	}
	return &jsonSerializer{columns: columns, keys: keys, first: true}
}

func (s *jsonSerializer) ContentType() string { return "application/json" }
func (s *jsonSerializer) Extension() string   { return "json" }

func (s *jsonSerializer) Begin(buf *bytes.Buffer) error {
	buf.WriteByte('[')
	return nil
}

func (s *jsonSerializer) Write(buf *bytes.Buffer, rec Record) error {
	if !s.first {
		buf.WriteByte(',')
	}
	s.first = false

	buf.WriteByte('{')
	for i, col := range s.columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(s.keys[i])

		v := rec.Values[i]
		switch {
		case numericColumns[col] && v == "":
			buf.WriteString("null")
		case numericColumns[col]:
			buf.WriteString(v)
		default:
			quoted, err := json.Marshal(v)
			if err != nil {
				return err
			}
			buf.Write(quoted)
		}
	}
	buf.WriteByte('}')
	return nil
}

func (s *jsonSerializer) End(buf *bytes.Buffer) error {
	buf.WriteByte(']')
	return nil
}

// filename builds the download name for an export
func filename(prefix string, s Serializer) string {
	return strings.ReplaceAll(prefix, " ", "_") + "." + s.Extension()
}
