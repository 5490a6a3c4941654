package expression

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strconv"
	"strings"
)

// Format is the container format of an uploaded table.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatTSV  Format = "tsv"
	FormatXLSX Format = "xlsx"
	// FormatAuto sniffs the delimiter from the header line.
	FormatAuto Format = ""
)

// ErrUnsupportedFormat is returned for file types that cannot hold a table.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// FormatFromName guesses the format from a file name extension.
func FormatFromName(name string) (Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return FormatCSV, nil
	case ".tsv", ".tab":
		return FormatTSV, nil
	case ".txt", "":
		return FormatAuto, nil
	case ".xlsx", ".xlsm":
		return FormatXLSX, nil
	default:
		return FormatAuto, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(name))
	}
}

// record is one raw table line with its 1-based position in the source.
type record struct {
	line  int
	cells []string
}

// Parse reads a table in the given format into a Dataset.
func Parse(r io.Reader, format Format, opts Options) (*Dataset, error) {
	var (
		recs []record
		err  error
	)
	switch format {
	case FormatXLSX:
		recs, err = readWorkbook(r)
	case FormatCSV:
		recs, err = readDelimited(r, ',')
	case FormatTSV:
		recs, err = readDelimited(r, '\t')
	case FormatAuto:
		br := bufio.NewReader(r)
		first, _ := br.Peek(4096)
		recs, err = readDelimited(br, sniffDelimiter(first))
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, err
	}
	return build(recs, opts)
}

func sniffDelimiter(head []byte) rune {
	if i := bytes.IndexByte(head, '\n'); i >= 0 {
		head = head[:i]
	}
	best, bestCount := ',', bytes.Count(head, []byte{','})
	for _, d := range []rune{'\t', ';'} {
		if n := bytes.Count(head, []byte(string(d))); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}

func readDelimited(r io.Reader, comma rune) ([]record, error) {
	cr := csv.NewReader(r)
	cr.Comma = comma
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	var recs []record
	for {
		cells, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read table: %w", err)
		}
		line, _ := cr.FieldPos(0)
		recs = append(recs, record{line: line, cells: cells})
	}
	return recs, nil
}

// FromRecords builds a Dataset from a header and data rows already split into
// cells. Line numbers are counted from the header as line 1.
func FromRecords(header []string, rows [][]string, opts Options) (*Dataset, error) {
	recs := make([]record, 0, len(rows)+1)
	recs = append(recs, record{line: 1, cells: header})
	for i, cells := range rows {
		recs = append(recs, record{line: i + 2, cells: cells})
	}
	return build(recs, opts)
}

func build(recs []record, opts Options) (*Dataset, error) {
	for len(recs) > 0 && blank(recs[0].cells) {
		recs = recs[1:]
	}
	if len(recs) == 0 {
		return nil, &HeaderError{Reason: "table is empty"}
	}
	l, err := parseHeader(recs[0].cells)
	if err != nil {
		return nil, err
	}

	ds := &Dataset{
		ControlSamples:   l.names(Control),
		ConditionSamples: l.names(Condition),
		Rows:             []Row{},
		Log2Scale:        opts.Log2Scale,
	}
	seen := make(map[string]int)
	for _, rec := range recs[1:] {
		if blank(rec.cells) {
			continue
		}
		row, err := parseRow(rec, l, opts)
		if err == nil {
			if first, dup := seen[row.Gene]; dup {
				err = &MalformedRowError{Line: rec.line, Gene: row.Gene, Reason: fmt.Sprintf("duplicate gene identifier (first seen on line %d)", first)}
			} else {
				seen[row.Gene] = rec.line
			}
		}
		var malformed *MalformedRowError
		if errors.As(err, &malformed) {
			ds.Skipped = append(ds.Skipped, malformed.Diagnostic())
			continue
		}
		ds.Rows = append(ds.Rows, row)
	}
	return ds, nil
}

var missingTokens = map[string]bool{
	"": true, "na": true, "n/a": true, "nan": true, "null": true, "none": true, "-": true,
}

func parseRow(rec record, l layout, opts Options) (Row, error) {
	gene := strings.TrimSpace(rec.cells[0])
	if gene == "" {
		return Row{}, &MalformedRowError{Line: rec.line, Reason: "empty gene identifier"}
	}
	want := len(l.groups) + 1
	if len(rec.cells) != want {
		return Row{}, &MalformedRowError{Line: rec.line, Gene: gene, Reason: fmt.Sprintf("expected %d cells, got %d", want, len(rec.cells))}
	}

	row := Row{Line: rec.line, Gene: gene}
	for i, raw := range rec.cells[1:] {
		cell := strings.TrimSpace(raw)
		if missingTokens[strings.ToLower(cell)] {
			return Row{}, &MalformedRowError{Line: rec.line, Gene: gene, Reason: fmt.Sprintf("missing value for sample %q", l.samples[i])}
		}
		v, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			return Row{}, &MalformedRowError{Line: rec.line, Gene: gene, Reason: fmt.Sprintf("non-numeric value %q for sample %q", cell, l.samples[i])}
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Row{}, &MalformedRowError{Line: rec.line, Gene: gene, Reason: fmt.Sprintf("non-finite value for sample %q", l.samples[i])}
		}
		if v < 0 && !opts.Log2Scale {
			return Row{}, &MalformedRowError{Line: rec.line, Gene: gene, Reason: fmt.Sprintf("negative value %g for sample %q on a linear scale", v, l.samples[i])}
		}
		if l.groups[i] == Control {
			row.Control = append(row.Control, v)
		} else {
			row.Condition = append(row.Condition, v)
		}
	}
	return row, nil
}

func blank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
