package priceimport

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"io"
	"strings"

	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
)

// Header detection errors.
var (
	ErrNoKeyColumn   = errors.New("header has neither a code nor a name column")
	ErrNoValueColumn = errors.New("header has neither a price nor a cost column")
)

// Row is one data row of a price sheet. Empty cells are left empty.
type Row struct {
	// Line is the 1-based line number in the file, header included.
	Line  int
	Code  string
	Name  string
	Price string
	Cost  string
}

type column int

const (
	colCode column = iota
	colName
	colPrice
	colCost
)

// headerAliases maps normalized header cells to columns.
var headerAliases = map[string]column{
	"code":      colCode,
	"test code": colCode,
	"testcode":  colCode,
	"name":      colName,
	"test name": colName,
	"testname":  colName,
	"price":     colPrice,
	"mrp":       colPrice,
	"rate":      colPrice,
	"l2l":       colCost,
	"l2lprice":  colCost,
	"l2l price": colCost,
	"l2l rate":  colCost,
	"cost":      colCost,
}

func normalizeHeader(s string) string {
	s = strings.TrimPrefix(s, "\ufeff")
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// ReadRows reads a CSV price sheet. The first record is the header; columns
// are recognised by name in any order and unknown columns are ignored.
func ReadRows(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty file")
		}
		return nil, errors.Wrap(err, "read header")
	}

	idx := map[column]int{}
	for i, cell := range header {
		c, ok := headerAliases[normalizeHeader(cell)]
		if !ok {
			continue
		}
		if _, dup := idx[c]; !dup {
			idx[c] = i
		}
	}
	_, hasCode := idx[colCode]
	_, hasName := idx[colName]
	_, hasPrice := idx[colPrice]
	_, hasCost := idx[colCost]
	if !hasCode && !hasName {
		return nil, ErrNoKeyColumn
	}
	if !hasPrice && !hasCost {
		return nil, ErrNoValueColumn
	}

	cell := func(rec []string, c column) string {
		i, ok := idx[c]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var rows []Row
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "read row")
		}
		line, _ := cr.FieldPos(0)
		row := Row{
			Line:  line,
			Code:  cell(rec, colCode),
			Name:  cell(rec, colName),
			Price: cell(rec, colPrice),
			Cost:  cell(rec, colCost),
		}
		if row == (Row{Line: line}) {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

var gzipMagic = []byte{0x1f, 0x8b}

// Decompress returns r unchanged, or a gzip reader over it when the stream
// starts with the gzip magic bytes. The caller closes the returned closer.
func Decompress(r io.Reader) (io.Reader, io.Closer, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(len(gzipMagic))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, nil, errors.Wrap(err, "peek")
	}
	if !bytes.Equal(head, gzipMagic) {
		return br, io.NopCloser(br), nil
	}
	gz, err := pgzip.NewReader(br)
	if err != nil {
		return nil, nil, errors.Wrap(err, "create gzip reader")
	}
	return gz, gz, nil
}
