// Package csvio reads the quote, order and trade feeds and writes the
// normalized outputs. CSV is the reference format of every feed.
package csvio

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"exec_quality/internal/domain"

	"github.com/shopspring/decimal"
)

// table is a header-aware row reader over one CSV source.
type table struct {
	r      *csv.Reader
	source string
	cols   map[string]int
	row    int // Data rows consumed so far
}

func newTable(r io.Reader, source string, required []string) (*table, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("empty input")
		}
		return nil, &domain.MalformedInputError{Source: source, Err: err}
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		if _, dup := cols[name]; !dup {
			cols[name] = i
		}
	}
	for _, name := range required {
		if _, ok := cols[name]; !ok {
			return nil, &domain.MalformedInputError{Source: source, Column: name, Err: domain.ErrMissingColumn}
		}
	}

	return &table{r: cr, source: source, cols: cols}, nil
}

// has reports whether an optional column is present.
func (t *table) has(col string) bool {
	_, ok := t.cols[col]
	return ok
}

// next returns the next record. The slice is reused by the following call.
func (t *table) next() ([]string, error) {
	rec, err := t.r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, &domain.MalformedInputError{Source: t.source, Row: t.row + 1, Err: err}
	}
	t.row++
	return rec, nil
}

func (t *table) fail(col string, err error) error {
	return &domain.MalformedInputError{Source: t.source, Row: t.row, Column: col, Err: err}
}

func (t *table) str(rec []string, col string) string {
	i, ok := t.cols[col]
	if !ok || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func (t *table) decimal(rec []string, col string) (decimal.Decimal, error) {
	raw := t.str(rec, col)
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, t.fail(col, fmt.Errorf("%w: %q", domain.ErrInvalidNumber, raw))
	}
	return v, nil
}

func (t *table) timestamp(rec []string, col string) (time.Time, error) {
	v, err := domain.ParseTimestamp(t.str(rec, col))
	if err != nil {
		return time.Time{}, t.fail(col, err)
	}
	return v, nil
}

func (t *table) side(rec []string, col string) (domain.Side, error) {
	v, err := domain.ParseSide(t.str(rec, col))
	if err != nil {
		return "", t.fail(col, err)
	}
	return v, nil
}
