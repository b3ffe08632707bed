package dataset

import (
	"io"

	"github.com/pkg/errors"
	"github.com/segmentio/parquet-go"
)

// Matcher selects rows by the values of a single flat column.
type Matcher struct {
	// Page reports whether a page with the given bounds may contain a match.
	// Pages for which it returns false are not decoded.
	Page func(min, max parquet.Value) bool
	// Value reports whether a single value matches.
	Value func(parquet.Value) bool
}

func Equal(typ parquet.Type, value parquet.Value) Matcher {
	return Matcher{
		Page: func(min, max parquet.Value) bool {
			return typ.Compare(min, value) <= 0 && typ.Compare(max, value) >= 0
		},
		Value: func(v parquet.Value) bool {
			return typ.Compare(v, value) == 0
		},
	}
}

// Between matches values in [lo, hi].
func Between(typ parquet.Type, lo, hi parquet.Value) Matcher {
	return Matcher{
		Page: func(min, max parquet.Value) bool {
			return typ.Compare(max, lo) >= 0 && typ.Compare(min, hi) <= 0
		},
		Value: func(v parquet.Value) bool {
			return typ.Compare(v, lo) >= 0 && typ.Compare(v, hi) <= 0
		},
	}
}

// SelectRows returns the positions of all rows in file whose column value
// is accepted by m, in ascending order. The result can be used with NewSubset
// to load only matching rows.
func SelectRows(file *parquet.File, column string, m Matcher) ([]int, error) {
	leaf, ok := file.Schema().Lookup(column)
	if !ok {
		return nil, errors.Errorf("column %q not found", column)
	}

	var (
		selected []int
		offset   int64
		err      error
	)
	for i, rowGroup := range file.RowGroups() {
		chunk := rowGroup.ColumnChunks()[leaf.ColumnIndex]
		selected, err = selectChunkRows(selected, chunk, offset, m)
		if err != nil {
			return nil, errors.Wrapf(err, "row group %d", i)
		}
		offset += rowGroup.NumRows()
	}
	return selected, nil
}

func selectChunkRows(selected []int, chunk parquet.ColumnChunk, offset int64, m Matcher) ([]int, error) {
	columnIndex := chunk.ColumnIndex()
	pages := chunk.Pages()
	defer pages.Close()

	rowIndex := offset
	for i := 0; ; i++ {
		page, err := pages.ReadPage()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "failed reading page")
		}

		numRows := page.NumRows()
		if columnIndex != nil && i < columnIndex.NumPages() && !m.Page(columnIndex.MinValue(i), columnIndex.MaxValue(i)) {
			rowIndex += numRows
			continue
		}

		values := make([]parquet.Value, page.NumValues())
		n, err := page.Values().ReadValues(values)
		if err != nil && err != io.EOF {
			return nil, errors.Wrap(err, "failed decoding page")
		}
		for j := 0; j < n; j++ {
			if m.Value(values[j]) {
				selected = append(selected, int(rowIndex)+j)
			}
		}
		rowIndex += numRows
	}
	return selected, nil
}
