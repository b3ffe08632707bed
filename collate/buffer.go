package collate

import (
	"context"

	"github.com/segmentio/parquet-go"

	"fpetkovski/parquet-loader/loader"
)

// Buffer collates parquet rows into an in-memory row group.
func Buffer(schema *parquet.Schema) loader.CollateFunc[parquet.Row, *parquet.Buffer] {
	return func(_ context.Context, rows []parquet.Row) (*parquet.Buffer, error) {
		buffer := parquet.NewBuffer(schema)
		if _, err := buffer.WriteRows(rows); err != nil {
			return nil, err
		}
		return buffer, nil
	}
}
