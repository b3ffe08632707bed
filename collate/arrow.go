package collate

import (
	"context"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/array"
	"github.com/apache/arrow/go/v10/arrow/memory"
	"github.com/pkg/errors"
	"github.com/segmentio/parquet-go"

	"fpetkovski/parquet-loader/generic"
	"fpetkovski/parquet-loader/loader"
)

// ArrowSchema maps a flat parquet schema to an arrow schema with the same column order.
func ArrowSchema(schema *parquet.Schema) (*arrow.Schema, error) {
	fields := schema.Fields()
	arrowFields := make([]arrow.Field, 0, len(fields))
	for _, field := range fields {
		if !field.Leaf() || field.Repeated() {
			return nil, errors.Errorf("column %s: only flat schemas are supported", field.Name())
		}
		dataType, err := arrowType(field)
		if err != nil {
			return nil, err
		}
		arrowFields = append(arrowFields, arrow.Field{
			Name:     field.Name(),
			Type:     dataType,
			Nullable: field.Optional(),
		})
	}
	return arrow.NewSchema(arrowFields, nil), nil
}

func arrowType(field parquet.Field) (arrow.DataType, error) {
	switch field.Type().Kind() {
	case parquet.Boolean:
		return arrow.FixedWidthTypes.Boolean, nil
	case parquet.Int32:
		return arrow.PrimitiveTypes.Int32, nil
	case parquet.Int64:
		return arrow.PrimitiveTypes.Int64, nil
	case parquet.Float:
		return arrow.PrimitiveTypes.Float32, nil
	case parquet.Double:
		return arrow.PrimitiveTypes.Float64, nil
	case parquet.ByteArray, parquet.FixedLenByteArray:
		if lt := field.Type().LogicalType(); lt != nil && lt.UTF8 != nil {
			return arrow.BinaryTypes.String, nil
		}
		return arrow.BinaryTypes.Binary, nil
	default:
		return nil, errors.Errorf("column %s: unsupported type %s", field.Name(), field.Type())
	}
}

// Arrow collates parquet rows into an arrow record. Columns are built concurrently.
func Arrow(schema *parquet.Schema, mem memory.Allocator) (loader.CollateFunc[parquet.Row, arrow.Record], error) {
	arrowSchema, err := ArrowSchema(schema)
	if err != nil {
		return nil, err
	}
	if mem == nil {
		mem = memory.NewGoAllocator()
	}

	return func(ctx context.Context, rows []parquet.Row) (arrow.Record, error) {
		fields := arrowSchema.Fields()
		columns := make([]arrow.Array, len(fields))
		defer func() {
			for _, column := range columns {
				if column != nil {
					column.Release()
				}
			}
		}()

		err := generic.ParallelEach(ctx, fields, func(ctx context.Context, i int, field arrow.Field) error {
			column, err := buildColumn(mem, field, i, rows)
			if err != nil {
				return err
			}
			columns[i] = column
			return nil
		})
		if err != nil {
			return nil, err
		}
		return array.NewRecord(arrowSchema, columns, int64(len(rows))), nil
	}, nil
}

func buildColumn(mem memory.Allocator, field arrow.Field, column int, rows []parquet.Row) (arrow.Array, error) {
	builder := array.NewBuilder(mem, field.Type)
	defer builder.Release()
	builder.Reserve(len(rows))

	for r, row := range rows {
		if column >= len(row) {
			return nil, errors.Errorf("row %d has %d values, expected column %d", r, len(row), column)
		}
		value := row[column]
		if value.IsNull() {
			builder.AppendNull()
			continue
		}

		switch b := builder.(type) {
		case *array.BooleanBuilder:
			b.Append(value.Boolean())
		case *array.Int32Builder:
			b.Append(value.Int32())
		case *array.Int64Builder:
			b.Append(value.Int64())
		case *array.Float32Builder:
			b.Append(value.Float())
		case *array.Float64Builder:
			b.Append(value.Double())
		case *array.StringBuilder:
			b.Append(string(value.ByteArray()))
		case *array.BinaryBuilder:
			b.Append(value.ByteArray())
		default:
			return nil, errors.Errorf("column %s: unsupported builder %T", field.Name, builder)
		}
	}
	return builder.NewArray(), nil
}
