package dataset

import (
	"context"
	"io"
	"sort"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"github.com/segmentio/parquet-go"
	"github.com/thanos-io/objstore"

	"fpetkovski/parquet-loader/storage"
)

const (
	ReadBufferSize = 256 * 1024
	maxReadSize    = 4 * 1024 * 1024
)

// OpenParquet opens a parquet object from a bucket. Reads are served
// through ranged requests split into parallel chunks.
func OpenParquet(ctx context.Context, logger log.Logger, bucket objstore.BucketReader, name string) (*parquet.File, error) {
	reader := storage.NewBucketReader(ctx, logger, name, bucket)
	size, err := reader.Size()
	if err != nil {
		return nil, err
	}

	file, err := parquet.OpenFile(storage.NewChunkedReader(reader, maxReadSize), size, parquet.ReadBufferSize(ReadBufferSize))
	if err != nil {
		return nil, errors.Wrap(err, "failed opening parquet file "+name)
	}
	return file, nil
}

// ParquetRows serves the rows of a parquet file by their position in the file.
type ParquetRows struct {
	file      *parquet.File
	rowGroups []parquet.RowGroup
	// offsets holds the position of the first row of every row group.
	offsets []int64
	numRows int
}

func NewParquetRows(file *parquet.File) *ParquetRows {
	rowGroups := file.RowGroups()
	offsets := make([]int64, len(rowGroups))
	var numRows int64
	for i, rowGroup := range rowGroups {
		offsets[i] = numRows
		numRows += rowGroup.NumRows()
	}

	return &ParquetRows{
		file:      file,
		rowGroups: rowGroups,
		offsets:   offsets,
		numRows:   int(numRows),
	}
}

func (r *ParquetRows) Len() int { return r.numRows }

func (r *ParquetRows) Schema() *parquet.Schema { return r.file.Schema() }

func (r *ParquetRows) Get(ctx context.Context, i int) (parquet.Row, error) {
	if err := CheckIndex(i, r.numRows); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rowGroupIndex := sort.Search(len(r.offsets), func(j int) bool {
		return r.offsets[j] > int64(i)
	}) - 1
	rows := r.rowGroups[rowGroupIndex].Rows()
	defer rows.Close()

	if err := rows.SeekToRow(int64(i) - r.offsets[rowGroupIndex]); err != nil {
		return nil, errors.Wrapf(err, "failed seeking to row %d", i)
	}
	buf := make([]parquet.Row, 1)
	n, err := rows.ReadRows(buf)
	if n == 1 {
		return buf[0].Clone(), nil
	}
	if err == nil || err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return nil, errors.Wrapf(err, "failed reading row %d", i)
}

// Parquet serves rows of a parquet file decoded into values of type T.
type Parquet[T any] struct {
	rows *ParquetRows
}

func NewParquet[T any](file *parquet.File) *Parquet[T] {
	return &Parquet[T]{rows: NewParquetRows(file)}
}

func (p *Parquet[T]) Len() int { return p.rows.Len() }

func (p *Parquet[T]) Get(ctx context.Context, i int) (T, error) {
	var value T
	row, err := p.rows.Get(ctx, i)
	if err != nil {
		return value, err
	}
	if err := p.rows.Schema().Reconstruct(&value, row); err != nil {
		return value, errors.Wrapf(err, "failed decoding row %d", i)
	}
	return value, nil
}
