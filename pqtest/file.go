package pqtest

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/segmentio/parquet-go"
	"github.com/thanos-io/objstore"
)

type Row struct {
	ID    int64   `parquet:"id"`
	Name  string  `parquet:"name,dict"`
	Score float64 `parquet:"score"`
	Valid bool    `parquet:"valid"`
}

// MakeRows returns n rows where row i has ID i.
func MakeRows(n int) []Row {
	rows := make([]Row, n)
	for i := range rows {
		rows[i] = Row{
			ID:    int64(i),
			Name:  fmt.Sprintf("row-%d", i),
			Score: float64(i) / 2,
			Valid: i%2 == 0,
		}
	}
	return rows
}

// Split cuts rows into row groups of at most size rows.
func Split(rows []Row, size int) [][]Row {
	var parts [][]Row
	for from := 0; from < len(rows); from += size {
		to := from + size
		if to > len(rows) {
			to = len(rows)
		}
		parts = append(parts, rows[from:to])
	}
	return parts
}

// WriteRows writes every part as a separate row group.
func WriteRows(w io.Writer, parts [][]Row) error {
	writer := parquet.NewGenericWriter[Row](w,
		parquet.PageBufferSize(4),
	)

	for _, part := range parts {
		if _, err := writer.Write(part); err != nil {
			return err
		}
		if err := writer.Flush(); err != nil {
			return err
		}
	}

	return writer.Close()
}

func CreateFile(parts [][]Row) (*parquet.File, error) {
	var buffer bytes.Buffer
	if err := WriteRows(&buffer, parts); err != nil {
		return nil, err
	}

	readBuf := bytes.NewReader(buffer.Bytes())
	return parquet.OpenFile(readBuf, int64(len(buffer.Bytes())))
}

func UploadFile(ctx context.Context, bucket objstore.Bucket, name string, parts [][]Row) error {
	var buffer bytes.Buffer
	if err := WriteRows(&buffer, parts); err != nil {
		return err
	}
	return bucket.Upload(ctx, name, &buffer)
}
