package dataset

import (
	"context"
	"path"

	"github.com/go-kit/kit/log"
	"github.com/oklog/ulid"
	"github.com/pkg/errors"
	"github.com/prometheus/prometheus/model/labels"
	prom "github.com/prometheus/prometheus/storage"
	"github.com/prometheus/prometheus/tsdb"
	"github.com/prometheus/prometheus/tsdb/chunks"
	"github.com/prometheus/prometheus/tsdb/index"
	"github.com/thanos-io/objstore"
	"github.com/thanos-io/thanos/pkg/block"
)

type Chunk struct {
	MinT  int64
	MaxT  int64
	Bytes []byte
}

// Series is a single series of a TSDB block with all of its chunks.
type Series struct {
	Labels labels.Labels
	Chunks []Chunk
}

// BlockSeries serves the series of a TSDB block in postings order.
type BlockSeries struct {
	db     *tsdb.DBReadOnly
	index  tsdb.IndexReader
	chunks tsdb.ChunkReader
	refs   []prom.SeriesRef
}

// DownloadBlock fetches a block from a bucket into dir/<blockID>.
func DownloadBlock(ctx context.Context, logger log.Logger, bucket objstore.Bucket, blockID, dir string) error {
	id, err := ulid.Parse(blockID)
	if err != nil {
		return errors.Wrap(err, "invalid block id "+blockID)
	}
	return block.Download(ctx, logger, bucket, id, path.Join(dir, id.String()), objstore.WithFetchConcurrency(10))
}

// OpenBlockSeries opens a block from a TSDB directory. An empty blockID
// selects the most recent block.
func OpenBlockSeries(dir, blockID string, logger log.Logger) (*BlockSeries, error) {
	db, blockReader, err := openBlock(dir, blockID, logger)
	if err != nil {
		return nil, err
	}

	s := &BlockSeries{db: db}
	if s.index, err = blockReader.Index(); err != nil {
		s.Close()
		return nil, errors.Wrap(err, "failed opening block index")
	}
	if s.chunks, err = blockReader.Chunks(); err != nil {
		s.Close()
		return nil, errors.Wrap(err, "failed opening block chunks")
	}

	postings, err := s.index.Postings(index.AllPostingsKey())
	if err != nil {
		s.Close()
		return nil, errors.Wrap(err, "failed reading postings")
	}
	postings = s.index.SortedPostings(postings)
	for postings.Next() {
		s.refs = append(s.refs, postings.At())
	}
	if err := postings.Err(); err != nil {
		s.Close()
		return nil, errors.Wrap(err, "failed iterating postings")
	}
	return s, nil
}

func (s *BlockSeries) Len() int { return len(s.refs) }

func (s *BlockSeries) Get(_ context.Context, i int) (Series, error) {
	if err := CheckIndex(i, len(s.refs)); err != nil {
		return Series{}, err
	}

	var (
		builder labels.ScratchBuilder
		metas   []chunks.Meta
	)
	if err := s.index.Series(s.refs[i], &builder, &metas); err != nil {
		return Series{}, errors.Wrapf(err, "failed reading series %d", i)
	}

	series := Series{
		Labels: builder.Labels(),
		Chunks: make([]Chunk, 0, len(metas)),
	}
	for _, meta := range metas {
		chk, err := s.chunks.Chunk(meta)
		if err != nil {
			return Series{}, errors.Wrapf(err, "failed reading chunk of series %d", i)
		}
		series.Chunks = append(series.Chunks, Chunk{
			MinT:  meta.MinTime,
			MaxT:  meta.MaxTime,
			Bytes: append([]byte(nil), chk.Bytes()...),
		})
	}
	return series, nil
}

func (s *BlockSeries) Close() error {
	var lastErr error
	if s.chunks != nil {
		if err := s.chunks.Close(); err != nil {
			lastErr = err
		}
	}
	if s.index != nil {
		if err := s.index.Close(); err != nil {
			lastErr = err
		}
	}
	if err := s.db.Close(); err != nil {
		lastErr = err
	}
	return lastErr
}

func openBlock(path string, blockID string, logger log.Logger) (*tsdb.DBReadOnly, tsdb.BlockReader, error) {
	db, err := tsdb.OpenDBReadOnly(path, logger)
	if err != nil {
		return nil, nil, err
	}
	blocks, err := db.Blocks()
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	var blockReader tsdb.BlockReader
	if blockID != "" {
		for _, b := range blocks {
			if b.Meta().ULID.String() == blockID {
				blockReader = b
				break
			}
		}
	} else if len(blocks) > 0 {
		blockReader = blocks[len(blocks)-1]
	}
	if blockReader == nil {
		db.Close()
		return nil, nil, errors.Errorf("block %s not found", blockID)
	}
	return db, blockReader, nil
}
