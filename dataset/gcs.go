package dataset

import (
	"context"
	"io"
	"time"

	gcsStorage "cloud.google.com/go/storage"
	"github.com/googleapis/gax-go/v2"
	"github.com/pkg/errors"
	"google.golang.org/api/iterator"
)

var defaultBackoff = gax.Backoff{
	Initial:    2 * time.Second,
	Max:        300 * time.Second,
	Multiplier: 3,
}

// GCS serves every object under a prefix of a GCS bucket, in listing order.
type GCS struct {
	client  *gcsStorage.Client
	bucket  string
	names   []string
	backoff gax.Backoff
}

func NewGCS(ctx context.Context, client *gcsStorage.Client, bucket, prefix string) (*GCS, error) {
	// https://pkg.go.dev/cloud.google.com/go/storage@v1.28.1#Query.SetAttrSelection
	query := &gcsStorage.Query{Prefix: prefix}
	if err := query.SetAttrSelection([]string{"Name"}); err != nil {
		return nil, err
	}

	var names []string
	it := client.Bucket(bucket).Objects(ctx, query)
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "failed listing gs://%s/%s", bucket, prefix)
		}
		names = append(names, attrs.Name)
	}

	return &GCS{
		client:  client,
		bucket:  bucket,
		names:   names,
		backoff: defaultBackoff,
	}, nil
}

func (g *GCS) Len() int { return len(g.names) }

func (g *GCS) Get(ctx context.Context, i int) (Object, error) {
	if err := CheckIndex(i, len(g.names)); err != nil {
		return Object{}, err
	}

	name := g.names[i]
	reader, err := g.client.Bucket(g.bucket).Object(name).Retryer(gcsStorage.WithBackoff(g.backoff)).NewReader(ctx)
	if err != nil {
		return Object{}, errors.Wrapf(err, "Object(%q).NewReader", name)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return Object{}, errors.Wrapf(err, "failed reading %q", name)
	}
	return Object{Name: name, Data: data}, nil
}
