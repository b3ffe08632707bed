package dataset

import (
	"context"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/thanos-io/objstore"
	"golang.org/x/exp/slices"
)

// Object is the content of a single object in a bucket.
type Object struct {
	Name string
	Data []byte
}

// Objects serves every object under a prefix of a bucket, ordered by name.
type Objects struct {
	bucket objstore.BucketReader
	names  []string
}

func NewObjects(ctx context.Context, bucket objstore.BucketReader, prefix string) (*Objects, error) {
	var names []string
	err := bucket.Iter(ctx, prefix, func(name string) error {
		if strings.HasSuffix(name, objstore.DirDelim) {
			return nil
		}
		names = append(names, name)
		return nil
	}, objstore.WithRecursiveIter)
	if err != nil {
		return nil, errors.Wrap(err, "failed listing objects under "+prefix)
	}
	slices.Sort(names)

	return &Objects{bucket: bucket, names: names}, nil
}

func (o *Objects) Len() int { return len(o.names) }

func (o *Objects) Names() []string { return o.names }

func (o *Objects) Get(ctx context.Context, i int) (Object, error) {
	if err := CheckIndex(i, len(o.names)); err != nil {
		return Object{}, err
	}

	name := o.names[i]
	reader, err := o.bucket.Get(ctx, name)
	if err != nil {
		return Object{}, errors.Wrap(err, "failed getting object "+name)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return Object{}, errors.Wrap(err, "failed reading object "+name)
	}
	return Object{Name: name, Data: data}, nil
}
