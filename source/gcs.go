package source

import (
	"context"
	"fmt"
	"sync"

	"cloud.google.com/go/storage"
)

type gcsSource struct {
	client  *storage.Client
	once    sync.Once
	initErr error
}

func (g *gcsSource) get(ctx context.Context, bucket, object string, maxSize int64) ([]byte, error) {
	g.once.Do(func() {
		if g.client != nil {
			return
		}
		g.client, g.initErr = storage.NewClient(ctx)
	})
	if g.initErr != nil {
		return nil, fmt.Errorf("create storage client: %w", g.initErr)
	}

	reader, err := g.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open gs://%s/%s: %w", bucket, object, err)
	}
	defer reader.Close()

	return readLimited(reader, maxSize)
}
