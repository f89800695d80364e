package source

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type s3Source struct {
	client  *s3.Client
	once    sync.Once
	initErr error
}

func (s *s3Source) get(ctx context.Context, bucket, key string, maxSize int64) ([]byte, error) {
	s.once.Do(func() {
		if s.client != nil {
			return
		}
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			s.initErr = fmt.Errorf("load AWS config: %w", err)
			return
		}
		s.client = s3.NewFromConfig(cfg)
	})
	if s.initErr != nil {
		return nil, s.initErr
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	return readLimited(out.Body, maxSize)
}
