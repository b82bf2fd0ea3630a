package export

import (
	"context"
	"path"

	"github.com/rs/zerolog/log"

	"github.com/fpang/lynx-studio/internal/provider"
	"github.com/fpang/lynx-studio/internal/s3util"
)

// S3Sink stores result images in a bucket.
type S3Sink struct {
	client s3util.PutAPI
	bucket string
}

func NewS3Sink(client s3util.PutAPI, bucket string) *S3Sink {
	return &S3Sink{client: client, bucket: bucket}
}

// Put uploads img under key.
func (s *S3Sink) Put(ctx context.Context, key string, img *provider.Image) error {
	return s3util.PutBytes(ctx, s.client, s.bucket, key, img.Data, img.MIMEType)
}

// PutAll uploads images under dir as prefix-1.ext, prefix-2.ext and so on,
// returning the keys written. It stops at the first failure.
func (s *S3Sink) PutAll(ctx context.Context, dir, prefix string, images []*provider.Image) ([]string, error) {
	keys := make([]string, 0, len(images))
	for i, img := range images {
		key := path.Join(dir, FileName(prefix, i+1, img.MIMEType))
		if err := s.Put(ctx, key, img); err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}
	log.Info().Str("bucket", s.bucket).Str("dir", dir).Int("images", len(keys)).Msg("Results stored")
	return keys, nil
}
