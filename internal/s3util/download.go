// Package s3util provides the S3 helpers shared by the Lambda handler and the
// result sink: bounded reads, tagged writes, presigned URLs.
package s3util

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog/log"
)

// MaxObjectBytes bounds how much of an object GetBytes reads.
const MaxObjectBytes = 32 << 20

// ErrTooLarge is returned by GetBytes for objects over MaxObjectBytes.
var ErrTooLarge = errors.New("object too large")

// GetAPI is the subset of *s3.Client used for reads.
type GetAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

var imageExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".gif":  "image/gif",
	".heic": "image/heic",
}

// GetBytes reads an object fully and returns its bytes and MIME type. The
// type comes from the object's Content-Type, then the key's extension, then
// content sniffing.
func GetBytes(ctx context.Context, client GetAPI, bucket, key string) ([]byte, string, error) {
	log.Debug().Str("bucket", bucket).Str("key", key).Msg("Downloading from S3")
	result, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket, Key: &key,
	})
	if err != nil {
		return nil, "", fmt.Errorf("S3 GetObject %s: %w", key, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(io.LimitReader(result.Body, MaxObjectBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", key, err)
	}
	if len(data) > MaxObjectBytes {
		return nil, "", fmt.Errorf("object %s exceeds %d bytes: %w", key, MaxObjectBytes, ErrTooLarge)
	}

	var contentType string
	if result.ContentType != nil {
		contentType = *result.ContentType
	}
	return data, mimeFor(key, contentType, data), nil
}

func mimeFor(key, contentType string, data []byte) string {
	if strings.HasPrefix(contentType, "image/") {
		return contentType
	}
	if m, ok := imageExtensions[strings.ToLower(filepath.Ext(key))]; ok {
		return m
	}
	return http.DetectContentType(data)
}

// IsClientFault reports whether a GetBytes error was caused by the requested
// key itself (missing, forbidden, oversized) rather than by S3.
func IsClientFault(err error) bool {
	if errors.Is(err, ErrTooLarge) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket", "AccessDenied":
			return true
		}
	}
	return false
}
