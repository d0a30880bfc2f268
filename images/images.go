package images

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// ErrInvalidImage marks an image the client sent in an unusable form.
var ErrInvalidImage = errors.New("invalid image")

// Uploader stores an image sent by a client and returns the URL to embed in
// a message.
type Uploader interface {
	Upload(ctx context.Context, folder, image string) (string, error)
}

// Passthrough keeps the image reference as sent by the client.
type Passthrough struct{}

func (Passthrough) Upload(ctx context.Context, folder, image string) (string, error) {
	return image, nil
}

type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Uploader writes base64 data URLs to a bucket.
type S3Uploader struct {
	client  putObjectAPI
	bucket  string
	baseURL string
}

// NewS3Uploader uses the default AWS credential chain. When publicBaseURL is
// empty, object URLs point at the regional bucket endpoint.
func NewS3Uploader(bucket, publicBaseURL string) *S3Uploader {
	cfg, err := config.LoadDefaultConfig(context.TODO())
	if err != nil {
		log.Fatalf("unable to load SDK config, %v", err)
	}

	if publicBaseURL == "" {
		publicBaseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", bucket, cfg.Region)
	}
	return &S3Uploader{
		client:  s3.NewFromConfig(cfg),
		bucket:  bucket,
		baseURL: strings.TrimRight(publicBaseURL, "/"),
	}
}

func (u *S3Uploader) Upload(ctx context.Context, folder, image string) (string, error) {
	if isRemote(image) {
		return image, nil
	}

	contentType, data, err := decodeDataURL(image)
	if err != nil {
		return "", err
	}

	key := path.Join(folder, ulid.Make().String()+extensionFor(contentType))
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload image: %v", err)
	}

	logrus.WithFields(logrus.Fields{
		"key":   key,
		"bytes": len(data),
	}).Debug("Image uploaded")
	return u.baseURL + "/" + key, nil
}

func isRemote(image string) bool {
	return strings.HasPrefix(image, "https://") || strings.HasPrefix(image, "http://")
}

// decodeDataURL accepts data:<type>;base64,<payload>.
func decodeDataURL(dataURL string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(dataURL, "data:")
	if !ok {
		return "", nil, fmt.Errorf("%w: image must be a data URL", ErrInvalidImage)
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, fmt.Errorf("%w: malformed data URL", ErrInvalidImage)
	}
	contentType, ok := strings.CutSuffix(meta, ";base64")
	if !ok {
		return "", nil, fmt.Errorf("%w: data URL must be base64 encoded", ErrInvalidImage)
	}
	if !strings.HasPrefix(contentType, "image/") {
		return "", nil, fmt.Errorf("%w: unsupported content type %q", ErrInvalidImage, contentType)
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: invalid base64 payload: %v", ErrInvalidImage, err)
	}
	if len(data) == 0 {
		return "", nil, fmt.Errorf("%w: empty image", ErrInvalidImage)
	}
	return contentType, data, nil
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/svg+xml":
		return ".svg"
	}
	return "." + strings.TrimPrefix(contentType, "image/")
}
