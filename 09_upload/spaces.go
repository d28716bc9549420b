package upload

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"

	"reels-pipeline/config"
	"reels-pipeline/logging"
)

type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Mirror copies run artifacts to an S3-compatible bucket (DigitalOcean
// Spaces, MinIO or S3 itself).
type Mirror struct {
	client   objectPutter
	bucket   string
	prefix   string
	endpoint string
}

// NewMirror builds a Mirror from config and SPACES_ACCESS_KEY / SPACES_SECRET_KEY.
func NewMirror(ctx context.Context, cfg config.MirrorConfig) (*Mirror, error) {
	accessKey := os.Getenv("SPACES_ACCESS_KEY")
	secretKey := os.Getenv("SPACES_SECRET_KEY")
	if accessKey == "" || secretKey == "" {
		return nil, errors.New("SPACES_ACCESS_KEY or SPACES_SECRET_KEY not set")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{URL: cfg.Endpoint}, nil
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "load S3 config")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.Endpoint != ""
	})
	return &Mirror{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix, endpoint: cfg.Endpoint}, nil
}

// Push uploads each existing file under <prefix>/<runID>/ and returns the
// URL of the first one, which callers pass as the final video.
func (m *Mirror) Push(ctx context.Context, runID string, files ...string) (string, error) {
	log := logging.Stage("mirror").WithField("run", runID)
	var first string
	for _, file := range files {
		if file == "" {
			continue
		}
		f, err := os.Open(file)
		if os.IsNotExist(err) {
			log.WithField("file", file).Debug("Skipping missing artifact")
			continue
		}
		if err != nil {
			return "", errors.Wrapf(err, "open %s", file)
		}
		key := m.key(runID, filepath.Base(file))
		_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(m.bucket),
			Key:         aws.String(key),
			Body:        f,
			ContentType: aws.String(contentType(file)),
		})
		f.Close()
		if err != nil {
			return "", errors.Wrapf(err, "put %s", key)
		}
		log.WithField("key", key).Info("Mirrored")
		if first == "" {
			first = m.url(key)
		}
	}
	return first, nil
}

func (m *Mirror) key(runID, name string) string {
	return path.Join(strings.Trim(m.prefix, "/"), runID, name)
}

func (m *Mirror) url(key string) string {
	if m.endpoint != "" {
		return strings.TrimRight(m.endpoint, "/") + "/" + m.bucket + "/" + key
	}
	return "s3://" + m.bucket + "/" + key
}

func contentType(file string) string {
	switch strings.ToLower(filepath.Ext(file)) {
	case ".mp4":
		return "video/mp4"
	case ".json":
		return "application/json"
	case ".mp3":
		return "audio/mpeg"
	case ".txt":
		return "text/plain; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}
