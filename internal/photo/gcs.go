package photo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/serveroute/serveroute/internal/resilience"
)

// GCS uploads photos to a Cloud Storage bucket.
type GCS struct {
	client  *storage.Client
	bucket  string
	baseURL string
	retry   resilience.RetryConfig
}

// NewGCS opens a storage client. credentialsFile may be empty to use
// application default credentials.
func NewGCS(ctx context.Context, bucket, credentialsFile, baseURL string, retry resilience.RetryConfig) (*GCS, error) {
	if bucket == "" {
		return nil, eris.New("photo: gcs bucket is required")
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "photo: create gcs client")
	}
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://storage.googleapis.com/%s", bucket)
	}
	return &GCS{client: client, bucket: bucket, baseURL: strings.TrimRight(baseURL, "/"), retry: retry}, nil
}

// Put writes data to the bucket, retrying transient API failures.
func (g *GCS) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	cfg := g.retry
	cfg.ShouldRetry = isTransientGCS
	cfg.OnRetry = resilience.RetryLogger("gcs_put", zap.String("key", key))

	err := resilience.Do(ctx, cfg, func(ctx context.Context) error {
		w := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
		w.ContentType = contentType
		if _, err := w.Write(data); err != nil {
			_ = w.Close()
			return err
		}
		return w.Close()
	})
	if err != nil {
		return "", eris.Wrapf(err, "photo: upload %s", key)
	}
	return g.baseURL + "/" + key, nil
}

// Close releases the storage client.
func (g *GCS) Close() error {
	return g.client.Close()
}

func isTransientGCS(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return resilience.IsTransientHTTPStatus(apiErr.Code)
	}
	return resilience.IsTransient(err)
}
