// Package gcs downloads and uploads objects of a single Google Cloud
// Storage (GCS) bucket.  The archiver uses it to publish datatype
// schemas.
//
// Clients created by NewClient use the default application credentials
// (e.g., ~/.config/gcloud/application_default_credentials.json).
package gcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"github.com/googleapis/google-cloud-go-testing/storage/stiface"
)

// Client reads and writes objects of one bucket.
type Client struct {
	bucket       string
	bucketHandle stiface.BucketHandle
}

var (
	downloadTimeout = 2 * time.Minute
	uploadTimeout   = 10 * time.Minute

	ErrCreateClient = errors.New("failed to create GCS client")
	ErrDownload     = errors.New("failed to download GCS object")
	ErrUpload       = errors.New("failed to upload GCS object")
	ErrClose        = errors.New("failed to close GCS object")

	// Testing and debugging support.
	storageNewClient = storage.NewClient
	verbose          = func(fmt string, args ...interface{}) {}
)

// Verbose provides a convenient way for the caller to enable verbose
// printing and control its format (mostly for debugging).
func Verbose(v func(string, ...interface{})) {
	verbose = v
}

// NewClient returns a new client for the specified bucket.
func NewClient(ctx context.Context, bucket string) (*Client, error) {
	verbose("creating storage client for %v", bucket)
	client, err := storageNewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCreateClient, err)
	}
	return newClient(bucket, stiface.AdaptClient(client).Bucket(bucket)), nil
}

func newClient(bucket string, bucketHandle stiface.BucketHandle) *Client {
	return &Client{
		bucket:       bucket,
		bucketHandle: bucketHandle,
	}
}

// Download returns the contents of the specified object.  If the object
// does not exist, the returned error wraps storage.ErrObjectNotExist.
func (c *Client) Download(ctx context.Context, objPath string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()
	reader, err := c.bucketHandle.Object(objPath).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("gs://%v/%v: %w", c.bucket, objPath, err)
	}
	defer reader.Close()
	contents, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: gs://%v/%v: %v", ErrDownload, c.bucket, objPath, err)
	}
	verbose("downloaded gs://%v/%v (%v bytes)", c.bucket, objPath, len(contents))
	return contents, nil
}

// Upload writes contents to the specified object, replacing it if it
// already exists.
//
// Methods in the storage package may retry calls that fail with transient
// errors until the context is canceled.
func (c *Client) Upload(ctx context.Context, objPath string, contents []byte) error {
	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()
	writer := c.bucketHandle.Object(objPath).NewWriter(ctx)
	if _, err := io.Copy(writer, bytes.NewReader(contents)); err != nil {
		return fmt.Errorf("%w: gs://%v/%v: %v", ErrUpload, c.bucket, objPath, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("%w: gs://%v/%v: %v", ErrClose, c.bucket, objPath, err)
	}
	verbose("uploaded gs://%v/%v (%v bytes)", c.bucket, objPath, len(contents))
	return nil
}
