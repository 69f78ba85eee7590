/*
Copyright © 2025 the IBF river flood pipeline authors.
This file is part of the IBF river flood pipeline.

The IBF river flood pipeline is free software: you can redistribute it
and/or modify it under the terms of the GNU General Public License as
published by the Free Software Foundation, either version 3 of the License,
or (at your option) any later version.

The IBF river flood pipeline is distributed in the hope that it will be
useful, but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with the IBF river flood pipeline.  If not, see
<http://www.gnu.org/licenses/>.
*/

package pipelineutil

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/cenkalti/backoff"
	"github.com/google/go-cloud/blob"
	"github.com/google/go-cloud/blob/fileblob"
	"github.com/google/go-cloud/blob/gcsblob"
	"github.com/google/go-cloud/blob/s3blob"
	"github.com/google/go-cloud/gcp"
	"github.com/sirupsen/logrus"

	"github.com/rodekruis/IBF-river-flood-pipeline"
)

// OpenBucket returns the blob storage bucket specified by bucketName,
// where bucketName must be in the format 'provider://name' where provider
// is the name of the storage provider and name is the name of the bucket.
// The currently accepted storage providers are "file" for the local
// filesystem (e.g., for testing), "gs" for Google Cloud Storage, and "s3"
// for AWS S3.
func OpenBucket(ctx context.Context, bucketName string) (*blob.Bucket, error) {
	u, err := url.Parse(bucketName)
	if err != nil {
		return nil, fmt.Errorf("pipelineutil.OpenBucket: %v", err)
	}
	switch u.Scheme {
	case "file":
		return fileblob.NewBucket(filepath.Join(u.Host, u.Path))
	case "gs":
		return gsBucket(ctx, u.Hostname())
	case "s3":
		return s3Bucket(ctx, u.Hostname())
	default:
		return nil, fmt.Errorf("pipelineutil.OpenBucket: invalid provider %s", u.Scheme)
	}
}

func gsBucket(ctx context.Context, name string) (*blob.Bucket, error) {
	// See here for information on credentials:
	// https://cloud.google.com/docs/authentication/getting-started
	creds, err := gcp.DefaultCredentials(ctx)
	if err != nil {
		return nil, err
	}
	c, err := gcp.NewHTTPClient(gcp.DefaultTransport(), gcp.CredentialsTokenSource(creds))
	if err != nil {
		return nil, err
	}
	return gcsblob.OpenBucket(ctx, name, c)
}

// s3Bucket opens an s3 storage bucket. It assumes the following
// environment variables are set: AWS_REGION, AWS_ACCESS_KEY_ID, and
// AWS_SECRET_ACCESS_KEY.
func s3Bucket(ctx context.Context, name string) (*blob.Bucket, error) {
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = "eu-west-1"
	}
	c := &aws.Config{
		Region:      aws.String(region),
		Credentials: credentials.NewEnvCredentials(),
	}
	s := session.Must(session.NewSession(c))
	return s3blob.OpenBucket(ctx, s, name)
}

// BucketStore adapts a blob storage bucket to the pipeline's BlobStore
// interface.
type BucketStore struct {
	Bucket *blob.Bucket
}

// NewBucketStore opens the bucket at bucketURL and wraps it in a
// BucketStore.
func NewBucketStore(ctx context.Context, bucketURL string) (*BucketStore, error) {
	bucket, err := OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, err
	}
	return &BucketStore{Bucket: bucket}, nil
}

// Get opens the blob at key for reading.
func (s *BucketStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := s.Bucket.NewReader(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: reading blob %s: %v", floodpipeline.ErrRetryableIO, key, err)
	}
	return r, nil
}

// Put writes the contents of r to the blob at key.
func (s *BucketStore) Put(ctx context.Context, key string, r io.Reader) error {
	w, err := s.Bucket.NewWriter(ctx, key, &blob.WriterOptions{})
	if err != nil {
		return fmt.Errorf("%w: writing blob %s: %v", floodpipeline.ErrRetryableIO, key, err)
	}
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return fmt.Errorf("%w: writing blob %s: %v", floodpipeline.ErrRetryableIO, key, err)
	}
	return w.Close()
}

// GloFASSource fetches raw ensemble NetCDFs from a blob mirror of the
// GloFAS distribution. The upstream FTP server caps concurrent
// connections and sheds load with "421 maximum number of connections"
// errors, so fetches retry those (and other transient failures) with
// backoff under a long outer deadline.
type GloFASSource struct {
	Store floodpipeline.BlobStore

	// Deadline bounds the total retry time per fetch.
	Deadline time.Duration

	Log logrus.FieldLogger
}

// NewGloFASSource creates a source reading from store.
func NewGloFASSource(store floodpipeline.BlobStore) *GloFASSource {
	return &GloFASSource{
		Store:    store,
		Deadline: 12 * time.Hour,
		Log:      logrus.StandardLogger(),
	}
}

// Fetch returns the NetCDF bytes of one ensemble member.
func (s *GloFASSource) Fetch(ctx context.Context, date time.Time, ensemble int) (io.ReadCloser, error) {
	key := floodpipeline.RawEnsembleKey(date, ensemble)
	var out io.ReadCloser
	operation := func() error {
		r, err := s.Store.Get(ctx, key)
		if err != nil {
			if retryableFetch(err) {
				return err
			}
			return backoff.Permanent(fmt.Errorf("%w: %s: %v",
				floodpipeline.ErrSourceUnavailable, key, err))
		}
		out = r
		return nil
	}
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = s.Deadline
	err := backoff.RetryNotify(operation, backoff.WithContext(bo, ctx),
		func(err error, d time.Duration) {
			s.Log.Warnf("%v: retrying in %v", err, d)
		})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// retryableFetch reports whether a fetch failure is worth retrying:
// transient I/O and the source's connection-cap rejection are, a missing
// file is not.
func retryableFetch(err error) bool {
	msg := err.Error()
	if strings.Contains(msg, "421") && strings.Contains(msg, "connection") {
		return true
	}
	for _, transient := range []string{"timeout", "connection refused", "reset by peer",
		"temporarily unavailable"} {
		if strings.Contains(msg, transient) {
			return true
		}
	}
	return false
}
