package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/janelia-flyem/n5knossos/core"

	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcp"
)

// OpenBucket returns a blob.Bucket for the given container reference.
// The reference should be of the form:
//
//	/local/path/to/container.n5  (or file:///local/path)
//	gs://<bucketname>[/<prefix>]
//	s3://<bucketname>[/<prefix>]
//	vast://<endpoint>/<bucketname>[/<prefix>]
func OpenBucket(ctx context.Context, ref string) (bucket *blob.Bucket, err error) {
	switch {
	case strings.HasPrefix(ref, "s3://"):
		// This relies on the non-GCS-specific blob API and requires that the user:
		// A: Have set up AWS credentials in ways gocloud can find them (see the "aws config" command)
		// B: Have set the AWS_REGION environment variable
		bucketName, prefix := splitRef(strings.TrimPrefix(ref, "s3://"))
		bucket, err = blob.OpenBucket(ctx, "s3://"+bucketName)
		if err != nil {
			core.Errorf("Can't open bucket reference @ %q: %v\n", ref, err)
			return nil, err
		}
		if prefix != "" {
			bucket = blob.PrefixedBucket(bucket, prefix+"/")
		}

	case strings.HasPrefix(ref, "vast://"):
		// VAST S3-compatible storage of form "vast://<endpoint>/<bucket>[/<prefix>]".
		// AWS_REGION must be set but is ignored, and AWS_SHARED_CREDENTIALS_FILE should
		// give the access keys.
		parts := strings.SplitN(strings.TrimPrefix(ref, "vast://"), "/", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("vast ref must be of form 'vast://<endpoint>/<bucket>'")
		}
		bucketName, prefix := splitRef(parts[1])
		url := fmt.Sprintf("s3://%s?endpoint=%s&s3ForcePathStyle=true", bucketName, parts[0])
		bucket, err = blob.OpenBucket(ctx, url)
		if err != nil {
			core.Errorf("Can't open bucket reference @ %q: %v\n", ref, err)
			return nil, err
		}
		if prefix != "" {
			bucket = blob.PrefixedBucket(bucket, prefix+"/")
		}

	case strings.HasPrefix(ref, "gs://"):
		// See https://cloud.google.com/docs/authentication/production
		// for more info on alternatives.
		creds, err := gcp.DefaultCredentials(ctx)
		if err != nil {
			return nil, err
		}
		client, err := gcp.NewHTTPClient(
			gcp.DefaultTransport(),
			gcp.CredentialsTokenSource(creds))
		if err != nil {
			return nil, err
		}
		bucketName, prefix := splitRef(strings.TrimPrefix(ref, "gs://"))
		bucket, err = gcsblob.OpenBucket(ctx, client, bucketName, nil)
		if err != nil {
			core.Errorf("Can't open bucket reference @ %q: %v\n", ref, err)
			return nil, err
		}
		if prefix != "" {
			bucket = blob.PrefixedBucket(bucket, prefix+"/")
		}

	default:
		dir := strings.TrimPrefix(ref, "file://")
		dir, err = filepath.Abs(dir)
		if err != nil {
			return nil, err
		}
		fi, err := os.Stat(dir)
		if err != nil {
			return nil, fmt.Errorf("can't open container %q: %w", ref, err)
		}
		if !fi.IsDir() {
			return nil, fmt.Errorf("container %q is not a directory", ref)
		}
		bucket, err = fileblob.OpenBucket(dir, nil)
		if err != nil {
			return nil, err
		}
	}
	return bucket, nil
}

// splitRef splits "bucket/some/prefix" into the bucket name and the prefix.
func splitRef(ref string) (bucketName, prefix string) {
	parts := strings.SplitN(strings.Trim(ref, "/"), "/", 2)
	bucketName = parts[0]
	if len(parts) == 2 {
		prefix = strings.Trim(parts[1], "/")
	}
	return
}
