package s3

import "errors"

var (
	errS3BucketIsEmpty      = errors.New("s3 bucket is empty")
	errS3HTTPClientIsNil    = errors.New("s3 http client is nil")
	errS3ClientNil          = errors.New("s3 client is nil")
	errS3InvalidEndpoint    = errors.New("s3 invalid endpoint")
	errS3NotFound           = errors.New("s3 object not found")
	errS3PreconditionFailed = errors.New("s3 precondition failed")
	errS3CreateBucketFailed = errors.New("s3 create bucket failed")
)

const (
	defaultRegion   = "us-east-1"
	artifactsPrefix = "archives"
	contentType     = "application/octet-stream"
	tempPattern     = ".s3-archive-"
)
