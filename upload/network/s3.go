package network

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/bitrise-io/go-utils/v2/log"
)

// s3API is the part-level subset of the S3 client used by S3Transport.
type s3API interface {
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

// S3Params ...
type S3Params struct {
	Region          string
	Bucket          string
	Key             string
	ContentType     string
	AccessKeyID     string
	SecretAccessKey string
}

// S3Transport uploads chunks as parts of an S3 multipart upload. The
// multipart upload is created lazily on the first chunk and completed with
// the final chunk. Chunk index N becomes part number N+1, so a retried
// chunk overwrites its own part.
//
// The upload engine sends chunks one at a time, S3Transport is not safe for
// concurrent use.
type S3Transport struct {
	client      s3API
	bucket      string
	key         string
	contentType string
	logger      log.Logger

	uploadID string
	parts    map[int32]types.CompletedPart
}

// NewS3Transport creates a Transport that uploads to the given bucket and
// key. Without explicit credentials the default AWS credential chain is
// used.
func NewS3Transport(ctx context.Context, params S3Params, logger log.Logger) (*S3Transport, error) {
	if params.Bucket == "" {
		return nil, fmt.Errorf("bucket must not be empty")
	}
	if params.Key == "" {
		return nil, fmt.Errorf("key must not be empty")
	}

	cfg, err := loadAWSCredentials(
		ctx,
		params.Region,
		params.AccessKeyID,
		params.SecretAccessKey,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("load aws credentials: %w", err)
	}

	return newS3Transport(s3.NewFromConfig(*cfg), params, logger), nil
}

func newS3Transport(client s3API, params S3Params, logger log.Logger) *S3Transport {
	return &S3Transport{
		client:      client,
		bucket:      params.Bucket,
		key:         params.Key,
		contentType: params.ContentType,
		logger:      logger,
		parts:       map[int32]types.CompletedPart{},
	}
}

// Do uploads one chunk as a part. AWS errors carrying an HTTP response are
// reported as that response's status, so the caller classifies S3 outcomes
// the same way as plain HTTP ones.
func (t *S3Transport) Do(ctx context.Context, req ChunkRequest) (int, error) {
	if t.uploadID == "" {
		if err := t.create(ctx); err != nil {
			return statusFromAWSError(err)
		}
	}

	partNumber := int32(req.Index + 1)

	t.logger.Debugf("Uploading part %d (%s) to s3://%s/%s", partNumber, req.Range, t.bucket, t.key)

	out, err := t.client.UploadPart(ctx, &s3.UploadPartInput{
		Body:          bytes.NewReader(req.Body),
		Bucket:        aws.String(t.bucket),
		Key:           aws.String(t.key),
		PartNumber:    aws.Int32(partNumber),
		UploadId:      aws.String(t.uploadID),
		ContentLength: aws.Int64(int64(len(req.Body))),
	})
	if err != nil {
		return statusFromAWSError(err)
	}

	t.parts[partNumber] = types.CompletedPart{
		ETag:       out.ETag,
		PartNumber: aws.Int32(partNumber),
	}

	if req.Range.IsFinal() {
		if err := t.complete(ctx); err != nil {
			return statusFromAWSError(err)
		}
	}

	return http.StatusOK, nil
}

func (t *S3Transport) create(ctx context.Context) error {
	input := &s3.CreateMultipartUploadInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(t.key),
	}
	if t.contentType != "" {
		input.ContentType = aws.String(t.contentType)
	}

	out, err := t.client.CreateMultipartUpload(ctx, input)
	if err != nil {
		return err
	}

	t.uploadID = aws.ToString(out.UploadId)
	t.logger.Debugf("Created multipart upload %s for s3://%s/%s", t.uploadID, t.bucket, t.key)

	return nil
}

func (t *S3Transport) complete(ctx context.Context) error {
	parts := make([]types.CompletedPart, 0, len(t.parts))
	for _, part := range t.parts {
		parts = append(parts, part)
	}
	sort.Slice(parts, func(i, j int) bool {
		return aws.ToInt32(parts[i].PartNumber) < aws.ToInt32(parts[j].PartNumber)
	})

	_, err := t.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(t.bucket),
		Key:      aws.String(t.key),
		UploadId: aws.String(t.uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: parts,
		},
	})
	if err != nil {
		return err
	}

	t.logger.Debugf("Completed multipart upload %s with %d parts", t.uploadID, len(parts))

	return nil
}

// Abort cancels the multipart upload and discards the parts uploaded so
// far. It is a no-op before the first chunk. Abort must not be called while
// an upload is still running.
func (t *S3Transport) Abort(ctx context.Context) error {
	if t.uploadID == "" {
		return nil
	}

	_, err := t.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(t.bucket),
		Key:      aws.String(t.key),
		UploadId: aws.String(t.uploadID),
	})
	if err != nil {
		return fmt.Errorf("abort multipart upload: %w", err)
	}

	t.logger.Debugf("Aborted multipart upload %s", t.uploadID)

	return nil
}

// statusFromAWSError turns an AWS SDK error into the transport result. An
// error with an HTTP response becomes that status, anything else (DNS
// failure, connection reset) stays a transport error.
func statusFromAWSError(err error) (int, error) {
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode(), nil
	}
	return 0, err
}

func loadAWSCredentials(
	ctx context.Context,
	region string,
	accessKeyID string,
	secretKey string,
	logger log.Logger,
) (*aws.Config, error) {
	if region == "" {
		return nil, fmt.Errorf("region must not be empty")
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}

	if accessKeyID != "" && secretKey != "" {
		logger.Debugf("aws credentials provided, using them...")
		opts = append(opts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretKey, "")))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config, %v", err)
	}

	return &cfg, nil
}
