// Package aws connects the image store to an AWS S3 bucket
package aws

import (
	"context"
	"errors"
	"fmt"

	"unitools/market-api/internal/storage"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/spf13/viper"
)

// NewS3 builds a client from the aws.* config keys and makes sure the bucket exists
func NewS3(ctx context.Context) (*storage.S3Store, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			viper.GetString("aws.access_key"),
			viper.GetString("aws.secret_access_key"),
			"",
		)),
	)
	if err != nil {
		return nil, err
	}

	bucket := aws.String(viper.GetString("aws.bucket"))

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if region := viper.GetString("aws.region"); region != "" {
			o.Region = region
		}
	})

	if err := CheckBucket(ctx, client, bucket); err != nil {
		return nil, err
	}

	return storage.NewS3Store(client, bucket), nil
}

// CheckBucket fails if the bucket is missing or unreachable with the given credentials
func CheckBucket(ctx context.Context, client *s3.Client, bucket *string) error {
	_, err := client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: bucket,
	})
	if err != nil {
		var apiErr smithy.APIError

		if errors.As(err, &apiErr) {
			if apiErr.ErrorCode() == "NotFound" {
				return fmt.Errorf("bucket '%s' does not exist", *bucket)
			}
		}

		return fmt.Errorf("failed to check if bucket exists, %w", err)
	}

	return nil
}
