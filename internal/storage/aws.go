package storage

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"

	"github.com/ignite/engagement-tracker/internal/config"
)

// LoadAWSConfig builds the SDK config shared by the DynamoDB store, the SQS
// publisher and the S3 archiver.
//
// Static keys win over a named profile; with neither the default credential
// chain applies (IAM role on ECS). A non-empty Endpoint points every client at
// LocalStack or DynamoDB Local.
func LoadAWSConfig(ctx context.Context, c config.AWSConfig) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(c.Region),
	}
	switch {
	case c.AccessKey != "" && c.SecretKey != "":
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessKey, c.SecretKey, ""),
		))
	case c.GetProfile() != "":
		opts = append(opts, awsconfig.WithSharedConfigProfile(c.GetProfile()))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS config: %w", err)
	}
	if c.Endpoint != "" {
		cfg.BaseEndpoint = aws.String(c.Endpoint)
	}
	return cfg, nil
}
