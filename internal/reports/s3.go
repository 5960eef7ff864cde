package reports

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/castradar/sponsor-analytics/internal/config"
	"github.com/castradar/sponsor-analytics/internal/pkg/logger"
)

// objectPutter is the slice of the S3 client the exporter needs.
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Exporter ships rendered reports to an S3 bucket.
type S3Exporter struct {
	client objectPutter
	bucket string
}

// NewS3Exporter loads AWS credentials from the default chain (or the
// configured profile) and returns the exporter.
func NewS3Exporter(ctx context.Context, cfg config.ReportsConfig) (*S3Exporter, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.S3Region),
	}
	if profile := cfg.GetAWSProfile(); profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return &S3Exporter{
		client: s3.NewFromConfig(awsCfg),
		bucket: cfg.S3Bucket,
	}, nil
}

// newS3ExporterWithClient wires a caller-supplied client, for tests.
func newS3ExporterWithClient(client objectPutter, bucket string) *S3Exporter {
	return &S3Exporter{client: client, bucket: bucket}
}

// Export renders the report as CSV and uploads it.
func (e *S3Exporter) Export(ctx context.Context, report *CampaignReport) (string, error) {
	body, err := report.CSV()
	if err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}

	key := report.ObjectKey()
	_, err = e.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(e.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("text/csv"),
	})
	if err != nil {
		return "", fmt.Errorf("upload report %s: %w", key, err)
	}

	logger.Info("report exported",
		"campaign_id", report.Campaign.ID,
		"bucket", e.bucket,
		"key", key,
		"bytes", len(body))
	return key, nil
}
