package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	cfg "github.com/craftline/postpilot/configs"
)

// Platforms fetch images by URL, so presigned links must outlive the queue's
// retry window.
const presignExpiry = 24 * time.Hour

// MediaService turns stored object keys into URLs the platforms can fetch.
type MediaService interface {
	ResolveURL(ctx context.Context, key string) (string, error)
}

type mediaService struct {
	config cfg.Config
}

func NewMediaService(cfg cfg.Config) MediaService {
	return &mediaService{config: cfg}
}

func (m *mediaService) r2Client(ctx context.Context) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(m.config.R2.AccessKey, m.config.R2.SecretKey, "")),
		awsconfig.WithRegion("auto"),
	)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(fmt.Sprintf("https://%s.r2.cloudflarestorage.com", m.config.R2.AccountID))
	}), nil
}

// ResolveURL presigns a GET for the object key. Keys that are already full
// URLs (legacy rows imported before the move to R2) pass through unchanged.
func (m *mediaService) ResolveURL(ctx context.Context, key string) (string, error) {
	if strings.HasPrefix(key, "http://") || strings.HasPrefix(key, "https://") {
		return key, nil
	}

	client, err := m.r2Client(ctx)
	if err != nil {
		return "", err
	}

	presigner := s3.NewPresignClient(client)
	req, err := presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.config.R2.BucketName),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(presignExpiry))
	if err != nil {
		slog.Info(err.Error())
		return "", err
	}

	return req.URL, nil
}
