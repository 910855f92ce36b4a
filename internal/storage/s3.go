package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/hashaatefac/Recipe-Sharing/internal/gateway"
)

// S3Config はS3互換エンドポイントへの接続設定を保持する。
type S3Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	// PublicBaseURL はアップロードしたオブジェクトの公開URLの接頭辞（バケット名の手前まで）。
	PublicBaseURL string
	// SessionTokens が設定されている場合、ログイン中のアクセストークンを
	// セッショントークンとして送り、ゲートウェイのストレージポリシーを適用させる。
	SessionTokens gateway.TokenSource
}

// S3Store はS3互換エンドポイントに画像を保存する。
type S3Store struct {
	client     *s3.Client
	bucket     string
	publicBase string
}

// compile-time interface check
var _ ImageStore = (*S3Store)(nil)

// NewS3Store はS3Storeを生成する。
func NewS3Store(cfg S3Config) (*S3Store, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 endpoint and bucket are required")
	}
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, fmt.Errorf("s3 access key id and secret access key are required")
	}

	var provider aws.CredentialsProvider = credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	if cfg.SessionTokens != nil {
		provider = sessionCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionTokens)
	}

	client := s3.New(s3.Options{
		Region:       cfg.Region,
		BaseEndpoint: aws.String(cfg.Endpoint),
		UsePathStyle: true,
		Credentials:  provider,
	})

	return &S3Store{
		client:     client,
		bucket:     cfg.Bucket,
		publicBase: strings.TrimRight(cfg.PublicBaseURL, "/"),
	}, nil
}

// sessionCredentials はリクエストごとに現在のアクセストークンをセッショントークンとして使う認証情報を返す。
func sessionCredentials(accessKeyID, secret string, tokens gateway.TokenSource) aws.CredentialsProvider {
	return aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
		token, err := tokens.AccessToken(ctx)
		if err != nil {
			return aws.Credentials{}, fmt.Errorf("failed to resolve session token: %w", err)
		}
		if token == "" {
			return aws.Credentials{}, fmt.Errorf("not signed in")
		}
		return aws.Credentials{
			AccessKeyID:     accessKeyID,
			SecretAccessKey: secret,
			SessionToken:    token,
			Source:          "RecipeShareSession",
		}, nil
	})
}

// Upload は画像をアップロードし、公開URLを返す。
func (s *S3Store) Upload(ctx context.Context, key, contentType string, data []byte) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
		CacheControl:  aws.String("max-age=3600"),
	})
	if err != nil {
		return "", fmt.Errorf("画像のアップロードに失敗しました: %w", err)
	}
	return s.publicBase + "/" + s.bucket + "/" + key, nil
}
