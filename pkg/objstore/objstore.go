// Package objstore 提供对象存储的 bucket 置备客户端
// bucket 名称由实例域名的第一段确定性地派生，删除时无需再查库
package objstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// Provisioner 定义 bucket 置备接口
type Provisioner interface {
	// ProvisionBucket 创建 bucket 并记录访问它的 access key，
	// 已存在且归属本账号时视为成功
	ProvisionBucket(ctx context.Context, bucket, accessKey string) error
	// BucketExists 检查 bucket 是否存在
	BucketExists(ctx context.Context, bucket string) (bool, error)
	// DeprovisionBucket 删除 bucket，不存在时视为成功
	DeprovisionBucket(ctx context.Context, bucket string) error
}

// BucketName 从实例域名派生 bucket 名称
// 取域名的第一个 label，例如 acme.example.com -> fleet-acme
func BucketName(domain string) string {
	label := domain
	if i := strings.IndexByte(domain, '.'); i > 0 {
		label = domain[:i]
	}
	return "fleet-" + strings.ToLower(label)
}

// S3Client 基于 S3 兼容对象存储的 Provisioner 实现
type S3Client struct {
	s3 *s3.Client
}

var _ Provisioner = (*S3Client)(nil)

// NewS3Client 创建 S3 置备客户端
// endpoint 指向任意 S3 兼容服务
func NewS3Client(endpoint, region, accessKey, secretKey string) (*S3Client, error) {
	cfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
		config.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})

	return &S3Client{s3: client}, nil
}

// ProvisionBucket 创建 bucket
// access key 以标签形式记在 bucket 上，轮换凭证和排查归属时
// 不用回查控制面数据库
func (c *S3Client) ProvisionBucket(ctx context.Context, bucket, accessKey string) error {
	_, err := c.s3.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(bucket),
	})
	if err != nil {
		// bucket 已存在且归属本账号，可重入
		if !isBucketAlreadyOwned(err) {
			return fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}

	_, err = c.s3.PutBucketTagging(ctx, &s3.PutBucketTaggingInput{
		Bucket: aws.String(bucket),
		Tagging: &types.Tagging{
			TagSet: []types.Tag{
				{Key: aws.String("fleet-access-key"), Value: aws.String(accessKey)},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("tag bucket %s: %w", bucket, err)
	}
	return nil
}

// BucketExists 检查 bucket
func (c *S3Client) BucketExists(ctx context.Context, bucket string) (bool, error) {
	_, err := c.s3.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(bucket),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("head bucket %s: %w", bucket, err)
	}
	return true, nil
}

// DeprovisionBucket 删除 bucket
func (c *S3Client) DeprovisionBucket(ctx context.Context, bucket string) error {
	_, err := c.s3.DeleteBucket(ctx, &s3.DeleteBucketInput{
		Bucket: aws.String(bucket),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("delete bucket %s: %w", bucket, err)
	}
	return nil
}

func isBucketAlreadyOwned(err error) bool {
	var owned *types.BucketAlreadyOwnedByYou
	if errors.As(err, &owned) {
		return true
	}
	var exists *types.BucketAlreadyExists
	if errors.As(err, &exists) {
		return true
	}

	// 部分 S3 兼容服务只返回错误码，不返回 SDK 的类型化错误
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "BucketAlreadyOwnedByYou" || code == "BucketAlreadyExists"
	}
	return false
}

func isNotFound(err error) bool {
	var nsb *types.NoSuchBucket
	if errors.As(err, &nsb) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchBucket" || code == "NotFound"
	}
	return false
}
