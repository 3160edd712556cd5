package aliyun

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"clipfactory/log"
	apperrors "clipfactory/pkg/errors"

	"github.com/aliyun/alibabacloud-oss-go-sdk-v2/oss"
	"github.com/aliyun/alibabacloud-oss-go-sdk-v2/oss/credentials"
	"go.uber.org/zap"
)

type OssConfig struct {
	AccessKeyId     string `toml:"access_key_id"`
	AccessKeySecret string `toml:"access_key_secret"`
	Region          string `toml:"region"`
	Endpoint        string `toml:"endpoint"`
	Bucket          string `toml:"bucket"`
	// Prefix is prepended to every artifact key.
	Prefix string `toml:"prefix"`
}

// OssClient stores pipeline artifacts in one OSS bucket.
type OssClient struct {
	client *oss.Client
	bucket string
	prefix string
}

func NewOssClient(cfg OssConfig) (*OssClient, error) {
	if cfg.Bucket == "" || cfg.AccessKeyId == "" || cfg.AccessKeySecret == "" {
		return nil, apperrors.Wrap(apperrors.CodeCredentialsMissing, "oss bucket and access key are required", nil)
	}
	region := cfg.Region
	if region == "" {
		region = "cn-shanghai"
	}
	ossCfg := oss.LoadDefaultConfig().
		WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyId, cfg.AccessKeySecret)).
		WithRegion(region)
	if cfg.Endpoint != "" {
		ossCfg = ossCfg.WithEndpoint(cfg.Endpoint)
	}
	return &OssClient{
		client: oss.NewClient(ossCfg),
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

func (c *OssClient) objectKey(key string) string {
	key = strings.TrimLeft(key, "/")
	if c.prefix == "" {
		return key
	}
	return c.prefix + "/" + key
}

func (c *OssClient) artifactKey(objectKey string) string {
	if c.prefix == "" {
		return objectKey
	}
	return strings.TrimPrefix(objectKey, c.prefix+"/")
}

func (c *OssClient) Put(ctx context.Context, key string, data []byte) error {
	_, err := c.client.PutObject(ctx, &oss.PutObjectRequest{
		Bucket: oss.Ptr(c.bucket),
		Key:    oss.Ptr(c.objectKey(key)),
		Body:   bytes.NewReader(data),
	})
	return c.classify(key, err)
}

func (c *OssClient) PutFile(ctx context.Context, key, localPath string) error {
	_, err := c.client.PutObjectFromFile(ctx, &oss.PutObjectRequest{
		Bucket: oss.Ptr(c.bucket),
		Key:    oss.Ptr(c.objectKey(key)),
	}, localPath)
	if err != nil {
		log.GetLogger().Error("oss: upload failed", zap.String("key", key), zap.Error(err))
	}
	return c.classify(key, err)
}

func (c *OssClient) Get(ctx context.Context, key string) ([]byte, error) {
	res, err := c.client.GetObject(ctx, &oss.GetObjectRequest{
		Bucket: oss.Ptr(c.bucket),
		Key:    oss.Ptr(c.objectKey(key)),
	})
	if err != nil {
		return nil, c.classify(key, err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, apperrors.Transient("oss read "+key, err)
	}
	return data, nil
}

func (c *OssClient) GetFile(ctx context.Context, key, localPath string) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("oss: ensure directory: %w", err)
	}
	_, err := c.client.GetObjectToFile(ctx, &oss.GetObjectRequest{
		Bucket: oss.Ptr(c.bucket),
		Key:    oss.Ptr(c.objectKey(key)),
	}, localPath)
	return c.classify(key, err)
}

func (c *OssClient) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := c.client.IsObjectExist(ctx, c.bucket, c.objectKey(key))
	if err != nil {
		return false, c.classify(key, err)
	}
	return ok, nil
}

// List returns artifact keys under prefix, without the client prefix.
func (c *OssClient) List(ctx context.Context, prefix string) ([]string, error) {
	p := c.client.NewListObjectsV2Paginator(&oss.ListObjectsV2Request{
		Bucket: oss.Ptr(c.bucket),
		Prefix: oss.Ptr(c.objectKey(prefix)),
	})
	var keys []string
	for p.HasNext() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, c.classify(prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, c.artifactKey(oss.ToString(obj.Key)))
		}
	}
	return keys, nil
}

// Presign returns a time-limited GET URL, used to hand audio to ASR.
func (c *OssClient) Presign(ctx context.Context, key string, ttl time.Duration) (string, error) {
	res, err := c.client.Presign(ctx, &oss.GetObjectRequest{
		Bucket: oss.Ptr(c.bucket),
		Key:    oss.Ptr(c.objectKey(key)),
	}, oss.PresignExpires(ttl))
	if err != nil {
		return "", c.classify(key, err)
	}
	return res.URL, nil
}

func (c *OssClient) classify(key string, err error) error {
	if err == nil {
		return nil
	}
	var serr *oss.ServiceError
	if !errors.As(err, &serr) {
		return apperrors.Transient("oss request for "+key, err)
	}
	switch {
	case serr.StatusCode == http.StatusNotFound:
		return apperrors.WrapWithDetail(apperrors.CodeArtifactMissing, "artifact missing", key, err)
	case serr.StatusCode == http.StatusForbidden || serr.StatusCode == http.StatusUnauthorized:
		return apperrors.Wrap(apperrors.CodeUnauthorized, "oss access denied", err)
	case serr.StatusCode == http.StatusTooManyRequests || serr.StatusCode == http.StatusServiceUnavailable:
		return apperrors.RateLimited("oss throttled", 5*time.Second, err)
	default:
		return apperrors.Transient("oss request for "+key, err)
	}
}
