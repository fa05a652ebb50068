package service

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"SceneForge-server/config"
	"SceneForge-server/models"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

var defaultExt = map[models.AssetType]string{
	models.AssetVideo:     ".mp4",
	models.AssetNarration: ".mp3",
	models.AssetMusic:     ".mp3",
}

var contentTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
}

// MinIOMirror copies provider assets into a bucket and returns presigned URLs.
type MinIOMirror struct {
	client *minio.Client
	bucket string
	expiry time.Duration
	http   *http.Client
	logger *zap.Logger

	bucketOnce sync.Once
	bucketErr  error
}

func NewMinIOMirror(cfg config.MinIOConfig, logger *zap.Logger) (*MinIOMirror, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MinIOMirror{
		client: client,
		bucket: cfg.Bucket,
		expiry: 72 * time.Hour,
		http:   &http.Client{Timeout: 5 * time.Minute},
		logger: logger.Named("mirror"),
	}, nil
}

// ObjectName is the bucket key of a scene asset: scenes/{sceneID}/{asset}{ext}.
func ObjectName(sceneID string, asset models.AssetType, sourceURL string) string {
	ext := ""
	if u, err := url.Parse(sourceURL); err == nil {
		ext = strings.ToLower(path.Ext(u.Path))
	}
	if _, ok := contentTypes[ext]; !ok {
		ext = defaultExt[asset]
	}
	return fmt.Sprintf("scenes/%s/%s%s", sceneID, asset, ext)
}

func contentTypeFor(objectName string) string {
	if ct, ok := contentTypes[path.Ext(objectName)]; ok {
		return ct
	}
	return "application/octet-stream"
}

func (m *MinIOMirror) ensureBucket(ctx context.Context) error {
	m.bucketOnce.Do(func() {
		exists, err := m.client.BucketExists(ctx, m.bucket)
		if err != nil {
			m.bucketErr = fmt.Errorf("check bucket: %w", err)
			return
		}
		if !exists {
			if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
				m.bucketErr = fmt.Errorf("create bucket: %w", err)
				return
			}
			m.logger.Info("bucket created", zap.String("bucket", m.bucket))
		}
	})
	return m.bucketErr
}

func (m *MinIOMirror) Mirror(ctx context.Context, sceneID string, asset models.AssetType, sourceURL string) (string, error) {
	if err := m.ensureBucket(ctx); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return "", fmt.Errorf("build download request: %w", err)
	}
	resp, err := m.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("download asset: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download asset: status %d", resp.StatusCode)
	}

	objectName := ObjectName(sceneID, asset, sourceURL)
	_, err = m.client.PutObject(ctx, m.bucket, objectName, resp.Body, resp.ContentLength, minio.PutObjectOptions{
		ContentType: contentTypeFor(objectName),
	})
	if err != nil {
		return "", fmt.Errorf("upload to minio: %w", err)
	}

	presigned, err := m.client.PresignedGetObject(ctx, m.bucket, objectName, m.expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", objectName, err)
	}
	m.logger.Info("asset mirrored", zap.String("scene_id", sceneID), zap.String("object", objectName))
	return presigned.String(), nil
}
