// internal/services/storage_service.go
package services

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/coop-registry/internal/config"
)

// DocumentStore persists uploaded documents and rendered certificates.
type DocumentStore interface {
	Upload(ctx context.Context, data []byte, filename, folder, contentType string) (*UploadResult, error)
	Delete(ctx context.Context, key string) error
}

// Presigner hands clients a URL to upload directly to the bucket.
type Presigner interface {
	PrepareUpload(filename, category, contentType string, size int64) (*PresignedUpload, error)
}

// LocalUploadDir holds uploads when S3 is not configured. The router serves it at /uploads.
const LocalUploadDir = "uploads"

type StorageService struct {
	s3Client *s3.S3
	config   *config.Config
}

type UploadResult struct {
	URL      string `json:"url"`
	Key      string `json:"key"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type"`
}

type UploadOptions struct {
	Folder       string
	MaxSize      int64 // in bytes
	AllowedTypes []string
	IsPublic     bool
}

func NewStorageService(config *config.Config) (*StorageService, error) {
	if config.AWS.AccessKeyID == "" {
		// Return service without S3 for local development
		return &StorageService{config: config}, nil
	}

	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(config.AWS.Region),
		Credentials: credentials.NewStaticCredentials(
			config.AWS.AccessKeyID,
			config.AWS.SecretAccessKey,
			"",
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &StorageService{
		s3Client: s3.New(sess),
		config:   config,
	}, nil
}

func (s *StorageService) Upload(ctx context.Context, data []byte, filename, folder, contentType string) (*UploadResult, error) {
	options := s.GetDefaultUploadOptions(folder)
	if err := options.Check(filename, int64(len(data))); err != nil {
		return nil, err
	}

	key := s.generateFileName(filename, options.Folder)

	if s.s3Client != nil {
		return s.uploadToS3(ctx, data, key, contentType, options.IsPublic)
	}

	return s.uploadToLocal(data, key, contentType)
}

func (s *StorageService) uploadToS3(ctx context.Context, fileBytes []byte, key, contentType string, isPublic bool) (*UploadResult, error) {
	params := &s3.PutObjectInput{
		Bucket:        aws.String(s.config.AWS.S3Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(fileBytes),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(fileBytes))),
	}

	if isPublic {
		params.ACL = aws.String("public-read")
	}

	if _, err := s.s3Client.PutObjectWithContext(ctx, params); err != nil {
		return nil, fmt.Errorf("failed to upload to S3: %w", err)
	}

	return &UploadResult{
		URL:      s.getS3URL(key),
		Key:      key,
		Size:     int64(len(fileBytes)),
		MimeType: contentType,
	}, nil
}

func (s *StorageService) uploadToLocal(fileBytes []byte, key, contentType string) (*UploadResult, error) {
	path := filepath.Join(LocalUploadDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	if err := os.WriteFile(path, fileBytes, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write upload: %w", err)
	}

	url := fmt.Sprintf("%s/uploads/%s", strings.TrimRight(s.config.Server.PublicURL, "/"), key)
	logrus.WithField("key", key).Debug("S3 not configured, upload stored on disk")
	return &UploadResult{
		URL:      url,
		Key:      key,
		Size:     int64(len(fileBytes)),
		MimeType: contentType,
	}, nil
}

func (s *StorageService) Delete(ctx context.Context, key string) error {
	if s.s3Client == nil {
		err := os.Remove(filepath.Join(LocalUploadDir, filepath.FromSlash(key)))
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete local upload: %w", err)
		}
		return nil
	}

	_, err := s.s3Client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.config.AWS.S3Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete file from S3: %w", err)
	}

	return nil
}

func (s *StorageService) PresignUpload(key, contentType string, expiry time.Duration) (string, error) {
	if s.s3Client == nil {
		return "", fmt.Errorf("%w: S3 client not configured", ErrUnavailable)
	}

	req, _ := s.s3Client.PutObjectRequest(&s3.PutObjectInput{
		Bucket:      aws.String(s.config.AWS.S3Bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	})

	url, err := req.Presign(expiry)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}

	return url, nil
}

// PresignedUpload is what the client needs to PUT a document and register it afterwards.
type PresignedUpload struct {
	UploadURL string    `json:"upload_url"`
	FileURL   string    `json:"file_url"`
	Key       string    `json:"key"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PrepareUpload validates the file against the category rules and presigns a PUT for it.
func (s *StorageService) PrepareUpload(filename, category, contentType string, size int64) (*PresignedUpload, error) {
	options := s.GetDefaultUploadOptions(category)
	if err := options.Check(filename, size); err != nil {
		return nil, err
	}

	const expiry = 15 * time.Minute
	key := s.generateFileName(filename, options.Folder)
	url, err := s.PresignUpload(key, contentType, expiry)
	if err != nil {
		return nil, err
	}

	return &PresignedUpload{
		UploadURL: url,
		FileURL:   s.getS3URL(key),
		Key:       key,
		ExpiresAt: time.Now().UTC().Add(expiry),
	}, nil
}

func (s *StorageService) GetDefaultUploadOptions(category string) UploadOptions {
	switch category {
	case "documents":
		return UploadOptions{
			Folder:       "documents",
			MaxSize:      10 * 1024 * 1024, // 10MB
			AllowedTypes: []string{".jpg", ".jpeg", ".png", ".pdf", ".doc", ".docx"},
			IsPublic:     false,
		}
	case "certificates":
		return UploadOptions{
			Folder:       "certificates",
			MaxSize:      5 * 1024 * 1024, // 5MB
			AllowedTypes: []string{".pdf"},
			IsPublic:     true,
		}
	default:
		return UploadOptions{
			Folder:       "general",
			MaxSize:      5 * 1024 * 1024, // 5MB
			AllowedTypes: []string{".jpg", ".jpeg", ".png", ".pdf"},
			IsPublic:     false,
		}
	}
}

// Check enforces size and extension limits.
func (o UploadOptions) Check(filename string, size int64) error {
	if o.MaxSize > 0 && size > o.MaxSize {
		return fmt.Errorf("%w: file size %d bytes exceeds maximum allowed size %d bytes", ErrBadRequest, size, o.MaxSize)
	}

	if len(o.AllowedTypes) > 0 {
		fileExt := strings.ToLower(filepath.Ext(filename))
		for _, allowedType := range o.AllowedTypes {
			if fileExt == allowedType {
				return nil
			}
		}
		return fmt.Errorf("%w: file type %s is not allowed", ErrBadRequest, fileExt)
	}
	return nil
}

func (s *StorageService) generateFileName(originalName, folder string) string {
	id := uuid.New()
	ext := strings.ToLower(filepath.Ext(originalName))

	timestamp := time.Now().UTC().Format("20060102")
	filename := fmt.Sprintf("%s_%s%s", timestamp, id.String()[:8], ext)

	if folder != "" {
		return fmt.Sprintf("%s/%s", folder, filename)
	}

	return filename
}

func (s *StorageService) getS3URL(key string) string {
	if s.config.AWS.CloudFrontURL != "" {
		return fmt.Sprintf("%s/%s", s.config.AWS.CloudFrontURL, key)
	}

	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s",
		s.config.AWS.S3Bucket, s.config.AWS.Region, key)
}
