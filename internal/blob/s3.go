package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"orbitdrive/internal/domain"
)

const (
	defaultTimeout  = 30 * time.Second
	uploadTimeout   = 10 * time.Minute
	downloadTimeout = 10 * time.Minute
	multipartChunk  = 5 * 1024 * 1024 // минимальный размер части S3
)

// S3Storage хранит финализированные блобы в S3-совместимом бакете.
// Возобновляемая загрузка пишет куски в локальный spool-каталог;
// Complete заливает собранный файл в бакет multipart-загрузкой и
// убирает spool. Size смотрит сначала в spool (идёт загрузка), затем
// в бакет.
type S3Storage struct {
	client   *s3.Client
	bucket   string
	spoolDir string
	spool    *LocalStorage
}

func NewS3Storage(conf *S3Config, spoolDir string) (*S3Storage, error) {
	if conf == nil {
		return nil, fmt.Errorf("configuration is required")
	}

	creds := aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
		conf.AccessKeyID,
		conf.SecretAccessKey,
		"",
	))

	client := s3.New(s3.Options{
		BaseEndpoint:     aws.String(conf.Endpoint),
		Region:           conf.Region,
		Credentials:      creds,
		RetryMode:        aws.RetryModeAdaptive,
		RetryMaxAttempts: 3,
	})

	spool, err := NewLocalStorage(spoolDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create spool dir: %w", err)
	}

	st := &S3Storage{
		client:   client,
		bucket:   conf.Bucket,
		spoolDir: spoolDir,
		spool:    spool,
	}

	// Проверяем подключение к бакету
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	if _, err := st.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(conf.Bucket),
	}); err != nil {
		return nil, fmt.Errorf("unable to access bucket %s: %w", conf.Bucket, err)
	}

	return st, nil
}

func (s *S3Storage) Put(ctx context.Context, key string, r io.Reader) (int64, error) {
	return s.spool.Put(ctx, key, r)
}

func (s *S3Storage) Append(ctx context.Context, key string, r io.Reader) (int64, error) {
	return s.spool.Append(ctx, key, r)
}

// Complete заливает собранный spool-файл в бакет по частям и удаляет его.
func (s *S3Storage) Complete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	path := filepath.Join(s.spoolDir, key)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		// Нечего финализировать: блоб уже в бакете.
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: failed to open spool %s: %v", domain.ErrIO, key, err)
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	uploadID, err := s.createMultipartUpload(ctx, key)
	if err != nil {
		return err
	}

	var parts []types.CompletedPart
	buf := make([]byte, multipartChunk)
	partNumber := int32(1)
	for {
		n, readErr := io.ReadFull(f, buf)
		if n > 0 {
			result, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
				Bucket:     aws.String(s.bucket),
				Key:        aws.String(key),
				PartNumber: aws.Int32(partNumber),
				UploadId:   aws.String(uploadID),
				Body:       bytes.NewReader(buf[:n]),
			})
			if err != nil {
				s.abortMultipartUpload(ctx, uploadID, key)
				return fmt.Errorf("failed to upload part %d: %w", partNumber, err)
			}
			parts = append(parts, types.CompletedPart{
				ETag:       result.ETag,
				PartNumber: aws.Int32(partNumber),
			})
			partNumber++
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			s.abortMultipartUpload(ctx, uploadID, key)
			return fmt.Errorf("%w: failed to read spool %s: %v", domain.ErrIO, key, readErr)
		}
	}

	if len(parts) == 0 {
		// Пустой блоб: multipart не принимает ноль частей.
		s.abortMultipartUpload(ctx, uploadID, key)
		if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(nil),
		}); err != nil {
			return fmt.Errorf("failed to upload empty blob: %w", err)
		}
	} else {
		if _, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
			Bucket:   aws.String(s.bucket),
			Key:      aws.String(key),
			UploadId: aws.String(uploadID),
			MultipartUpload: &types.CompletedMultipartUpload{
				Parts: parts,
			},
		}); err != nil {
			return fmt.Errorf("failed to complete multipart upload: %w", err)
		}
	}

	if err := s.spool.Delete(ctx, key); err != nil {
		log.Printf("warning: failed to remove spool for %s: %v", key, err)
	}
	return nil
}

func (s *S3Storage) createMultipartUpload(ctx context.Context, key string) (string, error) {
	result, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create multipart upload: %w", err)
	}
	return *result.UploadId, nil
}

func (s *S3Storage) abortMultipartUpload(ctx context.Context, uploadID, key string) {
	if _, err := s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	}); err != nil {
		log.Printf("warning: failed to abort multipart upload %s: %v", uploadID, err)
	}
}

func (s *S3Storage) Open(ctx context.Context, key string) (Object, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("blob %s: %w", key, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("%w: failed to get object %s: %v", domain.ErrIO, key, err)
	}

	return &object{
		ReadCloser:    result.Body,
		contentLength: aws.ToInt64(result.ContentLength),
	}, nil
}

func (s *S3Storage) OpenRange(ctx context.Context, key string, start, end int64) (Object, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	if start < 0 || end < start {
		return nil, fmt.Errorf("%w: bytes %d-%d", domain.ErrRangeNotSatisfiable, start, end)
	}

	rangeHeader := fmt.Sprintf("bytes=%d-%d", start, end)
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Range:  aws.String(rangeHeader),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("blob %s: %w", key, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("%w: failed to get object range %s: %v", domain.ErrIO, key, err)
	}

	return &object{
		ReadCloser:    result.Body,
		contentLength: aws.ToInt64(result.ContentLength),
	}, nil
}

func (s *S3Storage) Size(ctx context.Context, key string) (int64, error) {
	// Частичный блоб во время загрузки живёт в spool.
	if size, err := s.spool.Size(ctx, key); err == nil {
		return size, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return 0, err
	}

	result, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return 0, fmt.Errorf("blob %s: %w", key, domain.ErrNotFound)
		}
		return 0, fmt.Errorf("%w: failed to head object %s: %v", domain.ErrIO, key, err)
	}
	return aws.ToInt64(result.ContentLength), nil
}

// Delete удаляет блоб из spool и бакета. Отсутствующий объект - успех.
func (s *S3Storage) Delete(ctx context.Context, key string) error {
	if err := s.spool.Delete(ctx, key); err != nil {
		log.Printf("warning: failed to delete spool for %s: %v", key, err)
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return nil
		}
		return fmt.Errorf("failed to check object existence: %w", err)
	}

	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}
