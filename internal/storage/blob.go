package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/otel/attribute"

	"github.com/streamvault/streamvault/pkg/models"
)

// Relocation concurrency for segment uploads.
const MaxConcurrentUploads = 20

// BlobStore relocates a finished HLS directory to its serving location.
type BlobStore interface {
	Relocate(ctx context.Context, localDir, destPrefix string) error
}

// S3Store uploads encoded output to the packaged bucket. Files whose
// base name appears in skip are never uploaded; key material stays out
// of the segment store and is served only by the key endpoint.
type S3Store struct {
	s3Client *s3.Client
	bucket   string
	skip     map[string]struct{}
	log      *slog.Logger
}

// NewS3Store creates an S3Store.
func NewS3Store(s3Client *s3.Client, bucket string, skipNames []string, log *slog.Logger) *S3Store {
	skip := make(map[string]struct{}, len(skipNames))
	for _, name := range skipNames {
		skip[name] = struct{}{}
	}
	return &S3Store{
		s3Client: s3Client,
		bucket:   bucket,
		skip:     skip,
		log:      log,
	}
}

// Relocate uploads every file under localDir to the packaged bucket
// beneath destPrefix, preserving the directory layout.
func (s *S3Store) Relocate(ctx context.Context, localDir, destPrefix string) error {
	ctx, span := tracer.Start(ctx, "relocate-hls")
	defer span.End()

	var filesUploaded atomic.Int64
	var totalBytes atomic.Int64
	var firstErr atomic.Pointer[error]

	sem := make(chan struct{}, MaxConcurrentUploads)
	var wg sync.WaitGroup

	walkErr := filepath.Walk(localDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if _, skipped := s.skip[filepath.Base(path)]; skipped {
			return nil
		}
		if firstErr.Load() != nil {
			return nil
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return fmt.Errorf("%w: during relocate walk", models.ErrContextCanceled)
		}

		wg.Add(1)

		go func(filePath string, fileInfo os.FileInfo) {
			defer wg.Done()
			defer func() { <-sem }()

			if firstErr.Load() != nil {
				return
			}

			relPath, err := filepath.Rel(localDir, filePath)
			if err != nil {
				wrappedErr := fmt.Errorf("failed to get relative path: %w", err)
				firstErr.CompareAndSwap(nil, &wrappedErr)
				return
			}
			s3Key := destPrefix + "/" + filepath.ToSlash(relPath)

			file, err := os.Open(filePath)
			if err != nil {
				wrappedErr := fmt.Errorf("failed to open file %s: %w", filePath, err)
				firstErr.CompareAndSwap(nil, &wrappedErr)
				return
			}
			defer file.Close()

			_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
				Bucket:      aws.String(s.bucket),
				Key:         aws.String(s3Key),
				Body:        file,
				ContentType: aws.String(contentTypeFor(filePath)),
			})
			if err != nil {
				wrappedErr := fmt.Errorf("failed to upload %s: %w", s3Key, err)
				firstErr.CompareAndSwap(nil, &wrappedErr)
				return
			}

			filesUploaded.Add(1)
			totalBytes.Add(fileInfo.Size())

			s.log.DebugContext(ctx, "Uploaded file", "key", s3Key)
		}(path, info)

		return nil
	})

	wg.Wait()

	if walkErr != nil {
		return walkErr
	}
	if errPtr := firstErr.Load(); errPtr != nil {
		return *errPtr
	}

	span.SetAttributes(
		attribute.Int64("files.uploaded", filesUploaded.Load()),
		attribute.Int64("bytes.total", totalBytes.Load()),
	)

	s.log.InfoContext(ctx, "Relocation complete",
		"destPrefix", destPrefix,
		"filesUploaded", filesUploaded.Load(),
		"totalBytes", totalBytes.Load(),
	)

	return nil
}

// LocalStore relocates output into a directory on local disk. Used in
// development when no packaged bucket is configured.
type LocalStore struct {
	root string
	skip map[string]struct{}
	log  *slog.Logger
}

// NewLocalStore creates a LocalStore rooted at dir.
func NewLocalStore(root string, skipNames []string, log *slog.Logger) *LocalStore {
	skip := make(map[string]struct{}, len(skipNames))
	for _, name := range skipNames {
		skip[name] = struct{}{}
	}
	return &LocalStore{root: root, skip: skip, log: log}
}

// Relocate moves files under localDir into root/destPrefix. Rename is
// tried first; a cross-device rename falls back to copy then delete.
func (s *LocalStore) Relocate(ctx context.Context, localDir, destPrefix string) error {
	destRoot := filepath.Join(s.root, filepath.FromSlash(destPrefix))

	return filepath.Walk(localDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if _, skipped := s.skip[filepath.Base(path)]; skipped {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%w: during relocate walk", models.ErrContextCanceled)
		}

		relPath, err := filepath.Rel(localDir, path)
		if err != nil {
			return fmt.Errorf("failed to get relative path: %w", err)
		}

		destPath := filepath.Join(destRoot, relPath)
		if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
			return fmt.Errorf("failed to create destination directory: %w", err)
		}

		if err := os.Rename(path, destPath); err != nil {
			if err := copyFile(path, destPath); err != nil {
				return err
			}
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("failed to remove source after copy: %w", err)
			}
		}

		s.log.DebugContext(ctx, "Relocated file", "dest", destPath)
		return nil
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create destination: %w", err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("failed to copy file: %w", err)
	}

	if err := out.Close(); err != nil {
		os.Remove(dst)
		return fmt.Errorf("failed to close destination: %w", err)
	}

	return nil
}
