package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/cenkalti/backoff/v4"

	"github.com/vianexus/agentmemory/internal/identity"
	"github.com/vianexus/agentmemory/pkg/types"
)

// S3API is the slice of the S3 client the object store uses. *s3.Client
// satisfies it; tests substitute an in-memory fake.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// ObjectStore is a Backend keeping one JSON object per session at
// <prefix>/<session_id>.json. It is meant for multi-instance deployments
// where no shared filesystem exists. Put is idempotent: the object is the
// full serialized record, so replaying a save converges on the same bytes.
//
// The underlying object service may be eventually consistent; a Load
// immediately after a Save from another instance can return a stale record.
// Callers that need read-after-write within one request must route through
// a single manager instance.
type ObjectStore struct {
	client     S3API
	bucket     string
	prefix     string
	maxRetries uint64
}

var _ Backend = (*ObjectStore)(nil)

// NewObjectStore creates a store over an existing S3 client. Transient
// request failures are retried with exponential backoff inside the caller's
// deadline; maxRetries bounds the attempts per operation.
func NewObjectStore(client S3API, bucket, prefix string, maxRetries uint64) *ObjectStore {
	return &ObjectStore{
		client:     client,
		bucket:     bucket,
		prefix:     strings.Trim(prefix, "/"),
		maxRetries: maxRetries,
	}
}

func (s *ObjectStore) key(sessionID string) string {
	return path.Join(s.prefix, sessionID+".json")
}

// retry runs op with exponential backoff bounded by maxRetries and the
// caller's context. Deadline expiry surfaces as ErrTimeout.
func (s *ObjectStore) retry(ctx context.Context, op func() error) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), s.maxRetries), ctx)
	err := backoff.Retry(func() error {
		if err := op(); err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return backoff.Permanent(err)
			}
			var nf *s3types.NoSuchKey
			var nb *s3types.NotFound
			if errors.As(err, &nf) || errors.As(err, &nb) {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}, policy)
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrTimeout, err)
	}
	return err
}

// Save uploads the full serialized record.
func (s *ObjectStore) Save(ctx context.Context, rec *types.SessionRecord) error {
	if err := ValidateSessionID(rec.ID); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal session %s: %w", rec.ID, err)
	}
	err = s.retry(ctx, func() error {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(s.key(rec.ID)),
			Body:        bytes.NewReader(data),
			ContentType: aws.String("application/json"),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to put session %s: %w", rec.ID, err)
	}
	return nil
}

// Load fetches and deserializes the session object, or ErrNotFound.
func (s *ObjectStore) Load(ctx context.Context, sessionID string) (*types.SessionRecord, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	var data []byte
	err := s.retry(ctx, func() error {
		out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key(sessionID)),
		})
		if err != nil {
			return err
		}
		defer out.Body.Close()
		data, err = io.ReadAll(out.Body)
		return err
	})
	if err != nil {
		var nf *s3types.NoSuchKey
		if errors.As(err, &nf) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session %s: %w", sessionID, err)
	}
	var rec types.SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session %s: %w", sessionID, err)
	}
	return &rec, nil
}

// List pages through the prefix and returns the session IDs whose encoded
// user segment matches userID.
func (s *ObjectStore) List(ctx context.Context, userID string) ([]string, error) {
	return s.userSessionIDs(ctx, userID)
}

func (s *ObjectStore) userSessionIDs(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	var token *string
	for {
		var out *s3.ListObjectsV2Output
		err := s.retry(ctx, func() error {
			var err error
			out, err = s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
				Bucket:            aws.String(s.bucket),
				Prefix:            aws.String(s.prefix),
				ContinuationToken: token,
			})
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list sessions: %w", err)
		}
		for _, obj := range out.Contents {
			name := path.Base(aws.ToString(obj.Key))
			if !strings.HasSuffix(name, ".json") {
				continue
			}
			sessionID := strings.TrimSuffix(name, ".json")
			id, err := identity.Parse(sessionID)
			if err != nil {
				continue
			}
			if id.UserID == userID {
				ids = append(ids, sessionID)
			}
		}
		if out.NextContinuationToken == nil {
			break
		}
		token = out.NextContinuationToken
	}
	return ids, nil
}

// Search fetches the user's session objects and returns the messages
// containing query. An ID that vanished between listing and fetching is
// skipped.
func (s *ObjectStore) Search(ctx context.Context, userID, query string, sessionIDs []string, limit int) ([]types.Message, error) {
	ids := sessionIDs
	if len(ids) == 0 {
		var err error
		ids, err = s.userSessionIDs(ctx, userID)
		if err != nil {
			return nil, err
		}
	}

	var matches []types.Message
	for _, sessionID := range ids {
		if err := ValidateSessionID(sessionID); err != nil {
			continue
		}
		id, err := identity.Parse(sessionID)
		if err != nil || id.UserID != userID {
			continue
		}
		rec, err := s.Load(ctx, sessionID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		matches = appendMatches(matches, rec.Messages, query, limit)
		if limit > 0 && len(matches) >= limit {
			break
		}
	}
	return matches, nil
}

// Delete removes the session object. S3 delete is idempotent.
func (s *ObjectStore) Delete(ctx context.Context, sessionID string) error {
	if err := ValidateSessionID(sessionID); err != nil {
		return err
	}
	err := s.retry(ctx, func() error {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key(sessionID)),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete session %s: %w", sessionID, err)
	}
	return nil
}

// Exists heads the session object.
func (s *ObjectStore) Exists(ctx context.Context, sessionID string) (bool, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return false, err
	}
	err := s.retry(ctx, func() error {
		_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key(sessionID)),
		})
		return err
	})
	if err != nil {
		var nb *s3types.NotFound
		if errors.As(err, &nb) {
			return false, nil
		}
		return false, fmt.Errorf("failed to head session %s: %w", sessionID, err)
	}
	return true, nil
}
