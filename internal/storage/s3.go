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

	"github.com/OFFIS-RIT/talentgraph/backend/internal/util"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/merge"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/store"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// API is the subset of the S3 client the object store uses.
type API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

type S3Params struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// S3ParamsFromEnv reads the AWS_* variables.
func S3ParamsFromEnv() S3Params {
	return S3Params{
		Region:    util.GetEnvString("AWS_REGION", "us-east-1"),
		Endpoint:  util.GetEnv("AWS_ENDPOINT"),
		AccessKey: util.GetEnv("AWS_ACCESS_KEY"),
		SecretKey: util.GetEnv("AWS_SECRET_KEY"),
	}
}

// NewS3Client builds a path-style client, which MinIO and other S3
// compatible servers need.
func NewS3Client(ctx context.Context, p S3Params) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(p.Region)}
	if p.Endpoint != "" {
		opts = append(opts, config.WithBaseEndpoint(p.Endpoint))
	}
	if p.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(p.AccessKey, p.SecretKey, ""),
		))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	}), nil
}

// ObjectStore keeps merge plans, run reports and chunk payloads as JSON
// objects in one bucket.
type ObjectStore struct {
	api    API
	bucket string
}

func NewObjectStore(api API, bucket string) *ObjectStore {
	return &ObjectStore{api: api, bucket: bucket}
}

func PlanKey(planID string) string {
	return path.Join("plans", planID+".json")
}

// ReportKey addresses the report of one run, kind being "merge" or "ingest".
func ReportKey(kind, id string) string {
	return path.Join("reports", kind, id+".json")
}

func ChunksKey(documentID string) string {
	return path.Join("chunks", documentID+".json")
}

func (s *ObjectStore) PutJSON(ctx context.Context, key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return s.Put(ctx, key, data, "application/json")
}

// GetJSON decodes the object at key into out. A missing key matches
// store.ErrNotFound.
func (s *ObjectStore) GetJSON(ctx context.Context, key string, out any) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}

func (s *ObjectStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s to S3: %w", key, err)
	}
	return nil
}

func (s *ObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	result, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return nil, fmt.Errorf("object %s: %w", key, store.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get %s from S3: %w", key, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, nil
}

func (s *ObjectStore) Delete(ctx context.Context, key string) error {
	_, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s from S3: %w", key, err)
	}
	return nil
}

// List returns every key under prefix, following continuation tokens.
func (s *ObjectStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	in := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	}
	for {
		out, err := s.api.ListObjectsV2(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects with prefix %s: %w", prefix, err)
		}
		for _, obj := range out.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		in.ContinuationToken = out.NextContinuationToken
	}
	return keys, nil
}

// SavePlan stores plan under its ID and returns the object key.
func (s *ObjectStore) SavePlan(ctx context.Context, plan *common.MergePlan) (string, error) {
	if plan == nil || plan.ID == "" {
		return "", store.Validation("merge plan has no id")
	}
	key := PlanKey(plan.ID)
	if err := s.PutJSON(ctx, key, plan); err != nil {
		return "", err
	}
	return key, nil
}

// LoadPlan reads and validates a stored plan. Hand-edited plans are
// repaired the same way plan files are.
func (s *ObjectStore) LoadPlan(ctx context.Context, id string) (*common.MergePlan, error) {
	data, err := s.Get(ctx, PlanKey(id))
	if err != nil {
		return nil, err
	}
	return merge.ParsePlan(data)
}

// ListPlans lists the IDs of every stored merge plan.
func (s *ObjectStore) ListPlans(ctx context.Context) ([]string, error) {
	keys, err := s.List(ctx, "plans/")
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		if name, ok := strings.CutSuffix(path.Base(k), ".json"); ok {
			ids = append(ids, name)
		}
	}
	return ids, nil
}
