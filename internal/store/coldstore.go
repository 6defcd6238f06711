package store

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/minio/minio-go/v7"
)

// contentEncodingGzip marks an object's body as gzip-compressed in its own
// right (distinct from whatever contentType the caller passed), so GetOutput
// knows to decompress it without guessing from the bytes.
const contentEncodingGzip = "gzip"

const (
	stateObjectPrefix       = "states/"
	stateByHashObjectPrefix = "states/by_hash/"
	uploadObjectPrefix      = "sessions/"
)

// ColdStore wraps an S3/MinIO-compatible client as long-retention archival
// storage, keyed the way SPEC_FULL.md §4.5/§6 lays out the bucket:
//
//	states/<session_id>/state.dat
//	states/by_hash/<hash16>.dat
//	sessions/<session_id>/uploads/<file_id>
//	sessions/<session_id>/outputs/<file_id>
type ColdStore struct {
	client *minio.Client
	bucket string

	gzipEnabled  bool
	gzipMinBytes int64
}

// NewColdStore builds a ColdStore, creating the backing bucket if it does
// not already exist. gzipEnabled/gzipMinBytes gate the opt-in at-rest
// compression PutUpload/PutOutput apply to bodies at or above the
// threshold; a disabled ColdStore (the default) never gzips anything,
// keeping every object's bytes identical to what the caller handed in.
func NewColdStore(ctx context.Context, client *minio.Client, bucket string, gzipEnabled bool, gzipMinBytes int64) (*ColdStore, error) {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("store: check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("store: create bucket %s: %w", bucket, err)
		}
	}
	return &ColdStore{
		client:       client,
		bucket:       bucket,
		gzipEnabled:  gzipEnabled,
		gzipMinBytes: gzipMinBytes,
	}, nil
}

func stateObjectKey(sessionID string) string {
	return stateObjectPrefix + sessionID + "/state.dat"
}

func stateByHashObjectKey(hash16 string) string {
	return stateByHashObjectPrefix + hash16 + ".dat"
}

func uploadObjectKey(sessionID, fileID string) string {
	return fmt.Sprintf("%s%s/uploads/%s", uploadObjectPrefix, sessionID, fileID)
}

func outputObjectKey(sessionID, fileID string) string {
	return fmt.Sprintf("%s%s/outputs/%s", uploadObjectPrefix, sessionID, fileID)
}

// ArchiveState uploads stateB64 under both the session and hash16 keys,
// mirroring AzureStateArchivalService.archive_state.
func (c *ColdStore) ArchiveState(ctx context.Context, sessionID, hash16, stateB64 string) error {
	body := []byte(stateB64)
	if _, err := c.put(ctx, stateObjectKey(sessionID), body); err != nil {
		return fmt.Errorf("store: archive state for session %s: %w", sessionID, err)
	}
	if hash16 != "" {
		if _, err := c.put(ctx, stateByHashObjectKey(hash16), body); err != nil {
			return fmt.Errorf("store: archive state by hash %s: %w", hash16, err)
		}
	}
	return nil
}

// RestoreState downloads a session's archived state, ok=false if absent.
func (c *ColdStore) RestoreState(ctx context.Context, sessionID string) (string, bool, error) {
	return c.get(ctx, stateObjectKey(sessionID))
}

// RestoreStateByHash downloads archived state addressed by its hash16.
func (c *ColdStore) RestoreStateByHash(ctx context.Context, hash16 string) (string, bool, error) {
	return c.get(ctx, stateByHashObjectKey(hash16))
}

// DeleteArchivedState removes a session's archived state object. A
// missing object is not an error — delete is idempotent per
// SPEC_FULL.md §9's Open Question decision.
func (c *ColdStore) DeleteArchivedState(ctx context.Context, sessionID string) error {
	if err := c.client.RemoveObject(ctx, c.bucket, stateObjectKey(sessionID), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("store: delete archived state for session %s: %w", sessionID, err)
	}
	return nil
}

// HasArchivedState reports whether a session has a cold-stored state
// object.
func (c *ColdStore) HasArchivedState(ctx context.Context, sessionID string) (bool, error) {
	_, err := c.client.StatObject(ctx, c.bucket, stateObjectKey(sessionID), minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("store: stat archived state for session %s: %w", sessionID, err)
	}
	return true, nil
}

// PutUpload stores an uploaded file's body under the session's uploads
// prefix, gzipping it first if gzip is enabled and content is large enough.
func (c *ColdStore) PutUpload(ctx context.Context, sessionID, fileID string, content []byte, contentType string) error {
	if err := c.putBody(ctx, uploadObjectKey(sessionID, fileID), content, contentType); err != nil {
		return fmt.Errorf("store: put upload %s/%s: %w", sessionID, fileID, err)
	}
	return nil
}

// GetUpload retrieves a previously stored upload, transparently
// decompressing it if it was gzipped on the way in.
func (c *ColdStore) GetUpload(ctx context.Context, sessionID, fileID string) ([]byte, bool, error) {
	return c.getBody(ctx, uploadObjectKey(sessionID, fileID))
}

// DeleteUpload removes an uploaded file's object, idempotently.
func (c *ColdStore) DeleteUpload(ctx context.Context, sessionID, fileID string) error {
	if err := c.client.RemoveObject(ctx, c.bucket, uploadObjectKey(sessionID, fileID), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("store: delete upload %s/%s: %w", sessionID, fileID, err)
	}
	return nil
}

// PutOutput stores a generated output file's body under the session's
// outputs prefix, gzipping it first if gzip is enabled and content is large
// enough. Generated files (plots, CSVs, reports) are the common case large
// enough for this to matter; the Python original never compressed them.
func (c *ColdStore) PutOutput(ctx context.Context, sessionID, fileID string, content []byte, contentType string) error {
	if err := c.putBody(ctx, outputObjectKey(sessionID, fileID), content, contentType); err != nil {
		return fmt.Errorf("store: put output %s/%s: %w", sessionID, fileID, err)
	}
	return nil
}

// GetOutput retrieves a previously stored generated output file,
// transparently decompressing it if it was gzipped on the way in.
func (c *ColdStore) GetOutput(ctx context.Context, sessionID, fileID string) ([]byte, bool, error) {
	return c.getBody(ctx, outputObjectKey(sessionID, fileID))
}

// putBody uploads content under key, gzip-compressing it first when this
// ColdStore has gzip enabled and content is at or above the configured
// threshold. The object's Content-Encoding header records whether this
// happened, so getBody knows whether to decompress without inspecting
// magic bytes.
func (c *ColdStore) putBody(ctx context.Context, key string, content []byte, contentType string) error {
	opts := minio.PutObjectOptions{ContentType: contentType}
	body := content

	if c.gzipEnabled && int64(len(content)) >= c.gzipMinBytes {
		compressed, err := gzipCompress(content)
		if err != nil {
			return fmt.Errorf("gzip compress: %w", err)
		}
		body = compressed
		opts.ContentEncoding = contentEncodingGzip
	}

	_, err := c.client.PutObject(ctx, c.bucket, key, bytes.NewReader(body), int64(len(body)), opts)
	return err
}

// getBody downloads the object at key and transparently gunzips it if its
// Content-Encoding says it was compressed on the way in.
func (c *ColdStore) getBody(ctx context.Context, key string) ([]byte, bool, error) {
	obj, err := c.client.GetObject(ctx, c.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, false, fmt.Errorf("store: get object %s: %w", key, err)
	}
	defer obj.Close()

	info, statErr := obj.Stat()

	body, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("store: read object %s: %w", key, err)
	}

	if statErr == nil && info.Metadata.Get("Content-Encoding") == contentEncodingGzip {
		decompressed, err := gzipDecompress(body)
		if err != nil {
			return nil, false, fmt.Errorf("store: gunzip object %s: %w", key, err)
		}
		return decompressed, true, nil
	}
	return body, true, nil
}

func gzipCompress(content []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(content); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gzipDecompress(content []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(content))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (c *ColdStore) put(ctx context.Context, key string, body []byte) (minio.UploadInfo, error) {
	return c.client.PutObject(ctx, c.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{})
}

func (c *ColdStore) get(ctx context.Context, key string) (string, bool, error) {
	body, ok, err := c.getBytes(ctx, key)
	if err != nil || !ok {
		return "", ok, err
	}
	return string(body), true, nil
}

func (c *ColdStore) getBytes(ctx context.Context, key string) ([]byte, bool, error) {
	obj, err := c.client.GetObject(ctx, c.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, false, fmt.Errorf("store: get object %s: %w", key, err)
	}
	defer obj.Close()

	body, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("store: read object %s: %w", key, err)
	}
	return body, true, nil
}
