package sync

import (
	"context"

	apperrors "github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/errors"
)

// BlobStore is the object-storage half of the remote backend.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Remove(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

// RowStore is the table half of the remote backend.
type RowStore interface {
	Insert(ctx context.Context, table string, row map[string]interface{}) (map[string]interface{}, error)
	Ping(ctx context.Context) error
}

// RemoteGateway joins a BlobStore and a RowStore into a Gateway.
type RemoteGateway struct {
	blobs BlobStore
	rows  RowStore
}

// NewGateway creates a Gateway over the given stores. A nil store makes
// the matching operations fail with SYNC_NOT_CONFIGURED.
func NewGateway(blobs BlobStore, rows RowStore) *RemoteGateway {
	return &RemoteGateway{blobs: blobs, rows: rows}
}

func notConfigured(what string) error {
	return apperrors.New(apperrors.ErrSyncNotConfigured, what+" is not configured")
}

// UploadBlob stores a photo and returns its URL.
func (g *RemoteGateway) UploadBlob(ctx context.Context, path string, data []byte, mimeType string) (string, error) {
	if g.blobs == nil {
		return "", notConfigured("object storage")
	}
	return g.blobs.Put(ctx, path, data, mimeType)
}

// InsertRow submits a row to the remote table.
func (g *RemoteGateway) InsertRow(ctx context.Context, table string, payload map[string]interface{}) (map[string]interface{}, error) {
	if g.rows == nil {
		return nil, notConfigured("row store")
	}
	return g.rows.Insert(ctx, table, payload)
}

// DeleteBlob removes a stored photo.
func (g *RemoteGateway) DeleteBlob(ctx context.Context, path string) error {
	if g.blobs == nil {
		return notConfigured("object storage")
	}
	return g.blobs.Remove(ctx, path)
}

// Ping checks that both remote surfaces answer. It backs the
// connectivity probe.
func (g *RemoteGateway) Ping(ctx context.Context) error {
	if g.rows == nil || g.blobs == nil {
		return notConfigured("remote backend")
	}
	if err := g.rows.Ping(ctx); err != nil {
		return err
	}
	return g.blobs.Ping(ctx)
}
