package mysql

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"time"

	xerrors "AgentReceipt/internal/errors"
	"AgentReceipt/internal/storage"
)

// BlobStore keeps pinned documents in the receipt_documents table.
type BlobStore struct {
	db *sql.DB
}

// NewBlobStore wraps an open database handle.
func NewBlobStore(db *sql.DB) *BlobStore {
	return &BlobStore{db: db}
}

// Put stores data once; repeated puts of the same content are no-ops.
func (s *BlobStore) Put(ctx context.Context, data []byte) (string, error) {
	locator := storage.Locator(data)
	_, err := s.db.ExecContext(ctx,
		`INSERT IGNORE INTO receipt_documents (locator, content, created_at) VALUES (?, ?, ?)`,
		locator, data, time.Now().Unix())
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入收据文档失败")
	}
	return locator, nil
}

// Get loads the document stored under locator.
func (s *BlobStore) Get(ctx context.Context, locator string) ([]byte, error) {
	digest, err := storage.ParseLocator(locator)
	if err != nil {
		return nil, err
	}
	var content []byte
	err = s.db.QueryRowContext(ctx,
		`SELECT content FROM receipt_documents WHERE locator = ?`, storage.LocatorScheme+digest).Scan(&content)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取收据文档失败")
	}
	return content, nil
}

// Has reports whether locator is stored.
func (s *BlobStore) Has(ctx context.Context, locator string) (bool, error) {
	digest, err := storage.ParseLocator(locator)
	if err != nil {
		return false, err
	}
	var one int
	err = s.db.QueryRowContext(ctx,
		`SELECT 1 FROM receipt_documents WHERE locator = ?`, storage.LocatorScheme+digest).Scan(&one)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询收据文档失败")
	}
	return true, nil
}

var _ storage.Store = (*BlobStore)(nil)
