package redis

import (
	"context"
	stdErrors "errors"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	xerrors "AgentReceipt/internal/errors"
	"AgentReceipt/internal/storage"
)

const defaultPrefix = "agentreceipt:doc"

// Store keeps documents as plain string keys named prefix:digest.
type Store struct {
	client goredis.UniversalClient
	prefix string
}

// NewStore wraps client. An empty prefix uses agentreceipt:doc.
func NewStore(client goredis.UniversalClient, prefix string) *Store {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) key(digest string) string {
	return s.prefix + ":" + digest
}

// Put writes data once. Content addressing makes a second SETNX a no-op.
func (s *Store) Put(ctx context.Context, data []byte) (string, error) {
	locator := storage.Locator(data)
	digest, _ := storage.ParseLocator(locator)
	if err := s.client.SetNX(ctx, s.key(digest), data, 0).Err(); err != nil {
		return "", xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入 Redis 文档失败")
	}
	return locator, nil
}

// Get returns the document stored under locator.
func (s *Store) Get(ctx context.Context, locator string) ([]byte, error) {
	digest, err := storage.ParseLocator(locator)
	if err != nil {
		return nil, err
	}
	data, err := s.client.Get(ctx, s.key(digest)).Bytes()
	if err != nil {
		if stdErrors.Is(err, goredis.Nil) {
			return nil, storage.ErrNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取 Redis 文档失败")
	}
	return data, nil
}

// Has reports whether locator is stored.
func (s *Store) Has(ctx context.Context, locator string) (bool, error) {
	digest, err := storage.ParseLocator(locator)
	if err != nil {
		return false, err
	}
	n, err := s.client.Exists(ctx, s.key(digest)).Result()
	if err != nil {
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询 Redis 文档失败")
	}
	return n > 0, nil
}

var _ storage.Store = (*Store)(nil)
