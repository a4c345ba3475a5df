package ledger

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	xerrors "AgentReceipt/internal/errors"
)

// anchorScript performs the existence check, the record write and the id
// append as one atomic step on the server.
var anchorScript = redis.NewScript(`
if redis.call('HEXISTS', KEYS[1], ARGV[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
redis.call('RPUSH', KEYS[2], ARGV[1])
return 1
`)

// RedisLedger keeps records in a hash and anchor order in a list.
type RedisLedger struct {
	client     redis.UniversalClient
	recordsKey string
	idsKey     string
	settings   settings
}

// NewRedisLedger wraps a connected client. prefix namespaces the keys.
func NewRedisLedger(client redis.UniversalClient, prefix string, opts ...Option) *RedisLedger {
	if strings.TrimSpace(prefix) == "" {
		prefix = "agentreceipt:ledger"
	}
	s := defaultSettings("ledger.redis")
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	return &RedisLedger{
		client:     client,
		recordsKey: prefix + ":records",
		idsKey:     prefix + ":ids",
		settings:   s,
	}
}

// Anchor writes the record once.
func (l *RedisLedger) Anchor(ctx context.Context, req AnchorRequest) (Receipt, error) {
	if err := validateRequest(req, true); err != nil {
		return Receipt{}, err
	}
	rec := Record{
		ReceiptID:    strings.TrimSpace(req.ReceiptID),
		Hash:         req.Hash,
		Locator:      req.Locator,
		OriginalTxID: req.OriginalTxID,
		Writer:       req.Writer,
		Timestamp:    l.settings.timestamp(),
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return Receipt{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "编码锚定记录失败")
	}
	written, err := anchorScript.Run(ctx, l.client, []string{l.recordsKey, l.idsKey}, rec.ReceiptID, payload).Int()
	if err != nil {
		return Receipt{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "Redis 写入锚定记录失败")
	}
	if written == 0 {
		return Receipt{}, alreadyAnchored(rec.ReceiptID)
	}

	out := Receipt{TxID: syntheticTxID(rec), Record: rec}
	l.settings.emit(ctx, out)
	return out, nil
}

// Verify reports whether receiptID is anchored with hash.
func (l *RedisLedger) Verify(ctx context.Context, receiptID string, hash common.Hash) (bool, error) {
	rec, err := l.Get(ctx, receiptID)
	if err != nil {
		return false, err
	}
	return rec.Exists() && rec.Hash == hash, nil
}

// Get returns the record or a zero Record when absent.
func (l *RedisLedger) Get(ctx context.Context, receiptID string) (Record, error) {
	raw, err := l.client.HGet(ctx, l.recordsKey, strings.TrimSpace(receiptID)).Bytes()
	if err != nil {
		if stdErrors.Is(err, redis.Nil) {
			return Record{}, nil
		}
		return Record{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "Redis 查询锚定记录失败")
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析锚定记录失败")
	}
	return rec, nil
}

// Exists reports whether receiptID is anchored.
func (l *RedisLedger) Exists(ctx context.Context, receiptID string) (bool, error) {
	ok, err := l.client.HExists(ctx, l.recordsKey, strings.TrimSpace(receiptID)).Result()
	if err != nil {
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "Redis 查询锚定记录失败")
	}
	return ok, nil
}

// Count returns the number of anchored receipts.
func (l *RedisLedger) Count(ctx context.Context) (uint64, error) {
	n, err := l.client.LLen(ctx, l.idsKey).Uint64()
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "Redis 统计锚定记录失败")
	}
	return n, nil
}

// ListByWriter scans every anchored record in order.
func (l *RedisLedger) ListByWriter(ctx context.Context, writer common.Address) ([]string, error) {
	ids, err := l.client.LRange(ctx, l.idsKey, 0, -1).Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "Redis 读取锚定列表失败")
	}
	if len(ids) == 0 {
		return []string{}, nil
	}
	values, err := l.client.HMGet(ctx, l.recordsKey, ids...).Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "Redis 读取锚定记录失败")
	}
	records := make(map[string]Record, len(ids))
	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析锚定记录失败")
		}
		records[ids[i]] = rec
	}
	return filterByWriter(ids, func(id string) (Record, bool) {
		rec, ok := records[id]
		return rec, ok
	}, writer), nil
}

var _ Ledger = (*RedisLedger)(nil)
