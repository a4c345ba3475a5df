package ledger

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-sql-driver/mysql"

	xerrors "AgentReceipt/internal/errors"
)

const mysqlDuplicateEntry = 1062

// MySQLLedger stores anchors in the receipt_anchors table. The unique key on
// receipt_id makes the existence check and the insert one statement.
type MySQLLedger struct {
	db       *sql.DB
	settings settings
}

// NewMySQLLedger wraps an open database handle.
func NewMySQLLedger(db *sql.DB, opts ...Option) *MySQLLedger {
	s := defaultSettings("ledger.mysql")
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	return &MySQLLedger{db: db, settings: s}
}

// Anchor inserts the record; a duplicate key means the id was anchored before.
func (l *MySQLLedger) Anchor(ctx context.Context, req AnchorRequest) (Receipt, error) {
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
	txID := syntheticTxID(rec)

	const query = `INSERT INTO receipt_anchors (receipt_id, receipt_hash, locator, original_tx_id, writer, anchored_at, tx_id)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := l.db.ExecContext(ctx, query,
		rec.ReceiptID, rec.Hash.Hex(), rec.Locator, rec.OriginalTxID, rec.Writer.Hex(), rec.Timestamp, txID)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
			return Receipt{}, alreadyAnchored(rec.ReceiptID)
		}
		return Receipt{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入锚定记录失败")
	}

	out := Receipt{TxID: txID, Record: rec}
	l.settings.emit(ctx, out)
	return out, nil
}

// Verify reports whether receiptID is anchored with hash.
func (l *MySQLLedger) Verify(ctx context.Context, receiptID string, hash common.Hash) (bool, error) {
	rec, err := l.Get(ctx, receiptID)
	if err != nil {
		return false, err
	}
	return rec.Exists() && rec.Hash == hash, nil
}

// Get returns the record or a zero Record when absent.
func (l *MySQLLedger) Get(ctx context.Context, receiptID string) (Record, error) {
	const query = `SELECT receipt_id, receipt_hash, locator, original_tx_id, writer, anchored_at
FROM receipt_anchors WHERE receipt_id = ?`
	var (
		rec    Record
		hash   string
		writer string
	)
	err := l.db.QueryRowContext(ctx, query, strings.TrimSpace(receiptID)).
		Scan(&rec.ReceiptID, &hash, &rec.Locator, &rec.OriginalTxID, &writer, &rec.Timestamp)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return Record{}, nil
		}
		return Record{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询锚定记录失败")
	}
	rec.Hash = common.HexToHash(hash)
	rec.Writer = common.HexToAddress(writer)
	return rec, nil
}

// Exists reports whether receiptID is anchored.
func (l *MySQLLedger) Exists(ctx context.Context, receiptID string) (bool, error) {
	rec, err := l.Get(ctx, receiptID)
	return rec.Exists(), err
}

// Count returns the number of anchored receipts.
func (l *MySQLLedger) Count(ctx context.Context) (uint64, error) {
	var count uint64
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM receipt_anchors`).Scan(&count); err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "统计锚定记录失败")
	}
	return count, nil
}

// ListByWriter returns the ids anchored by writer in anchor order.
func (l *MySQLLedger) ListByWriter(ctx context.Context, writer common.Address) ([]string, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT receipt_id FROM receipt_anchors WHERE writer = ? ORDER BY seq ASC`, writer.Hex())
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "按写入方查询锚定记录失败")
	}
	defer func() { _ = rows.Close() }()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析锚定记录失败")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历锚定记录失败")
	}
	return ids, nil
}

var _ Ledger = (*MySQLLedger)(nil)
