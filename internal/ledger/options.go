package ledger

import (
	"context"
	"encoding/binary"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"AgentReceipt/pkg/logger"
)

// Option customises a ledger backend.
type Option func(*settings)

type settings struct {
	publisher    EventPublisher
	now          func() time.Time
	log          *slog.Logger
	pollInterval time.Duration
}

func defaultSettings(component string) settings {
	return settings{now: time.Now, log: logger.Named(component), pollInterval: time.Second}
}

// WithPublisher emits an Event for every successful anchor.
func WithPublisher(p EventPublisher) Option {
	return func(s *settings) {
		s.publisher = p
	}
}

// WithClock overrides the write timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

// WithPollInterval sets how often the contract ledger polls for mined
// transactions.
func WithPollInterval(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithLogger overrides the backend logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.log = l
		}
	}
}

func (s settings) timestamp() uint64 {
	ts := s.now().Unix()
	if ts <= 0 {
		return 1
	}
	return uint64(ts)
}

// syntheticTxID identifies an off-chain anchor write the way a transaction
// hash identifies an on-chain one.
func syntheticTxID(rec Record) string {
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], rec.Timestamp)
	return crypto.Keccak256Hash([]byte(rec.ReceiptID), rec.Hash.Bytes(), rec.Writer.Bytes(), ts[:]).Hex()
}

// emit publishes the anchor event. The record is already committed, so a
// delivery failure is logged rather than returned.
func (s settings) emit(ctx context.Context, receipt Receipt) {
	logger.Audit().Info("receipt anchored",
		slog.String("receipt_id", receipt.Record.ReceiptID),
		slog.String("hash", receipt.Record.Hash.Hex()),
		slog.String("writer", receipt.Record.Writer.Hex()),
		slog.String("tx_id", receipt.TxID))
	if s.publisher == nil {
		return
	}
	event := Event{Name: EventName, TxID: receipt.TxID, Record: receipt.Record}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.log.Warn("发布锚定事件失败",
			slog.String("receipt_id", receipt.Record.ReceiptID),
			slog.Any("error", err))
	}
}
