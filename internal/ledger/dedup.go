// internal/ledger/dedup.go
package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	apperrors "mailmerge-workers/internal/common/errors"
	"mailmerge-workers/internal/sheets"
)

const (
	DedupTransactionID = "transaction_id"
	DedupRedis         = "redis"
	DedupCursorOnly    = "cursor_only"

	// SeenKey is the Redis set holding ingested transaction ids.
	SeenKey = "mailmerge:ledger:seen"
)

// Deduper decides which fetched transactions are new.
type Deduper interface {
	// Filter returns the transactions not yet logged, in input order. logged is the current
	// log sheet.
	Filter(ctx context.Context, logged *sheets.Table, txs []Transaction) ([]Transaction, error)
	// Remember is called after the new transactions have been appended.
	Remember(ctx context.Context, txs []Transaction) error
}

// NewDeduper maps a dedup mode to its implementation. rdb is only needed for DedupRedis.
func NewDeduper(mode string, rdb redis.Cmdable) (Deduper, error) {
	switch mode {
	case "", DedupTransactionID:
		return SheetDeduper{}, nil
	case DedupRedis:
		if rdb == nil {
			return nil, apperrors.NewConfigurationError("redis dedup needs a redis connection")
		}
		return &RedisDeduper{rdb: rdb, key: SeenKey}, nil
	case DedupCursorOnly:
		return CursorDeduper{}, nil
	}
	return nil, apperrors.NewConfigurationErrorf("unknown dedup mode %q", mode)
}

// SheetDeduper skips ids already present in the log sheet's Transaction ID column.
type SheetDeduper struct{}

func (SheetDeduper) Filter(_ context.Context, logged *sheets.Table, txs []Transaction) ([]Transaction, error) {
	seen := map[string]bool{}
	if logged != nil {
		if idx, err := logged.Column(colTransactionID); err == nil {
			for _, id := range logged.ColumnValues(idx) {
				seen[strings.TrimSpace(id)] = true
			}
		}
	}
	return unseen(txs, func(id string) bool { return seen[id] }), nil
}

func (SheetDeduper) Remember(context.Context, []Transaction) error { return nil }

// RedisDeduper keeps ingested ids in a Redis set, so it survives log sheet edits.
type RedisDeduper struct {
	rdb redis.Cmdable
	key string
}

func (d *RedisDeduper) Filter(ctx context.Context, _ *sheets.Table, txs []Transaction) ([]Transaction, error) {
	if len(txs) == 0 {
		return txs, nil
	}
	ids := make([]interface{}, len(txs))
	for i, tx := range txs {
		ids[i] = tx.ID
	}
	flags, err := d.rdb.SMIsMember(ctx, d.key, ids...).Result()
	if err != nil {
		return nil, apperrors.NewStorageError("dedup lookup", err)
	}
	if len(flags) != len(txs) {
		return nil, apperrors.NewStorageError("dedup lookup", fmt.Errorf("got %d flags for %d ids", len(flags), len(txs)))
	}

	seen := map[string]bool{}
	for i, tx := range txs {
		if flags[i] {
			seen[tx.ID] = true
		}
	}
	return unseen(txs, func(id string) bool { return seen[id] }), nil
}

func (d *RedisDeduper) Remember(ctx context.Context, txs []Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	ids := make([]interface{}, len(txs))
	for i, tx := range txs {
		ids[i] = tx.ID
	}
	if err := d.rdb.SAdd(ctx, d.key, ids...).Err(); err != nil {
		return apperrors.NewStorageError("dedup remember", err)
	}
	return nil
}

// CursorDeduper trusts the server-side cursor and appends whatever it returns.
type CursorDeduper struct{}

func (CursorDeduper) Filter(_ context.Context, _ *sheets.Table, txs []Transaction) ([]Transaction, error) {
	return txs, nil
}

func (CursorDeduper) Remember(context.Context, []Transaction) error { return nil }

// unseen keeps the first occurrence of each id that seen rejects.
func unseen(txs []Transaction, seen func(id string) bool) []Transaction {
	out := make([]Transaction, 0, len(txs))
	batch := map[string]bool{}
	for _, tx := range txs {
		if seen(tx.ID) || batch[tx.ID] {
			continue
		}
		batch[tx.ID] = true
		out = append(out, tx)
	}
	return out
}
