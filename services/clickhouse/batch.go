package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// BarRow is one minute bar in storage form, decimal prices included.
type BarRow struct {
	Symbol string
	Time   time.Time
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume decimal.Decimal
}

// BarBatch buffers bar rows and flushes them through the native protocol when
// the buffer fills. The caller must Flush (or Close) at the end; rows carry a
// version column so re-ingesting the same file is idempotent under the
// ReplacingMergeTree.
type BarBatch struct {
	client  *Client
	buffer  []BarRow
	size    int
	version uint64
}

func NewBarBatch(client *Client, size int) *BarBatch {
	if size <= 0 {
		size = 10000
	}
	return &BarBatch{
		client:  client,
		size:    size,
		buffer:  make([]BarRow, 0, size),
		version: uint64(time.Now().UnixNano()),
	}
}

func (b *BarBatch) Add(ctx context.Context, row BarRow) error {
	b.buffer = append(b.buffer, row)
	if len(b.buffer) >= b.size {
		return b.Flush(ctx)
	}
	return nil
}

func (b *BarBatch) Flush(ctx context.Context) error {
	if len(b.buffer) == 0 {
		return nil
	}
	batch, err := b.client.conn.PrepareBatch(ctx, "INSERT INTO minute_bars")
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	for _, row := range b.buffer {
		if err := batch.Append(row.Symbol, row.Time, row.Open, row.High, row.Low, row.Close, row.Volume, b.version); err != nil {
			return fmt.Errorf("batch append: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("batch send: %w", err)
	}
	b.buffer = b.buffer[:0]
	return nil
}

func (b *BarBatch) Close(ctx context.Context) error { return b.Flush(ctx) }
