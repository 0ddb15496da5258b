package clickhouse

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS minute_bars (
	symbol  LowCardinality(String),
	ts      DateTime('Asia/Shanghai'),
	open    Decimal(18, 4),
	high    Decimal(18, 4),
	low     Decimal(18, 4),
	close   Decimal(18, 4),
	volume  Decimal(18, 4),
	version UInt64
) ENGINE = ReplacingMergeTree(version)
ORDER BY (symbol, ts)`

// EnsureSchema creates the bar table if missing.
func (c *Client) EnsureSchema(ctx context.Context) error {
	if err := c.conn.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// IngestCSV loads "timestamp,open,high,low,close,volume" rows for one symbol.
// Timestamps accept RFC 3339 or "2006-01-02 15:04:05". Rows whose extremes
// contradict the body prices are dropped rather than poisoning a replay.
// Returns the number of rows written.
func (c *Client) IngestCSV(ctx context.Context, symbol string, r io.Reader) (int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	batch := NewBarBatch(c, 0)

	written, skipped := 0, 0
	for lineNo := 1; ; lineNo++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return written, fmt.Errorf("csv line %d: %w", lineNo, err)
		}
		if len(record) < 6 {
			skipped++
			continue
		}

		ts, err := parseBarTime(record[0])
		if err != nil {
			if lineNo == 1 {
				continue // header
			}
			skipped++
			continue
		}

		row := BarRow{Symbol: symbol, Time: ts}
		dst := []*decimal.Decimal{&row.Open, &row.High, &row.Low, &row.Close, &row.Volume}
		bad := false
		for i, field := range record[1:6] {
			d, err := decimal.NewFromString(field)
			if err != nil {
				bad = true
				break
			}
			*dst[i] = d
		}
		if bad || !barSane(row) {
			skipped++
			continue
		}

		if err := batch.Add(ctx, row); err != nil {
			return written, err
		}
		written++
	}
	if err := batch.Flush(ctx); err != nil {
		return written, err
	}

	c.log.Info("csv ingested",
		zap.String("symbol", symbol),
		zap.Int("rows", written),
		zap.Int("skipped", skipped))
	return written, nil
}

func parseBarTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02 15:04"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func barSane(r BarRow) bool {
	maxBody := decimal.Max(r.Open, r.Close, r.Low)
	minBody := decimal.Min(r.Open, r.Close, r.High)
	return r.High.GreaterThanOrEqual(maxBody) &&
		r.Low.LessThanOrEqual(minBody) &&
		!r.Volume.IsNegative()
}
