// Package clickhouse stores and serves minute bars. Prices travel as
// Decimal(18,4) end to end and only become float64 at the engine boundary.
package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"replaylab/services/engine"
)

type Config struct {
	Addr        string        `yaml:"addr"`
	Database    string        `yaml:"database"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

type Client struct {
	conn driver.Conn
	log  *zap.Logger
}

func NewClient(ctx context.Context, cfg Config, log *zap.Logger) (*Client, error) {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{Method: clickhouse.CompressionLZ4},
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("clickhouse ping %s: %w", cfg.Addr, err)
	}
	log.Info("clickhouse connected", zap.String("addr", cfg.Addr), zap.String("database", cfg.Database))
	return &Client{conn: conn, log: log}, nil
}

func (c *Client) Close() error { return c.conn.Close() }

// MinuteBars loads one symbol's bars for a calendar day, ascending. The
// ReplacingMergeTree may not have merged yet, so duplicates are collapsed
// client-side keeping the newest version.
func (c *Client) MinuteBars(ctx context.Context, symbol string, day time.Time) ([]engine.Bar, error) {
	const q = `
		SELECT ts, open, high, low, close, volume
		FROM minute_bars FINAL
		WHERE symbol = ? AND toDate(ts) = toDate(?)
		ORDER BY ts`

	rows, err := c.conn.Query(ctx, q, symbol, day)
	if err != nil {
		return nil, fmt.Errorf("minute bars query %s: %w", symbol, err)
	}
	defer rows.Close()

	var bars []engine.Bar
	for rows.Next() {
		var (
			ts                  time.Time
			o, h, l, cl, volume decimal.Decimal
		)
		if err := rows.Scan(&ts, &o, &h, &l, &cl, &volume); err != nil {
			return nil, fmt.Errorf("minute bars scan: %w", err)
		}
		bars = append(bars, engine.Bar{
			Time:   ts,
			Open:   o.InexactFloat64(),
			High:   h.InexactFloat64(),
			Low:    l.InexactFloat64(),
			Close:  cl.InexactFloat64(),
			Volume: volume.InexactFloat64(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("minute bars rows: %w", err)
	}
	c.log.Debug("minute bars loaded",
		zap.String("symbol", symbol),
		zap.String("day", day.Format("2006-01-02")),
		zap.Int("bars", len(bars)))
	return bars, nil
}

// TradingDays lists the distinct days with bar coverage for a symbol, newest
// first, capped at limit.
func (c *Client) TradingDays(ctx context.Context, symbol string, limit int) ([]time.Time, error) {
	const q = `
		SELECT DISTINCT toDate(ts) AS day
		FROM minute_bars
		WHERE symbol = ?
		ORDER BY day DESC
		LIMIT ?`

	rows, err := c.conn.Query(ctx, q, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("trading days query: %w", err)
	}
	defer rows.Close()

	var days []time.Time
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("trading days scan: %w", err)
		}
		days = append(days, d)
	}
	return days, rows.Err()
}
