// Package arrowpipeline serializes simulation output as Apache Arrow IPC
// streams, the exchange format for downstream analysis notebooks.
package arrowpipeline

import (
	"bytes"
	"fmt"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"go.uber.org/zap"

	"replaylab/services/engine"
)

var equitySchema = arrow.NewSchema([]arrow.Field{
	{Name: "timestamp", Type: arrow.FixedWidthTypes.Timestamp_us},
	{Name: "ai_equity", Type: arrow.PrimitiveTypes.Float64},
	{Name: "real_equity", Type: arrow.PrimitiveTypes.Float64},
	{Name: "price", Type: arrow.PrimitiveTypes.Float64},
}, nil)

var barSchema = arrow.NewSchema([]arrow.Field{
	{Name: "symbol", Type: arrow.BinaryTypes.String},
	{Name: "timestamp", Type: arrow.FixedWidthTypes.Timestamp_us},
	{Name: "open", Type: arrow.PrimitiveTypes.Float64},
	{Name: "high", Type: arrow.PrimitiveTypes.Float64},
	{Name: "low", Type: arrow.PrimitiveTypes.Float64},
	{Name: "close", Type: arrow.PrimitiveTypes.Float64},
	{Name: "volume", Type: arrow.PrimitiveTypes.Float64},
}, nil)

// Exporter builds Arrow IPC payloads. Safe for concurrent use; each call
// allocates through the shared pool and releases its own record.
type Exporter struct {
	pool memory.Allocator
	log  *zap.Logger
}

func NewExporter(log *zap.Logger) *Exporter {
	return &Exporter{pool: memory.NewGoAllocator(), log: log}
}

// EquityCurveIPC serializes a settled day's equity curve.
func (e *Exporter) EquityCurveIPC(curve []engine.EquityPoint) ([]byte, error) {
	if len(curve) == 0 {
		return nil, fmt.Errorf("empty equity curve")
	}

	b := array.NewRecordBuilder(e.pool, equitySchema)
	defer b.Release()

	tsB := b.Field(0).(*array.TimestampBuilder)
	aiB := b.Field(1).(*array.Float64Builder)
	realB := b.Field(2).(*array.Float64Builder)
	priceB := b.Field(3).(*array.Float64Builder)

	for _, pt := range curve {
		tsB.Append(arrow.Timestamp(pt.Time.UnixMicro()))
		aiB.Append(pt.AIEquity)
		realB.Append(pt.RealEquity)
		priceB.Append(pt.Price)
	}

	rec := b.NewRecord()
	defer rec.Release()

	out, err := writeIPC(equitySchema, rec)
	if err != nil {
		return nil, err
	}
	e.log.Debug("equity curve exported", zap.Int("points", len(curve)), zap.Int("bytes", len(out)))
	return out, nil
}

// BarsIPC serializes a day's minute bars.
func (e *Exporter) BarsIPC(symbol string, bars []engine.Bar) ([]byte, error) {
	if len(bars) == 0 {
		return nil, fmt.Errorf("no bars to convert")
	}

	b := array.NewRecordBuilder(e.pool, barSchema)
	defer b.Release()

	symB := b.Field(0).(*array.StringBuilder)
	tsB := b.Field(1).(*array.TimestampBuilder)
	cols := []*array.Float64Builder{
		b.Field(2).(*array.Float64Builder),
		b.Field(3).(*array.Float64Builder),
		b.Field(4).(*array.Float64Builder),
		b.Field(5).(*array.Float64Builder),
		b.Field(6).(*array.Float64Builder),
	}

	for _, bar := range bars {
		symB.Append(symbol)
		tsB.Append(arrow.Timestamp(bar.Time.UnixMicro()))
		for i, v := range []float64{bar.Open, bar.High, bar.Low, bar.Close, bar.Volume} {
			cols[i].Append(v)
		}
	}

	rec := b.NewRecord()
	defer rec.Release()

	return writeIPC(barSchema, rec)
}

func writeIPC(schema *arrow.Schema, rec arrow.Record) ([]byte, error) {
	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(schema))
	if err := w.Write(rec); err != nil {
		w.Close()
		return nil, fmt.Errorf("write arrow record: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close arrow writer: %w", err)
	}
	return buf.Bytes(), nil
}
