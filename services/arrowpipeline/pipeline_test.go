package arrowpipeline

import (
	"bytes"
	"testing"
	"time"

	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"replaylab/services/engine"
)

func TestEquityCurveIPCReadable(t *testing.T) {
	e := NewExporter(zap.NewNop())
	t0 := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)
	curve := []engine.EquityPoint{
		{Time: t0, AIEquity: 100000, RealEquity: 99500, Price: 10.00},
		{Time: t0.Add(time.Minute), AIEquity: 100200, RealEquity: 99400, Price: 10.02},
	}

	payload, err := e.EquityCurveIPC(curve)
	require.NoError(t, err)

	r, err := ipc.NewReader(bytes.NewReader(payload))
	require.NoError(t, err)
	defer r.Release()

	require.True(t, r.Next())
	rec := r.Record()
	assert.EqualValues(t, 2, rec.NumRows())
	assert.EqualValues(t, 4, rec.NumCols())
	assert.Equal(t, 100200.0, rec.Column(1).(*array.Float64).Value(1))
	assert.False(t, r.Next())
}

func TestEmptyCurveRejected(t *testing.T) {
	e := NewExporter(zap.NewNop())
	_, err := e.EquityCurveIPC(nil)
	assert.Error(t, err)
}

func TestBarsIPCReadable(t *testing.T) {
	e := NewExporter(zap.NewNop())
	bars := []engine.Bar{{
		Time: time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC),
		Open: 10.0, High: 10.1, Low: 9.9, Close: 10.05, Volume: 12000,
	}}

	payload, err := e.BarsIPC("600000", bars)
	require.NoError(t, err)

	r, err := ipc.NewReader(bytes.NewReader(payload))
	require.NoError(t, err)
	defer r.Release()

	require.True(t, r.Next())
	rec := r.Record()
	assert.EqualValues(t, 1, rec.NumRows())
	assert.Equal(t, "600000", rec.Column(0).(*array.String).Value(0))
}
