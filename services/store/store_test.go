package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"replaylab/services/engine"
)

func open(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "replay.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDecisionLogSessionWindow(t *testing.T) {
	s := open(t)
	day := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	// Before yesterday's close: outside the session.
	require.NoError(t, s.AddDecisionLog("600000", day.AddDate(0, 0, -1).Add(14*time.Hour), "too early"))
	// Yesterday evening: drives today's open.
	require.NoError(t, s.AddDecisionLog("600000", day.AddDate(0, 0, -1).Add(19*time.Hour), "evening plan"))
	// Mid-session today.
	require.NoError(t, s.AddDecisionLog("600000", day.Add(10*time.Hour), "intraday note"))
	// Another symbol.
	require.NoError(t, s.AddDecisionLog("000001", day.Add(10*time.Hour), "other symbol"))

	logs, err := s.DecisionLogsForSession("600000", day)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "evening plan", logs[0].Content)
	assert.Equal(t, "intraday note", logs[1].Content)
	assert.True(t, logs[0].Time.Before(logs[1].Time))
}

func TestRealTradesDayFilter(t *testing.T) {
	s := open(t)
	day := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.AddRealTrade("600000", engine.RealTransaction{
		Time: day.Add(10 * time.Hour), Type: engine.TxBuy, Price: 9.85, Amount: 1000,
	}))
	require.NoError(t, s.AddRealTrade("600000", engine.RealTransaction{
		Time: day.Add(15*time.Hour + 30*time.Minute), Type: engine.TxOverride, Price: 8.00, Amount: 3000,
	}))
	require.NoError(t, s.AddRealTrade("600000", engine.RealTransaction{
		Time: day.AddDate(0, 0, 1).Add(10 * time.Hour), Type: engine.TxSell, Price: 10.00, Amount: 500,
	}))

	txs, err := s.RealTrades("600000", day)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, engine.TxBuy, txs[0].Type)
	assert.Equal(t, engine.TxOverride, txs[1].Type)
	assert.Equal(t, int64(3000), txs[1].Amount)
}

func TestResultUpsert(t *testing.T) {
	s := open(t)
	day := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	_, err := s.Result("600000", day)
	assert.ErrorIs(t, err, ErrNotFound)

	first := engine.Result{Status: engine.StatusNoData, Reason: "no minute bars"}
	require.NoError(t, s.SaveResult("600000", day, first))

	second := engine.Result{Status: engine.StatusCompleted, PnlPct: 1.25}
	require.NoError(t, s.SaveResult("600000", day, second))

	got, err := s.Result("600000", day)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusCompleted, got.Status)
	assert.Equal(t, 1.25, got.PnlPct)

	list, err := s.ListResults("600000", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "completed", list[0].Status)
	assert.Equal(t, 1.25, list[0].PnlPct)
}
