package proto

import "context"

type SimulateDayRequest struct {
	Symbol        string  `json:"symbol"`
	Day           string  `json:"day"` // 2006-01-02
	InitialCash   float64 `json:"initial_cash"`
	InitialShares int64   `json:"initial_shares"`
	InitialCost   float64 `json:"initial_cost"`
	RealShares    *int64   `json:"real_shares,omitempty"`
	RealCash      *float64 `json:"real_cash,omitempty"`
}

type SimulateDayResponse struct {
	JobId           string  `json:"job_id"`
	Status          string  `json:"status"`
	Reason          string  `json:"reason,omitempty"`
	PnlPct          float64 `json:"pnl_pct"`
	RealPnlPct      float64 `json:"real_pnl_pct"`
	FinalEquity     float64 `json:"final_equity"`
	RealFinalEquity float64 `json:"real_final_equity"`
	TradeCount      int32   `json:"trade_count"`
	RealTradeCount  int32   `json:"real_trade_count"`
	InputsHash      string  `json:"inputs_hash,omitempty"`
	ExecutionTimeMs int64   `json:"execution_time_ms"`
}

type ReplayTrade struct {
	Timestamp int64  `json:"timestamp"`
	Action    string `json:"action"`
	Price     string `json:"price"`
	Shares    int64  `json:"shares"`
	Reason    string `json:"reason"`
}

type GetTradesRequest struct {
	Symbol string `json:"symbol"`
	Day    string `json:"day"`
}

type GetTradesResponse struct {
	Trades []*ReplayTrade `json:"trades"`
}

// gRPC server interface stub

type UnimplementedReplayServiceServer struct{}

func (UnimplementedReplayServiceServer) SimulateDay(context.Context, *SimulateDayRequest) (*SimulateDayResponse, error) {
	return nil, nil
}

func (UnimplementedReplayServiceServer) GetTrades(context.Context, *GetTradesRequest) (*GetTradesResponse, error) {
	return nil, nil
}

func RegisterReplayServiceServer(_ any, _ ReplayServiceServer) {}

type ReplayServiceServer interface {
	SimulateDay(context.Context, *SimulateDayRequest) (*SimulateDayResponse, error)
	GetTrades(context.Context, *GetTradesRequest) (*GetTradesResponse, error)
}
