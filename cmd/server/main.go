// Package main runs the day-replay service: an HTTP and gRPC front end over
// the bar-replay engine, ClickHouse minute bars and the SQLite trade store.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	pb "replaylab/proto"
	"replaylab/services/arrowpipeline"
	"replaylab/services/clickhouse"
	"replaylab/services/config"
	"replaylab/services/engine"
	"replaylab/services/signal"
	"replaylab/services/store"
)

type ReplayService struct {
	pb.UnimplementedReplayServiceServer

	clickhouse *clickhouse.Client
	store      *store.Store
	exporter   *arrowpipeline.Exporter
	logger     *zap.Logger
	config     *config.Config
	loc        *time.Location
}

func NewReplayService(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*ReplayService, error) {
	loc, err := time.LoadLocation(cfg.Simulation.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %s: %w", cfg.Simulation.Timezone, err)
	}

	chClient, err := clickhouse.NewClient(ctx, cfg.ClickHouse, logger)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	if err := chClient.EnsureSchema(ctx); err != nil {
		chClient.Close()
		return nil, err
	}

	st, err := store.Open(cfg.Database.SQLitePath, logger)
	if err != nil {
		chClient.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}

	return &ReplayService{
		clickhouse: chClient,
		store:      st,
		exporter:   arrowpipeline.NewExporter(logger),
		logger:     logger,
		config:     cfg,
		loc:        loc,
	}, nil
}

func (s *ReplayService) Close() {
	s.store.Close()
	s.clickhouse.Close()
}

// runDay assembles the inputs for one symbol-day, runs the simulation
// unattended and persists the settlement. Checkpoint suspensions resume
// without an injected signal; interactive authoring goes through the CLI.
func (s *ReplayService) runDay(ctx context.Context, req *pb.SimulateDayRequest) (engine.Result, error) {
	day, err := time.ParseInLocation("2006-01-02", req.Day, s.loc)
	if err != nil {
		return engine.ErrorResult(fmt.Sprintf("bad day %q: expected YYYY-MM-DD", req.Day)), nil
	}
	if req.Symbol == "" {
		return engine.ErrorResult("symbol is required"), nil
	}

	bars, err := s.clickhouse.MinuteBars(ctx, req.Symbol, day)
	if err != nil {
		return engine.Result{}, fmt.Errorf("load bars: %w", err)
	}

	logs, err := s.store.DecisionLogsForSession(req.Symbol, day)
	if err != nil {
		return engine.Result{}, fmt.Errorf("load decision logs: %w", err)
	}
	signals := make([]signal.Signal, 0, len(logs))
	for _, rec := range logs {
		signals = append(signals, signal.Parse(rec.Time, rec.Content))
	}

	realTxs, err := s.store.RealTrades(req.Symbol, day)
	if err != nil {
		return engine.Result{}, fmt.Errorf("load real trades: %w", err)
	}

	cash := req.InitialCash
	if cash <= 0 {
		cash = s.config.Simulation.InitialCash
	}
	sim := engine.New(engine.Config{
		Symbol:        req.Symbol,
		Day:           day,
		InitialCash:   cash,
		InitialShares: req.InitialShares,
		InitialCost:   req.InitialCost,
		RealShares:    req.RealShares,
		RealCash:      req.RealCash,
		Logger:        s.logger,
	}, bars, signals, realTxs)

	res := sim.Run(nil)
	if err := s.store.SaveResult(req.Symbol, day, res); err != nil {
		return engine.Result{}, fmt.Errorf("save result: %w", err)
	}
	return res, nil
}

// SimulateDay implements the gRPC surface.
func (s *ReplayService) SimulateDay(ctx context.Context, req *pb.SimulateDayRequest) (*pb.SimulateDayResponse, error) {
	started := time.Now()
	jobID := uuid.New().String()
	s.logger.Info("simulate day",
		zap.String("job_id", jobID),
		zap.String("symbol", req.Symbol),
		zap.String("day", req.Day))

	res, err := s.runDay(ctx, req)
	if err != nil {
		s.logger.Error("simulation failed", zap.String("job_id", jobID), zap.Error(err))
		return nil, err
	}

	return &pb.SimulateDayResponse{
		JobId:           jobID,
		Status:          string(res.Status),
		Reason:          res.Reason,
		PnlPct:          res.PnlPct,
		RealPnlPct:      res.RealPnlPct,
		FinalEquity:     res.FinalEquity,
		RealFinalEquity: res.RealFinalEquity,
		TradeCount:      int32(len(res.Trades)),
		RealTradeCount:  int32(res.RealTradeCount),
		InputsHash:      res.InputsHash,
		ExecutionTimeMs: time.Since(started).Milliseconds(),
	}, nil
}

// GetTrades returns the settled trade list for a symbol-day.
func (s *ReplayService) GetTrades(ctx context.Context, req *pb.GetTradesRequest) (*pb.GetTradesResponse, error) {
	day, err := time.ParseInLocation("2006-01-02", req.Day, s.loc)
	if err != nil {
		return nil, fmt.Errorf("bad day %q", req.Day)
	}
	res, err := s.store.Result(req.Symbol, day)
	if err != nil {
		return nil, err
	}
	out := make([]*pb.ReplayTrade, len(res.Trades))
	for i, tr := range res.Trades {
		out[i] = &pb.ReplayTrade{
			Timestamp: tr.Time.Unix(),
			Action:    tr.Action,
			Price:     fmt.Sprintf("%.4f", tr.Price),
			Shares:    tr.Shares,
			Reason:    tr.Reason,
		}
	}
	return &pb.GetTradesResponse{Trades: out}, nil
}

func (s *ReplayService) setupHTTPRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		api.POST("/simulate", s.handleSimulate)
		api.POST("/logs", s.handleAddDecisionLog)
		api.POST("/trades", s.handleAddRealTrade)
		api.GET("/days/:symbol", s.handleTradingDays)
		api.GET("/results/:symbol", s.handleListResults)
		api.GET("/results/:symbol/:day", s.handleGetResult)
		api.GET("/results/:symbol/:day/equity.arrow", s.handleEquityArrow)
		api.GET("/bars/:symbol/:day/export.arrow", s.handleBarsArrow)
		api.GET("/health", s.handleHealthCheck)
	}
}

func (s *ReplayService) handleSimulate(c *gin.Context) {
	var req pb.SimulateDayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	resp, err := s.SimulateDay(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *ReplayService) handleAddDecisionLog(c *gin.Context) {
	var req struct {
		Symbol    string `json:"symbol" binding:"required"`
		Timestamp int64  `json:"timestamp" binding:"required"`
		Content   string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ts := time.Unix(req.Timestamp, 0).In(s.loc)
	if err := s.store.AddDecisionLog(req.Symbol, ts, req.Content); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	// Echo the parse so the author can see how the text will be read.
	parsed := signal.Parse(ts, req.Content)
	c.JSON(http.StatusCreated, gin.H{
		"action":       parsed.Action,
		"tier":         parsed.Tier.String(),
		"price_target": parsed.PriceTarget,
	})
}

func (s *ReplayService) handleAddRealTrade(c *gin.Context) {
	var req struct {
		Symbol    string  `json:"symbol" binding:"required"`
		Timestamp int64   `json:"timestamp" binding:"required"`
		Type      string  `json:"type" binding:"required"`
		Price     float64 `json:"price"`
		Amount    int64   `json:"amount" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	switch engine.TxType(req.Type) {
	case engine.TxBuy, engine.TxSell, engine.TxOverride:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "type must be buy, sell or override"})
		return
	}
	tx := engine.RealTransaction{
		Time:   time.Unix(req.Timestamp, 0).In(s.loc),
		Type:   engine.TxType(req.Type),
		Price:  req.Price,
		Amount: req.Amount,
	}
	if err := s.store.AddRealTrade(req.Symbol, tx); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "recorded"})
}

func (s *ReplayService) handleTradingDays(c *gin.Context) {
	days, err := s.clickhouse.TradingDays(c.Request.Context(), c.Param("symbol"), 250)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]string, len(days))
	for i, d := range days {
		out[i] = d.Format("2006-01-02")
	}
	c.JSON(http.StatusOK, gin.H{"days": out})
}

func (s *ReplayService) handleListResults(c *gin.Context) {
	list, err := s.store.ListResults(c.Param("symbol"), 60)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": list})
}

func (s *ReplayService) loadResult(c *gin.Context) (*engine.Result, bool) {
	day, err := time.ParseInLocation("2006-01-02", c.Param("day"), s.loc)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad day, expected YYYY-MM-DD"})
		return nil, false
	}
	res, err := s.store.Result(c.Param("symbol"), day)
	if err == store.ErrNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": "no result for that day"})
		return nil, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	return res, true
}

func (s *ReplayService) handleGetResult(c *gin.Context) {
	if res, ok := s.loadResult(c); ok {
		c.JSON(http.StatusOK, res)
	}
}

func (s *ReplayService) handleEquityArrow(c *gin.Context) {
	res, ok := s.loadResult(c)
	if !ok {
		return
	}
	payload, err := s.exporter.EquityCurveIPC(res.EquityCurve)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/vnd.apache.arrow.stream", payload)
}

func (s *ReplayService) handleBarsArrow(c *gin.Context) {
	day, err := time.ParseInLocation("2006-01-02", c.Param("day"), s.loc)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad day, expected YYYY-MM-DD"})
		return
	}
	bars, err := s.clickhouse.MinuteBars(c.Request.Context(), c.Param("symbol"), day)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	payload, err := s.exporter.BarsIPC(c.Param("symbol"), bars)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/vnd.apache.arrow.stream", payload)
}

func (s *ReplayService) handleHealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now().Unix()})
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	service, err := NewReplayService(ctx, cfg, logger)
	cancel()
	if err != nil {
		logger.Fatal("create service", zap.Error(err))
	}
	defer service.Close()

	grpcServer := grpc.NewServer()
	pb.RegisterReplayServiceServer(grpcServer, service)
	reflection.Register(grpcServer)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	service.setupHTTPRoutes(router)

	httpServer := &http.Server{Addr: cfg.Server.HTTPAddr, Handler: router}

	go func() {
		lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			logger.Fatal("listen grpc", zap.Error(err))
		}
		logger.Info("grpc server listening", zap.String("addr", cfg.Server.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Fatal("serve grpc", zap.Error(err))
		}
	}()

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.Server.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("serve http", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	ossignal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	grpcServer.GracefulStop()
	logger.Info("stopped")
}
