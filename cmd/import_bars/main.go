// Command import_bars is a one-shot installer: local minute-bar CSV files →
// ClickHouse, deduplicated by the ReplacingMergeTree version column so
// re-running on the same files is safe.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"replaylab/services/clickhouse"
	"replaylab/services/config"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	symbol := flag.String("symbol", "", "symbol for all imported rows; defaults to each file's base name")
	flag.Parse()

	paths := flag.Args()
	if len(paths) == 0 {
		fmt.Fprintln(os.Stderr, "usage: import_bars [-config config.yaml] [-symbol 600000] file.csv ...")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	client, err := clickhouse.NewClient(ctx, cfg.ClickHouse, logger)
	if err != nil {
		logger.Fatal("clickhouse client", zap.Error(err))
	}
	defer client.Close()

	if err := client.EnsureSchema(ctx); err != nil {
		logger.Fatal("ensure schema", zap.Error(err))
	}

	total := 0
	for _, path := range paths {
		sym := *symbol
		if sym == "" {
			sym = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		}
		f, err := os.Open(path)
		if err != nil {
			logger.Fatal("open csv", zap.String("path", path), zap.Error(err))
		}
		n, err := client.IngestCSV(ctx, sym, f)
		f.Close()
		if err != nil {
			logger.Fatal("ingest", zap.String("path", path), zap.Error(err))
		}
		logger.Info("file imported", zap.String("path", path), zap.String("symbol", sym), zap.Int("rows", n))
		total += n
	}
	logger.Info("import finished", zap.Int("files", len(paths)), zap.Int("rows", total))
}
