// Command replay_day replays one trading day from local CSV files, prompting
// on stdin when a checkpoint finds no signal coverage. Trades can be exported
// as plain CSV or as a UTF-16LE tab-separated file that opens cleanly in
// Excel.
package main

import (
	"bufio"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"replaylab/services/engine"
	"replaylab/services/signal"
)

func main() {
	barsPath := flag.String("bars", "", "Path to minute-bar CSV (timestamp,open,high,low,close,volume)")
	logsPath := flag.String("logs", "", "Path to decision-log file (timestamp|free text per line)")
	tradesPath := flag.String("trades", "", "Path to real-transaction CSV (timestamp,type,price,amount)")
	symbol := flag.String("symbol", "600000", "Symbol")
	day := flag.String("day", "", "Trading day (YYYY-MM-DD)")
	cash := flag.Float64("cash", 100000, "Initial cash")
	shares := flag.Int64("shares", 0, "Initial shares")
	cost := flag.Float64("cost", 0, "Average cost of initial shares")
	outCSV := flag.String("out", "", "Write settled trades to this CSV path")
	outExcel := flag.String("excel", "", "Write settled trades as UTF-16LE TSV for Excel")
	interactive := flag.Bool("interactive", false, "Prompt on stdin at unmet checkpoints")
	flag.Parse()

	if *barsPath == "" || *day == "" {
		flag.Usage()
		os.Exit(2)
	}
	dayTime, err := time.Parse("2006-01-02", *day)
	if err != nil {
		panic(fmt.Errorf("bad -day %q: %w", *day, err))
	}

	bars, err := loadBarsCSV(*barsPath)
	if err != nil {
		panic(err)
	}
	fmt.Printf("Loaded bars: %d\n", len(bars))

	var signals []signal.Signal
	if *logsPath != "" {
		signals, err = loadDecisionLogs(*logsPath)
		if err != nil {
			panic(err)
		}
		fmt.Printf("Parsed signals: %d\n", len(signals))
	}

	var realTxs []engine.RealTransaction
	if *tradesPath != "" {
		realTxs, err = loadRealTrades(*tradesPath)
		if err != nil {
			panic(err)
		}
		fmt.Printf("Loaded real transactions: %d\n", len(realTxs))
	}

	sim := engine.New(engine.Config{
		Symbol:        *symbol,
		Day:           dayTime,
		InitialCash:   *cash,
		InitialShares: *shares,
		InitialCost:   *cost,
	}, bars, signals, realTxs)

	stdin := bufio.NewReader(os.Stdin)
	res := sim.Run(func(checkpoint string, at time.Time) *signal.Signal {
		if !*interactive {
			fmt.Printf("[%s] checkpoint %s unmet, continuing without a signal\n",
				at.Format("15:04"), checkpoint)
			return nil
		}
		fmt.Printf("[%s] checkpoint %s needs a strategy. Enter one line (empty to skip):\n> ",
			at.Format("15:04"), checkpoint)
		line, err := stdin.ReadString('\n')
		if err != nil && err != io.EOF {
			panic(err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			return nil
		}
		sg := signal.Parse(at, line)
		fmt.Printf("parsed as %s (%s tier)\n", sg.Action, sg.Tier)
		return &sg
	})

	printResult(res)

	if *outCSV != "" {
		if err := writeTradesCSV(*outCSV, res.Trades, false); err != nil {
			panic(err)
		}
		fmt.Printf("Trades written to %s\n", *outCSV)
	}
	if *outExcel != "" {
		if err := writeTradesCSV(*outExcel, res.Trades, true); err != nil {
			panic(err)
		}
		fmt.Printf("Excel export written to %s\n", *outExcel)
	}
	if res.Status != engine.StatusCompleted {
		os.Exit(1)
	}
}

func printResult(res engine.Result) {
	fmt.Printf("\nStatus: %s\n", res.Status)
	if res.Reason != "" && res.Status != engine.StatusCompleted {
		fmt.Printf("Reason: %s\n", res.Reason)
		return
	}
	fmt.Printf("Signal pipeline: equity %.2f (%.2f%%), cash %.2f, shares %d\n",
		res.FinalEquity, res.PnlPct, res.FinalCash, res.FinalShares)
	fmt.Printf("Real pipeline:   equity %.2f (%.2f%%), cash %.2f, shares %d\n",
		res.RealFinalEquity, res.RealPnlPct, res.RealFinalCash, res.RealFinalShares)
	fmt.Printf("Trades: %d simulated, %d replayed\n", len(res.Trades), res.RealTradeCount)
	for _, tr := range res.Trades {
		fmt.Printf("  %s  %-9s %8d @ %.3f  (%s)\n",
			tr.Time.Format("15:04"), tr.Action, tr.Shares, tr.Price, tr.Reason)
	}
}

// openText opens a file transparently decoding a UTF-16 BOM; broker exports
// regularly arrive that way.
func openText(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	br := bufio.NewReader(f)
	head, _ := br.Peek(2)
	if len(head) >= 2 && ((head[0] == 0xFF && head[1] == 0xFE) || (head[0] == 0xFE && head[1] == 0xFF)) {
		dec := unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder()
		return struct {
			io.Reader
			io.Closer
		}{transform.NewReader(br, dec), f}, nil
	}
	return struct {
		io.Reader
		io.Closer
	}{br, f}, nil
}

func loadBarsCSV(path string) ([]engine.Bar, error) {
	rc, err := openText(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	reader := csv.NewReader(rc)
	reader.FieldsPerRecord = -1
	var bars []engine.Bar
	for lineNo := 1; ; lineNo++ {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, lineNo, err)
		}
		if len(rec) < 6 {
			continue
		}
		ts, err := parseTimestamp(rec[0])
		if err != nil {
			if lineNo == 1 {
				continue // header
			}
			return nil, fmt.Errorf("%s line %d: %w", path, lineNo, err)
		}
		vals := make([]float64, 5)
		ok := true
		for i, field := range rec[1:6] {
			if vals[i], err = strconv.ParseFloat(strings.TrimSpace(field), 64); err != nil {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		bars = append(bars, engine.Bar{
			Time: ts, Open: vals[0], High: vals[1], Low: vals[2], Close: vals[3], Volume: vals[4],
		})
	}
	return bars, nil
}

// loadDecisionLogs reads "timestamp|free text" lines and runs each through
// the signal parser.
func loadDecisionLogs(path string) ([]signal.Signal, error) {
	rc, err := openText(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var signals []signal.Signal
	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), "\ufeff"))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		tsField, text, ok := strings.Cut(line, "|")
		if !ok {
			return nil, fmt.Errorf("%s line %d: expected 'timestamp|text'", path, lineNo)
		}
		ts, err := parseTimestamp(strings.TrimSpace(tsField))
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, lineNo, err)
		}
		signals = append(signals, signal.Parse(ts, strings.ReplaceAll(text, `\n`, "\n")))
	}
	return signals, scanner.Err()
}

func loadRealTrades(path string) ([]engine.RealTransaction, error) {
	rc, err := openText(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	reader := csv.NewReader(rc)
	reader.FieldsPerRecord = -1
	var txs []engine.RealTransaction
	for lineNo := 1; ; lineNo++ {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, lineNo, err)
		}
		if len(rec) < 4 {
			continue
		}
		ts, err := parseTimestamp(rec[0])
		if err != nil {
			if lineNo == 1 {
				continue
			}
			return nil, fmt.Errorf("%s line %d: %w", path, lineNo, err)
		}
		price, err := strconv.ParseFloat(strings.TrimSpace(rec[2]), 64)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: bad price", path, lineNo)
		}
		amount, err := strconv.ParseInt(strings.TrimSpace(rec[3]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: bad amount", path, lineNo)
		}
		txs = append(txs, engine.RealTransaction{
			Time:   ts,
			Type:   engine.TxType(strings.ToLower(strings.TrimSpace(rec[1]))),
			Price:  price,
			Amount: amount,
		})
	}
	return txs, nil
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02 15:04"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func writeTradesCSV(path string, trades []engine.Trade, excel bool) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var w *csv.Writer
	if excel {
		// Excel wants a BOM and tabs to auto-detect columns.
		enc := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder()
		w = csv.NewWriter(transform.NewWriter(f, enc))
		w.Comma = '\t'
	} else {
		w = csv.NewWriter(f)
	}

	if err := w.Write([]string{"time", "action", "price", "shares", "reason"}); err != nil {
		return err
	}
	for _, tr := range trades {
		rec := []string{
			tr.Time.Format("2006-01-02 15:04:05"),
			tr.Action,
			strconv.FormatFloat(tr.Price, 'f', 4, 64),
			strconv.FormatInt(tr.Shares, 10),
			tr.Reason,
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
