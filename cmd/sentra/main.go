package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"sentra/internal/config"
	"sentra/internal/engine"
	"sentra/internal/gateway/binance"
	"sentra/internal/gateway/database"
	"sentra/internal/gateway/dexscreener"
	"sentra/internal/gateway/provider"
	"sentra/internal/logger"
	"sentra/internal/market"
	"sentra/internal/pkg/retry"
	"sentra/internal/regime"
	"sentra/internal/report"
	"sentra/internal/risk"
	candlestore "sentra/internal/store"
	transporthttp "sentra/internal/transport/http"
)

const usage = `sentra - deterministic trade decision-trail engine

Usage:
  sentra evaluate -symbol BTCUSDT [-config sentra.toml]
  sentra evaluate -address 0x... -chain base
  sentra batch    [-config sentra.toml]
  sentra serve    [-config sentra.toml]
  sentra report   [-out report.html]
  sentra lessons  [-config sentra.toml]
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	cmd, args := os.Args[1], os.Args[2:]

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd {
	case "evaluate":
		err = runEvaluate(ctx, args)
	case "batch":
		err = runBatch(ctx, args)
	case "serve":
		err = runServe(ctx, args)
	case "report":
		err = runReport(ctx, args)
	case "lessons":
		err = runLessons(ctx, args)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Errorf("%s 失败: %v", cmd, err)
		os.Exit(1)
	}
}

func loadConfig(fs *flag.FlagSet, args []string) (config.Config, error) {
	path := fs.String("config", "", "TOML 配置文件路径")
	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}
	if *path == "" {
		return config.Default(), nil
	}
	return config.Load(*path)
}

func buildEngine(cfg config.Config, inMemory bool) (*engine.Engine, func() error, error) {
	logger.Setup(cfg.Log.Level, cfg.Log.Format)

	var store engine.Store
	closeFn := func() error { return nil }
	if inMemory {
		store = database.NewMemory()
	} else {
		s, err := database.Open(cfg.Data.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		store = s
		closeFn = s.Close
	}

	var source market.Source
	switch cfg.Data.Source {
	case "dexscreener":
		source = dexscreener.New(dexscreener.Config{BaseURL: cfg.Data.DexScreenerBase})
	default:
		source = binance.New("", "")
	}
	// 瞬时故障时退回最近一次成功窗口
	source = candlestore.NewCachingSource(source)

	var assistant provider.Assistant
	if cfg.AI.Enabled {
		assistant = provider.NewChatClient(provider.Config{
			BaseURL:   cfg.AI.BaseURL,
			APIKey:    cfg.AI.APIKey,
			Model:     cfg.AI.Model,
			MaxTokens: cfg.AI.MaxTokens,
		})
	}

	eng := engine.New(engine.Config{
		Timeframe:   cfg.Data.Timeframe,
		CandleLimit: cfg.Data.CandleLimit,
		Risk: risk.Params{
			Equity:          cfg.Account.EquityUsd,
			RiskPercent:     cfg.Account.RiskPercent,
			RewardMultiples: cfg.Account.RewardMultiples,
		},
		Regime: regime.DefaultConfig(),
		Fetch: retry.Policy{
			Retries:   cfg.Data.FetchRetries,
			BaseDelay: cfg.Data.FetchBaseDelay,
			MaxDelay:  cfg.Data.FetchMaxDelay,
			Jitter:    0.2,
		},
	}, source, store, assistant)
	return eng, closeFn, nil
}

func runEvaluate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("evaluate", flag.ExitOnError)
	symbol := fs.String("symbol", "", "交易所符号，如 BTCUSDT")
	address := fs.String("address", "", "链上合约地址")
	chain := fs.String("chain", "", "链名，如 base")
	equity := fs.Float64("equity", 0, "账户权益（默认取配置）")
	riskPct := fs.Float64("risk", 0, "单笔风险百分比（默认取配置）")
	dryRun := fs.Bool("dry-run", false, "使用内存存储，不落库")
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	if *equity > 0 {
		cfg.Account.EquityUsd = *equity
	}
	if *riskPct > 0 {
		cfg.Account.RiskPercent = *riskPct
	}
	if *symbol == "" && *address == "" {
		return fmt.Errorf("需要 -symbol 或 -address")
	}

	eng, closeFn, err := buildEngine(cfg, *dryRun)
	if err != nil {
		return err
	}
	defer closeFn()

	pair := market.PairRef{Symbol: *symbol, Address: *address, Chain: *chain}
	if *address != "" {
		pair.Venue = "dex"
	} else {
		pair.Venue = "binance"
	}
	res, err := eng.Evaluate(ctx, pair)
	if err != nil {
		return err
	}
	printResults([]engine.EvaluateResult{res})
	return nil
}

func runBatch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("batch", flag.ExitOnError)
	dryRun := fs.Bool("dry-run", false, "使用内存存储，不落库")
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	if len(cfg.Pairs) == 0 {
		return fmt.Errorf("配置未声明任何标的")
	}

	eng, closeFn, err := buildEngine(cfg, *dryRun)
	if err != nil {
		return err
	}
	defer closeFn()

	pairs := make([]market.PairRef, 0, len(cfg.Pairs))
	for _, p := range cfg.Pairs {
		pairs = append(pairs, p.Ref())
	}
	results, err := eng.Batch(ctx, pairs)
	if err != nil {
		return err
	}
	printResults(results)
	return nil
}

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	listen := fs.String("listen", "", "监听地址（默认取配置）")
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	if *listen != "" {
		cfg.Server.Listen = *listen
	}

	eng, closeFn, err := buildEngine(cfg, false)
	if err != nil {
		return err
	}
	defer closeFn()

	return transporthttp.NewServer(cfg.Server.Listen, eng).Run(ctx)
}

func runReport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	out := fs.String("out", "report.html", "输出 HTML 路径")
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}

	eng, closeFn, err := buildEngine(cfg, false)
	if err != nil {
		return err
	}
	defer closeFn()

	lessons, err := eng.Lessons(ctx)
	if err != nil {
		return err
	}
	if len(lessons) == 0 {
		fmt.Println("暂无已平仓结果，报表为空")
	}
	return report.WriteFile(*out, lessons)
}

func runLessons(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("lessons", flag.ExitOnError)
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}

	eng, closeFn, err := buildEngine(cfg, false)
	if err != nil {
		return err
	}
	defer closeFn()

	// 先从已平仓结果重算，再打印，保证输出反映最新数据
	lessons, err := eng.RecomputeLessons(ctx)
	if err != nil {
		return err
	}
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"pattern", "score", "trades", "win rate", "avg R", "updated"})
	for _, l := range lessons {
		t.AppendRow(table.Row{
			string(l.PatternID),
			fmt.Sprintf("%.3f", l.Score),
			l.SampleSize,
			fmt.Sprintf("%.0f%%", l.WinRate*100),
			fmt.Sprintf("%.2f", l.AvgR),
			l.UpdatedAt.Format(time.DateTime),
		})
	}
	t.Render()
	return nil
}

func printResults(results []engine.EvaluateResult) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"pair", "regime", "pattern", "dir", "conf", "entry", "stop", "size usd", "expectancy", "plan"})
	for _, res := range results {
		regimeStr := fmt.Sprintf("%s/%s/%s", res.Regime.Trend, res.Regime.Volatility, res.Regime.Liquidity)
		if res.Signal == nil {
			t.AppendRow(table.Row{res.Pair.Key(), regimeStr, "-", "-", "-", "-", "-", "-", "-", "-"})
			continue
		}
		sig := res.Signal
		row := table.Row{
			res.Pair.Key(), regimeStr, string(sig.PatternID), string(sig.Direction),
			fmt.Sprintf("%.2f", sig.Confidence),
			fmt.Sprintf("%.6g", sig.Entry),
			fmt.Sprintf("%.6g", sig.StopLevel),
		}
		if res.Plan != nil {
			row = append(row,
				fmt.Sprintf("%.2f", res.Plan.SizeUsd),
				fmt.Sprintf("%.2f", res.Plan.Expectancy),
				res.Plan.ID[:8])
		} else {
			row = append(row, "-", "-", "-")
		}
		t.AppendRow(row)
	}
	t.Render()
}
