package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dyxium/dia-core/cmd/common"
	"github.com/dyxium/dia-core/internal/config"
	"github.com/dyxium/dia-core/internal/instruments"
	"github.com/dyxium/dia-core/internal/journal"
	"github.com/dyxium/dia-core/internal/logger"
	"github.com/dyxium/dia-core/internal/pretrade"
	"github.com/dyxium/dia-core/internal/risk"
	"github.com/dyxium/dia-core/pkg/reporting"
)

const appName = "riskctl"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	var err error
	switch cmd := os.Args[1]; cmd {
	case "check":
		err = runCheck(os.Args[2:])
	case "selftest":
		err = runSelftestCmd(os.Args[2:])
	case "size":
		err = runSize(os.Args[2:])
	case "validate":
		err = runValidate(os.Args[2:])
	case "report":
		err = runReport(os.Args[2:])
	case "version", "-version", "--version":
		common.PrintVersion(os.Stdout, appName)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		printUsage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		os.Exit(1)
	}
}

func printUsage() {
	common.NewUsageFormatter(appName, "operator tooling for the pre-trade risk core").
		AddExample("riskctl check -risk-file config/risk_limits.yaml", "Validate a risk file and print the effective limits").
		AddExample("riskctl selftest", "Replay the reference sizing, validation and guard scenarios").
		AddExample("riskctl size -symbol BTCUSDT -equity 1000 -price 200 -atr 5", "Size one order").
		AddExample("riskctl validate -symbol BTCUSDT -projected 55 -drawdown 12", "Check a metrics snapshot against the limits").
		AddExample("riskctl report -limit 100 -xlsx reports/journal.xlsx", "Print the journal and export it to Excel").
		PrintUsage(os.Stderr, nil)
}

func newFlagSet(name string) (*flag.FlagSet, *common.CommonFlags) {
	fs := flag.NewFlagSet(appName+" "+name, flag.ExitOnError)
	return fs, common.RegisterCommonFlags(fs)
}

func loadService(flags *common.CommonFlags) (*pretrade.Service, error) {
	cfg, err := common.LoadEnvironment(flags)
	if err != nil {
		return nil, err
	}
	store, err := config.NewLimitsStore(cfg.RiskFile)
	if err != nil {
		return nil, err
	}

	log := logger.NewNopLogger()
	if *flags.Verbose {
		log = logger.NewWriterLogger(appName, os.Stderr)
	}

	var provider instruments.Provider = instruments.NewStaticProvider(store)
	if cfg.Bybit.Enabled {
		live := instruments.NewBybitProvider(instruments.BybitConfig{
			BaseURL:   cfg.Bybit.BaseURL,
			APIKey:    cfg.Bybit.APIKey,
			APISecret: cfg.Bybit.APISecret,
			Category:  cfg.Bybit.Category,
			CacheTTL:  cfg.Bybit.CacheTTL,
		})
		provider = instruments.NewFallbackProvider(live, provider, log)
	}

	return pretrade.NewService(store, provider, nil, log), nil
}

func runCheck(args []string) error {
	fs, flags := newFlagSet("check")
	_ = fs.Parse(args)

	cfg, err := common.LoadEnvironment(flags)
	if err != nil {
		return err
	}
	rf, err := config.LoadRiskFile(cfg.RiskFile)
	if err != nil {
		return err
	}

	reporting.NewConsoleReporter(os.Stdout).PrintRiskFile(rf)
	fmt.Printf("%s: OK\n", cfg.RiskFile)
	return nil
}

func runSelftestCmd(args []string) error {
	fs := flag.NewFlagSet(appName+" selftest", flag.ExitOnError)
	_ = fs.Parse(args)

	if failed := reporting.NewConsoleReporter(os.Stdout).PrintSelftest(runSelftest()); failed > 0 {
		return fmt.Errorf("%d self test check(s) failed", failed)
	}
	return nil
}

func runSize(args []string) error {
	fs, flags := newFlagSet("size")
	symbol := fs.String("symbol", "", "Instrument symbol")
	equity := fs.Float64("equity", 0, "Account equity")
	price := fs.Float64("price", 0, "Entry price")
	atr := fs.Float64("atr", 0, "Volatility (ATR) in price units")
	_ = fs.Parse(args)

	v := common.NewFlagValidator().
		ValidateRequired("symbol", *symbol).
		ValidateNonNegative("equity", *equity).
		ValidatePositive("price", *price).
		ValidatePositive("atr", *atr)
	if err := v.GetError(); err != nil {
		return err
	}

	svc, err := loadService(flags)
	if err != nil {
		return err
	}

	res, err := svc.Size(context.Background(), pretrade.SizeRequest{
		Symbol:     *symbol,
		Equity:     *equity,
		Price:      *price,
		Volatility: *atr,
	})
	if err != nil {
		return err
	}
	reporting.NewConsoleReporter(os.Stdout).PrintSize(res)
	return nil
}

func runValidate(args []string) error {
	fs, flags := newFlagSet("validate")
	symbol := fs.String("symbol", "", "Instrument symbol (empty uses the global limits)")
	exposure := fs.Float64("exposure", 0, "Current exposure, percent of equity")
	projected := fs.Float64("projected", 0, "Projected exposure after the order, percent of equity")
	orders := fs.Int("orders", 0, "Orders submitted in the last minute")
	dailyLoss := fs.Float64("daily-loss", 0, "Realized daily loss, percent")
	drawdown := fs.Float64("drawdown", 0, "Drawdown from peak equity, percent")
	_ = fs.Parse(args)

	svc, err := loadService(flags)
	if err != nil {
		return err
	}

	d, err := svc.Validate(context.Background(), pretrade.ValidateRequest{
		Symbol: *symbol,
		Metrics: risk.RiskMetrics{
			CurrentExposurePct:   *exposure,
			ProjectedExposurePct: *projected,
			DailyLossPct:         *dailyLoss,
			DrawdownPct:          *drawdown,
			OrdersLastMinute:     *orders,
		},
	})
	if err != nil {
		return err
	}

	reporting.NewConsoleReporter(os.Stdout).PrintDecision("DECISION "+*symbol, d)
	if !d.Accepted() {
		os.Exit(3)
	}
	return nil
}

func runReport(args []string) error {
	fs, flags := newFlagSet("report")
	journalPath := fs.String("journal", "", "SQLite journal path (overrides DIA_JOURNAL_PATH)")
	limit := fs.Int("limit", 50, "Rows per table")
	xlsx := fs.String("xlsx", "", "Excel export path (\"auto\" picks reports/journal_<time>.xlsx)")
	csvDir := fs.String("csv", "", "Directory for transitions.csv and rejections.csv")
	jsonPath := fs.String("json", "", "JSON export path")
	_ = fs.Parse(args)

	if err := common.NewFlagValidator().ValidateInt("limit", *limit, 1, 10000).GetError(); err != nil {
		return err
	}

	cfg, err := common.LoadEnvironment(flags)
	if err != nil {
		return err
	}
	if *journalPath != "" {
		cfg.JournalPath = *journalPath
	}

	ctx := context.Background()
	j, err := journal.Open(ctx, cfg.JournalPath)
	if err != nil {
		return err
	}
	defer j.Close()

	transitions, err := j.RecentTransitions(ctx, *limit)
	if err != nil {
		return err
	}
	rejections, err := j.RecentRejections(ctx, *limit)
	if err != nil {
		return err
	}

	console := reporting.NewConsoleReporter(os.Stdout)
	console.PrintTransitions(transitions)
	console.PrintRejections(rejections)

	if *csvDir != "" {
		csvOut := reporting.NewCSVReporter()
		if err := csvOut.WriteTransitionsCSV(transitions, filepath.Join(*csvDir, "transitions.csv")); err != nil {
			return err
		}
		if err := csvOut.WriteRejectionsCSV(rejections, filepath.Join(*csvDir, "rejections.csv")); err != nil {
			return err
		}
		fmt.Printf("Journal CSV written to %s\n", *csvDir)
	}

	if *jsonPath != "" {
		if err := reporting.WriteJournalJSON(*jsonPath, transitions, rejections); err != nil {
			return err
		}
		fmt.Printf("Journal JSON written to %s\n", *jsonPath)
	}

	if *xlsx == "" {
		return nil
	}
	path := *xlsx
	if path == "auto" {
		path = reporting.DefaultJournalReportPath(time.Now())
	}
	if err := reporting.EnsureDirectoryExists(path); err != nil {
		return err
	}
	if err := reporting.NewExcelReporter().WriteJournalXLSX(path, transitions, rejections); err != nil {
		return err
	}
	fmt.Printf("Journal exported to %s\n", path)
	return nil
}
